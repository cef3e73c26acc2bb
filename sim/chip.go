// Package sim provides an in-memory model of a SAM3/SAM E70 class chip
// that satisfies iap.Platform. It models the two embedded flash controllers
// with their page latch, the IAP ROM vector, the chip ID register and the
// reset controller; everything else is plain RAM.
package sim

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-samflash/iap"
)

var (
	ErrFault     = errors.New("hard fault: call to invalid iap entry point")
	ErrUnaligned = errors.New("unaligned word access")
)

// Erased is the value of an erased flash word.
const Erased uint32 = 0xffffffff

// Config describes the simulated part.
type Config struct {
	Name   string
	ChipID uint32
	// FlashID is what the get descriptor command reports as the flash id.
	FlashID uint32

	FlashBase           uint32
	PageSize            uint32
	PagesPerPlane       uint32
	Planes              int
	LockRegionsPerPlane uint32
	GPNVMBits           uint32

	RegBase   uint32
	RegStride uint32

	// Vector is the ROM location holding the IAP routine address, and Entry
	// is the address stored there.
	Vector uint32
	Entry  uint32

	ChipIDAddr uint32
	ResetBase  uint32
}

// SAM3X8E is the dual plane Arduino Due part.
var SAM3X8E = Config{
	Name:                "ATSAM3X8E",
	ChipID:              0x285e0a60,
	FlashID:             0x00000001,
	FlashBase:           0x00080000,
	PageSize:            256,
	PagesPerPlane:       1024,
	Planes:              2,
	LockRegionsPerPlane: 16,
	GPNVMBits:           3,
	RegBase:             0x400e0a00,
	RegStride:           0x200,
	Vector:              0x00100008,
	Entry:               0x001004c9,
	ChipIDAddr:          0x400e0940,
	ResetBase:           0x400e1a00,
}

// SAME70Q21 is a single plane 2MB Cortex-M7 part.
var SAME70Q21 = Config{
	Name:                "ATSAME70Q21",
	ChipID:              0xa1020e00,
	FlashID:             0x00000002,
	FlashBase:           0x00400000,
	PageSize:            512,
	PagesPerPlane:       4096,
	Planes:              1,
	LockRegionsPerPlane: 128,
	GPNVMBits:           9,
	RegBase:             0x400e0c00,
	RegStride:           0x200,
	Vector:              0x00800008,
	Entry:               0x00800341,
	ChipIDAddr:          0x400e0940,
	ResetBase:           0x400e1800,
}

// Validate reports a configuration the model cannot represent.
func (cfg Config) Validate() error {
	switch {
	case cfg.PageSize == 0 || cfg.PageSize%4 != 0:
		return errors.Errorf("%s: page size %d is not a whole number of words", cfg.Name, cfg.PageSize)
	case cfg.PagesPerPlane == 0:
		return errors.Errorf("%s: no pages", cfg.Name)
	case cfg.Planes < 1 || cfg.Planes > 2:
		return errors.Errorf("%s: %d planes, want 1 or 2", cfg.Name, cfg.Planes)
	case cfg.LockRegionsPerPlane == 0 || cfg.LockRegionsPerPlane > cfg.PagesPerPlane:
		return errors.Errorf("%s: %d lock regions for %d pages", cfg.Name, cfg.LockRegionsPerPlane, cfg.PagesPerPlane)
	case cfg.PagesPerPlane%cfg.LockRegionsPerPlane != 0:
		return errors.Errorf("%s: %d pages do not split into %d lock regions", cfg.Name, cfg.PagesPerPlane, cfg.LockRegionsPerPlane)
	}
	return nil
}

// Call records one invocation of the IAP routine.
type Call struct {
	Entry      uint32
	Controller iap.Controller
	Command    uint32
	Status     uint32
}

// Chip is a simulated target. It is not safe for concurrent use, which
// matches the single caller the blob assumes.
type Chip struct {
	cfg   Config
	mem   map[uint32]uint32
	ctrls [2]*eefc
	gpnvm uint32

	calls  []Call
	resets []uint32
	jumps  []uint32

	// StatusHook, when set, replaces the status of every command issued
	// through Call or the Command register.
	StatusHook func(c iap.Controller, cmd uint32, status uint32) uint32
}

// NewChip returns a chip with erased flash and zeroed RAM. It panics if cfg
// does not pass Validate.
func NewChip(cfg Config) *Chip {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if cfg.RegStride == 0 {
		cfg.RegStride = 0x200
	}
	ch := &Chip{
		cfg: cfg,
		mem: map[uint32]uint32{cfg.Vector: cfg.Entry},
	}
	planeSize := cfg.PageSize * cfg.PagesPerPlane
	for i := range ch.ctrls {
		ch.ctrls[i] = newEEFC(&ch.cfg, cfg.FlashBase+uint32(i)*planeSize, i < cfg.Planes)
	}
	return ch
}

// Config returns the chip's configuration.
func (ch *Chip) Config() Config {
	return ch.cfg
}

func (ch *Chip) ResolveEntryPoint() (uint32, error) {
	return ch.ReadWord(ch.cfg.Vector)
}

func (ch *Chip) Call(entry uint32, c iap.Controller, cmd uint32) (uint32, error) {
	if entry != ch.cfg.Entry {
		return 0, errors.Wrapf(ErrFault, "pc=%08x", entry)
	}
	status := ch.exec(c, cmd)
	ch.calls = append(ch.calls, Call{Entry: entry, Controller: c, Command: cmd, Status: status})
	return status, nil
}

func (ch *Chip) exec(c iap.Controller, cmd uint32) uint32 {
	var status uint32
	if int(c) >= len(ch.ctrls) {
		status = uint32(iap.StatusReady | iap.StatusCommandError)
	} else {
		status = ch.ctrls[c].exec(ch, c, cmd)
	}
	if ch.StatusHook != nil {
		status = ch.StatusHook(c, cmd, status)
	}
	if int(c) < len(ch.ctrls) {
		ch.ctrls[c].status = status
	}
	return status
}

func (ch *Chip) block(c iap.Controller) (*eefc, error) {
	if int(c) >= len(ch.ctrls) || !ch.ctrls[c].present {
		return nil, errors.Wrapf(iap.ErrNoController, "eefc%d on %s", c, ch.cfg.Name)
	}
	return ch.ctrls[c], nil
}

func (ch *Chip) ReadRegister(c iap.Controller, off uint32) (uint32, error) {
	e, err := ch.block(c)
	if err != nil {
		return 0, err
	}
	switch off {
	case iap.RegMode:
		return e.mode, nil
	case iap.RegStatus:
		return e.status, nil
	case iap.RegResult:
		return e.pop(), nil
	}
	// the command register reads as zero
	return 0, nil
}

func (ch *Chip) WriteRegister(c iap.Controller, off uint32, v uint32) error {
	e, err := ch.block(c)
	if err != nil {
		return err
	}
	switch off {
	case iap.RegMode:
		e.mode = v
	case iap.RegCommand:
		ch.exec(c, v)
	}
	return nil
}

// regAt maps an address into a register block, if it falls in one.
func (ch *Chip) regAt(addr uint32) (iap.Controller, uint32, bool) {
	for i, e := range ch.ctrls {
		if !e.present {
			continue
		}
		base := ch.cfg.RegBase + uint32(i)*ch.cfg.RegStride
		if addr >= base && addr < base+0x10 {
			return iap.Controller(i), addr - base, true
		}
	}
	return 0, 0, false
}

func (ch *Chip) flashAt(addr uint32) *eefc {
	for _, e := range ch.ctrls {
		if e.present && e.contains(addr) {
			return e
		}
	}
	return nil
}

func (ch *Chip) ReadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "read %08x", addr)
	}
	if c, off, ok := ch.regAt(addr); ok {
		return ch.ReadRegister(c, off)
	}
	if e := ch.flashAt(addr); e != nil {
		return e.read(addr), nil
	}
	if addr == ch.cfg.ChipIDAddr {
		return ch.cfg.ChipID, nil
	}
	return ch.mem[addr], nil
}

func (ch *Chip) WriteWord(addr uint32, v uint32) error {
	if addr%4 != 0 {
		return errors.Wrapf(ErrUnaligned, "write %08x", addr)
	}
	if c, off, ok := ch.regAt(addr); ok {
		return ch.WriteRegister(c, off, v)
	}
	if e := ch.flashAt(addr); e != nil {
		e.latchWord(addr, v)
		return nil
	}
	if addr == ch.cfg.ResetBase {
		if v>>24 == 0xa5 {
			ch.resets = append(ch.resets, v)
		}
		return nil
	}
	ch.mem[addr] = v
	return nil
}

// Load writes bs into memory at addr, little endian, padding the last word
// with zeros.
func (ch *Chip) Load(addr uint32, bs []byte) error {
	for i := 0; i < len(bs); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(bs); j++ {
			w |= uint32(bs[i+j]) << (8 * j)
		}
		if err := ch.WriteWord(addr+uint32(i), w); err != nil {
			return err
		}
	}
	return nil
}

// Go stores addr in the handoff's jump word and addr+1 in its stack word,
// then records a jump through the jump word, the way the monitor's go
// command is used to start code.
func (ch *Chip) Go(h iap.Handoff, addr uint32) error {
	if h.JumpAddress == 0 || h.StackAddress == 0 {
		return errors.New("handoff addresses not set")
	}
	if err := ch.WriteWord(h.JumpAddress, addr); err != nil {
		return err
	}
	if err := ch.WriteWord(h.StackAddress, addr+1); err != nil {
		return err
	}
	ch.jumps = append(ch.jumps, h.JumpAddress)
	return nil
}

// Jumps returns the addresses the go command was sent so far.
func (ch *Chip) Jumps() []uint32 {
	return append([]uint32(nil), ch.jumps...)
}

// Calls returns every IAP invocation so far.
func (ch *Chip) Calls() []Call {
	return append([]Call(nil), ch.calls...)
}

// Resets returns the values written to the reset controller with a valid key.
func (ch *Chip) Resets() []uint32 {
	return append([]uint32(nil), ch.resets...)
}

// GPNVM returns the general purpose NVM bits.
func (ch *Chip) GPNVM() uint32 {
	return ch.gpnvm
}

// Mode returns the Mode register of controller c.
func (ch *Chip) Mode(c iap.Controller) uint32 {
	return ch.ctrls[c].mode
}

// Latch returns a copy of controller c's page latch.
func (ch *Chip) Latch(c iap.Controller) []uint32 {
	return append([]uint32(nil), ch.ctrls[c].latch...)
}

// Page returns a copy of the programmed contents of page n on controller c.
func (ch *Chip) Page(c iap.Controller, n uint32) []uint32 {
	return append([]uint32(nil), ch.ctrls[c].page(n)...)
}

// SetDescriptor replaces what get descriptor reports for controller c.
func (ch *Chip) SetDescriptor(c iap.Controller, words ...uint32) {
	ch.ctrls[c].desc = append([]uint32(nil), words...)
}
