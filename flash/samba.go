package flash

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-samflash/iap"
)

// chipIDAddr is CHIPID_CIDR on every supported part.
const chipIDAddr uint32 = 0x400e0940

// sambaReadChunk is the largest block read issued at once. The monitor
// misbehaves on power of two reads above 32 bytes over USB.
const sambaReadChunk = 32

var SAMBATimeout = 1 * time.Second

var ErrNoHandoff = errors.New("handoff addresses not set")

// sambaInit puts the board into the monitor, switches it to binary mode and
// reads the chip identity
func (mc *Microcontroller) sambaInit() error {
	mc.enterSAMBA()

	if err := mc.Write(cmdBinaryMode()); err != nil {
		return err
	}
	// the monitor answers with "\n\r"
	if _, err := mc.ReadN(2, SAMBATimeout); err != nil {
		return errors.Wrap(err, "no answer to binary mode")
	}

	id, err := mc.ReadWord(chipIDAddr)
	if err != nil {
		return errors.Wrap(err, "could not read chip id")
	}
	mc.chipID = id
	logrus.Debugf("chipId: 0x%08x", id)

	if err := mc.Write(cmdVersion()); err != nil {
		return err
	}
	bs, err := mc.ReadUpTo(128, 100*time.Millisecond)
	if err != nil {
		return err
	}
	mc.version = strings.TrimSpace(string(bs))
	logrus.Debugf("version: %s", mc.version)

	return nil
}

// enterSAMBA will power cycle the chip with ERASE held high, which clears
// the flash and the boot-from-flash bit so the ROM monitor starts
func (mc *Microcontroller) enterSAMBA() {
	if mc.config.PowerGPIO <= 0 || mc.config.ErasePinGPIO <= 0 {
		return
	}

	mc.pinPower.Low()
	mc.pinErase.High()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	// ERASE must be held for at least 220ms
	time.Sleep(250 * time.Millisecond)
	mc.pinErase.Low()
	mc.pinPower.Low()
	time.Sleep(10 * time.Millisecond)
	mc.pinPower.High()
	time.Sleep(50 * time.Millisecond)
}

// ReadWord will read a 32 bit word from the chip
func (mc *Microcontroller) ReadWord(addr uint32) (uint32, error) {
	if err := mc.Write(cmdReadWord(addr)); err != nil {
		return 0, err
	}
	bs, err := mc.ReadN(4, SAMBATimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "read word %08x", addr)
	}
	return binary.LittleEndian.Uint32(bs), nil
}

// WriteWord will write a 32 bit word to the chip
func (mc *Microcontroller) WriteWord(addr uint32, v uint32) error {
	return mc.Write(cmdWriteWord(addr, v))
}

// ReadMemory will read n bytes starting at addr
func (mc *Microcontroller) ReadMemory(addr uint32, n int) ([]byte, error) {
	bs := make([]byte, 0, n)

	for len(bs) < n {
		cnt := min(sambaReadChunk, n-len(bs))
		if err := mc.Write(cmdRead(addr, uint32(cnt))); err != nil {
			return nil, err
		}
		chunk, err := mc.ReadN(cnt, SAMBATimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "read %d bytes at %08x", cnt, addr)
		}
		bs = append(bs, chunk...)
		addr += uint32(cnt)
	}

	return bs, nil
}

// Go will start the code at addr. addr is stored in the jump word and addr+1
// in the stack word of h, and the monitor is then sent to h.JumpAddress.
func (mc *Microcontroller) Go(h iap.Handoff, addr uint32) error {
	if h.JumpAddress == 0 || h.StackAddress == 0 {
		return ErrNoHandoff
	}
	if err := mc.WriteWord(h.JumpAddress, addr); err != nil {
		return errors.Wrap(err, "could not set jump address")
	}
	if err := mc.WriteWord(h.StackAddress, addr+1); err != nil {
		return errors.Wrap(err, "could not set stack address")
	}
	logrus.Debugf("go: %08x via %08x", addr, h.JumpAddress)
	return mc.Write(cmdGo(h.JumpAddress))
}

func cmdBinaryMode() []byte {
	return []byte("N#")
}

func cmdVersion() []byte {
	return []byte("V#")
}

func cmdReadWord(addr uint32) []byte {
	return []byte(fmt.Sprintf("w%08X,#", addr))
}

func cmdWriteWord(addr uint32, v uint32) []byte {
	return []byte(fmt.Sprintf("W%08X,%08X#", addr, v))
}

func cmdRead(addr uint32, n uint32) []byte {
	return []byte(fmt.Sprintf("R%08X,%08X#", addr, n))
}

func cmdGo(addr uint32) []byte {
	return []byte(fmt.Sprintf("G%08X#", addr))
}
