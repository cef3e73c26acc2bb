// Package iap implements the flash update blob: a small routine set that a
// bootloader loads into RAM and calls to query the embedded flash
// controllers and to erase and program single pages through the vendor's
// in-application-programming (IAP) ROM routine.
//
// The blob's state lives in a Vars block owned by the loader. Each entry
// point reads its inputs from Vars and writes its outputs back into it.
package iap

import "fmt"

// Key is the magic value the flash controller requires in byte 3 of every
// command word.
const Key = 0x5a

// Register offsets inside a flash controller register block.
const (
	RegMode    uint32 = 0x00
	RegCommand uint32 = 0x04
	RegStatus  uint32 = 0x08
	RegResult  uint32 = 0x0c
)

// ModeWaitStates is written to the Mode register of both controllers on
// Initialize (FWS = 6).
const ModeWaitStates uint32 = 0x6 << 8

// InitedMagic is stored in Vars.Inited once Initialize has run.
const InitedMagic uint32 = 0x1

// DefaultBufferSize is the capacity of each staging buffer in a stock blob.
const DefaultBufferSize = 256

// WordSize is the unit CopyBlock moves.
const WordSize = 4

// Controller selects one of the two flash controllers.
type Controller uint32

const (
	Controller0 Controller = 0
	Controller1 Controller = 1
)

// Opcode is the low byte of a command word.
type Opcode uint32

const (
	OpGetDescriptor      Opcode = 0x0
	OpWritePage          Opcode = 0x1
	OpWritePageLock      Opcode = 0x2
	OpEraseWritePage     Opcode = 0x3
	OpEraseWritePageLock Opcode = 0x4
	OpEraseAll           Opcode = 0x5
	OpSetLockBit         Opcode = 0x8
	OpClearLockBit       Opcode = 0x9
	OpGetLockBit         Opcode = 0xa
	OpSetGPNVM           Opcode = 0xb
	OpClearGPNVM         Opcode = 0xc
	OpGetGPNVM           Opcode = 0xd
)

// Encode builds a command word with the magic key, the argument in bits 8
// and up, and the opcode in the low byte. The argument is not range
// checked.
func Encode(op Opcode, arg uint32) uint32 {
	return Key<<24 | arg<<8 | uint32(op)
}

// Status is the raw value returned by the IAP routine. The blob never
// interprets it; the accessors are for the loader.
type Status uint32

const (
	StatusReady        Status = 1 << 0
	StatusCommandError Status = 1 << 1
	StatusLockError    Status = 1 << 2
	StatusFlashError   Status = 1 << 3
)

func (s Status) Ready() bool        { return s&StatusReady != 0 }
func (s Status) CommandError() bool { return s&StatusCommandError != 0 }
func (s Status) LockError() bool    { return s&StatusLockError != 0 }
func (s Status) FlashError() bool   { return s&StatusFlashError != 0 }

// Failed reports whether any error bit is set.
func (s Status) Failed() bool {
	return s&(StatusCommandError|StatusLockError|StatusFlashError) != 0
}

func (s Status) String() string {
	str := fmt.Sprintf("0x%08x", uint32(s))
	var flags []string
	if s.Ready() {
		flags = append(flags, "FRDY")
	}
	if s.CommandError() {
		flags = append(flags, "FCMDE")
	}
	if s.LockError() {
		flags = append(flags, "FLOCKE")
	}
	if s.FlashError() {
		flags = append(flags, "FLERR")
	}
	for i, f := range flags {
		if i == 0 {
			str += " ["
		} else {
			str += "|"
		}
		str += f
	}
	if len(flags) > 0 {
		str += "]"
	}
	return str
}

// FlashDescriptor holds the geometry reported by a controller's get
// descriptor command.
type FlashDescriptor struct {
	ID         uint32
	TotalSize  uint32
	PageSize   uint32
	PlaneCount uint32
	Planes     [3]uint32
}

// CopyRequest is a word copy from Source to Destination. Length should be a
// multiple of WordSize.
type CopyRequest struct {
	Source      uint32
	Destination uint32
	Length      uint32
}

// StagingBuffer is a fixed region of target RAM the loader fills with one
// block of image data.
type StagingBuffer struct {
	Addr uint32
	Size uint32
}

// Fits reports whether a copy reading from or writing to b stays inside it.
func (b StagingBuffer) Fits(r CopyRequest) bool {
	return r.Length <= b.Size
}

// Layout describes where a blob and its buffers were placed in target RAM.
type Layout struct {
	Base    uint32
	Stack   uint32
	Buffers [2]StagingBuffer
}

// NewLayout places two buffers of size bytes back to back starting at base.
func NewLayout(base, stack, size uint32) Layout {
	return Layout{
		Base:  base,
		Stack: stack,
		Buffers: [2]StagingBuffer{
			{Addr: base, Size: size},
			{Addr: base + size, Size: size},
		},
	}
}

// Handoff places the loader's jump and stack words right after the buffers.
func (l Layout) Handoff() Handoff {
	end := l.Buffers[1].Addr + l.Buffers[1].Size
	return Handoff{JumpAddress: end, StackAddress: end + WordSize}
}

// ProgramCommand is the erase and write request CommitPage issues.
type ProgramCommand struct {
	Controller Controller
	Page       uint32
	Op         Opcode
}

// Word returns the encoded command word.
func (c ProgramCommand) Word() uint32 {
	return Encode(c.Op, c.Page)
}

// Handoff carries the addresses the loader resumes with after calling into
// the blob. Both are word locations in target RAM that the monitor's go
// command jumps through. The blob may be running from memory it is about to
// overwrite, so entry points hand back StackAddress rather than assuming
// their own frame survives.
type Handoff struct {
	JumpAddress  uint32
	StackAddress uint32
}

// Resume is the value an entry point returns to its caller.
func (h Handoff) Resume() uint32 {
	return h.StackAddress
}

// Vars is the parameter and result block shared between the loader and the
// blob. The loader writes the inputs, invokes one entry point, then reads
// the outputs.
type Vars struct {
	Handoff    Handoff
	Controller Controller
	Page       uint32
	Copy       CopyRequest

	Descriptor FlashDescriptor
	Status     Status

	// Entry is the IAP routine address resolved by Initialize.
	Entry uint32
	// Inited is InitedMagic after Initialize.
	Inited uint32
}
