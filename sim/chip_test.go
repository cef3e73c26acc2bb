package sim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/synthread/go-samflash/iap"
)

func exec(t *testing.T, ch *Chip, c iap.Controller, op iap.Opcode, arg uint32) iap.Status {
	t.Helper()
	s, err := ch.Call(ch.cfg.Entry, c, iap.Encode(op, arg))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return iap.Status(s)
}

func TestResolveEntryPoint(t *testing.T) {
	ch := NewChip(SAM3X8E)
	entry, err := ch.ResolveEntryPoint()
	if err != nil {
		t.Fatal(err)
	}
	if entry != SAM3X8E.Entry {
		t.Errorf("entry = %08x, want %08x", entry, SAM3X8E.Entry)
	}

	if _, err := ch.Call(entry+4, iap.Controller0, 0x5a000000); errors.Cause(err) != ErrFault {
		t.Errorf("call to bad entry: got %v, want %v", err, ErrFault)
	}
}

func TestRegistersThroughMemory(t *testing.T) {
	ch := NewChip(SAM3X8E)
	fmr1 := SAM3X8E.RegBase + 0x200

	if err := ch.WriteWord(fmr1, 0x600); err != nil {
		t.Fatal(err)
	}
	if got := ch.Mode(iap.Controller1); got != 0x600 {
		t.Errorf("mode = %x, want 0x600", got)
	}

	// writing the command register runs the command
	if err := ch.WriteWord(SAM3X8E.RegBase+iap.RegCommand, iap.Encode(iap.OpGetDescriptor, 0)); err != nil {
		t.Fatal(err)
	}
	fsr, _ := ch.ReadWord(SAM3X8E.RegBase + iap.RegStatus)
	if fsr != uint32(iap.StatusReady) {
		t.Errorf("fsr = %x", fsr)
	}
	id, _ := ch.ReadWord(SAM3X8E.RegBase + iap.RegResult)
	if id != SAM3X8E.FlashID {
		t.Errorf("flash id = %x, want %x", id, SAM3X8E.FlashID)
	}
	if n := len(ch.Calls()); n != 0 {
		t.Errorf("register command recorded as %d iap calls", n)
	}

	cid, _ := ch.ReadWord(SAM3X8E.ChipIDAddr)
	if cid != SAM3X8E.ChipID {
		t.Errorf("chip id = %08x", cid)
	}
}

func TestUnaligned(t *testing.T) {
	ch := NewChip(SAM3X8E)
	if _, err := ch.ReadWord(0x20000002); errors.Cause(err) != ErrUnaligned {
		t.Errorf("got %v", err)
	}
	if err := ch.WriteWord(0x20000001, 0); errors.Cause(err) != ErrUnaligned {
		t.Errorf("got %v", err)
	}
}

func TestBadKey(t *testing.T) {
	ch := NewChip(SAM3X8E)
	s, err := ch.Call(SAM3X8E.Entry, iap.Controller0, 0x5b000003)
	if err != nil {
		t.Fatal(err)
	}
	if !iap.Status(s).CommandError() {
		t.Errorf("status = %s, want FCMDE", iap.Status(s))
	}
}

func TestLatchWrapsPerPage(t *testing.T) {
	ch := NewChip(SAM3X8E)
	// page 3 of plane 0, word 2
	addr := SAM3X8E.FlashBase + 3*SAM3X8E.PageSize + 8
	if err := ch.WriteWord(addr, 0x12345678); err != nil {
		t.Fatal(err)
	}
	if got := ch.Latch(iap.Controller0)[2]; got != 0x12345678 {
		t.Errorf("latch[2] = %08x", got)
	}
	// flash itself is unchanged until a page command
	if got, _ := ch.ReadWord(addr); got != Erased {
		t.Errorf("flash = %08x, want erased", got)
	}

	if s := exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 3); s.Failed() {
		t.Fatalf("status %s", s)
	}
	if got, _ := ch.ReadWord(addr); got != 0x12345678 {
		t.Errorf("flash = %08x after commit", got)
	}
	if got := ch.Latch(iap.Controller0)[2]; got != Erased {
		t.Errorf("latch not cleared: %08x", got)
	}
}

func TestSecondPlane(t *testing.T) {
	ch := NewChip(SAM3X8E)
	plane1 := SAM3X8E.FlashBase + SAM3X8E.PageSize*SAM3X8E.PagesPerPlane
	if err := ch.WriteWord(plane1, 0xcafef00d); err != nil {
		t.Fatal(err)
	}
	if s := exec(t, ch, iap.Controller1, iap.OpEraseWritePage, 0); s.Failed() {
		t.Fatalf("status %s", s)
	}
	if got, _ := ch.ReadWord(plane1); got != 0xcafef00d {
		t.Errorf("plane 1 page 0 = %08x", got)
	}
	if got := ch.Page(iap.Controller0, 0)[0]; got != Erased {
		t.Errorf("plane 0 page 0 = %08x", got)
	}
}

func TestWritePageWithoutErase(t *testing.T) {
	ch := NewChip(SAM3X8E)
	base := SAM3X8E.FlashBase
	ch.WriteWord(base, 0xff00ff00)
	exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 0)
	ch.WriteWord(base, 0x0ff00ff0)
	exec(t, ch, iap.Controller0, iap.OpWritePage, 0)

	if got, _ := ch.ReadWord(base); got != 0x0f000f00 {
		t.Errorf("got %08x, want 0f000f00", got)
	}
}

func TestLockBits(t *testing.T) {
	ch := NewChip(SAM3X8E)
	if s := exec(t, ch, iap.Controller0, iap.OpSetLockBit, 70); s.Failed() {
		t.Fatalf("status %s", s)
	}
	// regions are 64 pages on this part
	if s := exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 64); !s.LockError() {
		t.Errorf("write to locked page: status %s", s)
	}
	if s := exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 63); s.Failed() {
		t.Errorf("write to unlocked page: status %s", s)
	}
	if s := exec(t, ch, iap.Controller0, iap.OpEraseAll, 0); !s.LockError() {
		t.Errorf("erase all with lock: status %s", s)
	}

	exec(t, ch, iap.Controller0, iap.OpGetLockBit, 0)
	if got, _ := ch.ReadRegister(iap.Controller0, iap.RegResult); got != 1<<1 {
		t.Errorf("lock bits = %b", got)
	}

	exec(t, ch, iap.Controller0, iap.OpClearLockBit, 70)
	if s := exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 64); s.Failed() {
		t.Errorf("after unlock: status %s", s)
	}
}

func TestWritePageLockLocks(t *testing.T) {
	ch := NewChip(SAM3X8E)
	exec(t, ch, iap.Controller1, iap.OpEraseWritePageLock, 0)
	if s := exec(t, ch, iap.Controller1, iap.OpEraseWritePage, 1); !s.LockError() {
		t.Errorf("status %s, want FLOCKE", s)
	}
}

func TestEraseAll(t *testing.T) {
	ch := NewChip(SAM3X8E)
	ch.WriteWord(SAM3X8E.FlashBase, 0)
	exec(t, ch, iap.Controller0, iap.OpEraseWritePage, 9)
	exec(t, ch, iap.Controller0, iap.OpEraseAll, 0)
	if got := ch.Page(iap.Controller0, 9)[0]; got != Erased {
		t.Errorf("page 9 = %08x after erase all", got)
	}
}

func TestGPNVM(t *testing.T) {
	ch := NewChip(SAM3X8E)
	exec(t, ch, iap.Controller0, iap.OpSetGPNVM, 1)
	if ch.GPNVM() != 0b10 {
		t.Errorf("gpnvm = %b", ch.GPNVM())
	}
	exec(t, ch, iap.Controller0, iap.OpGetGPNVM, 0)
	if got, _ := ch.ReadRegister(iap.Controller0, iap.RegResult); got != 0b10 {
		t.Errorf("GGPB result = %b", got)
	}
	exec(t, ch, iap.Controller0, iap.OpClearGPNVM, 1)
	if ch.GPNVM() != 0 {
		t.Errorf("gpnvm = %b", ch.GPNVM())
	}

	if s := exec(t, ch, iap.Controller1, iap.OpSetGPNVM, 1); !s.CommandError() {
		t.Errorf("gpnvm via eefc1: status %s", s)
	}
	if s := exec(t, ch, iap.Controller0, iap.OpSetGPNVM, 3); !s.CommandError() {
		t.Errorf("gpnvm bit 3: status %s", s)
	}
}

func TestSinglePlaneHasNoSecondController(t *testing.T) {
	ch := NewChip(SAME70Q21)
	if s := exec(t, ch, iap.Controller1, iap.OpGetDescriptor, 0); !s.CommandError() {
		t.Errorf("status %s, want FCMDE", s)
	}
	if err := ch.WriteRegister(iap.Controller1, iap.RegMode, iap.ModeWaitStates); errors.Cause(err) != iap.ErrNoController {
		t.Errorf("mode write to eefc1: got %v, want %v", err, iap.ErrNoController)
	}
	if _, err := ch.ReadRegister(2, iap.RegStatus); errors.Cause(err) != iap.ErrNoController {
		t.Errorf("block 2: got %v, want %v", err, iap.ErrNoController)
	}

	// where a second block would sit there is only plain memory
	addr := SAME70Q21.RegBase + SAME70Q21.RegStride
	if err := ch.WriteWord(addr+iap.RegCommand, iap.Encode(iap.OpGetDescriptor, 0)); err != nil {
		t.Fatal(err)
	}
	if got, _ := ch.ReadWord(addr + iap.RegStatus); got != 0 {
		t.Errorf("word at %08x = %08x, want 0", addr+iap.RegStatus, got)
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name string
		edit func(*Config)
	}{
		{"no lock regions", func(c *Config) { c.LockRegionsPerPlane = 0 }},
		{"more lock regions than pages", func(c *Config) { c.LockRegionsPerPlane = c.PagesPerPlane * 2 }},
		{"uneven lock regions", func(c *Config) { c.LockRegionsPerPlane = 3 }},
		{"no pages", func(c *Config) { c.PagesPerPlane = 0 }},
		{"odd page size", func(c *Config) { c.PageSize = 258 }},
		{"three planes", func(c *Config) { c.Planes = 3 }},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := SAM3X8E
			test.edit(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate accepted the config")
			}
			defer func() {
				if recover() == nil {
					t.Error("NewChip did not panic")
				}
			}()
			NewChip(cfg)
		})
	}

	for _, cfg := range []Config{SAM3X8E, SAME70Q21} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: %v", cfg.Name, err)
		}
	}
}

func TestGo(t *testing.T) {
	ch := NewChip(SAM3X8E)
	h := iap.Handoff{JumpAddress: 0x20001200, StackAddress: 0x20001204}

	if err := ch.Go(h, 0x80000); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x80000, 0x80001}, []uint32{ch.mem[h.JumpAddress], ch.mem[h.StackAddress]}); diff != "" {
		t.Errorf("handoff words mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0x20001200}, ch.Jumps()); diff != "" {
		t.Errorf("jumps mismatch (-want +got):\n%s", diff)
	}

	if err := ch.Go(iap.Handoff{}, 0x80000); err == nil {
		t.Error("go with an empty handoff succeeded")
	}
}

func TestReset(t *testing.T) {
	ch := NewChip(SAM3X8E)
	ch.WriteWord(SAM3X8E.ResetBase, 0x12000005)
	ch.WriteWord(SAM3X8E.ResetBase, 0xa5000005)
	if diff := cmp.Diff([]uint32{0xa5000005}, ch.Resets()); diff != "" {
		t.Errorf("resets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	ch := NewChip(SAM3X8E)
	if err := ch.Load(0x20000000, []byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	w0, _ := ch.ReadWord(0x20000000)
	w1, _ := ch.ReadWord(0x20000004)
	if w0 != 0x04030201 || w1 != 0x00000605 {
		t.Errorf("got %08x %08x", w0, w1)
	}
}
