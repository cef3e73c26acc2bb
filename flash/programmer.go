package flash

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-samflash/iap"
)

var ErrVerify = errors.New("verify failed")
var ErrGeometry = errors.New("flash geometry does not match chip table")
var ErrImageRange = errors.New("image does not fit in flash")

// StatusError reports a flash command the controller did not accept
type StatusError struct {
	Op     string
	Page   uint32
	Status iap.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("eefc %s page %d failed: status %s", e.Op, e.Page, e.Status)
}

// blockReader is implemented by platforms that can read memory faster than a
// word at a time
type blockReader interface {
	ReadBlock(addr uint32, n int) ([]byte, error)
}

// Options control a programming run
type Options struct {
	// EraseAll erases every plane before writing
	EraseAll bool
	Verify   bool
	// Boot sets (true) the boot-from-flash bit after writing
	Boot  bool
	Reset bool

	// Progress is called after each page with the number of pages done
	Progress func(done, total int)
}

// Programmer writes images through the flash blob. It owns the blob's
// parameter block and decides which staging buffer each page goes through.
type Programmer struct {
	p      iap.Platform
	dev    *Device
	blob   *iap.Blob
	layout iap.Layout

	vars      iap.Vars
	resume    uint32
	bufferNum int
	descs     []iap.FlashDescriptor
}

// NewProgrammer will create a programmer for dev reachable through p
func NewProgrammer(p iap.Platform, dev *Device) *Programmer {
	layout := dev.Layout()
	return &Programmer{
		p:      p,
		dev:    dev,
		blob:   iap.New(p),
		layout: layout,
		vars: iap.Vars{
			Handoff: layout.Handoff(),
		},
	}
}

// Init will initialize the blob and read the descriptor of every plane
func (pr *Programmer) Init() error {
	resume, err := pr.blob.Initialize(&pr.vars)
	if err != nil {
		return err
	}
	pr.resume = resume

	pr.descs = pr.descs[:0]
	for c := uint32(0); c < pr.dev.Planes; c++ {
		pr.vars.Controller = iap.Controller(c)
		if pr.resume, err = pr.blob.ReadDescriptor(&pr.vars); err != nil {
			return err
		}
		if pr.vars.Status.Failed() {
			return &StatusError{Op: "get descriptor", Status: pr.vars.Status}
		}
		d := pr.vars.Descriptor
		if d.PageSize != pr.dev.PageSize {
			return errors.Wrapf(ErrGeometry, "eefc%d page size %d, expected %d", c, d.PageSize, pr.dev.PageSize)
		}
		pr.descs = append(pr.descs, d)
		logrus.Debugf("eefc%d: id=%08x size=%d page=%d", c, d.ID, d.TotalSize, d.PageSize)
	}

	return nil
}

// Descriptors returns what each plane reported in Init
func (pr *Programmer) Descriptors() []iap.FlashDescriptor {
	return append([]iap.FlashDescriptor(nil), pr.descs...)
}

// Device returns the chip layout being programmed
func (pr *Programmer) Device() *Device {
	return pr.dev
}

// exec will run a command that is not one of the blob's own through the IAP
// routine the blob resolved
func (pr *Programmer) exec(op string, c iap.Controller, cmd uint32) error {
	status, err := pr.p.Call(pr.vars.Entry, c, cmd)
	if err != nil {
		return errors.Wrap(err, op)
	}
	if s := iap.Status(status); s.Failed() {
		return &StatusError{Op: op, Status: s}
	}
	return nil
}

// Erase will erase every plane
func (pr *Programmer) Erase() error {
	for c := uint32(0); c < pr.dev.Planes; c++ {
		if err := pr.exec("erase all", iap.Controller(c), iap.Encode(iap.OpEraseAll, 0)); err != nil {
			return err
		}
	}
	return nil
}

// pad returns data extended with erased bytes to a full page
func (pr *Programmer) pad(data []byte) []byte {
	page := bytes.Repeat([]byte{0xff}, int(pr.dev.PageSize))
	copy(page, data)
	return page
}

// WritePage will stage data in the next buffer, copy it into the write
// window and commit it to page
func (pr *Programmer) WritePage(page uint32, data []byte) error {
	if len(data) > int(pr.dev.PageSize) {
		return errors.Errorf("page data is %d bytes, page size is %d", len(data), pr.dev.PageSize)
	}
	if page >= pr.dev.Pages {
		return errors.Wrapf(ErrImageRange, "page %d", page)
	}

	buf := pr.layout.Buffers[pr.bufferNum]
	pr.bufferNum ^= 1

	bs := pr.pad(data)
	for i := 0; i < len(bs); i += iap.WordSize {
		w := binary.LittleEndian.Uint32(bs[i:])
		if err := pr.p.WriteWord(buf.Addr+uint32(i), w); err != nil {
			return errors.Wrap(err, "could not stage page")
		}
	}

	pr.vars.Copy = iap.CopyRequest{
		Source:      buf.Addr,
		Destination: pr.dev.PageAddr(page),
		Length:      uint32(len(bs)),
	}
	resume, err := pr.blob.CopyBlock(&pr.vars)
	if err != nil {
		return err
	}
	pr.resume = resume

	c, planePage := pr.dev.PlaneFor(page)
	pr.vars.Controller = c
	pr.vars.Page = planePage
	if err := pr.blob.CommitPage(&pr.vars); err != nil {
		return err
	}
	if pr.vars.Status.Failed() {
		return &StatusError{Op: "erase/write", Page: page, Status: pr.vars.Status}
	}

	logrus.Debugf("wp: page %d (eefc%d:%d) via %08x status=%s", page, c, planePage, buf.Addr, pr.vars.Status)

	return nil
}

// ReadPage will read back the contents of page
func (pr *Programmer) ReadPage(page uint32) ([]byte, error) {
	addr := pr.dev.PageAddr(page)
	if br, ok := pr.p.(blockReader); ok {
		return br.ReadBlock(addr, int(pr.dev.PageSize))
	}

	bs := make([]byte, pr.dev.PageSize)
	for i := 0; i < len(bs); i += iap.WordSize {
		w, err := pr.p.ReadWord(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(bs[i:], w)
	}
	return bs, nil
}

// VerifyPage will compare page with data padded to a full page
func (pr *Programmer) VerifyPage(page uint32, data []byte) error {
	got, err := pr.ReadPage(page)
	if err != nil {
		return errors.Wrapf(err, "could not read page %d", page)
	}
	if want := pr.pad(data); !bytes.Equal(got, want) {
		return errors.Wrapf(ErrVerify, "page %d: %x != %x", page, got, want)
	}
	return nil
}

// SetBoot will select booting from flash (true) or from the ROM monitor
func (pr *Programmer) SetBoot(flash bool) error {
	op, name := iap.OpClearGPNVM, "clear gpnvm"
	if flash {
		op, name = iap.OpSetGPNVM, "set gpnvm"
	}
	logrus.Debugf("set boot to flash: %t", flash)
	// bit 0 is the security bit, bit 1 selects the boot memory
	return pr.exec(name, iap.Controller0, iap.Encode(op, 1))
}

// Reset will reset the chip through its reset controller
func (pr *Programmer) Reset() error {
	logrus.Debugf("reset command: %08x", pr.dev.ResetCmd)
	return pr.p.WriteWord(pr.dev.ResetBase, pr.dev.ResetCmd)
}

// Run will start the code at addr through the monitor's go command. The jump
// goes through the handoff the blob last resumed with, so Init must have run.
func (pr *Programmer) Run(addr uint32) error {
	r, ok := pr.p.(runner)
	if !ok {
		return errors.New("platform cannot start code")
	}
	if pr.resume == 0 {
		return errors.Wrap(ErrNoHandoff, "flash not initialized")
	}
	h := iap.Handoff{JumpAddress: pr.vars.Handoff.JumpAddress, StackAddress: pr.resume}
	logrus.Debugf("run: %08x, handoff %08x/%08x", addr, h.JumpAddress, h.StackAddress)
	return r.Go(h, addr)
}

// Program will write img page by page and then apply the boot and reset
// options
func (pr *Programmer) Program(img *Image, opts Options) error {
	if err := pr.Init(); err != nil {
		return errors.Wrap(err, "could not init flash")
	}

	first, data, err := pr.pages(img)
	if err != nil {
		return err
	}

	if opts.EraseAll {
		if err := pr.Erase(); err != nil {
			return errors.Wrap(err, "could not erase flash")
		}
	}

	ps := int(pr.dev.PageSize)
	total := (len(data) + ps - 1) / ps

	for i := 0; i < total; i++ {
		page := first + uint32(i)
		chunk := data[i*ps : min(len(data), (i+1)*ps)]

		logrus.Debugf("writing page %d with data from %d to %d out of %d bytes", page, i*ps, i*ps+len(chunk)-1, len(data))

		if err := pr.WritePage(page, chunk); err != nil {
			return errors.Wrapf(err, "could not write page %d", page)
		}
		if opts.Verify {
			if err := pr.VerifyPage(page, chunk); err != nil {
				return err
			}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	if opts.Boot {
		if err := pr.SetBoot(true); err != nil {
			return errors.Wrap(err, "could not set boot to flash")
		}
	}
	if opts.Reset {
		if err := pr.Reset(); err != nil {
			return errors.Wrap(err, "could not reset")
		}
	}

	return nil
}

// pages will align img to the page grid and return its first page
func (pr *Programmer) pages(img *Image) (uint32, []byte, error) {
	addr := img.Addr
	if !img.HasAddr {
		addr = pr.dev.Addr
	}
	if addr < pr.dev.Addr || uint64(addr)+uint64(len(img.Data)) > uint64(pr.dev.Addr)+uint64(pr.dev.Size()) {
		return 0, nil, errors.Wrapf(ErrImageRange, "%d bytes at %08x", len(img.Data), addr)
	}

	off := addr - pr.dev.Addr
	lead := off % pr.dev.PageSize
	data := img.Data
	if lead > 0 {
		data = append(bytes.Repeat([]byte{0xff}, int(lead)), data...)
	}
	return off / pr.dev.PageSize, data, nil
}
