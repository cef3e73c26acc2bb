package iap

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoController is returned by a Platform for register access to a flash
// controller the part does not have.
var ErrNoController = errors.New("no such flash controller")

// Platform is the fixed memory, register and calling convention contract of
// the target. Errors are transport failures only; controller status codes
// come back as values.
type Platform interface {
	// ResolveEntryPoint fetches the IAP routine address from the vendor
	// vector location.
	ResolveEntryPoint() (uint32, error)
	// Call invokes the IAP routine at entry and returns its raw status.
	Call(entry uint32, c Controller, cmd uint32) (uint32, error)

	ReadRegister(c Controller, off uint32) (uint32, error)
	WriteRegister(c Controller, off uint32, v uint32) error

	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr uint32, v uint32) error
}

// Blob runs the blob's entry points against a Platform. A Blob holds no
// state of its own; everything lives in the Vars passed to each call.
// Calls must not overlap.
type Blob struct {
	p Platform
}

// New returns a Blob bound to p.
func New(p Platform) *Blob {
	return &Blob{p: p}
}

// Initialize resolves the IAP entry point, applies the wait state
// configuration to both controllers and marks v as initialized. A controller
// the platform reports as ErrNoController is skipped. Running it again
// re-applies the same writes. It returns v.Handoff.Resume().
func (b *Blob) Initialize(v *Vars) (uint32, error) {
	entry, err := b.p.ResolveEntryPoint()
	if err != nil {
		return 0, errors.Wrap(err, "could not resolve iap entry point")
	}
	v.Entry = entry

	for _, c := range []Controller{Controller0, Controller1} {
		err := b.p.WriteRegister(c, RegMode, ModeWaitStates)
		if errors.Cause(err) == ErrNoController {
			logrus.Debugf("iap: eefc%d absent", c)
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "could not set mode of eefc%d", c)
		}
	}

	v.Inited = InitedMagic
	logrus.Debugf("iap: init entry=%08x", entry)

	return v.Handoff.Resume(), nil
}

// ReadDescriptor issues the get descriptor command to v.Controller, stores
// the returned status in v.Status without looking at it, and then reads five
// result words into ID, TotalSize, PageSize, Planes[0] and Planes[1].
// PlaneCount and Planes[2] are left untouched. It returns
// v.Handoff.Resume().
func (b *Blob) ReadDescriptor(v *Vars) (uint32, error) {
	cmd := Encode(OpGetDescriptor, 0)
	status, err := b.p.Call(v.Entry, v.Controller, cmd)
	if err != nil {
		return 0, errors.Wrap(err, "iap get descriptor")
	}
	v.Status = Status(status)

	d := &v.Descriptor
	for _, field := range []*uint32{&d.ID, &d.TotalSize, &d.PageSize, &d.Planes[0], &d.Planes[1]} {
		if *field, err = b.p.ReadRegister(v.Controller, RegResult); err != nil {
			return 0, errors.Wrap(err, "could not read descriptor")
		}
	}

	logrus.Debugf("iap: eefc%d descriptor %+v status=%s", v.Controller, *d, v.Status)

	return v.Handoff.Resume(), nil
}

// CommitPage issues an erase and write of v.Page on v.Controller for the
// data already latched in the controller's write window. The status is
// stored in v.Status and is not checked. Unlike the other entry points it
// hands back no resume value.
func (b *Blob) CommitPage(v *Vars) error {
	pc := ProgramCommand{Controller: v.Controller, Page: v.Page, Op: OpEraseWritePage}
	status, err := b.p.Call(v.Entry, pc.Controller, pc.Word())
	if err != nil {
		return errors.Wrapf(err, "iap erase/write page %d", v.Page)
	}
	v.Status = Status(status)

	logrus.Debugf("iap: eefc%d cmd=%08x status=%s", pc.Controller, pc.Word(), v.Status)

	return nil
}

// CopyBlock copies v.Copy.Length bytes from v.Copy.Source to
// v.Copy.Destination one word at a time, lowest address first. Overlapping
// ranges are only safe when Destination does not precede Source. Trailing
// bytes of a length that is not a multiple of WordSize are not copied. It
// returns v.Handoff.Resume().
func (b *Blob) CopyBlock(v *Vars) (uint32, error) {
	src, dst := v.Copy.Source, v.Copy.Destination
	for n := v.Copy.Length; n >= WordSize; n -= WordSize {
		w, err := b.p.ReadWord(src)
		if err != nil {
			return 0, errors.Wrapf(err, "could not read %08x", src)
		}
		if err := b.p.WriteWord(dst, w); err != nil {
			return 0, errors.Wrapf(err, "could not write %08x", dst)
		}
		src += WordSize
		dst += WordSize
	}

	return v.Handoff.Resume(), nil
}
