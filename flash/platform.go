package flash

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-samflash/iap"
)

var ErrNoEntryPoint = errors.New("no iap routine at vector")

// StatusTimeout bounds how long a flash command may keep the controller busy
var StatusTimeout = 5 * time.Second

// monitor is the memory access a ROM monitor gives us
type monitor interface {
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr uint32, v uint32) error
	ReadMemory(addr uint32, n int) ([]byte, error)
}

// runner is implemented by targets that can start code through the
// monitor's go command
type runner interface {
	Go(h iap.Handoff, addr uint32) error
}

// remotePlatform runs the blob's platform contract over the monitor. The
// IAP routine takes its arguments in registers, which the go command cannot
// set, so Call has the flash controller do what the routine does: take the
// command and report its status once ready.
type remotePlatform struct {
	mon monitor
	dev *Device
}

func (rp *remotePlatform) ResolveEntryPoint() (uint32, error) {
	entry, err := rp.mon.ReadWord(rp.dev.IAPVector)
	if err != nil {
		return 0, err
	}
	if entry == 0 || entry == 0xffffffff {
		return 0, errors.Wrapf(ErrNoEntryPoint, "%08x holds %08x", rp.dev.IAPVector, entry)
	}
	return entry, nil
}

func (rp *remotePlatform) Call(entry uint32, c iap.Controller, cmd uint32) (uint32, error) {
	if entry == 0 {
		return 0, ErrNoEntryPoint
	}
	if err := rp.WriteRegister(c, iap.RegCommand, cmd); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(StatusTimeout)
	for {
		fsr, err := rp.ReadRegister(c, iap.RegStatus)
		if err != nil {
			return 0, err
		}
		if iap.Status(fsr).Ready() {
			return fsr, nil
		}
		if time.Now().After(deadline) {
			return fsr, errors.Wrapf(ErrTimeout, "eefc%d busy after %08x", c, cmd)
		}
		logrus.Debugf("eefc%d busy: %s", c, iap.Status(fsr))
		time.Sleep(time.Millisecond)
	}
}

// present guards the register blocks. On single plane parts the second
// block's address belongs to the PIO controller.
func (rp *remotePlatform) present(c iap.Controller) error {
	if uint32(c) >= rp.dev.Planes {
		return errors.Wrapf(iap.ErrNoController, "eefc%d on %s", c, rp.dev.Name)
	}
	return nil
}

func (rp *remotePlatform) ReadRegister(c iap.Controller, off uint32) (uint32, error) {
	if err := rp.present(c); err != nil {
		return 0, err
	}
	return rp.mon.ReadWord(rp.dev.regAddr(c, off))
}

func (rp *remotePlatform) WriteRegister(c iap.Controller, off uint32, v uint32) error {
	if err := rp.present(c); err != nil {
		return err
	}
	return rp.mon.WriteWord(rp.dev.regAddr(c, off), v)
}

func (rp *remotePlatform) ReadWord(addr uint32) (uint32, error) {
	return rp.mon.ReadWord(addr)
}

func (rp *remotePlatform) WriteWord(addr uint32, v uint32) error {
	return rp.mon.WriteWord(addr, v)
}

// Go passes through to the monitor when it can start code
func (rp *remotePlatform) Go(h iap.Handoff, addr uint32) error {
	r, ok := rp.mon.(runner)
	if !ok {
		return errors.New("monitor cannot start code")
	}
	return r.Go(h, addr)
}

// ReadBlock lets the programmer verify pages with block reads
func (rp *remotePlatform) ReadBlock(addr uint32, n int) ([]byte, error) {
	return rp.mon.ReadMemory(addr, n)
}
