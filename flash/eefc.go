package flash

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-samflash/iap"
)

var ErrUnknownChip = errors.New("unknown chip id")

const (
	rstcKey     = 0xa5
	rstcProcRst = 1 << 0
	rstcPerRst  = 1 << 2
)

// regStride separates the register blocks of the two flash controllers.
const regStride = 0x200

// Device describes the flash layout of a chip family
type Device struct {
	Name string

	Addr        uint32
	Pages       uint32
	PageSize    uint32
	Planes      uint32
	LockRegions uint32

	// User is the RAM the staging buffers live in, Stack the stack the
	// loader resumes with.
	User  uint32
	Stack uint32

	Regs      uint32
	ResetBase uint32
	ResetCmd  uint32
	IAPVector uint32
}

var sam3x8 = Device{
	Name:        "ATSAM3X8",
	Addr:        0x80000,
	Pages:       2048,
	PageSize:    256,
	Planes:      2,
	LockRegions: 32,
	User:        0x20001000,
	Stack:       0x20010000,
	Regs:        0x400e0a00,
	ResetBase:   0x400e1a00,
	ResetCmd:    rstcKey<<24 | rstcProcRst | rstcPerRst,
	IAPVector:   0x00100008,
}

func samx70(name string, pages, lockRegions uint32) Device {
	return Device{
		Name:        name,
		Addr:        0x400000,
		Pages:       pages,
		PageSize:    512,
		Planes:      1,
		LockRegions: lockRegions,
		User:        0x20401000,
		Stack:       0x20420000,
		Regs:        0x400e0c00,
		ResetBase:   0x400e1800,
		ResetCmd:    rstcKey<<24 | rstcProcRst,
		IAPVector:   0x00800008,
	}
}

var devices = map[uint32]Device{
	// SAM3X8C/E/H
	0x284e0a60: sam3x8,
	0x285e0a60: sam3x8,
	0x286e0a60: sam3x8,

	// E70, S70, V71 (there is no V70x21)
	0xa1020e00: samx70("ATSAMx7x21", 4096, 128),
	0xa1120e00: samx70("ATSAMx7x21", 4096, 128),
	0xa1220e00: samx70("ATSAMx7x21", 4096, 128),

	// E70, S70, V71, V70
	0xa1020c00: samx70("ATSAMx7x20", 2048, 64),
	0xa1120c00: samx70("ATSAMx7x20", 2048, 64),
	0xa1220c00: samx70("ATSAMx7x20", 2048, 64),
	0xa1320c00: samx70("ATSAMx7x20", 2048, 64),

	0xa10d0a00: samx70("ATSAMx7x19", 1024, 32),
	0xa11d0a00: samx70("ATSAMx7x19", 1024, 32),
	0xa12d0a00: samx70("ATSAMx7x19", 1024, 32),
	0xa13d0a00: samx70("ATSAMx7x19", 1024, 32),
}

// DeviceForChip returns the layout of the chip identified by its
// CHIPID_CIDR value
func DeviceForChip(chipID uint32) (*Device, error) {
	d, ok := devices[chipID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownChip, "0x%08x", chipID)
	}
	return &d, nil
}

// Size is the total flash size in bytes
func (d *Device) Size() uint32 {
	return d.Pages * d.PageSize
}

// PagesPerPlane is the number of pages each controller owns
func (d *Device) PagesPerPlane() uint32 {
	return d.Pages / d.Planes
}

// PlaneFor maps a device page onto the controller that owns it and the page
// number within that controller's plane
func (d *Device) PlaneFor(page uint32) (iap.Controller, uint32) {
	ppp := d.PagesPerPlane()
	if d.Planes > 1 && page >= ppp {
		return iap.Controller1, page - ppp
	}
	return iap.Controller0, page
}

// PageAddr is the address of the first byte of a page
func (d *Device) PageAddr(page uint32) uint32 {
	return d.Addr + page*d.PageSize
}

// Layout places the two staging buffers, each one page long, at the start
// of User
func (d *Device) Layout() iap.Layout {
	return iap.NewLayout(d.User, d.Stack, d.PageSize)
}

func (d *Device) regAddr(c iap.Controller, off uint32) uint32 {
	return d.Regs + uint32(c)*regStride + off
}
