package sim

import "github.com/synthread/go-samflash/iap"

const (
	statusOK      = uint32(iap.StatusReady)
	statusCmdErr  = uint32(iap.StatusReady | iap.StatusCommandError)
	statusLockErr = uint32(iap.StatusReady | iap.StatusLockError)
)

// eefc is one enhanced embedded flash controller and the plane it owns.
type eefc struct {
	cfg     *Config
	base    uint32
	present bool

	mode   uint32
	status uint32
	fifo   []uint32
	desc   []uint32

	latch []uint32
	flash []uint32
	locks []bool
}

func newEEFC(cfg *Config, base uint32, present bool) *eefc {
	e := &eefc{
		cfg:     cfg,
		base:    base,
		present: present,
		status:  statusOK,
	}
	if !present {
		return e
	}

	planeSize := cfg.PageSize * cfg.PagesPerPlane
	var plane1 uint32
	if cfg.Planes > 1 {
		plane1 = planeSize
	}
	e.desc = []uint32{cfg.FlashID, planeSize * uint32(cfg.Planes), cfg.PageSize, planeSize, plane1}

	e.latch = erased(cfg.PageSize / 4)
	e.flash = erased(planeSize / 4)
	e.locks = make([]bool, cfg.LockRegionsPerPlane)
	return e
}

func erased(n uint32) []uint32 {
	ws := make([]uint32, n)
	for i := range ws {
		ws[i] = Erased
	}
	return ws
}

func (e *eefc) size() uint32 {
	return uint32(len(e.flash)) * 4
}

func (e *eefc) contains(addr uint32) bool {
	return addr >= e.base && addr < e.base+e.size()
}

func (e *eefc) read(addr uint32) uint32 {
	return e.flash[(addr-e.base)/4]
}

// latchWord stores v in the page latch. Any address in the plane maps onto
// the latch modulo the page size.
func (e *eefc) latchWord(addr uint32, v uint32) {
	e.latch[(addr-e.base)%e.cfg.PageSize/4] = v
}

func (e *eefc) page(n uint32) []uint32 {
	wpp := e.cfg.PageSize / 4
	return e.flash[n*wpp : (n+1)*wpp]
}

func (e *eefc) pop() uint32 {
	if len(e.fifo) == 0 {
		return 0
	}
	v := e.fifo[0]
	e.fifo = e.fifo[1:]
	return v
}

func (e *eefc) region(page uint32) uint32 {
	return page / (e.cfg.PagesPerPlane / uint32(len(e.locks)))
}

func (e *eefc) anyLocked() bool {
	for _, l := range e.locks {
		if l {
			return true
		}
	}
	return false
}

func (e *eefc) exec(ch *Chip, c iap.Controller, cmd uint32) uint32 {
	if cmd>>24 != iap.Key || !e.present {
		return statusCmdErr
	}
	op := iap.Opcode(cmd & 0xff)
	arg := cmd >> 8 & 0xffff

	e.fifo = nil

	switch op {
	case iap.OpGetDescriptor:
		e.fifo = append([]uint32(nil), e.desc...)
		return statusOK

	case iap.OpWritePage, iap.OpWritePageLock, iap.OpEraseWritePage, iap.OpEraseWritePageLock:
		if arg >= e.cfg.PagesPerPlane {
			return statusCmdErr
		}
		if e.locks[e.region(arg)] {
			return statusLockErr
		}
		p := e.page(arg)
		erase := op == iap.OpEraseWritePage || op == iap.OpEraseWritePageLock
		for i := range p {
			if erase {
				p[i] = e.latch[i]
			} else {
				// without an erase, programming can only clear bits
				p[i] &= e.latch[i]
			}
			e.latch[i] = Erased
		}
		if op == iap.OpWritePageLock || op == iap.OpEraseWritePageLock {
			e.locks[e.region(arg)] = true
		}
		return statusOK

	case iap.OpEraseAll:
		if e.anyLocked() {
			return statusLockErr
		}
		for i := range e.flash {
			e.flash[i] = Erased
		}
		return statusOK

	case iap.OpSetLockBit, iap.OpClearLockBit:
		if arg >= e.cfg.PagesPerPlane {
			return statusCmdErr
		}
		e.locks[e.region(arg)] = op == iap.OpSetLockBit
		return statusOK

	case iap.OpGetLockBit:
		var w uint32
		for i, l := range e.locks {
			if l && i < 32 {
				w |= 1 << i
			}
		}
		e.fifo = []uint32{w}
		return statusOK

	case iap.OpSetGPNVM, iap.OpClearGPNVM:
		if c != iap.Controller0 || arg >= e.cfg.GPNVMBits {
			return statusCmdErr
		}
		if op == iap.OpSetGPNVM {
			ch.gpnvm |= 1 << arg
		} else {
			ch.gpnvm &^= 1 << arg
		}
		return statusOK

	case iap.OpGetGPNVM:
		if c != iap.Controller0 {
			return statusCmdErr
		}
		e.fifo = []uint32{ch.gpnvm}
		return statusOK
	}

	return statusCmdErr
}
