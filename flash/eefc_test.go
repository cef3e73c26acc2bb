package flash

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/synthread/go-samflash/iap"
)

func TestDeviceForChip(t *testing.T) {
	d, err := DeviceForChip(0x285e0a60)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "ATSAM3X8" || d.Size() != 512*1024 || d.PagesPerPlane() != 1024 {
		t.Errorf("unexpected device %+v", d)
	}
	if d.ResetCmd != 0xa5000005 {
		t.Errorf("reset cmd = %08x", d.ResetCmd)
	}

	d, err = DeviceForChip(0xa13d0a00)
	if err != nil {
		t.Fatal(err)
	}
	if d.Pages != 1024 || d.PageSize != 512 || d.Planes != 1 || d.ResetCmd != 0xa5000001 {
		t.Errorf("unexpected device %+v", d)
	}

	if _, err := DeviceForChip(0x12345678); errors.Cause(err) != ErrUnknownChip {
		t.Errorf("got %v, want %v", err, ErrUnknownChip)
	}
}

func TestDeviceForChipReturnsCopy(t *testing.T) {
	d, _ := DeviceForChip(0x284e0a60)
	d.Pages = 1
	d2, _ := DeviceForChip(0x284e0a60)
	if d2.Pages != 2048 {
		t.Errorf("table modified through returned device")
	}
}

func TestPlaneFor(t *testing.T) {
	dual, _ := DeviceForChip(0x286e0a60)
	single, _ := DeviceForChip(0xa1020e00)

	tests := []struct {
		dev   *Device
		page  uint32
		c     iap.Controller
		plane uint32
	}{
		{dual, 0, iap.Controller0, 0},
		{dual, 1023, iap.Controller0, 1023},
		{dual, 1024, iap.Controller1, 0},
		{dual, 2047, iap.Controller1, 1023},
		{single, 3000, iap.Controller0, 3000},
	}
	for _, test := range tests {
		c, p := test.dev.PlaneFor(test.page)
		if c != test.c || p != test.plane {
			t.Errorf("%s page %d: got eefc%d:%d, want eefc%d:%d", test.dev.Name, test.page, c, p, test.c, test.plane)
		}
	}
}

func TestLayout(t *testing.T) {
	d, _ := DeviceForChip(0xa1020c00)
	l := d.Layout()
	if l.Buffers[0].Addr != 0x20401000 || l.Buffers[1].Addr != 0x20401200 || l.Buffers[1].Size != 512 {
		t.Errorf("unexpected layout %+v", l)
	}
	if l.Stack != 0x20420000 {
		t.Errorf("stack = %08x", l.Stack)
	}
	if got := d.regAddr(iap.Controller1, iap.RegStatus); got != 0x400e0e08 {
		t.Errorf("fsr1 = %08x", got)
	}
}
