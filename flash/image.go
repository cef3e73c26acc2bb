package flash

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Image is a firmware image. Raw binaries carry no address and are placed
// at the start of flash.
type Image struct {
	Addr    uint32
	HasAddr bool
	Data    []byte
}

// ReadImage will load a .hex (Intel HEX) or raw binary file
func ReadImage(path string) (*Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		return readHex(path)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Image{Data: bs}, nil
}

// readHex flattens every segment of a HEX file into one image, filling the
// gaps with erased bytes
func readHex(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, errors.Wrap(err, "could not parse hex")
	}

	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, errors.Errorf("%s has no data", path)
	}

	start, end := segs[0].Address, segs[0].Address
	for _, s := range segs {
		start = min(start, s.Address)
		end = max(end, s.Address+uint32(len(s.Data)))
	}

	return &Image{
		Addr:    start,
		HasAddr: true,
		Data:    mem.ToBinary(start, end-start, 0xff),
	}, nil
}
