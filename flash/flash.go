package flash

import (
	"github.com/pkg/errors"
)

// FlashPayloadFromFile will flash the requested .bin or .hex file
func (mc *Microcontroller) FlashPayloadFromFile(filePath string, opts Options) error {
	img, err := ReadImage(filePath)
	if err != nil {
		return err
	}
	return mc.FlashPayload(img, opts)
}

// FlashPayload will flash the image provided through the flash blob
func (mc *Microcontroller) FlashPayload(img *Image, opts Options) error {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return err
		}
		defer mc.Close()
	}

	pr, err := mc.Programmer()
	if err != nil {
		return err
	}

	return pr.Program(img, opts)
}

// Programmer returns a programmer bound to the open chip
func (mc *Microcontroller) Programmer() (*Programmer, error) {
	dev, err := mc.Device()
	if err != nil {
		return nil, errors.Wrap(err, "could not identify flash")
	}
	p, err := mc.Platform()
	if err != nil {
		return nil, err
	}
	return NewProgrammer(p, dev), nil
}
