package flash

import (
	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/synthread/go-samflash/iap"
)

var DefaultBaud = 921600
var DefaultTTY = "/dev/ttyACM0"

// Config defines configuration for communicating with and flashing the
// microcontroller
type Config struct {
	// ErasePinGPIO drives the chip's ERASE pin, PowerGPIO its supply. Either
	// may be negative to leave the board alone, e.g. when the monitor is
	// already running on a native USB port.
	ErasePinGPIO int
	PowerGPIO    int

	BootloaderBaud int
	TTY            string
}

// Microcontroller represents a SAM3/SAM E70 class chip running the SAM-BA
// monitor that can be communicated with over a serial port
type Microcontroller struct {
	config *Config

	pinPower gpio.Pin
	pinErase gpio.Pin
	pinsUp   bool

	ttyPort serial.Port
	ttyRx   chan byte
	ttyDone chan struct{}

	chipID  uint32
	version string
	device  *Device
}

// NewMicrocontroller will create a new reference to a particular chip
func NewMicrocontroller(c *Config) (*Microcontroller, error) {
	if c == nil {
		c = &Config{}
	}

	if c.ErasePinGPIO == 0 {
		c.ErasePinGPIO = 21
	}
	if c.PowerGPIO == 0 {
		c.PowerGPIO = 19
	}

	mc := &Microcontroller{
		config: c,
	}

	if err := mc.setupPins(); err != nil {
		return nil, errors.Wrap(err, "could not setup pins")
	}

	return mc, nil
}

func (mc *Microcontroller) setupPins() (err error) {
	if mc.pinsUp {
		return nil
	}
	if mc.config.PowerGPIO > 0 {
		mc.pinPower, err = gpio.NewOutput(uint(mc.config.PowerGPIO), true)
		if err != nil {
			return
		}
	}
	if mc.config.ErasePinGPIO > 0 {
		mc.pinErase, err = gpio.NewOutput(uint(mc.config.ErasePinGPIO), false)
		if err != nil {
			return
		}
	}
	mc.pinsUp = true

	return
}

func (mc *Microcontroller) cleanupPins() {
	if !mc.pinsUp {
		return
	}
	// resets the pins to a running state
	if mc.config.ErasePinGPIO > 0 {
		mc.pinErase.Cleanup()
	}
	if mc.config.PowerGPIO > 0 {
		mc.pinPower.Cleanup()
	}
	mc.pinsUp = false
}

// ChipID returns the CHIPID_CIDR value read when the port was opened
func (mc *Microcontroller) ChipID() uint32 {
	return mc.chipID
}

// Version returns the SAM-BA monitor version string
func (mc *Microcontroller) Version() string {
	return mc.version
}

// Device returns the flash layout of the connected chip
func (mc *Microcontroller) Device() (*Device, error) {
	if mc.device != nil {
		return mc.device, nil
	}
	d, err := DeviceForChip(mc.chipID)
	if err != nil {
		return nil, err
	}
	mc.device = d
	return d, nil
}

// Platform exposes the chip's memory, flash controllers and IAP routine
// through the monitor
func (mc *Microcontroller) Platform() (iap.Platform, error) {
	d, err := mc.Device()
	if err != nil {
		return nil, err
	}
	return &remotePlatform{mon: mc, dev: d}, nil
}

// TTY will return the TTY that will be used
func (mc *Microcontroller) TTY() string {
	if mc.config.TTY != "" {
		return mc.config.TTY
	}
	return DefaultTTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (mc *Microcontroller) BaudRate() int {
	if mc.config.BootloaderBaud > 0 {
		return mc.config.BootloaderBaud
	}
	return DefaultBaud
}
