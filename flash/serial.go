package flash

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrTimeout = errors.New("timed out reading from microcontroller")
var ErrClosed = errors.New("serial port is closed")

func (mc *Microcontroller) Open() (err error) {
	if err = mc.setupPins(); err != nil {
		return errors.Wrap(err, "could not setup pins")
	}

	mc.ttyPort, err = serial.Open(mc.TTY(), &serial.Mode{
		BaudRate: mc.BaudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Wrap(err, "could not open serial")
	}

	mc.ttyRx = make(chan byte, 4096)
	mc.ttyDone = make(chan struct{})
	go mc.rx(mc.ttyPort, mc.ttyRx, mc.ttyDone)

	if err = errors.Wrap(mc.sambaInit(), "could not init sam-ba monitor"); err != nil {
		mc.Close()
		return
	}

	logrus.Debug("mcu open")

	return nil
}

// Close will close the connection and release the board control pins
func (mc *Microcontroller) Close() error {
	if mc.ttyDone != nil {
		close(mc.ttyDone)
		mc.ttyDone = nil
	}

	if mc.ttyPort != nil {
		mc.ttyPort.Close()
		mc.ttyPort = nil
	}

	mc.cleanupPins()

	logrus.Debug("mcu close")

	return nil
}

func (mc *Microcontroller) IsOpen() bool {
	return mc.ttyPort != nil
}

// rx is the loop that will read from the port and write the incoming bytes to
// the rx chan until done is closed
func (mc *Microcontroller) rx(port serial.Port, out chan<- byte, done <-chan struct{}) {
	buf := make([]byte, 64)

	port.SetReadTimeout(1 * time.Millisecond)

	for {
		n, err := port.Read(buf)
		if err != nil {

			// don't write out if we're just complaining about it being closed
			if perr, ok := err.(*serial.PortError); ok {
				if perr.Code() == serial.PortClosed {
					return
				}
			}

			if errors.Is(err, syscall.EBADF) {
				return
			}

			logrus.Error("rx err: ", err.Error())
			return
		}

		for _, b := range buf[:n] {
			select {
			case out <- b:
			case <-done:
				return
			}
		}
		if n > 0 {
			logrus.Debugf("mcu rx: %x", buf[:n])
		}
	}
}

// Write will write the specified bytes to the microcontroller
func (mc *Microcontroller) Write(bs ...[]byte) (err error) {
	if !mc.IsOpen() {
		return ErrClosed
	}

	if len(bs) == 0 {
		panic("must provide at least one []byte")
	}

	for _, b := range bs {
		_, err = mc.ttyPort.Write(b)
		if err != nil {
			return
		}
		logrus.Debugf("mcu tx: %q", b)
	}

	// the monitor wants each command to arrive separately from what follows
	return mc.ttyPort.Drain()
}

// ReadN will read exactly N bytes from the rx chan
func (mc *Microcontroller) ReadN(n int, to time.Duration) ([]byte, error) {
	if !mc.IsOpen() {
		return nil, ErrClosed
	}

	bs := make([]byte, n)

	for i := 0; i < n; i++ {
		select {
		case <-time.After(to):
			return nil, ErrTimeout
		case b := <-mc.ttyRx:
			bs[i] = b
		}
	}

	return bs, nil
}

// ReadUpTo will read at most n bytes, stopping early once the line has been
// idle for the provided duration
func (mc *Microcontroller) ReadUpTo(n int, idle time.Duration) ([]byte, error) {
	if !mc.IsOpen() {
		return nil, ErrClosed
	}

	bs := make([]byte, 0, n)

	for len(bs) < n {
		select {
		case <-time.After(idle):
			return bs, nil
		case b := <-mc.ttyRx:
			bs = append(bs, b)
		}
	}

	return bs, nil
}
