//go:build !ecrnx_sdio

package transport

import (
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Selected is the backend compiled into this build.
const Selected = KindUSB

// pollInterval is the serial read timeout used while waiting for an ack.
const pollInterval = 50 * time.Millisecond

type usbBackend struct {
	mu      sync.Mutex
	port    *serial.Port
	cfg     Config
	scratch []byte
}

// Open opens the USB serial bridge named by cfg.Device.
func Open(cfg Config) (Backend, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, err
	}
	return &usbBackend{port: port, cfg: cfg}, nil
}

func (u *usbBackend) Kind() Kind { return KindUSB }

func (u *usbBackend) Write(p []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return ErrClosed
	}
	return writeFull(u.port.Write, p)
}

func (u *usbBackend) WaitAck(buf []byte, n int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return ErrClosed
	}
	return readFull(u.port.Read, buf[:n], u.cfg.AckTimeout)
}

func (u *usbBackend) PushMsg(msg []byte) error {
	return u.sendLink(ChanMsg, 0, 0, msg)
}

func (u *usbBackend) SendFrame(desc []byte, hwq, user int) error {
	return u.sendLink(ChanData, hwq, user, desc)
}

func (u *usbBackend) sendLink(ch uint8, hwq, user int, payload []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return ErrClosed
	}
	frame, err := AppendLinkFrame(u.scratch[:0], ch, hwq, user, payload)
	if err != nil {
		return err
	}
	u.scratch = frame
	return writeFull(u.port.Write, frame)
}

func (u *usbBackend) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	return err
}
