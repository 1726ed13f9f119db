// Package transport provides the byte pipes between the host and the radio.
//
// One backend is compiled in: the USB serial bridge by default, or the SDIO
// character device when built with the ecrnx_sdio tag. Both carry the boot
// ROM download exchange and, once firmware runs, the message and data
// channels of the IPC bus.
package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/soypat/ecrnx/fwdl"
	"github.com/soypat/ecrnx/ipc"
)

var (
	// ErrTimeout is returned when the device does not answer in time.
	ErrTimeout = errors.New("transport: timeout waiting for device")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("transport: closed")

	errShortWrite = errors.New("transport: short write")
	errTooLong    = errors.New("transport: payload too long")
)

// Kind identifies a backend.
type Kind uint8

const (
	KindUSB Kind = iota + 1
	KindSDIO
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindSDIO:
		return "sdio"
	}
	return "unknown"
}

// Config configures the compiled in backend.
type Config struct {
	// Device is the serial port or character device path.
	Device string
	// Baud is only used by the USB backend.
	Baud int
	// AckTimeout bounds WaitAck.
	AckTimeout time.Duration
}

// DefaultAckTimeout is used when Config.AckTimeout is zero.
const DefaultAckTimeout = 2 * time.Second

// Backend is a device transport.
type Backend interface {
	fwdl.Transport
	ipc.Link
	Kind() Kind
	Close() error
}

// Link channels multiplexed on the byte pipe once firmware runs.
const (
	ChanMsg  = 0x01
	ChanData = 0x02
)

// LinkHeaderLen is the length of the header of a link frame:
//
//	| channel u8 | hwq u8 | user u8 | reserved u8 | length u16 LE | reserved u16 |
const LinkHeaderLen = 8

// AppendLinkFrame appends a link frame carrying payload to dst.
func AppendLinkFrame(dst []byte, ch uint8, hwq, user int, payload []byte) ([]byte, error) {
	if len(payload) > 0xffff {
		return dst, errTooLong
	}
	var hdr [LinkHeaderLen]byte
	hdr[0] = ch
	hdr[1] = uint8(hwq)
	hdr[2] = uint8(user)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// readFull reads exactly len(buf) bytes using read, which may return zero
// bytes or io.EOF while no data is available. It gives up after timeout.
func readFull(read func([]byte) (int, error), buf []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		n, err := read(buf[got:])
		if n > 0 {
			got += n
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if got < len(buf) && time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}

// writeFull writes all of p using write.
func writeFull(write func([]byte) (int, error), p []byte) error {
	for len(p) > 0 {
		n, err := write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return errShortWrite
		}
		p = p[n:]
	}
	return nil
}
