//go:build ecrnx_sdio

package transport

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Selected is the backend compiled into this build.
const Selected = KindSDIO

const pollMillis = 50

type sdioBackend struct {
	mu      sync.Mutex
	fd      int
	cfg     Config
	scratch []byte
}

// Open opens the SDIO character device named by cfg.Device.
func Open(cfg Config) (Backend, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return &sdioBackend{fd: fd, cfg: cfg}, nil
}

func (s *sdioBackend) Kind() Kind { return KindSDIO }

func (s *sdioBackend) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return ErrClosed
	}
	return writeFull(s.write, p)
}

func (s *sdioBackend) WaitAck(buf []byte, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return ErrClosed
	}
	return readFull(s.pollRead, buf[:n], s.cfg.AckTimeout)
}

func (s *sdioBackend) PushMsg(msg []byte) error {
	return s.sendLink(ChanMsg, 0, 0, msg)
}

func (s *sdioBackend) SendFrame(desc []byte, hwq, user int) error {
	return s.sendLink(ChanData, hwq, user, desc)
}

func (s *sdioBackend) sendLink(ch uint8, hwq, user int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return ErrClosed
	}
	frame, err := AppendLinkFrame(s.scratch[:0], ch, hwq, user, payload)
	if err != nil {
		return err
	}
	s.scratch = frame
	return writeFull(s.write, frame)
}

func (s *sdioBackend) write(p []byte) (int, error) {
	deadline := time.Now().Add(s.timeout())
	for {
		n, err := unix.Write(s.fd, p)
		if err != unix.EAGAIN {
			return n, err
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		if err := s.poll(unix.POLLOUT); err != nil {
			return 0, err
		}
	}
}

func (s *sdioBackend) timeout() time.Duration {
	if s.cfg.AckTimeout > 0 {
		return s.cfg.AckTimeout
	}
	return DefaultAckTimeout
}

// pollRead waits briefly for the device to become readable, then reads.
func (s *sdioBackend) pollRead(p []byte) (int, error) {
	if err := s.poll(unix.POLLIN); err != nil {
		return 0, err
	}
	n, err := unix.Read(s.fd, p)
	if err == unix.EAGAIN {
		return 0, nil
	}
	return n, err
}

func (s *sdioBackend) poll(events int16) error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	_, err := unix.Poll(fds, pollMillis)
	if err == unix.EINTR {
		return nil
	}
	return err
}

func (s *sdioBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
