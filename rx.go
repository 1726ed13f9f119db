package ecrnx

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/soypat/ecrnx/ipc"
)

// rxHeaderLen precedes every frame the device writes into a receive buffer:
//
//	| frame length u16 LE | status u16 |
const rxHeaderLen = 4

// rxPath owns the receive buffers posted to the device and hands completed
// frames to the upper layer before reposting the buffer.
type rxPath struct {
	env   *ipc.Env
	upper func([]byte)
	log   *slog.Logger

	mu        sync.Mutex
	bufs      []*ipc.PacketElem
	delivered uint64
}

func newRxPath(env *ipc.Env, deliver func([]byte), log *slog.Logger) *rxPath {
	return &rxPath{env: env, upper: deliver, log: log}
}

func (r *rxPath) fill(n, size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		pkt := new(ipc.PacketElem)
		err := r.env.AllocPacket(pkt, size, ipc.FromDevice, (*ipc.Env).PushRxBuf)
		if err != nil {
			return err
		}
		r.bufs = append(r.bufs, pkt)
	}
	return nil
}

// deliver passes the frame in pkt upward and reposts pkt to the device.
func (r *rxPath) deliver(pkt *ipc.PacketElem) ipc.Status {
	if len(pkt.Buf) < rxHeaderLen {
		return ipc.Invalid
	}
	n := int(binary.LittleEndian.Uint16(pkt.Buf))
	if n == 0 {
		r.env.PushRxBuf(pkt, pkt.Addr)
		return ipc.Empty
	}
	if n > len(pkt.Buf)-rxHeaderLen {
		if r.log != nil {
			r.log.LogAttrs(context.Background(), slog.LevelWarn, "rx:bad frame length", slog.Int("len", n))
		}
		n = len(pkt.Buf) - rxHeaderLen
	}
	if r.upper != nil {
		r.upper(pkt.Buf[rxHeaderLen : rxHeaderLen+n])
	}
	binary.LittleEndian.PutUint16(pkt.Buf, 0)
	r.mu.Lock()
	r.delivered++
	r.mu.Unlock()
	r.env.PushRxBuf(pkt, pkt.Addr)
	return ipc.Handled
}

func (r *rxPath) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pkt := range r.bufs {
		r.env.FreePacket(pkt)
	}
	r.bufs = nil
}
