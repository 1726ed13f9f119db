// Package ipc implements the host side of the message bus shared with the
// radio firmware: DMA buffer elements, indication dispatch, message pushes
// and transmit descriptor bookkeeping.
package ipc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var (
	// ErrNoMemory is returned when a buffer cannot be allocated.
	ErrNoMemory = errors.New("ipc: out of memory")
	// ErrIO is returned when a buffer cannot be mapped for the device.
	ErrIO = errors.New("ipc: buffer mapping failed")

	errBadSize      = errors.New("ipc: invalid buffer size")
	errBadDirection = errors.New("ipc: invalid DMA direction")
	errShortBuffer  = errors.New("ipc: provided buffer shorter than requested size")
	errMissingHdlr  = errors.New("ipc: handler table incomplete")
	errNoDMA        = errors.New("ipc: nil DMA")
	errNoLink       = errors.New("ipc: nil link")
	errBadQueue     = errors.New("ipc: tx queue out of range")
)

// Token correlates a pushed message with the device acknowledgment for it.
type Token = xid.ID

// NumHWQueues is the number of hardware transmit queues.
const NumHWQueues = 5

// Link forwards host to device traffic to the transport.
type Link interface {
	PushMsg(msg []byte) error
	SendFrame(desc []byte, hwq, user int) error
}

// EnvConfig is passed to [NewEnv].
type EnvConfig struct {
	// Handlers must have an entry for every indication class.
	Handlers Handlers
	DMA      DMA
	Link     Link
	Logger   *slog.Logger
	// OnPendingMsg is called when a message is pushed while a previous
	// message's acknowledgment is still outstanding.
	OnPendingMsg func()
	// TxUsers holds the number of users per hardware queue. Zero means one.
	TxUsers [NumHWQueues]int
}

// Env is the per-device message bus environment. It owns the message counters,
// the outstanding message marker, the indication mask and the descriptors of
// frames handed to the device.
type Env struct {
	handlers     Handlers
	dma          DMA
	link         Link
	log          *slog.Logger
	onPendingMsg func()

	shared []byte

	msgTx     atomic.Uint32
	msgRx     atomic.Uint32
	msgTxDone atomic.Uint32
	msgHostID atomic.Pointer[Token]
	mask      atomic.Uint32

	bufmu     sync.Mutex
	radarBufs []Addr
	rxBufs    []Addr
	dbgDump   Addr

	txmu    sync.Mutex
	txUsers [NumHWQueues]int
	txq     [NumHWQueues][][]*PacketElem
}

// Stats is a snapshot of the message counters of an [Env].
type Stats struct {
	MsgTx     uint32
	MsgRx     uint32
	MsgTxDone uint32
}

// NewEnv creates an environment with every indication masked.
// The handler table is fixed for the lifetime of the Env.
func NewEnv(cfg EnvConfig) (*Env, error) {
	if cfg.DMA == nil {
		return nil, errNoDMA
	}
	if cfg.Link == nil {
		return nil, errNoLink
	}
	for i := range cfg.Handlers {
		if cfg.Handlers[i] == nil {
			return nil, errjoin(errMissingHdlr, errors.New(Indication(i).String()))
		}
	}
	env := &Env{
		handlers:     cfg.Handlers,
		dma:          cfg.DMA,
		link:         cfg.Link,
		log:          cfg.Logger,
		onPendingMsg: cfg.OnPendingMsg,
	}
	for q := range env.txUsers {
		n := cfg.TxUsers[q]
		if n <= 0 {
			n = 1
		}
		env.txUsers[q] = n
		env.txq[q] = make([][]*PacketElem, n)
	}
	return env, nil
}

// BindShared records the memory region shared with the device.
func (e *Env) BindShared(region []byte) { e.shared = region }

// Shared returns the bound shared memory region.
func (e *Env) Shared() []byte { return e.shared }

// ReleaseShared frees the shared memory region if one is bound.
func (e *Env) ReleaseShared() {
	if e.shared == nil {
		return
	}
	e.dma.Free(e.shared)
	e.shared = nil
}

// Stats returns the current message counters.
func (e *Env) Stats() Stats {
	return Stats{
		MsgTx:     e.msgTx.Load(),
		MsgRx:     e.msgRx.Load(),
		MsgTxDone: e.msgTxDone.Load(),
	}
}

// PushMsg hands a message to the device. If the marker of a previous message
// is still set the pending command queue is dumped first, since the device
// never acknowledged it. The marker is set to token until the acknowledgment
// arrives or [Env.ClearMsgFlag] is called with token.
func (e *Env) PushMsg(token Token, msg []byte) error {
	n := e.msgTx.Add(1)
	tok := token
	prev := e.msgHostID.Swap(&tok)
	if prev != nil {
		e.warn("msg pushed with ack outstanding", slog.String("prev", prev.String()), slog.String("token", tok.String()))
		if e.onPendingMsg != nil {
			e.onPendingMsg()
		}
	}
	e.trace("msg:push", slog.Uint64("msg_tx", uint64(n)), slog.String("token", tok.String()), slog.Int("len", len(msg)))
	err := e.link.PushMsg(msg)
	if err != nil {
		e.msgHostID.CompareAndSwap(&tok, nil)
	}
	return err
}

// ClearMsgFlag clears the outstanding message marker if it still belongs to
// token. A marker set by a later push is left in place. It reports whether
// the marker was cleared.
func (e *Env) ClearMsgFlag(token Token) bool {
	p := e.msgHostID.Load()
	if p == nil || *p != token {
		return false
	}
	return e.msgHostID.CompareAndSwap(p, nil)
}

// Outstanding returns the token of the message awaiting acknowledgment.
func (e *Env) Outstanding() (Token, bool) {
	p := e.msgHostID.Load()
	if p == nil {
		return Token{}, false
	}
	return *p, true
}

// PushRadarBuf posts a radar pulse buffer to the device.
func (e *Env) PushRadarBuf(addr Addr) {
	e.bufmu.Lock()
	e.radarBufs = append(e.radarBufs, addr)
	e.bufmu.Unlock()
}

// PushDbgDumpBuf posts the debug dump buffer to the device.
func (e *Env) PushDbgDumpBuf(addr Addr) {
	e.bufmu.Lock()
	e.dbgDump = addr
	e.bufmu.Unlock()
}

// PushRxBuf posts a receive buffer to the device.
func (e *Env) PushRxBuf(_ *PacketElem, addr Addr) {
	e.bufmu.Lock()
	e.rxBufs = append(e.rxBufs, addr)
	e.bufmu.Unlock()
}

// PostedBuffers returns the number of radar and receive buffers posted to the device.
func (e *Env) PostedBuffers() (radar, rx int) {
	e.bufmu.Lock()
	defer e.bufmu.Unlock()
	return len(e.radarBufs), len(e.rxBufs)
}

func (e *Env) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if e.log == nil {
		return
	}
	e.log.LogAttrs(context.Background(), level, msg, attrs...)
}

const levelTrace = slog.LevelDebug - 1

func (e *Env) trace(msg string, attrs ...slog.Attr) { e.logattrs(levelTrace, msg, attrs...) }
func (e *Env) debug(msg string, attrs ...slog.Attr) { e.logattrs(slog.LevelDebug, msg, attrs...) }
func (e *Env) warn(msg string, attrs ...slog.Attr)  { e.logattrs(slog.LevelWarn, msg, attrs...) }
func (e *Env) logerr(msg string, attrs ...slog.Attr) {
	e.logattrs(slog.LevelError, msg, attrs...)
}

func errjoin(errs ...error) error { return errors.Join(errs...) }
