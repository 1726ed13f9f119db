// Package cmdmgr tracks control commands sent to the firmware and matches
// them against the acknowledgments reported by the message bus.
package cmdmgr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/soypat/ecrnx/ipc"
)

var (
	// ErrAborted is returned to waiters of commands dropped by [Manager.Deinit].
	ErrAborted = errors.New("cmdmgr: command aborted")
	// ErrClosed is returned when queueing on a deinitialized manager.
	ErrClosed = errors.New("cmdmgr: manager closed")

	errNilCommand = errors.New("cmdmgr: nil command")
	errQueued     = errors.New("cmdmgr: command already queued")
)

// Flag modifies how a command is queued.
type Flag uint8

const (
	// FlagReqAck marks commands whose completion is signalled by the device.
	FlagReqAck Flag = 1 << iota
	// FlagNonBlock makes Queue return as soon as the command is pushed.
	FlagNonBlock
)

// State is the lifecycle position of a queued command.
type State uint32

const (
	StateIdle State = iota
	StatePending
	StateCompleted
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateRetired:
		return "retired"
	}
	return "invalid-state"
}

// MsgHeaderLen is the length of the header preceding a command's parameters.
const MsgHeaderLen = 8

// Command is a control message to the firmware.
type Command struct {
	ID    uint16
	ReqID uint16
	Flags Flag
	Param []byte
	// OnAck is called once when the device acknowledges the command.
	OnAck func(*Command)

	token  xid.ID
	state  atomic.Uint32
	done   chan struct{}
	err    error
	queued time.Time
}

// Token returns the correlation token assigned when the command was queued.
func (c *Command) Token() ipc.Token { return c.token }

// State returns the lifecycle state of the command.
func (c *Command) State() State { return State(c.state.Load()) }

// Done is closed when the command leaves the pending set.
func (c *Command) Done() <-chan struct{} { return c.done }

// AppendMsg appends the wire encoding of the command to dst.
func (c *Command) AppendMsg(dst []byte) []byte {
	var hdr [MsgHeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[0:], c.ID)
	binary.LittleEndian.PutUint16(hdr[2:], c.ReqID)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(len(c.Param)))
	hdr[6] = uint8(c.Flags)
	dst = append(dst, hdr[:]...)
	return append(dst, c.Param...)
}

func (c *Command) String() string {
	return fmt.Sprintf("cmd(id=%d req=%d tok=%s %s)", c.ID, c.ReqID, c.token, c.State())
}

// Bus is the message bus the commands are pushed on.
type Bus interface {
	PushMsg(token ipc.Token, msg []byte) error
	ClearMsgFlag(token ipc.Token) bool
}

var _ Bus = (*ipc.Env)(nil)

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager holds the commands awaiting device acknowledgment.
type Manager struct {
	bus Bus
	log *slog.Logger

	mu      sync.Mutex
	pending []*Command
	closed  bool
	queued  uint64
	acked   uint64
}

// New returns a Manager pushing commands on bus.
func New(bus Bus, opts ...Option) *Manager {
	if bus == nil {
		panic("cmdmgr: nil bus")
	}
	m := &Manager{bus: bus}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Queue pushes cmd to the device.
//
// Commands without FlagReqAck complete as soon as they are pushed. Otherwise,
// unless FlagNonBlock is set, Queue waits for the acknowledgment or for ctx to
// be done. A command whose wait is abandoned remains pending until its
// acknowledgment arrives or the manager is deinitialized.
func (m *Manager) Queue(ctx context.Context, cmd *Command) error {
	if cmd == nil {
		return errNilCommand
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if cmd.State() == StatePending {
		m.mu.Unlock()
		return errQueued
	}
	cmd.token = xid.New()
	cmd.done = make(chan struct{})
	cmd.err = nil
	cmd.queued = time.Now()
	cmd.state.Store(uint32(StatePending))
	m.pending = append(m.pending, cmd)
	m.queued++
	m.mu.Unlock()

	m.trace("cmd:queue", slog.String("cmd", cmd.String()))
	err := m.bus.PushMsg(cmd.token, cmd.AppendMsg(nil))
	if err != nil {
		m.retire(cmd, err)
		return fmt.Errorf("cmdmgr: push %d: %w", cmd.ID, err)
	}
	if cmd.Flags&FlagReqAck == 0 {
		m.bus.ClearMsgFlag(cmd.token)
		m.retire(cmd, nil)
		return nil
	}
	if cmd.Flags&FlagNonBlock != 0 {
		return nil
	}
	select {
	case <-cmd.done:
		return cmd.err
	case <-ctx.Done():
		m.warn("cmd:wait abandoned", slog.String("cmd", cmd.String()), slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	}
}

// LLInd completes the pending command carrying token. It reports whether a
// command matched. Each command is completed at most once.
func (m *Manager) LLInd(token ipc.Token) bool {
	m.mu.Lock()
	var cmd *Command
	for i, c := range m.pending {
		if c.token == token {
			cmd = c
			m.pending = slices.Delete(m.pending, i, i+1)
			break
		}
	}
	if cmd != nil {
		m.acked++
		cmd.state.Store(uint32(StateCompleted))
	}
	m.mu.Unlock()
	if cmd == nil {
		m.warn("cmd:ack for unknown token", slog.String("token", token.String()))
		return false
	}
	m.trace("cmd:ack", slog.String("cmd", cmd.String()), slog.Duration("latency", time.Since(cmd.queued)))
	if cmd.OnAck != nil {
		cmd.OnAck(cmd)
	}
	cmd.state.Store(uint32(StateRetired))
	close(cmd.done)
	return true
}

// Dump logs every pending command.
func (m *Manager) Dump() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info("cmd:dump", slog.Int("pending", len(m.pending)), slog.Uint64("queued", m.queued), slog.Uint64("acked", m.acked))
	for _, c := range m.pending {
		m.info("cmd:pending", slog.String("cmd", c.String()), slog.Duration("age", time.Since(c.queued)))
	}
}

// Pending returns the number of commands awaiting acknowledgment.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Deinit drops every pending command without calling OnAck and makes
// further Queue calls fail. Waiters receive ErrAborted. Safe to call more than once.
func (m *Manager) Deinit() {
	m.mu.Lock()
	dropped := m.pending
	m.pending = nil
	m.closed = true
	m.mu.Unlock()
	for _, c := range dropped {
		c.err = ErrAborted
		c.state.Store(uint32(StateRetired))
		close(c.done)
	}
	if len(dropped) > 0 {
		m.warn("cmd:deinit dropped commands", slog.Int("n", len(dropped)))
	}
}

// retire removes cmd from the pending set. The goroutine that removes a
// command is the only one allowed to close its done channel.
func (m *Manager) retire(cmd *Command, err error) {
	m.mu.Lock()
	i := slices.Index(m.pending, cmd)
	if i >= 0 {
		m.pending = slices.Delete(m.pending, i, i+1)
	}
	m.mu.Unlock()
	if i < 0 {
		return
	}
	cmd.err = err
	cmd.state.Store(uint32(StateRetired))
	close(cmd.done)
}

const levelTrace = slog.LevelDebug - 1

func (m *Manager) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if m.log == nil {
		return
	}
	m.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (m *Manager) trace(msg string, attrs ...slog.Attr) { m.logattrs(levelTrace, msg, attrs...) }
func (m *Manager) info(msg string, attrs ...slog.Attr)  { m.logattrs(slog.LevelInfo, msg, attrs...) }
func (m *Manager) warn(msg string, attrs ...slog.Attr)  { m.logattrs(slog.LevelWarn, msg, attrs...) }
