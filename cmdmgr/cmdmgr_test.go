package cmdmgr

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/soypat/ecrnx/ipc"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu      sync.Mutex
	tokens  []ipc.Token
	cleared int
	err     error
}

func (b *fakeBus) PushMsg(token ipc.Token, msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.tokens = append(b.tokens, token)
	return nil
}

func (b *fakeBus) ClearMsgFlag(ipc.Token) bool {
	b.mu.Lock()
	b.cleared++
	b.mu.Unlock()
	return true
}

func (b *fakeBus) pushed() []ipc.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ipc.Token(nil), b.tokens...)
}

func TestQueueNoAck(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus)
	acked := false
	cmd := &Command{ID: 3, OnAck: func(*Command) { acked = true }}
	require.NoError(t, m.Queue(context.Background(), cmd))
	require.Equal(t, StateRetired, cmd.State())
	require.Equal(t, 0, m.Pending())
	require.Equal(t, 1, bus.cleared)
	require.False(t, acked)
}

func TestQueueAckWakesWaiter(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus)
	cmd := &Command{ID: 7, Flags: FlagReqAck}
	errc := make(chan error, 1)
	go func() { errc <- m.Queue(context.Background(), cmd) }()

	require.Eventually(t, func() bool { return len(bus.pushed()) == 1 }, time.Second, time.Millisecond)
	require.True(t, m.LLInd(bus.pushed()[0]))
	require.NoError(t, <-errc)
	require.Equal(t, StateRetired, cmd.State())
	require.False(t, m.LLInd(cmd.Token()), "second ack must not match")
}

func TestQueueTimeoutStaysPending(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus)
	cmd := &Command{ID: 1, Flags: FlagReqAck}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Queue(ctx, cmd)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StatePending, cmd.State())
	require.Equal(t, 1, m.Pending())

	require.True(t, m.LLInd(cmd.Token()))
	require.Equal(t, 0, m.Pending())
}

func TestInterleavedAcks(t *testing.T) {
	const n = 50
	bus := &fakeBus{}
	m := New(bus)
	var mu sync.Mutex
	completions := make(map[*Command]int)
	cmds := make([]*Command, n)
	for i := range cmds {
		cmds[i] = &Command{
			ID:    uint16(i),
			Flags: FlagReqAck | FlagNonBlock,
			OnAck: func(c *Command) {
				mu.Lock()
				completions[c]++
				mu.Unlock()
			},
		}
		require.NoError(t, m.Queue(context.Background(), cmds[i]))
	}
	require.Equal(t, n, m.Pending())

	tokens := bus.pushed()
	rand.New(rand.NewSource(1)).Shuffle(len(tokens), func(i, j int) { tokens[i], tokens[j] = tokens[j], tokens[i] })
	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.LLInd(tok)
			m.LLInd(tok) // duplicate acks are ignored
		}()
	}
	wg.Wait()

	require.Equal(t, 0, m.Pending())
	require.Len(t, completions, n)
	for _, c := range cmds {
		require.Equal(t, 1, completions[c], "command %d", c.ID)
		select {
		case <-c.Done():
		default:
			t.Fatalf("command %d not done", c.ID)
		}
	}
}

func TestDeinitAborts(t *testing.T) {
	bus := &fakeBus{}
	m := New(bus)
	acked := false
	cmd := &Command{ID: 9, Flags: FlagReqAck, OnAck: func(*Command) { acked = true }}
	errc := make(chan error, 1)
	go func() { errc <- m.Queue(context.Background(), cmd) }()
	require.Eventually(t, func() bool { return m.Pending() == 1 }, time.Second, time.Millisecond)

	m.Dump()
	m.Deinit()
	m.Deinit()
	require.ErrorIs(t, <-errc, ErrAborted)
	require.False(t, acked, "deinit must not run completion callbacks")
	require.ErrorIs(t, m.Queue(context.Background(), &Command{}), ErrClosed)
}

func TestPushFailure(t *testing.T) {
	bus := &fakeBus{err: errors.New("link down")}
	m := New(bus)
	cmd := &Command{ID: 2, Flags: FlagReqAck}
	require.Error(t, m.Queue(context.Background(), cmd))
	require.Equal(t, 0, m.Pending())
	require.Equal(t, StateRetired, cmd.State())
}

func TestAppendMsg(t *testing.T) {
	cmd := &Command{ID: 0x0102, ReqID: 0x0304, Flags: FlagReqAck, Param: []byte{0xaa, 0xbb}}
	got := cmd.AppendMsg(nil)
	require.Equal(t, []byte{0x02, 0x01, 0x04, 0x03, 0x02, 0x00, byte(FlagReqAck), 0, 0xaa, 0xbb}, got)
}

// nestedLink queues another command while the first push is on the wire.
type nestedLink struct {
	m    *Manager
	next *Command
	errc chan error
}

func (l *nestedLink) PushMsg(msg []byte) error {
	if next := l.next; next != nil {
		l.next = nil
		l.errc <- l.m.Queue(context.Background(), next)
	}
	return nil
}

func (l *nestedLink) SendFrame([]byte, int, int) error { return nil }

func TestNoAckKeepsLaterMarker(t *testing.T) {
	var h ipc.Handlers
	for i := range h {
		h[i] = func(any) ipc.Status { return ipc.Handled }
	}
	b := &Command{ID: 2, Flags: FlagReqAck | FlagNonBlock}
	link := &nestedLink{next: b, errc: make(chan error, 1)}
	env, err := ipc.NewEnv(ipc.EnvConfig{Handlers: h, DMA: &ipc.HostDMA{}, Link: link})
	require.NoError(t, err)
	m := New(env)
	link.m = m

	a := &Command{ID: 1}
	require.NoError(t, m.Queue(context.Background(), a))
	require.NoError(t, <-link.errc)
	require.Equal(t, StateRetired, a.State())
	require.Equal(t, StatePending, b.State())

	tok, ok := env.Outstanding()
	require.True(t, ok, "marker of pending command cleared")
	require.Equal(t, b.Token(), tok)

	env.EnableAll()
	require.Equal(t, ipc.Handled, env.Dispatch(ipc.IndMsgAck, tok))
	_, ok = env.Outstanding()
	require.False(t, ok)
}
