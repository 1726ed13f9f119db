package ipc

import (
	"errors"
	"testing"

	"github.com/rs/xid"
)

type fakeLink struct {
	msgs    [][]byte
	frames  int
	sendErr error
}

func (l *fakeLink) PushMsg(msg []byte) error {
	l.msgs = append(l.msgs, append([]byte(nil), msg...))
	return nil
}

func (l *fakeLink) SendFrame(desc []byte, hwq, user int) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.frames++
	return nil
}

// mapFailDMA fails every Map call.
type mapFailDMA struct{ *HostDMA }

func (mapFailDMA) Map([]byte, Direction) (Addr, error) { return 0, errors.New("iommu fault") }

func nopHandlers() (h Handlers, calls *[numIndications]int) {
	calls = new([numIndications]int)
	for i := range h {
		i := i
		h[i] = func(any) Status { calls[i]++; return Handled }
	}
	return h, calls
}

func newTestEnv(t *testing.T, dma DMA) (*Env, *fakeLink, *[numIndications]int) {
	t.Helper()
	h, calls := nopHandlers()
	link := &fakeLink{}
	env, err := NewEnv(EnvConfig{Handlers: h, DMA: dma, Link: link})
	if err != nil {
		t.Fatal(err)
	}
	return env, link, calls
}

func TestNewEnvMissingHandler(t *testing.T) {
	h, _ := nopHandlers()
	h[IndDebug] = nil
	_, err := NewEnv(EnvConfig{Handlers: h, DMA: &HostDMA{}, Link: &fakeLink{}})
	if !errors.Is(err, errMissingHdlr) {
		t.Fatalf("want missing handler error, got %v", err)
	}
}

func TestAllocElem(t *testing.T) {
	dma := &HostDMA{}
	env, _, _ := newTestEnv(t, dma)
	var pushed []Addr
	push := func(_ *Env, a Addr) { pushed = append(pushed, a) }

	var elem Elem
	err := env.AllocElem(&elem, 64, ToDevice, nil, []byte{1, 2, 3}, push)
	if err != nil {
		t.Fatal(err)
	}
	if elem.Size != 64 || len(elem.Buf) != 64 {
		t.Errorf("bad elem size %d/%d", elem.Size, len(elem.Buf))
	}
	if elem.Buf[0] != 1 || elem.Buf[2] != 3 {
		t.Error("init data not copied")
	}
	if len(pushed) != 1 || pushed[0] != elem.Addr {
		t.Errorf("push callback not called with mapped address: %v", pushed)
	}
	if dma.Mapped() != 1 || dma.InUse() == 0 {
		t.Error("buffer not accounted")
	}
	env.FreeElem(&elem)
	env.FreeElem(&elem)
	if !elem.Empty() {
		t.Error("freed element not empty")
	}
	if dma.InUse() != 0 || dma.Mapped() != 0 {
		t.Errorf("leak after free: inuse=%d mapped=%d", dma.InUse(), dma.Mapped())
	}
}

func TestAllocElemNoInitFromDevice(t *testing.T) {
	env, _, _ := newTestEnv(t, &HostDMA{})
	var elem Elem
	if err := env.AllocElem(&elem, 8, FromDevice, nil, []byte{9, 9}, nil); err != nil {
		t.Fatal(err)
	}
	if elem.Buf[0] != 0 {
		t.Error("init data copied into device-to-host buffer")
	}
	env.FreeElem(&elem)
}

func TestAllocElemOutOfMemory(t *testing.T) {
	dma := &HostDMA{Limit: 32}
	env, _, _ := newTestEnv(t, dma)
	var elem Elem
	err := env.AllocElem(&elem, 64, FromDevice, nil, nil, nil)
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("want ErrNoMemory, got %v", err)
	}
	if !elem.Empty() {
		t.Error("element filled on failure")
	}
}

func TestAllocElemMapFailure(t *testing.T) {
	host := &HostDMA{}
	env, _, _ := newTestEnv(t, mapFailDMA{host})
	pushed := false
	var elem Elem
	err := env.AllocElem(&elem, 16, ToDevice, nil, nil, func(*Env, Addr) { pushed = true })
	if !errors.Is(err, ErrIO) {
		t.Fatalf("want ErrIO, got %v", err)
	}
	if pushed {
		t.Error("push called on failure")
	}
	if host.InUse() != 0 {
		t.Errorf("buffer leaked on map failure: %d bytes", host.InUse())
	}

	// Adopted buffers are released too.
	adopted, _ := host.Alloc(16)
	err = env.AllocElem(&elem, 16, ToDevice, adopted, nil, nil)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("want ErrIO, got %v", err)
	}
	if host.InUse() != 0 {
		t.Errorf("adopted buffer leaked on map failure: %d bytes", host.InUse())
	}
}

func TestAllocPacket(t *testing.T) {
	dma := &HostDMA{}
	env, _, _ := newTestEnv(t, dma)
	var got *PacketElem
	var pkt PacketElem
	err := env.AllocPacket(&pkt, 100, FromDevice, func(e *Env, p *PacketElem, a Addr) {
		got = p
		e.PushRxBuf(p, a)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != &pkt {
		t.Error("push not called with element")
	}
	if _, rx := env.PostedBuffers(); rx != 1 {
		t.Errorf("want 1 posted rx buffer, got %d", rx)
	}
	env.FreePacket(&pkt)
	env.FreePacket(&pkt)
	if dma.InUse() != 0 {
		t.Error("packet leaked")
	}
}

func TestDispatchMask(t *testing.T) {
	env, _, calls := newTestEnv(t, &HostDMA{})
	if st := env.Dispatch(IndMsg, []byte("hi")); st != Masked {
		t.Fatalf("want masked before enable, got %s", st)
	}
	if calls[IndMsg] != 0 {
		t.Fatal("handler called while masked")
	}
	env.EnableAll()
	for ind := IndDataRx; ind <= IndUnsupRxVec; ind++ {
		if !env.Enabled(ind) {
			t.Errorf("%s not enabled", ind)
		}
		if st := env.Dispatch(ind, nil); st != Handled {
			t.Errorf("%s: want handled, got %s", ind, st)
		}
	}
	env.DisableAll()
	if st := env.Dispatch(IndRadar, nil); st != Masked {
		t.Errorf("want masked after disable, got %s", st)
	}
	if st := env.Dispatch(Indication(200), nil); st != Invalid {
		t.Errorf("want invalid, got %s", st)
	}
	stats := env.Stats()
	if stats.MsgRx != 1 || stats.MsgTxDone != 1 {
		t.Errorf("bad counters %+v", stats)
	}
}

func TestPushMsgOutstanding(t *testing.T) {
	h, _ := nopHandlers()
	link := &fakeLink{}
	dumps := 0
	env, err := NewEnv(EnvConfig{Handlers: h, DMA: &HostDMA{}, Link: link, OnPendingMsg: func() { dumps++ }})
	if err != nil {
		t.Fatal(err)
	}
	env.EnableAll()
	t1, t2 := xid.New(), xid.New()
	if err := env.PushMsg(t1, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if tok, ok := env.Outstanding(); !ok || tok != t1 {
		t.Fatal("marker not set to first token")
	}
	if dumps != 0 {
		t.Fatal("dump on first push")
	}
	env.PushMsg(t2, []byte{2})
	if dumps != 1 {
		t.Fatalf("want one dump on push with outstanding ack, got %d", dumps)
	}
	env.Dispatch(IndMsgAck, t2)
	if _, ok := env.Outstanding(); ok {
		t.Error("ack did not clear marker")
	}
	t3, t4 := xid.New(), xid.New()
	env.PushMsg(t3, []byte{3})
	if env.ClearMsgFlag(t4) {
		t.Error("cleared marker of another token")
	}
	if !env.ClearMsgFlag(t3) {
		t.Error("marker not cleared by its token")
	}
	env.PushMsg(t4, []byte{4})
	if dumps != 1 {
		t.Errorf("unexpected dump after clear: %d", dumps)
	}
	if st := env.Stats(); st.MsgTx != 4 || len(link.msgs) != 4 {
		t.Errorf("want 4 pushes, got %d/%d", st.MsgTx, len(link.msgs))
	}
}

func TestTxQueues(t *testing.T) {
	h, _ := nopHandlers()
	link := &fakeLink{}
	env, err := NewEnv(EnvConfig{Handlers: h, DMA: &HostDMA{}, Link: link, TxUsers: [NumHWQueues]int{1, 2, 1, 1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := &PacketElem{}, &PacketElem{}, &PacketElem{}
	env.PushTxDesc(nil, a, 1, 0)
	env.PushTxDesc(nil, b, 1, 0)
	env.PushTxDesc(nil, c, 1, 1)
	if err := env.PushTxDesc(nil, c, 0, 1); !errors.Is(err, errBadQueue) {
		t.Errorf("want bad queue error, got %v", err)
	}
	if !env.TxFramesPending() {
		t.Fatal("no frames pending")
	}
	if got := env.TxConfirm(1, 0); got != a {
		t.Error("confirm out of order")
	}
	if got := env.TxFlush(1, 0); got != b {
		t.Error("flush out of order")
	}
	if got := env.TxFlush(1, 0); got != nil {
		t.Error("flush of empty queue returned packet")
	}
	env.TxFlush(1, 1)
	if env.TxFramesPending() {
		t.Error("frames still pending")
	}

	link.sendErr = errors.New("bus down")
	if err := env.PushTxDesc(nil, a, 2, 0); err == nil {
		t.Fatal("expected send error")
	}
	if env.TxFramesPending() {
		t.Error("failed push left packet in flight")
	}
}
