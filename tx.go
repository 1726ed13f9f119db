package ecrnx

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/soypat/ecrnx/ipc"
	"golang.org/x/exp/constraints"
)

const (
	// txHeaderLen is the fixed part of the driver header preceding a frame.
	txHeaderLen = 8
	// txAlign is the alignment of the frame following the header.
	txAlign = 16
	// TxDescLen is the length of a transmit descriptor.
	TxDescLen = 16
)

var errFrameEmpty = errors.New("ecrnx: empty frame")

// txHeader is the driver header written in front of every transmitted frame.
//
//	| headroom u16 | hwq u8 | user u8 | seq u32 | padding to headroom |
type txHeader struct {
	headroom uint16
	hwq      uint8
	user     uint8
	seq      uint32
}

func (h *txHeader) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], h.headroom)
	b[2] = h.hwq
	b[3] = h.user
	binary.LittleEndian.PutUint32(b[4:], h.seq)
}

func (h *txHeader) decode(b []byte) {
	h.headroom = binary.LittleEndian.Uint16(b[0:])
	h.hwq = b[2]
	h.user = b[3]
	h.seq = binary.LittleEndian.Uint32(b[4:])
}

// SendFrame copies frame into a device buffer behind a driver header and
// hands it to hardware queue hwq for user.
func (d *Device) SendFrame(frame []byte, hwq, user int) error {
	if len(frame) == 0 {
		return errFrameEmpty
	}
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	if d.live.Load() == nil {
		return errNotInit
	}
	env, pool := d.env, d.txhdrs
	hdr := pool.Get().(*txHeader)
	defer pool.Put(hdr)
	*hdr = txHeader{
		headroom: uint16(alignup(txHeaderLen, txAlign)),
		hwq:      uint8(hwq),
		user:     uint8(user),
		seq:      d.txseq.Add(1),
	}
	headroom := int(hdr.headroom)

	pkt := new(ipc.PacketElem)
	err := env.AllocPacket(pkt, headroom+len(frame), ipc.ToDevice, nil)
	if err != nil {
		return err
	}
	hdr.put(pkt.Buf)
	copy(pkt.Buf[headroom:], frame)

	var desc [TxDescLen]byte
	binary.LittleEndian.PutUint64(desc[0:], uint64(pkt.Addr))
	binary.LittleEndian.PutUint32(desc[8:], uint32(len(pkt.Buf)))
	binary.LittleEndian.PutUint16(desc[12:], hdr.headroom)
	err = env.PushTxDesc(desc[:], pkt, hwq, user)
	if err != nil {
		env.FreePacket(pkt)
		return err
	}
	d.trace("tx:frame", slog.Int("hwq", hwq), slog.Int("user", user), slog.Uint64("seq", uint64(hdr.seq)))
	return nil
}

// TxConfirm releases the oldest frame of (hwq, user) after the device
// reported it transmitted. It reports whether a frame was released.
func (d *Device) TxConfirm(hwq, user int) bool {
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	if d.live.Load() == nil {
		return false
	}
	pkt := d.env.TxConfirm(hwq, user)
	if pkt == nil {
		return false
	}
	d.releaseTx(pkt)
	return true
}

// releaseTx strips the driver header from a frame, hands the frame to
// Config.OnTxDone and frees its buffer.
func (d *Device) releaseTx(pkt *ipc.PacketElem) {
	var hdr *txHeader
	if d.txhdrs != nil {
		hdr = d.txhdrs.Get().(*txHeader)
		defer d.txhdrs.Put(hdr)
	} else {
		hdr = new(txHeader)
	}
	if len(pkt.Buf) >= txHeaderLen {
		hdr.decode(pkt.Buf)
		frame := pkt.Buf[min(int(hdr.headroom), len(pkt.Buf)):]
		d.trace("tx:release", slog.Uint64("seq", uint64(hdr.seq)), slog.Int("len", len(frame)))
		if d.cfg.OnTxDone != nil {
			d.cfg.OnTxDone(frame)
		}
	}
	d.env.FreePacket(pkt)
}

func alignup[T constraints.Integer](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}
