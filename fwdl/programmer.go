package fwdl

import (
	"context"
	"log/slog"
	"time"
)

// Transport moves bytes to and from the boot ROM.
type Transport interface {
	// Write sends p in full as a single transfer.
	Write(p []byte) error
	// WaitAck blocks until n bytes have been read into buf or the transport
	// times out.
	WaitAck(buf []byte, n int) error
}

// Programmer drives the boot ROM download sequence:
//  1. Raw sync token, acknowledged by a single '3'.
//  2. Protocol sync frame.
//  3. For each segment, a configuration frame with load address and length,
//     then the segment payload in data frames, each acknowledged.
//  4. Jump frame to the first segment's address.
type Programmer struct {
	t   Transport
	cfg Config
	buf [hdrLen + MaxChunk]byte
	ack [ackLen]byte
}

// New returns a Programmer writing to t.
func New(t Transport, opts ...Option) *Programmer {
	if t == nil {
		panic("fwdl: nil transport")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Programmer{t: t, cfg: cfg}
}

type session struct {
	start   time.Time
	total   int
	sent    int
	percent int
}

// Download writes img to the device and starts it. It returns at the first
// failed step; a failed jump acknowledgment is logged but does not fail the
// download since the device may already be running the new firmware.
func (p *Programmer) Download(ctx context.Context, img *Image) error {
	if img == nil {
		return errNoImage
	}
	s := session{start: time.Now(), total: img.TotalSize()}
	if s.total == 0 {
		return errEmptyImage
	}
	p.info("fwdl:start", slog.Int("total", s.total), slog.Uint64("version", uint64(img.Version)))

	if err := p.syncToken(ctx); err != nil {
		return &StepError{Step: StepSyncToken, Segment: -1, Err: err}
	}
	if _, err := p.roundtrip(ctx, appendSync(p.buf[:0])); err != nil {
		return &StepError{Step: StepSync, Segment: -1, Err: err}
	}
	for i := range img.Segments {
		if err := p.segment(ctx, &s, i, &img.Segments[i]); err != nil {
			return err
		}
	}
	entry := img.EntryPoint()
	if _, err := p.roundtrip(ctx, appendJump(p.buf[:0], entry)); err != nil {
		p.logerr("fwdl:jump ack", slog.Uint64("addr", uint64(entry)), slog.String("err", err.Error()))
	}
	p.info("fwdl:done", slog.Duration("elapsed", time.Since(s.start)))
	return nil
}

func (p *Programmer) syncToken(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.t.Write(syncToken[:]); err != nil {
		return err
	}
	if err := p.t.WaitAck(p.ack[:1], 1); err != nil {
		return err
	}
	if p.ack[0] != syncAckByte {
		return errSyncAck
	}
	return nil
}

func (p *Programmer) segment(ctx context.Context, s *session, idx int, seg *Segment) error {
	p.debug("fwdl:segment", slog.String("name", seg.Name), slog.Uint64("addr", uint64(seg.Addr)), slog.Int("len", len(seg.Data)))
	_, err := p.roundtrip(ctx, appendConfig(p.buf[:0], seg.Addr, uint32(len(seg.Data))))
	if err != nil {
		return &StepError{Step: StepConfig, Segment: idx, Err: err}
	}
	data := seg.Data
	for len(data) > 0 {
		n := min(len(data), p.cfg.ChunkSize)
		flen := putData(p.buf[:], data[:n])
		if _, err := p.roundtrip(ctx, p.buf[:flen]); err != nil {
			return &StepError{Step: StepData, Segment: idx, Err: err}
		}
		data = data[n:]
		s.sent += n
		p.progress(s, seg.Name)
	}
	return nil
}

func (p *Programmer) roundtrip(ctx context.Context, frame []byte) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if err := p.t.Write(frame); err != nil {
		return Ack{}, err
	}
	if err := p.t.WaitAck(p.ack[:], ackLen); err != nil {
		return Ack{}, err
	}
	ack, err := DecodeAck(p.ack[:])
	if err != nil {
		return ack, err
	}
	return ack, ack.Err()
}

func (p *Programmer) progress(s *session, segName string) {
	pct := s.sent * 100 / s.total
	if pct <= s.percent {
		return
	}
	s.percent = pct
	p.trace("fwdl:progress", slog.Int("pct", pct))
	if p.cfg.Progress != nil {
		p.cfg.Progress(Progress{
			Segment: segName,
			Percent: pct,
			Sent:    s.sent,
			Total:   s.total,
			Elapsed: time.Since(s.start),
		})
	}
}

const levelTrace = slog.LevelDebug - 1

func (p *Programmer) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if p.cfg.Logger == nil {
		return
	}
	p.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (p *Programmer) trace(msg string, attrs ...slog.Attr)  { p.logattrs(levelTrace, msg, attrs...) }
func (p *Programmer) debug(msg string, attrs ...slog.Attr)  { p.logattrs(slog.LevelDebug, msg, attrs...) }
func (p *Programmer) info(msg string, attrs ...slog.Attr)   { p.logattrs(slog.LevelInfo, msg, attrs...) }
func (p *Programmer) logerr(msg string, attrs ...slog.Attr) { p.logattrs(slog.LevelError, msg, attrs...) }
