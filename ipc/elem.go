package ipc

import "log/slog"

// Elem is a fixed size buffer shared with the device. A zero Elem holds
// nothing and may be passed to [Env.FreeElem].
type Elem struct {
	Buf  []byte
	Addr Addr
	Size int
	dir  Direction
}

// Empty reports whether the element holds no buffer.
func (e *Elem) Empty() bool { return e.Buf == nil }

// PacketElem is a variable size packet buffer shared with the device.
type PacketElem struct {
	Buf  []byte
	Addr Addr
	dir  Direction
}

// Empty reports whether the element holds no buffer.
func (p *PacketElem) Empty() bool { return p.Buf == nil }

// AllocElem fills elem with a buffer of the given size mapped for dir.
// If buf is nil a new buffer is allocated, otherwise buf is adopted and
// must be at least size bytes long. For ToDevice buffers init, if not nil,
// is copied to the start of the buffer. On success push, if not nil, is
// called with the bus address of the buffer.
//
// On error elem is left untouched and every buffer involved has been freed,
// including an adopted buf.
func (e *Env) AllocElem(elem *Elem, size int, dir Direction, buf, init []byte, push func(*Env, Addr)) error {
	if size <= 0 {
		if buf != nil {
			e.dma.Free(buf)
		}
		return errBadSize
	}
	if buf == nil {
		b, err := e.dma.Alloc(size)
		if err != nil {
			e.logerr("ipc buffer alloc failed", slog.Int("size", size), slog.String("err", err.Error()))
			return errjoin(ErrNoMemory, err)
		}
		buf = b
	} else if len(buf) < size {
		e.dma.Free(buf)
		return errShortBuffer
	}
	buf = buf[:size]
	if dir == ToDevice && init != nil {
		copy(buf, init)
	}
	addr, err := e.dma.Map(buf, dir)
	if err != nil {
		e.logerr("ipc buffer map failed", slog.Int("size", size), slog.String("dir", dir.String()))
		e.dma.Free(buf)
		return errjoin(ErrIO, err)
	}
	*elem = Elem{Buf: buf, Addr: addr, Size: size, dir: dir}
	e.trace("elem:alloc", slog.Int("size", size), slog.Uint64("addr", uint64(addr)))
	if push != nil {
		push(e, addr)
	}
	return nil
}

// FreeElem unmaps and releases the element's buffer and zeroes elem.
// Freeing an empty element is a no-op.
func (e *Env) FreeElem(elem *Elem) {
	if elem == nil || elem.Buf == nil {
		return
	}
	e.dma.Unmap(elem.Addr, elem.Size, elem.dir)
	e.dma.Free(elem.Buf)
	*elem = Elem{}
}

// AllocPacket fills elem with a newly allocated packet buffer of the given
// size mapped for dir. On success push, if not nil, is called with the element
// and its bus address. On error nothing stays allocated.
func (e *Env) AllocPacket(elem *PacketElem, size int, dir Direction, push func(*Env, *PacketElem, Addr)) error {
	buf, err := e.dma.Alloc(size)
	if err != nil {
		e.logerr("ipc packet alloc failed", slog.Int("size", size))
		return errjoin(ErrNoMemory, err)
	}
	addr, err := e.dma.Map(buf, dir)
	if err != nil {
		e.logerr("ipc packet map failed", slog.Int("size", size), slog.String("dir", dir.String()))
		e.dma.Free(buf)
		return errjoin(ErrIO, err)
	}
	*elem = PacketElem{Buf: buf, Addr: addr, dir: dir}
	if push != nil {
		push(e, elem, addr)
	}
	return nil
}

// FreePacket unmaps and releases the packet buffer and zeroes elem.
// Freeing an empty element is a no-op.
func (e *Env) FreePacket(elem *PacketElem) {
	if elem == nil || elem.Buf == nil {
		return
	}
	e.dma.Unmap(elem.Addr, len(elem.Buf), elem.dir)
	e.dma.Free(elem.Buf)
	*elem = PacketElem{}
}
