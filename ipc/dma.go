package ipc

import (
	"sync"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Direction is the direction of a DMA transfer as seen from the host.
type Direction uint8

const (
	// ToDevice buffers are written by the host and read by the device.
	ToDevice Direction = iota + 1
	// FromDevice buffers are written by the device and read by the host.
	FromDevice
)

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	}
	return "invalid-direction"
}

// Addr is a device visible bus address.
type Addr uint64

// DMA abstracts buffer allocation and bus address mapping of the platform.
type DMA interface {
	// Alloc returns a zeroed buffer of length size or ErrNoMemory.
	Alloc(size int) ([]byte, error)
	// Free releases a buffer. Buffers not obtained from Alloc are ignored.
	Free(buf []byte)
	// Map makes buf visible to the device and returns its bus address.
	Map(buf []byte, dir Direction) (Addr, error)
	// Unmap tears down a mapping obtained from Map.
	Unmap(addr Addr, size int, dir Direction)
}

const dmaAlign = 4

// HostDMA is a DMA implementation backed by ordinary Go memory where bus
// addresses are the host addresses of the buffers.
type HostDMA struct {
	// Limit caps the number of allocated bytes outstanding at once.
	// Zero means unlimited.
	Limit int

	mu     sync.Mutex
	inuse  int
	allocs map[*byte]int
	mapped map[Addr]int
}

var _ DMA = (*HostDMA)(nil)

func (h *HostDMA) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errBadSize
	}
	asize := alignup(size, dmaAlign)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Limit > 0 && h.inuse+asize > h.Limit {
		return nil, ErrNoMemory
	}
	if h.allocs == nil {
		h.allocs = make(map[*byte]int)
	}
	buf := make([]byte, size, asize)
	h.allocs[unsafe.SliceData(buf)] = asize
	h.inuse += asize
	return buf, nil
}

func (h *HostDMA) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	key := unsafe.SliceData(buf)
	h.mu.Lock()
	defer h.mu.Unlock()
	asize, ok := h.allocs[key]
	if !ok {
		return
	}
	delete(h.allocs, key)
	h.inuse -= asize
}

func (h *HostDMA) Map(buf []byte, dir Direction) (Addr, error) {
	if len(buf) == 0 {
		return 0, errBadSize
	}
	if dir != ToDevice && dir != FromDevice {
		return 0, errBadDirection
	}
	addr := Addr(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mapped == nil {
		h.mapped = make(map[Addr]int)
	}
	h.mapped[addr] = len(buf)
	return addr, nil
}

func (h *HostDMA) Unmap(addr Addr, size int, dir Direction) {
	h.mu.Lock()
	delete(h.mapped, addr)
	h.mu.Unlock()
}

// InUse returns the number of bytes currently allocated.
func (h *HostDMA) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inuse
}

// Mapped returns the number of live mappings.
func (h *HostDMA) Mapped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mapped)
}

func alignup[T constraints.Integer](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}
