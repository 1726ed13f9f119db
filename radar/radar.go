// Package radar aggregates radar pulse reports from the firmware into
// per-chain history buffers and schedules their analysis.
package radar

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/soypat/ecrnx/internal/deferred"
	"github.com/soypat/ecrnx/ipc"
)

const (
	// NumChains is the number of detection chains, primary and secondary.
	NumChains = 2
	// PulseMax is the capacity of the pulse history of one chain.
	PulseMax = 32
	// PulsesPerInd is the number of pulses one indication can carry.
	PulsesPerInd = 4
	// ArraySize is the size of a pulse array descriptor in device memory.
	ArraySize = arrayHeaderLen + 4*PulsesPerInd

	arrayHeaderLen = 4
)

// Pulse is a packed pulse descriptor as reported by the firmware.
type Pulse uint32

// PulseArray is a view of a pulse array descriptor in a buffer shared with the device.
//
//	| idx u8 | count u8 | reserved u16 | pulse u32 LE x PulsesPerInd |
type PulseArray []byte

// Idx returns the detection chain the pulses were captured on.
func (p PulseArray) Idx() int { return int(p[0]) }

// Count returns the number of valid pulses in the array.
func (p PulseArray) Count() int { return int(p[1]) }

// SetCount sets the number of valid pulses. A zero count hands the array
// back to the firmware.
func (p PulseArray) SetCount(n int) { p[1] = uint8(n) }

// Pulse returns the i'th pulse of the array.
func (p PulseArray) Pulse(i int) Pulse {
	return Pulse(binary.LittleEndian.Uint32(p[arrayHeaderLen+4*i:]))
}

// PutPulseArray encodes pulses into dst, which must be at least ArraySize long.
func PutPulseArray(dst []byte, idx int, pulses ...Pulse) {
	_ = dst[ArraySize-1]
	dst[0] = uint8(idx)
	dst[1] = uint8(len(pulses))
	dst[2], dst[3] = 0, 0
	for i, p := range pulses[:min(len(pulses), PulsesPerInd)] {
		binary.LittleEndian.PutUint32(dst[arrayHeaderLen+4*i:], uint32(p))
	}
}

// Buffer is a ring of the most recent PulseMax pulses of a chain.
type Buffer struct {
	pulses [PulseMax]Pulse
	index  int
	count  int
}

// Push records a pulse, overwriting the oldest once full.
func (b *Buffer) Push(p Pulse) {
	b.pulses[b.index] = p
	b.index = (b.index + 1) % PulseMax
	b.count = min(b.count+1, PulseMax)
}

// Count returns the number of valid pulses.
func (b *Buffer) Count() int { return b.count }

// Index returns the next write position.
func (b *Buffer) Index() int { return b.index }

// Recent returns a copy of the valid pulses, oldest first.
func (b *Buffer) Recent() []Pulse {
	out := make([]Pulse, b.count)
	start := (b.index - b.count + PulseMax) % PulseMax
	for i := range out {
		out[i] = b.pulses[(start+i)%PulseMax]
	}
	return out
}

// Analyzer consumes the pulse history of a chain.
type Analyzer func(chain int, pulses []Pulse)

// Aggregator accumulates pulse reports of every chain.
type Aggregator struct {
	mu      sync.Mutex
	chains  [NumChains]Buffer
	enabled [NumChains]atomic.Bool
	work    *deferred.Task
	analyze Analyzer
	log     *slog.Logger
}

// New returns an Aggregator with detection disabled on every chain.
// The analyzer may be nil.
func New(analyze Analyzer, log *slog.Logger) *Aggregator {
	a := &Aggregator{analyze: analyze, log: log}
	a.work = deferred.NewTask(a.detect)
	return a
}

// Work returns the deferred analysis task. It must be run by a worker.
func (a *Aggregator) Work() *deferred.Task { return a.work }

// Enable turns detection on or off for a chain.
func (a *Aggregator) Enable(chain int, on bool) {
	if chain < 0 || chain >= NumChains {
		return
	}
	a.enabled[chain].Store(on)
}

// Enabled reports whether detection is on for chain.
func (a *Aggregator) Enabled(chain int) bool {
	return chain >= 0 && chain < NumChains && a.enabled[chain].Load()
}

// HandleIndication processes a pulse array reported by the device.
// A zero count means the device had nothing to report and Empty is returned.
// Otherwise the pulses are recorded if the chain has detection enabled,
// analysis is scheduled and the array count is reset for the device to reuse.
func (a *Aggregator) HandleIndication(desc []byte) ipc.Status {
	if len(desc) < ArraySize {
		a.logattrs(slog.LevelWarn, "radar:short descriptor", slog.Int("len", len(desc)))
		return ipc.Invalid
	}
	arr := PulseArray(desc)
	count := arr.Count()
	if count == 0 {
		return ipc.Empty
	}
	if count > PulsesPerInd {
		a.logattrs(slog.LevelWarn, "radar:count clamped", slog.Int("count", count))
		count = PulsesPerInd
	}
	chain := arr.Idx()
	if a.Enabled(chain) {
		a.mu.Lock()
		for i := 0; i < count; i++ {
			a.chains[chain].Push(arr.Pulse(i))
		}
		a.mu.Unlock()
		a.work.Schedule()
	}
	arr.SetCount(0)
	return ipc.Handled
}

// Snapshot returns a copy of the pulse history of chain, oldest first.
func (a *Aggregator) Snapshot(chain int) []Pulse {
	if chain < 0 || chain >= NumChains {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chains[chain].Recent()
}

func (a *Aggregator) detect() {
	for chain := range a.chains {
		a.mu.Lock()
		pulses := a.chains[chain].Recent()
		a.mu.Unlock()
		if len(pulses) == 0 {
			continue
		}
		a.logattrs(slog.LevelDebug, "radar:analyze", slog.Int("chain", chain), slog.Int("pulses", len(pulses)))
		if a.analyze != nil {
			a.analyze(chain, pulses)
		}
	}
}

func (a *Aggregator) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if a.log == nil {
		return
	}
	a.log.LogAttrs(context.Background(), level, msg, attrs...)
}
