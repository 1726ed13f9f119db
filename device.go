// Package ecrnx implements the control plane of the ECRNX radio host driver:
// lifecycle of the IPC environment, indication handling, the transmit drain
// path and firmware download on the selected transport.
package ecrnx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/soypat/ecrnx/cmdmgr"
	"github.com/soypat/ecrnx/fwdl"
	"github.com/soypat/ecrnx/ipc"
	"github.com/soypat/ecrnx/radar"
	"github.com/soypat/ecrnx/transport"
	"golang.org/x/sync/errgroup"
)

var (
	errNotInit     = errors.New("ecrnx: device not initialized")
	errAlreadyInit = errors.New("ecrnx: device already initialized")
	errNoBackend   = errors.New("ecrnx: no transport backend")
)

const (
	// DbgDumpSize is the size of the debug dump buffer shared with the device.
	DbgDumpSize = 1024
	// dbgParamSize bounds firmware debug strings, including terminator.
	dbgParamSize = 256
)

// Config configures [Device.Init].
type Config struct {
	Logger *slog.Logger
	// Backend overrides the compiled in transport. When nil a backend is
	// opened from Transport and closed on Deinit.
	Backend   transport.Backend
	Transport transport.Config
	// DMA defaults to an unlimited ipc.HostDMA.
	DMA ipc.DMA

	SharedRAMSize int
	RadarElems    int
	RadarChains   []int
	RadarAnalyzer radar.Analyzer
	RxBufs        int
	RxBufSize     int
	TxUsers       [ipc.NumHWQueues]int

	// OnMsg receives firmware messages. The slice must not be retained.
	OnMsg func(msg []byte)
	// OnRx receives received frames. The slice must not be retained.
	OnRx func(frame []byte)
	// OnTxDone receives each transmitted or drained frame with the driver
	// header stripped, before its buffer is released. The slice must not be
	// retained.
	OnTxDone func(frame []byte)
	// OnUnsupRxVector receives vectors of frames the firmware could not decode.
	OnUnsupRxVector func(vec []byte)
}

// DefaultConfig returns a configuration using the compiled in transport.
func DefaultConfig() Config {
	return Config{
		Transport:     transport.Config{Device: "/dev/ttyUSB0", Baud: 115200},
		SharedRAMSize: 4096,
		RadarElems:    4,
		RadarChains:   []int{0},
		RxBufs:        8,
		RxBufSize:     2048,
	}
}

// Device is a radio attached to the host.
type Device struct {
	mu            sync.Mutex
	logger        *slog.Logger
	_traceenabled bool
	cfg           Config

	dma         ipc.DMA
	env         *ipc.Env
	cmds        *cmdmgr.Manager
	rx          *rxPath
	radar       *radar.Aggregator
	backend     transport.Backend
	ownsBackend bool
	txhdrs      *sync.Pool
	dbgDump     ipc.Elem
	radarElems  []ipc.Elem

	stopWorkers context.CancelFunc
	workers     *errgroup.Group

	// live is published at the end of Init and withdrawn first in Deinit.
	// inflight is held for reading by indication and data path calls, and
	// for writing while Deinit tears the bus down.
	live     atomic.Pointer[liveBus]
	inflight sync.RWMutex

	started      atomic.Bool
	tracePresent atomic.Bool
	txseq        atomic.Uint32
}

// liveBus holds what may be reached without the Device lock.
type liveBus struct {
	env     *ipc.Env
	cmds    *cmdmgr.Manager
	radar   *radar.Aggregator
	backend transport.Backend
}

// Env returns the message bus environment, nil before Init.
func (d *Device) Env() *ipc.Env {
	if b := d.live.Load(); b != nil {
		return b.env
	}
	return nil
}

// Radar returns the radar pulse aggregator, nil before Init.
func (d *Device) Radar() *radar.Aggregator {
	if b := d.live.Load(); b != nil {
		return b.radar
	}
	return nil
}

// Queue sends a command to the firmware. See [cmdmgr.Manager.Queue].
func (d *Device) Queue(ctx context.Context, cmd *cmdmgr.Command) error {
	b := d.live.Load()
	if b == nil {
		return errNotInit
	}
	return b.cmds.Queue(ctx, cmd)
}

// Indicate dispatches an event reported by the device. It may run
// concurrently with Deinit, which waits for it to return. Indication
// callbacks must not call Deinit.
func (d *Device) Indicate(ind ipc.Indication, hostid any) ipc.Status {
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	b := d.live.Load()
	if b == nil {
		return ipc.Masked
	}
	return b.env.Dispatch(ind, hostid)
}

// Bootstrap opens the transport described by cfg, downloads img to the boot
// ROM and closes the transport. It runs before any [Device.Init] and needs
// no message bus.
func Bootstrap(ctx context.Context, cfg transport.Config, img *fwdl.Image, opts ...fwdl.Option) (err error) {
	b, err := transport.Open(cfg)
	if err != nil {
		return errjoin(errors.New("transport open failed"), err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return LoadFirmware(ctx, b, img, opts...)
}

// LoadFirmware downloads img to the boot ROM over the raw transport t.
func LoadFirmware(ctx context.Context, t fwdl.Transport, img *fwdl.Image, opts ...fwdl.Option) error {
	if t == nil {
		return errNoBackend
	}
	return fwdl.New(t, opts...).Download(ctx, img)
}

func (d *Device) dumpCommands() {
	if b := d.live.Load(); b != nil {
		b.cmds.Dump()
	}
}

// deviceLink routes bus traffic to the device's current backend.
type deviceLink struct{ d *Device }

func (l deviceLink) backend() transport.Backend {
	if b := l.d.live.Load(); b != nil {
		return b.backend
	}
	return nil
}

func (l deviceLink) PushMsg(msg []byte) error {
	b := l.backend()
	if b == nil {
		return errNoBackend
	}
	return b.PushMsg(msg)
}

func (l deviceLink) SendFrame(desc []byte, hwq, user int) error {
	b := l.backend()
	if b == nil {
		return errNoBackend
	}
	return b.SendFrame(desc, hwq, user)
}

func errjoin(errs ...error) error { return errors.Join(errs...) }
