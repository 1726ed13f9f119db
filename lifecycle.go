package ecrnx

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/ecrnx/cmdmgr"
	"github.com/soypat/ecrnx/ipc"
	"github.com/soypat/ecrnx/radar"
	"github.com/soypat/ecrnx/transport"
	"golang.org/x/sync/errgroup"
)

// Init brings up the host side of the bus: environment and handler table,
// shared memory, command manager, receive path and radar aggregation, the
// transport backend and the buffers posted to the device. On failure every
// step already taken is undone and the Device is left as before Init.
func (d *Device) Init(cfg Config) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.env != nil {
		return errAlreadyInit
	}
	d.logger = cfg.Logger
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	d.cfg = cfg
	d.info("Init:start")
	start := time.Now()
	defer func() {
		if err != nil {
			d.logerr("Init:failed", slog.String("err", err.Error()))
			d.teardown()
		}
	}()

	d.dma = cfg.DMA
	if d.dma == nil {
		d.dma = &ipc.HostDMA{}
	}

	d.debug("Init:env")
	d.env, err = ipc.NewEnv(ipc.EnvConfig{
		Handlers:     d.handlers(),
		DMA:          d.dma,
		Link:         deviceLink{d},
		Logger:       d.logger,
		OnPendingMsg: d.dumpCommands,
		TxUsers:      cfg.TxUsers,
	})
	if err != nil {
		return errjoin(errors.New("env init failed"), err)
	}

	d.debug("Init:shared-ram", slog.Int("size", cfg.SharedRAMSize))
	shared, err := d.dma.Alloc(cfg.SharedRAMSize)
	if err != nil {
		return errjoin(errors.New("shared RAM alloc failed"), err)
	}
	d.env.BindShared(shared)

	d.debug("Init:cmd-mgr")
	d.cmds = cmdmgr.New(d.env, cmdmgr.WithLogger(d.logger))

	d.debug("Init:rx-radar")
	d.rx = newRxPath(d.env, cfg.OnRx, d.logger)
	d.radar = radar.New(cfg.RadarAnalyzer, d.logger)
	for _, chain := range cfg.RadarChains {
		d.radar.Enable(chain, true)
	}

	d.debug("Init:backend")
	if cfg.Backend != nil {
		d.backend = cfg.Backend
	} else {
		d.backend, err = transport.Open(cfg.Transport)
		if err != nil {
			return errjoin(errors.New("transport open failed"), err)
		}
		d.ownsBackend = true
	}

	d.debug("Init:elems")
	err = d.env.AllocElem(&d.dbgDump, DbgDumpSize, ipc.FromDevice, nil, nil, (*ipc.Env).PushDbgDumpBuf)
	if err != nil {
		return err
	}
	d.radarElems = make([]ipc.Elem, cfg.RadarElems)
	for i := range d.radarElems {
		err = d.env.AllocElem(&d.radarElems[i], radar.ArraySize, ipc.FromDevice, nil, nil, (*ipc.Env).PushRadarBuf)
		if err != nil {
			return err
		}
	}
	err = d.rx.fill(cfg.RxBufs, cfg.RxBufSize)
	if err != nil {
		return err
	}
	d.txhdrs = &sync.Pool{New: func() any { return new(txHeader) }}

	ctx, cancel := context.WithCancel(context.Background())
	d.stopWorkers = cancel
	d.workers, ctx = errgroup.WithContext(ctx)
	work := d.radar.Work()
	d.workers.Go(func() error { return work.Run(ctx) })

	d.live.Store(&liveBus{env: d.env, cmds: d.cmds, radar: d.radar, backend: d.backend})

	d.info("Init:done", slog.Duration("took", time.Since(start)), slog.String("transport", d.backend.Kind().String()))
	return nil
}

// Deinit undoes Init in reverse order. It waits for indications and frames
// in progress to return. It is safe to call on a Device whose Init failed
// and to call more than once.
func (d *Device) Deinit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()
}

func (d *Device) teardown() {
	d.live.Store(nil)
	d.inflight.Lock()
	defer d.inflight.Unlock()
	d.started.Store(false)
	if d.stopWorkers != nil {
		d.stopWorkers()
		if err := d.workers.Wait(); err != nil {
			d.logerr("deinit:workers", slog.String("err", err.Error()))
		}
		d.stopWorkers, d.workers = nil, nil
	}
	if d.env != nil {
		d.env.DisableAll()
	}
	d.drain()
	if d.cmds != nil {
		d.cmds.Deinit()
		d.cmds = nil
	}
	if d.rx != nil {
		d.rx.release()
		d.rx = nil
	}
	d.radar = nil
	d.txhdrs = nil
	if d.env != nil {
		d.env.FreeElem(&d.dbgDump)
		for i := range d.radarElems {
			d.env.FreeElem(&d.radarElems[i])
		}
		d.radarElems = nil
		d.env.ReleaseShared()
		d.env = nil
	}
	if d.backend != nil && d.ownsBackend {
		if err := d.backend.Close(); err != nil {
			d.logerr("deinit:backend close", slog.String("err", err.Error()))
		}
	}
	d.backend, d.ownsBackend = nil, false
	d.tracePresent.Store(false)
}

// Start unmasks device indications.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.env == nil {
		return errNotInit
	}
	d.env.EnableAll()
	d.started.Store(true)
	return nil
}

// Stop masks every device indication.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.env == nil {
		return
	}
	d.env.DisableAll()
	d.started.Store(false)
}

// Drain releases every frame still handed to the device. It returns the
// number of frames released.
func (d *Device) Drain() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drain()
}

func (d *Device) drain() int {
	if d.env == nil {
		d.debug("drain:bypass, no environment")
		return 0
	}
	n := 0
	for hwq := 0; hwq < ipc.NumHWQueues; hwq++ {
		for user := 0; user < d.env.TxUsers(hwq); user++ {
			for pkt := d.env.TxFlush(hwq, user); pkt != nil; pkt = d.env.TxFlush(hwq, user) {
				d.releaseTx(pkt)
				n++
			}
		}
	}
	if n > 0 {
		d.debug("drain:released", slog.Int("frames", n))
	}
	return n
}

// TxPending reports whether any frame is still handed to the device.
func (d *Device) TxPending() bool {
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	return d.live.Load() != nil && d.env.TxFramesPending()
}

// ErrorInd handles a fatal error reported by the firmware. The error type
// is read from the debug dump buffer and a trace is marked as present until
// [Device.UMHDone].
func (d *Device) ErrorInd() {
	d.inflight.RLock()
	defer d.inflight.RUnlock()
	var errType uint32
	if len(d.dbgDump.Buf) >= 4 {
		errType = binary.LittleEndian.Uint32(d.dbgDump.Buf)
	}
	d.logerr("firmware error", slog.Uint64("type", uint64(errType)))
	d.tracePresent.Store(true)
}

// UMHDone acknowledges that the firmware error trace has been collected.
func (d *Device) UMHDone() {
	if !d.started.Load() {
		return
	}
	d.tracePresent.Store(false)
}

// TracePresent reports whether a firmware error trace awaits collection.
func (d *Device) TracePresent() bool { return d.tracePresent.Load() }

// TraceDesc returns the firmware trace descriptor. Trace buffers are not
// supported and it always returns nil.
func (d *Device) TraceDesc() []byte { return nil }
