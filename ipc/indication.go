package ipc

import "log/slog"

//go:generate go tool stringer -type=Indication -trimprefix=Ind

// Indication is a class of device to host event.
type Indication uint8

const (
	IndDataRx Indication = iota
	IndRadar
	IndMsg
	IndMsgAck
	IndDebug
	IndTBTTPrim
	IndTBTTSec
	IndUnsupRxVec
)

const numIndications = int(IndUnsupRxVec) + 1

const maskAll = uint32(1)<<numIndications - 1

// Status is the result of dispatching an indication.
type Status uint8

const (
	// Handled means the handler consumed the indication.
	Handled Status = iota
	// Empty means the indication carried nothing to process.
	Empty
	// Masked means indications of the class are disabled.
	Masked
	// Invalid means the indication class or payload was not recognized.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Handled:
		return "handled"
	case Empty:
		return "empty"
	case Masked:
		return "masked"
	case Invalid:
		return "invalid"
	}
	return "unknown-status"
}

// HandlerFunc processes one indication. The type of hostid depends on the class:
//   - IndDataRx: *PacketElem
//   - IndRadar: *Elem
//   - IndMsg, IndDebug, IndUnsupRxVec: []byte
//   - IndMsgAck: Token
//   - IndTBTTPrim, IndTBTTSec: nil
type HandlerFunc func(hostid any) Status

// Handlers maps every indication class to its handler.
type Handlers [numIndications]HandlerFunc

// EnableAll unmasks every indication class.
func (e *Env) EnableAll() {
	e.mask.Store(maskAll)
	e.debug("ipc:irq-enable")
}

// DisableAll masks every indication class. Dispatch of a masked class is
// rejected without calling its handler.
func (e *Env) DisableAll() {
	e.mask.Store(0)
	e.debug("ipc:irq-disable")
}

// Enabled reports whether indications of class ind are unmasked.
func (e *Env) Enabled(ind Indication) bool {
	return int(ind) < numIndications && e.mask.Load()&(1<<ind) != 0
}

// Dispatch routes an indication to its handler.
func (e *Env) Dispatch(ind Indication, hostid any) Status {
	if int(ind) >= numIndications {
		e.warn("dispatch of unknown indication", slog.String("ind", ind.String()))
		return Invalid
	}
	if !e.Enabled(ind) {
		e.trace("ipc:masked", slog.String("ind", ind.String()))
		return Masked
	}
	switch ind {
	case IndMsg:
		e.msgRx.Add(1)
	case IndMsgAck:
		e.msgTxDone.Add(1)
		if tok, ok := hostid.(Token); ok {
			e.ClearMsgFlag(tok)
		}
	case IndDataRx:
		if p, ok := hostid.(*PacketElem); ok && p != nil {
			e.takeRxBuf(p.Addr)
		}
	}
	return e.handlers[ind](hostid)
}

func (e *Env) takeRxBuf(addr Addr) {
	e.bufmu.Lock()
	defer e.bufmu.Unlock()
	for i, a := range e.rxBufs {
		if a == addr {
			e.rxBufs = append(e.rxBufs[:i], e.rxBufs[i+1:]...)
			return
		}
	}
}
