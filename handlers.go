package ecrnx

import (
	"bytes"
	"log/slog"

	"github.com/soypat/ecrnx/ipc"
)

func (d *Device) handlers() ipc.Handlers {
	return ipc.Handlers{
		ipc.IndDataRx:     d.onDataRx,
		ipc.IndRadar:      d.onRadar,
		ipc.IndMsg:        d.onMsg,
		ipc.IndMsgAck:     d.onMsgAck,
		ipc.IndDebug:      d.onDebug,
		ipc.IndTBTTPrim:   d.onTBTT,
		ipc.IndTBTTSec:    d.onTBTT,
		ipc.IndUnsupRxVec: d.onUnsupRxVec,
	}
}

func (d *Device) onDataRx(hostid any) ipc.Status {
	pkt, ok := hostid.(*ipc.PacketElem)
	if !ok || pkt == nil || d.rx == nil {
		return ipc.Invalid
	}
	return d.rx.deliver(pkt)
}

func (d *Device) onRadar(hostid any) ipc.Status {
	elem, ok := hostid.(*ipc.Elem)
	if !ok || elem == nil || d.radar == nil {
		return ipc.Invalid
	}
	return d.radar.HandleIndication(elem.Buf)
}

func (d *Device) onMsg(hostid any) ipc.Status {
	msg, ok := hostid.([]byte)
	if !ok {
		return ipc.Invalid
	}
	d.trace("msg:ind", slog.Int("len", len(msg)))
	if d.cfg.OnMsg != nil {
		d.cfg.OnMsg(msg)
	}
	return ipc.Handled
}

func (d *Device) onMsgAck(hostid any) ipc.Status {
	tok, ok := hostid.(ipc.Token)
	if !ok || d.cmds == nil {
		return ipc.Invalid
	}
	d.cmds.LLInd(tok)
	return ipc.Handled
}

// onDebug prints a firmware debug string, truncated to what fits the
// device's debug parameter buffer.
func (d *Device) onDebug(hostid any) ipc.Status {
	msg, ok := hostid.([]byte)
	if !ok {
		return ipc.Invalid
	}
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > dbgParamSize-1 {
		d.warn("fw debug string truncated", slog.Int("len", len(msg)))
		msg = msg[:dbgParamSize-1]
	}
	d.logattrs(deviceLevel, string(msg))
	return ipc.Handled
}

func (d *Device) onTBTT(any) ipc.Status { return ipc.Handled }

func (d *Device) onUnsupRxVec(hostid any) ipc.Status {
	vec, ok := hostid.([]byte)
	if !ok {
		return ipc.Invalid
	}
	d.debug("rx:unsupported vector", slog.Int("len", len(vec)))
	if d.cfg.OnUnsupRxVector != nil {
		d.cfg.OnUnsupRxVector(vec)
	}
	return ipc.Handled
}
