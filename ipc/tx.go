package ipc

import "log/slog"

// PushTxDesc hands a transmit descriptor to the device. The packet is tracked
// as in flight on (hwq, user) until confirmed or flushed.
func (e *Env) PushTxDesc(desc []byte, pkt *PacketElem, hwq, user int) error {
	if !e.validQueue(hwq, user) {
		return errBadQueue
	}
	e.txmu.Lock()
	e.txq[hwq][user] = append(e.txq[hwq][user], pkt)
	e.txmu.Unlock()
	err := e.link.SendFrame(desc, hwq, user)
	if err != nil {
		e.txmu.Lock()
		q := e.txq[hwq][user]
		for i := len(q) - 1; i >= 0; i-- {
			if q[i] == pkt {
				e.txq[hwq][user] = append(q[:i], q[i+1:]...)
				break
			}
		}
		e.txmu.Unlock()
		return err
	}
	e.trace("tx:push", slog.Int("hwq", hwq), slog.Int("user", user), slog.Int("len", len(desc)))
	return nil
}

// TxConfirm pops the oldest in flight packet of (hwq, user) after the device
// reported its transmission. It returns nil if nothing is in flight.
func (e *Env) TxConfirm(hwq, user int) *PacketElem {
	return e.txpop(hwq, user)
}

// TxFlush pops the oldest in flight packet of (hwq, user) without a device
// confirmation. It returns nil once the queue is empty.
func (e *Env) TxFlush(hwq, user int) *PacketElem {
	pkt := e.txpop(hwq, user)
	if pkt != nil {
		e.debug("tx:flush", slog.Int("hwq", hwq), slog.Int("user", user))
	}
	return pkt
}

// TxFramesPending reports whether any packet is in flight.
func (e *Env) TxFramesPending() bool {
	e.txmu.Lock()
	defer e.txmu.Unlock()
	for q := range e.txq {
		for u := range e.txq[q] {
			if len(e.txq[q][u]) > 0 {
				return true
			}
		}
	}
	return false
}

// TxUsers returns the number of users of hardware queue hwq.
func (e *Env) TxUsers(hwq int) int {
	if hwq < 0 || hwq >= NumHWQueues {
		return 0
	}
	return e.txUsers[hwq]
}

func (e *Env) txpop(hwq, user int) *PacketElem {
	if !e.validQueue(hwq, user) {
		return nil
	}
	e.txmu.Lock()
	defer e.txmu.Unlock()
	q := e.txq[hwq][user]
	if len(q) == 0 {
		return nil
	}
	pkt := q[0]
	q[0] = nil
	e.txq[hwq][user] = q[1:]
	return pkt
}

func (e *Env) validQueue(hwq, user int) bool {
	return hwq >= 0 && hwq < NumHWQueues && user >= 0 && user < e.txUsers[hwq]
}
