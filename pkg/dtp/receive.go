package dtp

import (
	"time"

	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
)

// Receive implements sdu-rx for a PDU already routed to this flow by
// dst-cep (spec.md §4.4). Control PDUs are processed under the lock and
// any cwq PDUs released by the new window are sent after unlock; data PDUs run
// the DRF/duplicate/gap-fill/in-order classification and deliver whatever
// becomes in-order.
func (e *Engine) Receive(p *pci.PDU) {
	if p.PCI.Type == pci.TypeCTRL {
		e.receiveControl(p)
		return
	}
	e.receiveData(p)
}

func (e *Engine) receiveControl(p *pci.PDU) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if p.PCI.LastCtrlSeqRcvd != 0 && p.PCI.LastCtrlSeqRcvd <= e.lastCtrlRcvd {
		// past duplicate: ignore.
		e.mu.Unlock()
		return
	}
	e.lastCtrlRcvd = p.PCI.LastCtrlSeqRcvd

	var flush []*pci.PDU

	if p.PCI.CtrlFlags&pci.CtrlFC != 0 {
		if p.PCI.NewRWE > e.sndRWE {
			e.sndRWE = p.PCI.NewRWE
		}
		var kept []*sendBuf
		for _, sb := range e.cwq {
			if sb.pdu.PCI.Seqnum <= e.sndRWE {
				if e.cfg.RtxControl {
					rb := &sendBuf{pdu: sb.pdu.Clone(), rtxJiffies: time.Now().Add(e.cfg.InitialTR)}
					e.rtxq = append(e.rtxq, rb)
				}
				flush = append(flush, sb.pdu)
			} else {
				kept = append(kept, sb)
			}
		}
		e.cwq = kept
		e.armRtxTimerLocked()
	}

	if p.PCI.CtrlFlags&pci.CtrlACK != 0 {
		ack := p.PCI.AckNackSeq
		var kept []*sendBuf
		for _, rb := range e.rtxq {
			if rb.pdu.PCI.Seqnum > ack {
				kept = append(kept, rb)
			}
		}
		e.rtxq = kept
		if len(e.rtxq) == 0 && e.rtxTimer != nil {
			e.rtxTimer.Stop()
			e.rtxTimer = nil
		} else {
			e.armRtxTimerLocked()
		}
	}
	dst := e.flow.RemoteAddr()
	e.mu.Unlock()

	for _, pdu := range flush {
		_ = e.tx.RMTTx(dst, pdu, true)
	}
}

func (e *Engine) receiveData(p *pci.PDU) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.armRcvInactLocked()

	if e.drfExpected || p.PCI.Flags&pci.FlagDRF != 0 {
		e.rcvLWEPriv = p.PCI.Seqnum + 1
		e.rcvLWE = p.PCI.Seqnum + 1
		e.drfExpected = false
		e.seqq = nil
		e.mu.Unlock()
		e.up.Deliver(p.Data)
		e.maybeEmitCtrl()
		return
	}

	seq := p.PCI.Seqnum
	switch {
	case seq < e.rcvLWEPriv:
		// duplicate
		shouldAck := e.cfg.InitialCredit > 0 && e.rcvLWE >= e.lastSndDataAck
		if shouldAck {
			e.lastSndDataAck = e.rcvLWE
		}
		e.mu.Unlock()
		if shouldAck {
			e.emitCtrl(true)
		}
		return
	case seq == e.rcvLWEPriv:
		// exactly next: fall through to in-order handling below.
	}

	gap := int64(seq) - int64(e.rcvLWEPriv)
	drop := gap > e.cfg.MaxSDUGap && (e.cfg.InOrder || (e.cfg.DTCPPresent && e.cfg.A == 0 && !e.cfg.RtxControl))
	if drop {
		e.mu.Unlock()
		return
	}

	if seq != e.rcvLWEPriv {
		if len(e.seqq) >= seqqCap {
			e.mu.Unlock()
			return
		}
		e.seqq = append(e.seqq, &recvBuf{pdu: p})
		e.mu.Unlock()
		return
	}

	// in order: deliver this PDU then pop any contiguous-enough prefix of
	// the sequencing queue (spec.md §4.4 "pop any prefix").
	var toDeliver []*pci.PDU
	toDeliver = append(toDeliver, p)
	e.rcvLWEPriv = seq + 1

	for len(e.seqq) > 0 {
		next := e.seqq[0]
		ngap := int64(next.pdu.PCI.Seqnum) - int64(e.rcvLWEPriv)
		if ngap < 0 {
			e.seqq = e.seqq[1:]
			continue
		}
		if ngap > e.cfg.MaxSDUGap {
			break
		}
		toDeliver = append(toDeliver, next.pdu)
		e.rcvLWEPriv = next.pdu.PCI.Seqnum + 1
		e.seqq = e.seqq[1:]
	}

	if _, ok := e.flow.Upper().(kernel.IPCPUpper); ok {
		e.rcvLWE = e.rcvLWEPriv
	}
	e.mu.Unlock()

	for _, pdu := range toDeliver {
		e.up.Deliver(pdu.Data)
	}
	e.maybeEmitCtrl()
}

func (e *Engine) armRcvInactLocked() {
	d := e.inactDuration()
	if d <= 0 {
		return
	}
	if e.rcvInactTimer == nil {
		e.rcvInactTimer = time.AfterFunc(d, e.rcvInactExpired)
		return
	}
	e.rcvInactTimer.Reset(d)
}

// rcvInactExpired flushes seqq and resets receive state (spec.md §4.4
// "Inactivity timers").
func (e *Engine) rcvInactExpired() {
	e.mu.Lock()
	e.seqq = nil
	e.rcvLWEPriv = 0
	e.rcvLWE = 0
	e.drfExpected = true
	e.mu.Unlock()
}

// Consumed implements sdu-rx-consumed: advances rcv-lwe past seq once the
// upper layer has consumed the corresponding SDU (spec.md §4.4).
func (e *Engine) Consumed(seq uint64) {
	e.mu.Lock()
	if seq+1 > e.rcvLWE {
		e.rcvLWE = seq + 1
	}
	e.mu.Unlock()
	e.maybeEmitCtrl()
}

// maybeEmitCtrl implements the emitted-control-PDU policy (spec.md §4.4)
// for the in-order-delivery and sdu-rx-consumed paths: ACK (with FC when
// flow control is on) when RtxControl is on, FC-only when only flow control
// is on, nothing otherwise.
func (e *Engine) maybeEmitCtrl() {
	e.emitCtrl(e.cfg.RtxControl)
}

// emitCtrl builds and sends the next control PDU, forcing the ACK flag
// when ack is true regardless of RtxControl; the duplicate-PDU path
// (spec.md §4.4) always wants ACK+FC whenever flow control is on, even
// with RtxControl off.
func (e *Engine) emitCtrl(ack bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	flowCtl := e.cfg.InitialCredit > 0
	if flowCtl {
		e.rcvRWE = e.rcvLWE + e.cfg.InitialCredit
	}

	var p *pci.PDU
	switch {
	case ack:
		e.lastCtrlSeq++
		cf := pci.CtrlACK
		if flowCtl {
			cf |= pci.CtrlFC
		}
		p = &pci.PDU{PCI: pci.PCI{
			DstAddr:         e.flow.RemoteAddr(),
			SrcAddr:         e.flow.IPCP().Address(),
			DstCEP:          e.flow.RemoteCEP(),
			SrcCEP:          e.flow.LocalCEP(),
			Type:            pci.TypeCTRL,
			CtrlFlags:       cf,
			LastCtrlSeqRcvd: e.lastCtrlSeq,
			AckNackSeq:      e.rcvLWE - 1,
			NewRWE:          e.rcvRWE,
		}}
	case flowCtl:
		e.lastCtrlSeq++
		p = &pci.PDU{PCI: pci.PCI{
			DstAddr:         e.flow.RemoteAddr(),
			SrcAddr:         e.flow.IPCP().Address(),
			DstCEP:          e.flow.RemoteCEP(),
			SrcCEP:          e.flow.LocalCEP(),
			Type:            pci.TypeCTRL,
			CtrlFlags:       pci.CtrlFC,
			LastCtrlSeqRcvd: e.lastCtrlSeq,
			NewRWE:          e.rcvRWE,
		}}
	}
	dst := e.flow.RemoteAddr()
	e.mu.Unlock()

	if p != nil {
		_ = e.tx.RMTTx(dst, p, true)
	}
}
