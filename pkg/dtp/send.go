package dtp

import (
	"context"
	"time"

	"github.com/rlite-project/rlite-go/pkg/pci"
)

// Write implements sdu-write (spec.md §4.4): token-bucket gate, then
// back-pressure gate, then PCI push and queue bookkeeping, then handoff to
// rmt-tx outside the lock. canSleep selects between waiting on the token
// bucket and returning would-block immediately; a full window/queue (cwq or
// rtxq at capacity) or a closed engine returns would-block either way.
func (e *Engine) Write(sdu []byte, canSleep bool) error {
	if e.limiter != nil {
		n := len(sdu)
		if !e.limiter.AllowN(time.Now(), n) {
			if !canSleep {
				return errWouldBlock
			}
			if err := e.limiter.WaitN(context.Background(), n); err != nil {
				return err
			}
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errWouldBlock
	}

	if e.cfg.WindowBased && e.nextSeq > e.sndRWE && len(e.cwq) >= cwqCap {
		e.mu.Unlock()
		return errWouldBlock
	}
	if e.cfg.RtxControl && len(e.rtxq) >= rtxqCap {
		e.mu.Unlock()
		return errWouldBlock
	}

	seq := e.nextSeq
	e.nextSeq++

	p := &pci.PDU{
		PCI: pci.PCI{
			DstAddr: e.flow.RemoteAddr(),
			SrcAddr: e.flow.IPCP().Address(),
			DstCEP:  e.flow.RemoteCEP(),
			SrcCEP:  e.flow.LocalCEP(),
			Type:    pci.TypeDT,
			Seqnum:  seq,
			Len:     uint32(len(sdu)),
		},
		Data: sdu,
	}
	if !e.drfSent {
		p.PCI.Flags |= pci.FlagDRF
		e.drfSent = true
	}

	if !e.cfg.DTCPPresent {
		e.sndLWE = seq + 1
	} else if e.cfg.WindowBased && seq > e.sndRWE {
		e.cwq = append(e.cwq, &sendBuf{pdu: p})
		e.armSndInactLocked()
		e.mu.Unlock()
		return nil
	} else {
		e.sndLWE = seq + 1
		if e.cfg.RtxControl {
			rb := &sendBuf{pdu: p.Clone(), rtxJiffies: time.Now().Add(e.cfg.InitialTR)}
			e.rtxq = append(e.rtxq, rb)
			e.armRtxTimerLocked()
		}
	}
	e.armSndInactLocked()
	dst := e.flow.RemoteAddr()
	e.mu.Unlock()

	return e.tx.RMTTx(dst, p, canSleep)
}

func (e *Engine) armSndInactLocked() {
	d := e.inactDuration()
	if d <= 0 {
		return
	}
	if e.sndInactTime == nil {
		e.sndInactTime = time.AfterFunc(d, e.sndInactExpired)
		return
	}
	e.sndInactTime.Reset(d)
}

func (e *Engine) armRtxTimerLocked() {
	if e.rtxTimer != nil || len(e.rtxq) == 0 {
		return
	}
	wait := time.Until(e.rtxq[0].rtxJiffies)
	if wait < 0 {
		wait = 0
	}
	e.rtxTimer = time.AfterFunc(wait, e.rtxTimerExpired)
}

// sndInactExpired flushes the send-side queues and resets send state
// (spec.md §4.4 "Inactivity timers").
func (e *Engine) sndInactExpired() {
	e.mu.Lock()
	e.cwq = nil
	e.rtxq = nil
	e.nextSeq = 0
	e.sndLWE = 0
	e.sndRWE = 0
	e.drfSent = false
	if e.rtxTimer != nil {
		e.rtxTimer.Stop()
		e.rtxTimer = nil
	}
	e.mu.Unlock()
}

// rtxTimerExpired walks rtxq from the earliest unexpired entry, cloning
// and retransmitting each due entry, then re-arms for the next one
// (spec.md §4.4 "Retransmission timer").
func (e *Engine) rtxTimerExpired() {
	e.mu.Lock()
	e.rtxTimer = nil
	now := time.Now()
	var due []*pci.PDU
	dst := e.flow.RemoteAddr()
	i := 0
	for ; i < len(e.rtxq); i++ {
		rb := e.rtxq[i]
		if now.Before(rb.rtxJiffies) {
			break
		}
		rb.rtxJiffies = rb.rtxJiffies.Add(e.cfg.InitialTR)
		due = append(due, rb.pdu.Clone())
	}
	if len(e.rtxq) > 0 {
		e.armSndInactLocked()
		e.armRtxTimerLocked()
	}
	e.mu.Unlock()

	for _, p := range due {
		_ = e.tx.RMTTx(dst, p, true)
	}
}
