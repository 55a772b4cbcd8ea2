// Package nack implements generic-NACK gap detection and scheduling on the
// receive side, and the retransmission buffer/lookup on the send side, per
// RFC 4585 §6.2.1 and RFC 4588.
package nack

import (
	"sort"
	"time"

	"github.com/lanikai/alohartc/rtp"
)

const (
	// RetryInterval is how often an unresolved gap is re-requested.
	RetryInterval = 5 * time.Millisecond

	// MaxRetries is the number of NACK retransmission requests sent for a
	// gap before it is reported as permanently lost.
	MaxRetries = 10
)

// gapEntry tracks one missing sequence number awaiting retransmission.
type gapEntry struct {
	nextRetryAt time.Time
	retries     int
}

// Receiver tracks gaps in one inbound stream's delivered sequence numbers
// and decides when to (re-)send generic NACKs, and when to give up.
type Receiver struct {
	sender uint32 // our SSRC, used as the NACK's sender field
	media  uint32 // remote SSRC being tracked

	initialized bool
	highest     uint16

	gaps map[uint16]*gapEntry
}

// NewReceiver creates a gap tracker for NACKs sent as sender -> media.
func NewReceiver(sender, media uint32) *Receiver {
	return &Receiver{
		sender: sender,
		media:  media,
		gaps:   make(map[uint16]*gapEntry),
	}
}

// Received records that seq has been delivered, opening gap entries for any
// sequence numbers skipped since the last delivered packet.
func (r *Receiver) Received(seq uint16) {
	delete(r.gaps, seq)

	if !r.initialized {
		r.initialized = true
		r.highest = seq
		return
	}

	if !rtp.SequenceGreaterThan(seq, r.highest) {
		return // old or duplicate packet, not a new gap boundary
	}

	for s := r.highest + 1; s != seq; s++ {
		r.gaps[s] = &gapEntry{}
	}
	r.highest = seq
}

// Due returns the list of missing sequence numbers that should be
// (re-)requested at now, as a ready-to-send NACK, along with the sequence
// numbers whose retries are exhausted (permanently lost, removed from
// tracking).
func (r *Receiver) Due(now time.Time) (request *rtp.NACK, permanentLoss []uint16) {
	var due []uint16
	for seq, g := range r.gaps {
		if g.retries >= MaxRetries {
			permanentLoss = append(permanentLoss, seq)
			delete(r.gaps, seq)
			continue
		}
		if g.nextRetryAt.IsZero() || !now.Before(g.nextRetryAt) {
			due = append(due, seq)
		}
	}
	if len(due) == 0 {
		return nil, permanentLoss
	}

	for _, seq := range due {
		g := r.gaps[seq]
		g.retries++
		g.nextRetryAt = now.Add(RetryInterval)
	}

	// NewNACK's PID/BLP packing assumes an ascending run.
	sort.Slice(due, func(i, j int) bool { return rtp.SequenceGreaterThan(due[j], due[i]) })
	return rtp.NewNACK(r.sender, r.media, due), permanentLoss
}

// Pending reports how many gaps are still being tracked.
func (r *Receiver) Pending() int {
	return len(r.gaps)
}
