// Package jitter reorders and age-gates an inbound RTP stream for one
// receive SSRC, smoothing network reordering before packets reach a
// decoder or forwarder.
package jitter

import (
	"sort"
	"sync"
)

// Packet is the minimal shape the buffer needs from an RTP packet; callers
// pass their own concrete packet type satisfying this.
type Packet interface {
	Seq() uint16
	Timestamp() uint32
}

// Loss reports a run of skipped sequence numbers. From is the first one
// skipped; To is the sequence number of the buffered packet whose timeout
// ended the wait, which is itself emitted, so the skipped numbers are From
// through To-1.
type Loss struct {
	From, To uint16
}

// SequenceGreaterThan is RFC 1982 serial-number comparison over 16 bits.
func SequenceGreaterThan(s1, s2 uint16) bool {
	return (s1 > s2 && s1-s2 < 1<<15) || (s1 < s2 && s2-s1 > 1<<15)
}

// Buffer reorders one stream's packets by sequence number, holding
// out-of-order arrivals until either the gap closes or latencyMs elapses,
// at which point the gap is reported as a Loss and buffering resumes past
// it.
type Buffer struct {
	mu sync.Mutex

	clockRate int
	latencyMs int
	capacity  int

	initialized bool
	presentSeq  uint16 // last sequence number emitted

	pending map[uint16]Packet
}

// New creates a Buffer for a stream with the given RTP clock rate (Hz),
// maximum reorder latency in milliseconds, and maximum number of
// out-of-order packets held at once.
func New(clockRate, latencyMs, capacity int) *Buffer {
	return &Buffer{
		clockRate: clockRate,
		latencyMs: latencyMs,
		capacity:  capacity,
		pending:   make(map[uint16]Packet),
	}
}

// Push admits pkt into the buffer and returns any packets (and losses) now
// ready for emission, in order. currentTs is the receiver's current RTP
// timestamp clock, used to age out stale buffered entries.
func (b *Buffer) Push(pkt Packet, currentTs uint32) (emit []Packet, losses []Loss) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := pkt.Seq()

	if !b.initialized {
		b.initialized = true
		b.presentSeq = seq - 1
	}

	if SequenceGreaterThan(b.presentSeq, seq) {
		return nil, nil // stale: already passed present_seq, drop
	}

	if seq == b.presentSeq {
		return nil, nil // duplicate of the last emitted packet
	}

	b.pending[seq] = pkt
	if len(b.pending) > b.capacity {
		b.dropNewest()
	}

	emit = b.drainContiguous()
	timedOut := b.ageOut(currentTs)
	if timedOut != nil {
		losses = append(losses, *timedOut)
		emit = append(emit, b.drainContiguous()...)
	}
	return emit, losses
}

// drainContiguous pops and returns, in order, every buffered packet
// starting at present_seq+1 with no gap.
func (b *Buffer) drainContiguous() []Packet {
	var out []Packet
	for {
		next := b.presentSeq + 1
		p, ok := b.pending[next]
		if !ok {
			return out
		}
		delete(b.pending, next)
		b.presentSeq = next
		out = append(out, p)
	}
}

// ageOut finds the oldest buffered packet whose wait has exceeded
// latencyMs; if found, it advances present_seq to just before that
// packet's sequence number (reporting the skipped range) so the next
// drainContiguous call can proceed past the gap.
func (b *Buffer) ageOut(currentTs uint32) *Loss {
	if len(b.pending) == 0 || b.clockRate == 0 {
		return nil
	}

	seqs := make([]uint16, 0, len(b.pending))
	for s := range b.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return SequenceGreaterThan(seqs[j], seqs[i]) })

	oldest := seqs[0]
	pkt := b.pending[oldest]
	ageMs := int64(currentTs-pkt.Timestamp()) * 1000 / int64(b.clockRate)
	if ageMs <= int64(b.latencyMs) {
		return nil
	}

	// Per spec, the reported range is (present_seq+1 .. first_timed_out_seq)
	// inclusive of the timed-out packet's own sequence number, even though
	// that packet itself is about to be emitted, not lost.
	from := b.presentSeq + 1
	to := oldest
	b.presentSeq = oldest - 1
	if from == to {
		return nil
	}
	return &Loss{From: from, To: to}
}

// dropNewest evicts the highest buffered sequence number to enforce the
// capacity cap; the oldest data is kept since it is closer to being
// deliverable.
func (b *Buffer) dropNewest() {
	var newest uint16
	first := true
	for s := range b.pending {
		if first || SequenceGreaterThan(s, newest) {
			newest = s
			first = false
		}
	}
	delete(b.pending, newest)
}

// Flush emits all remaining buffered packets in sequence order, for use at
// end of stream.
func (b *Buffer) Flush() []Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	seqs := make([]uint16, 0, len(b.pending))
	for s := range b.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return SequenceGreaterThan(seqs[j], seqs[i]) })

	out := make([]Packet, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, b.pending[s])
		delete(b.pending, s)
		b.presentSeq = s
	}
	return out
}
