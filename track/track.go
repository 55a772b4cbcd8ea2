// Package track models a sink or source of media attached to a peer
// connection: a local track a sender forwards from, or a remote track a
// receiver synthesizes for an inbound m-section/simulcast layer.
package track

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/alohartc/rtp"
)

// Kind identifies the media kind carried by a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints, Settings, and Capabilities mirror (in shape, not full
// breadth) the W3C MediaStreamTrack constrainable-property contract: the
// negotiable ranges a caller may request, what's currently configured, and
// what the implementation can support. Only the subset this engine acts on
// is modeled; unknown properties are simply absent rather than erroring.
type Constraints struct {
	Width, Height        *Range
	FrameRate            *Range
	ScalabilityMode      string // e.g. "L3T3_KEY", parsed via package svc
}

type Settings struct {
	Width, Height int
	FrameRate     float64
}

type Capabilities struct {
	Width, Height Range
	FrameRate     Range
}

// Range is an inclusive [Min, Max] bound used by Constraints/Capabilities.
type Range struct {
	Min, Max float64
}

// Track represents one sink or source of RTP media.
type Track struct {
	kind  Kind
	id    string
	label string
	rid   string // simulcast RTP stream ID, empty for the primary layer

	enabled int32 // atomic bool
	muted   int32 // atomic bool

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}

	constraints Constraints
	settings    Settings

	subscribers []chan *rtp.Packet
}

// New creates a Track of the given kind, identified by id (stable across
// renegotiation) with a human-readable label.
func New(kind Kind, id, label string) *Track {
	return &Track{
		kind:    kind,
		id:      id,
		label:   label,
		enabled: 1,
		stopCh:  make(chan struct{}),
	}
}

// WithRID returns a copy of the receiver tagged with a simulcast RID; used
// by a receiver to synthesize a per-layer track the first time a RID is
// observed on an inbound stream.
func (t *Track) WithRID(rid string) *Track {
	clone := New(t.kind, t.id, t.label)
	clone.rid = rid
	return clone
}

func (t *Track) Kind() Kind  { return t.kind }
func (t *Track) ID() string  { return t.id }
func (t *Track) Label() string { return t.label }
func (t *Track) RID() string { return t.rid }

// Enabled reports whether Deliver currently forwards packets to subscribers
// (true) or drops them (false).
func (t *Track) Enabled() bool { return atomic.LoadInt32(&t.enabled) != 0 }

// SetEnabled toggles forwarding without tearing down the underlying stream.
func (t *Track) SetEnabled(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

// Muted reports whether the track is muted (no samples available from the
// source, distinct from application-level Enabled).
func (t *Track) Muted() bool { return atomic.LoadInt32(&t.muted) != 0 }

func (t *Track) SetMuted(muted bool) {
	v := int32(0)
	if muted {
		v = 1
	}
	atomic.StoreInt32(&t.muted, v)
}

// Stop permanently ends the track, closing its raw RTP subscriber channels.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stopCh)
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
}

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Constraints and Settings return the track's current constraints and
// applied settings; Track has no Capabilities accessor.
func (t *Track) Constraints() Constraints { return t.constraints }
func (t *Track) Settings() Settings       { return t.settings }

// ApplyConstraints records new constraints for this track; Settings is
// left unchanged. The caller (rtpsession/svc layer)
// is responsible for acting on them, e.g. by reconfiguring an svc.Filter's
// Selection.
func (t *Track) ApplyConstraints(c Constraints) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.constraints = c
}

// RawRTP subscribes to this track's raw (post-jitter-buffer) RTP stream for
// forwarding. The returned channel is closed when the track stops.
func (t *Track) RawRTP(buffer int) <-chan *rtp.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan *rtp.Packet, buffer)
	if t.stopped {
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// Deliver forwards pkt to every raw-RTP subscriber. Slow subscribers have
// the packet silently dropped for them rather than blocking the source.
func (t *Track) Deliver(pkt *rtp.Packet) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- pkt:
		default:
		}
	}
}
