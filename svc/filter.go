package svc

import (
	"fmt"
	"strconv"
	"strings"
)

// ScalabilityMode describes a parsed `LxTy[_KEY]` SDP scalability-mode
// string (e.g. "L3T3_KEY").
type ScalabilityMode struct {
	SpatialLayers  int
	TemporalLayers int
	KeyFrameOnly   bool // "_KEY" suffix: spatial layers are all independently decodable
}

// ParseScalabilityMode parses strings of the form "L<n>T<m>" or
// "L<n>T<m>_KEY".
func ParseScalabilityMode(s string) (ScalabilityMode, error) {
	keyOnly := false
	if strings.HasSuffix(s, "_KEY") {
		keyOnly = true
		s = strings.TrimSuffix(s, "_KEY")
	}
	var l, t int
	if _, err := fmt.Sscanf(s, "L%dT%d", &l, &t); err != nil {
		return ScalabilityMode{}, fmt.Errorf("svc: invalid scalability mode %q: %w", s, err)
	}
	if l < 1 || t < 1 {
		return ScalabilityMode{}, fmt.Errorf("svc: invalid scalability mode %q", s)
	}
	return ScalabilityMode{SpatialLayers: l, TemporalLayers: t, KeyFrameOnly: keyOnly}, nil
}

func (m ScalabilityMode) String() string {
	suffix := ""
	if m.KeyFrameOnly {
		suffix = "_KEY"
	}
	return "L" + strconv.Itoa(m.SpatialLayers) + "T" + strconv.Itoa(m.TemporalLayers) + suffix
}

// Stats tracks per-stream packet accounting across the filter's lifetime.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Dropped   uint64
}

// Selection is the target layer bound: packets whose spatial or temporal ID
// exceeds either field are dropped.
type Selection struct {
	MaxSpatial  uint8
	MaxTemporal uint8
}

// Filter selects a spatial/temporal layer subset from a VP9 SVC stream.
// Narrowing (reducing MaxSpatial/MaxTemporal) waits for the next keyframe
// before taking effect, so a decoder mid-GOP never sees a layer it can't
// reconstruct; widening applies immediately since no decoder state depends
// on layers it was already receiving.
type Filter struct {
	current Selection
	pending *Selection

	Stats Stats
}

// NewFilter creates a Filter starting at sel.
func NewFilter(sel Selection) *Filter {
	return &Filter{current: sel}
}

// SetSelection requests a new target selection. If it narrows either bound,
// the change is deferred until the next keyframe-bearing packet is seen by
// Process; if it only widens, it takes effect immediately.
func (f *Filter) SetSelection(sel Selection) {
	if sel.MaxSpatial >= f.current.MaxSpatial && sel.MaxTemporal >= f.current.MaxTemporal {
		f.current = sel
		f.pending = nil
		return
	}
	pending := sel
	f.pending = &pending
}

// isKeyFrame reports whether d begins a frame on spatial layer 0 with no
// inter-picture dependency — approximated here as the beginning of a frame
// at spatial ID 0 that is also a switching point, which is what a decoder
// needs to safely narrow down to fewer layers.
func isKeyFrame(d Descriptor) bool {
	return d.Beginning && d.SpatialID == 0 && d.SwitchingPoint
}

// Process decides whether to forward or drop one packet given its parsed
// VP9 descriptor, applying any pending narrowing selection once a keyframe
// boundary is seen.
func (f *Filter) Process(d Descriptor) (forward bool) {
	f.Stats.Received++

	if f.pending != nil && isKeyFrame(d) {
		f.current = *f.pending
		f.pending = nil
	}

	if d.SpatialID > f.current.MaxSpatial || d.TemporalID > f.current.MaxTemporal {
		f.Stats.Dropped++
		return false
	}

	f.Stats.Forwarded++
	return true
}
