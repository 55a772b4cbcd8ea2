package svc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScalabilityMode(t *testing.T) {
	m, err := ParseScalabilityMode("L3T3_KEY")
	require.NoError(t, err)
	assert.Equal(t, ScalabilityMode{SpatialLayers: 3, TemporalLayers: 3, KeyFrameOnly: true}, m)
	assert.Equal(t, "L3T3_KEY", m.String())

	m, err = ParseScalabilityMode("L1T1")
	require.NoError(t, err)
	assert.Equal(t, ScalabilityMode{SpatialLayers: 1, TemporalLayers: 1}, m)

	_, err = ParseScalabilityMode("garbage")
	assert.Error(t, err)
}

func keyframe(spatial, temporal uint8) Descriptor {
	return Descriptor{Beginning: true, SpatialID: spatial, TemporalID: temporal, SwitchingPoint: spatial == 0}
}

func nonKeyFrame(spatial, temporal uint8) Descriptor {
	return Descriptor{Beginning: true, SpatialID: spatial, TemporalID: temporal}
}

func TestFilterDropsAboveSelection(t *testing.T) {
	f := NewFilter(Selection{MaxSpatial: 1, MaxTemporal: 1})

	assert.True(t, f.Process(nonKeyFrame(0, 0)))
	assert.True(t, f.Process(nonKeyFrame(1, 1)))
	assert.False(t, f.Process(nonKeyFrame(2, 0)))
	assert.False(t, f.Process(nonKeyFrame(0, 2)))

	assert.Equal(t, uint64(4), f.Stats.Received)
	assert.Equal(t, uint64(2), f.Stats.Forwarded)
	assert.Equal(t, uint64(2), f.Stats.Dropped)
}

func TestFilterWideningAppliesImmediately(t *testing.T) {
	f := NewFilter(Selection{MaxSpatial: 0, MaxTemporal: 0})
	assert.False(t, f.Process(nonKeyFrame(1, 0)))

	f.SetSelection(Selection{MaxSpatial: 2, MaxTemporal: 2})
	assert.True(t, f.Process(nonKeyFrame(1, 0))) // no keyframe needed to widen
}

func TestFilterNarrowingWaitsForKeyframe(t *testing.T) {
	f := NewFilter(Selection{MaxSpatial: 2, MaxTemporal: 2})
	f.SetSelection(Selection{MaxSpatial: 0, MaxTemporal: 0})

	// Old selection still in effect until a keyframe arrives.
	assert.True(t, f.Process(nonKeyFrame(1, 1)))

	// A keyframe boundary commits the pending narrower selection.
	assert.True(t, f.Process(keyframe(0, 0)))
	assert.False(t, f.Process(nonKeyFrame(1, 1)))
}
