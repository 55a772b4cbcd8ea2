// Package svc parses the VP9 payload descriptor and filters an inbound
// scalable-video stream down to a selected spatial/temporal layer.
package svc

import "errors"

// ErrMalformed is returned when a payload is too short to hold a valid VP9
// payload descriptor.
var ErrMalformed = errors.New("svc: malformed vp9 payload descriptor")

// Descriptor is the subset of the VP9 payload descriptor (see the WebRTC
// VP9 RTP payload format draft, §4.2) needed for SVC layer selection.
type Descriptor struct {
	PictureID      uint16
	HasPictureID   bool
	SpatialID      uint8
	TemporalID     uint8
	SwitchingPoint bool // layer switching point: safe to switch up here
	Beginning      bool // first packet of a frame
	End            bool // last packet of a frame
}

// ParseDescriptor extracts the leading VP9 payload descriptor from payload.
// It only decodes the flexible-mode-agnostic prefix needed for layer
// selection (I/P/L/F/B/E/V bits and optional picture-ID/layer-index
// octets); scalability-structure (SS) and reference-index extensions are
// skipped since layer selection doesn't need them.
func ParseDescriptor(payload []byte) (Descriptor, int, error) {
	if len(payload) < 1 {
		return Descriptor{}, 0, ErrMalformed
	}

	b0 := payload[0]
	i := b0&0x80 != 0 // picture ID present
	l := b0&0x20 != 0 // layer indices present
	f := b0&0x10 != 0 // flexible mode
	b := b0&0x08 != 0
	e := b0&0x04 != 0

	d := Descriptor{Beginning: b, End: e}

	off := 1
	if i {
		if off >= len(payload) {
			return Descriptor{}, 0, ErrMalformed
		}
		if payload[off]&0x80 != 0 { // M bit: 15-bit picture ID
			if off+1 >= len(payload) {
				return Descriptor{}, 0, ErrMalformed
			}
			d.PictureID = uint16(payload[off]&0x7f)<<8 | uint16(payload[off+1])
			off += 2
		} else {
			d.PictureID = uint16(payload[off] & 0x7f)
			off++
		}
		d.HasPictureID = true
	}

	if l {
		if off >= len(payload) {
			return Descriptor{}, 0, ErrMalformed
		}
		layerByte := payload[off]
		d.SpatialID = (layerByte >> 5) & 0x7
		d.TemporalID = (layerByte >> 1) & 0x7
		d.SwitchingPoint = layerByte&0x01 != 0
		off++
		if !f {
			// Non-flexible mode carries a one-byte TL0PICIDX after the
			// layer-index byte.
			if off >= len(payload) {
				return Descriptor{}, 0, ErrMalformed
			}
			off++
		}
	}

	return d, off, nil
}
