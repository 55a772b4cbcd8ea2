package sdp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Codec describes one negotiable RTP payload type: its rtpmap, optional
// fmtp parameters, and the rtcp-fb lines advertised for it. The engine
// treats fmtp as an opaque string on the wire (codec compression is an
// external service's concern) but still offers a typed helper for H.264
// fmtp (ParseH264FormatParameters); payload-type selection does not use
// it.
type Codec struct {
	PayloadType  uint8
	Name         string // e.g. "opus", "VP8", "VP9", "H264", "rtx", "red"
	ClockRate    uint32
	Channels     int      // 0 omitted (video / mono audio)
	FMTP         string   // raw fmtp value, "" to omit the line
	RTCPFeedback []string // e.g. "nack", "nack pli", "goog-remb", "transport-cc", "ccm fir"

	// RTXPayloadType is the PT of this codec's RTX (RFC 4588) shadow
	// stream, or 0 if none. The shadow stream is itself represented as a
	// second Codec{Name:"rtx", FMTP:"apt=<PayloadType>"} in the same
	// MediaDescription.Codecs list.
	RTXPayloadType uint8
}

// RTPMap renders the rtpmap value (the part after "a=rtpmap:<pt> ").
func (c Codec) RTPMap() string {
	if c.Channels > 0 {
		return fmt.Sprintf("%s/%d/%d", c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%s/%d", c.Name, c.ClockRate)
}

// ParseRTPMap parses the value of an a=rtpmap line ("<pt> <name>/<rate>
// [/<channels>]") into a Codec, leaving FMTP/RTCPFeedback for the caller
// to fill in from the sibling fmtp/rtcp-fb lines.
func ParseRTPMap(value string) (Codec, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return Codec{}, fmt.Errorf("malformed rtpmap %q", value)
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return Codec{}, fmt.Errorf("malformed rtpmap payload type %q", fields[0])
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return Codec{}, fmt.Errorf("malformed rtpmap encoding %q", fields[1])
	}
	rate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Codec{}, fmt.Errorf("malformed rtpmap clock rate %q", parts[1])
	}
	c := Codec{
		PayloadType: uint8(pt),
		Name:        parts[0],
		ClockRate:   uint32(rate),
	}
	if len(parts) == 3 {
		c.Channels, _ = strconv.Atoi(parts[2])
	}
	return c, nil
}

// CodecsFromMedia reassembles the list of negotiated Codecs for a parsed
// Media by joining its rtpmap/fmtp/rtcp-fb attributes on payload type, and
// folds each rtx shadow stream's apt= mapping back onto the codec it
// retransmits (RTXPayloadType).
func CodecsFromMedia(m *Media) ([]Codec, error) {
	codecs := make(map[uint8]*Codec)
	order := make([]uint8, 0, len(m.GetAttrs("rtpmap")))

	for _, v := range m.GetAttrs("rtpmap") {
		c, err := ParseRTPMap(v)
		if err != nil {
			return nil, err
		}
		codecs[c.PayloadType] = &c
		order = append(order, c.PayloadType)
	}
	for _, v := range m.GetAttrs("fmtp") {
		fields := strings.SplitN(v, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		c, ok := codecs[uint8(pt)]
		if !ok {
			continue
		}
		c.FMTP = fields[1]
		if c.Name == "rtx" {
			if apt, ok := ParseFMTPValue(c.FMTP, "apt"); ok {
				if aptN, err := strconv.Atoi(apt); err == nil {
					if orig, ok := codecs[uint8(aptN)]; ok {
						orig.RTXPayloadType = c.PayloadType
					}
				}
			}
		}
	}
	for _, v := range m.GetAttrs("rtcp-fb") {
		fields := strings.SplitN(v, " ", 2)
		if len(fields) == 0 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		c, ok := codecs[uint8(pt)]
		if !ok {
			continue
		}
		if len(fields) == 2 {
			c.RTCPFeedback = append(c.RTCPFeedback, fields[1])
		}
	}

	// RTX shadow streams fold into the codec they retransmit via
	// RTXPayloadType above; they don't get their own Codec entry.
	out := make([]Codec, 0, len(order))
	for _, pt := range order {
		if codecs[pt].Name == "rtx" {
			continue
		}
		out = append(out, *codecs[pt])
	}
	return out, nil
}

// ParseFMTPValue extracts a single "key=value" entry from a ";"-joined
// fmtp string, as used by apt= (RTX) and most codec-specific parameters.
func ParseFMTPValue(fmtp, key string) (string, bool) {
	for _, param := range strings.Split(fmtp, ";") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 && kv[0] == key {
			return kv[1], true
		}
	}
	return "", false
}

// H264FormatParameters models the fmtp parameters this engine round-trips
// for H.264 (RFC 6184): negotiating a mutually supported profile without
// touching the bitstream itself, which stays an external codec's concern.
type H264FormatParameters struct {
	LevelAsymmetryAllowed bool
	PacketizationMode     int
	ProfileLevelID        int
	SpropParameterSets    [][]byte
}

func (fmtp H264FormatParameters) Marshal() string {
	parts := []string{
		fmt.Sprintf("profile-level-id=%06x", fmtp.ProfileLevelID),
	}
	if fmtp.LevelAsymmetryAllowed {
		parts = append(parts, "level-asymmetry-allowed=1")
	}
	if fmtp.PacketizationMode > 0 {
		parts = append(parts, fmt.Sprintf("packetization-mode=%d", fmtp.PacketizationMode))
	}
	if len(fmtp.SpropParameterSets) > 0 {
		encoded := make([]string, len(fmtp.SpropParameterSets))
		for i, ps := range fmtp.SpropParameterSets {
			encoded[i] = base64.StdEncoding.EncodeToString(ps)
		}
		parts = append(parts, fmt.Sprintf("sprop-parameter-sets=%s", strings.Join(encoded, ",")))
	}
	return strings.Join(parts, ";")
}

var errMalformedFormatParameters = errors.New("sdp: malformed H.264 format parameters")

func ParseH264FormatParameters(fmtp string) (H264FormatParameters, error) {
	var p H264FormatParameters
	for _, param := range strings.Split(fmtp, ";") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) < 2 {
			return p, errMalformedFormatParameters
		}
		switch kv[0] {
		case "level-asymmetry-allowed":
			switch kv[1] {
			case "0":
				p.LevelAsymmetryAllowed = false
			case "1":
				p.LevelAsymmetryAllowed = true
			default:
				return p, errMalformedFormatParameters
			}
		case "packetization-mode":
			n, err := strconv.Atoi(kv[1])
			if err != nil || n < 0 || n > 2 {
				return p, errMalformedFormatParameters
			}
			p.PacketizationMode = n
		case "profile-level-id":
			if _, err := fmt.Sscanf(kv[1], "%06x", &p.ProfileLevelID); err != nil {
				return p, errMalformedFormatParameters
			}
		case "sprop-parameter-sets":
			for _, e := range strings.Split(kv[1], ",") {
				ps, err := base64.StdEncoding.DecodeString(e)
				if err != nil {
					return p, errMalformedFormatParameters
				}
				p.SpropParameterSets = append(p.SpropParameterSets, ps)
			}
		}
	}
	return p, nil
}
