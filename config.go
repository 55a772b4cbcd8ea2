package alohartc

import "github.com/lanikai/alohartc/sdp"

// ICEServer describes one STUN/TURN server to offer the ICE agent. TURN
// relay is out of scope (spec: no TURN server), so Username/Credential are
// accepted but unused; they're kept on the struct so a config literal built
// against a future TURN-capable agent doesn't need to change shape.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// ICETransportPolicy mirrors the W3C RTCIceTransportPolicy: "all" permits
// every candidate type, "relay" restricts to relay candidates only.
// PeerConnection does not consult this field: every gathered candidate is
// used whichever value is set, and no relay candidates are gathered (no
// TURN client).
type ICETransportPolicy string

const (
	ICETransportPolicyAll   ICETransportPolicy = "all"
	ICETransportPolicyRelay ICETransportPolicy = "relay"
)

// Config collects the construction-time choices a PeerConnection can't
// renegotiate mid-call: ICE servers/policy, bundle policy, and the codec
// preferences offered for each media kind. It carries negotiation policy
// only, not concrete audio/video device sources; media flows in and out
// through Track, attached via AddTrack/AddTransceiver.
type Config struct {
	ICEServers         []ICEServer
	ICETransportPolicy ICETransportPolicy
	BundlePolicy       sdp.BundlePolicy

	// AudioCodecs/VideoCodecs hold codec preferences per media kind
	// (codecsFor picks the list for a kind). PeerConnection does not read
	// them: AddTrack and AddTransceiver take their codecs as an argument,
	// and newTransceiver renumbers PayloadType from 96 within each
	// transceiver, so only Name/ClockRate/Channels/FMTP/RTCPFeedback matter
	// on a codec passed there.
	AudioCodecs []sdp.Codec
	VideoCodecs []sdp.Codec
}

func (c Config) bundlePolicy() sdp.BundlePolicy {
	if c.BundlePolicy == "" {
		return sdp.BundlePolicyMaxBundle
	}
	return c.BundlePolicy
}

func (c Config) codecsFor(kind string) []sdp.Codec {
	if kind == "audio" {
		return c.AudioCodecs
	}
	return c.VideoCodecs
}
