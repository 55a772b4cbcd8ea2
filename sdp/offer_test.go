package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opusCodec() Codec {
	return Codec{
		PayloadType: 111,
		Name:        "opus",
		ClockRate:   48000,
		Channels:    2,
		FMTP:        "minptime=10;useinbandfec=1",
	}
}

// Offerer round-trip: audio recv-only transceiver on Opus PT 111.
func TestBuildOfferAudioRecvOnly(t *testing.T) {
	p := OfferParams{
		Username:  "alohartc",
		SessionID: 42,
		ICE:       ICEParams{Ufrag: "abcd", Password: "0123456789abcdef01234567"},
		Fingerprint: "sha-256 " + strings.Repeat("AB:", 31) + "AB",
		Media: []MediaDescription{
			{
				MID:       "1",
				Kind:      "audio",
				Direction: DirectionRecvOnly,
				Codecs:    []Codec{opusCodec()},
			},
		},
		BundlePolicy: BundlePolicyMaxBundle,
		DataChannel:  true,
	}

	s := BuildOffer(p)
	text := s.String()

	assert.Contains(t, text, "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n")
	assert.Contains(t, text, "a=mid:1\r\n")
	assert.Contains(t, text, "a=extmap:1 "+SDESMidExtensionURI+"\r\n")
	assert.Contains(t, text, "a=recvonly\r\n")
	assert.Contains(t, text, "a=rtcp-mux\r\n")
	assert.Contains(t, text, "a=setup:actpass\r\n")
	assert.Contains(t, text, "a=group:BUNDLE 1 0\r\n")

	require.Len(t, s.Media, 2)
	assert.Equal(t, "1", s.Media[0].GetAttr("mid"))
	assert.Equal(t, "0", s.Media[1].GetAttr("mid"))
	assert.Equal(t, "application", s.Media[1].Type)
}

func TestBuildOfferBundleDisabledOmitsGroup(t *testing.T) {
	p := OfferParams{
		Username:     "alohartc",
		SessionID:    1,
		ICE:          ICEParams{Ufrag: "a", Password: "b"},
		Fingerprint:  "sha-256 AA",
		BundlePolicy: BundlePolicyDisable,
		Media: []MediaDescription{
			{MID: "1", Kind: "audio", Direction: DirectionSendRecv, Codecs: []Codec{opusCodec()}},
		},
	}
	s := BuildOffer(p)
	assert.Equal(t, "", s.GetAttr("group"))
}

// Answerer RTX mirror: remote offer carries video PT 96 with RTX PT 97
// (apt=96) and an FID ssrc-group; the answer must mirror both.
func TestBuildAnswerMirrorsRemoteRTX(t *testing.T) {
	remoteOffer := `v=0
o=- 1 1 IN IP4 0.0.0.0
s=-
t=0 0
a=group:BUNDLE 1
m=video 9 UDP/TLS/RTP/SAVPF 96 97
c=IN IP4 0.0.0.0
a=ice-ufrag:remu
a=ice-pwd:remotepassword1234567890
a=fingerprint:sha-256 00:11
a=setup:actpass
a=mid:1
a=sendrecv
a=rtcp-mux
a=rtpmap:96 VP8/90000
a=rtcp-fb:96 nack
a=rtcp-fb:96 nack pli
a=rtpmap:97 rtx/90000
a=fmtp:97 apt=96
a=ssrc-group:FID 1000 2000
a=ssrc:1000 cname:remote
a=ssrc:2000 cname:remote
`
	remote, err := ParseSession(remoteOffer)
	require.NoError(t, err)

	remoteMD, err := MediaDescriptionFromMedia(&remote.Media[0])
	require.NoError(t, err)
	require.Len(t, remoteMD.Codecs, 1, "the rtx shadow stream folds into the VP8 codec's RTXPayloadType")
	assert.EqualValues(t, 97, remoteMD.Codecs[0].RTXPayloadType)
	assert.EqualValues(t, 1000, remoteMD.SSRC)
	assert.EqualValues(t, 2000, remoteMD.RTXSSRC)

	localMD := remoteMD
	localMD.Direction = remoteMD.Direction.Reverse()
	localMD.SSRC = 5000
	localMD.RTXSSRC = 6000
	localMD.CNAME = "local"

	setup := AnswererSetupRole(remote.Media[0].GetAttr("setup"))
	assert.Equal(t, SetupActive, setup, "actpass offer means we act as DTLS client")

	answer := BuildAnswer(&remote, AnswerParams{
		Username:     "alohartc",
		SessionID:    2,
		ICE:          ICEParams{Ufrag: "locu", Password: "localpassword1234567890"},
		Fingerprint:  "sha-256 22:33",
		Setup:        setup,
		Media:        []MediaDescription{localMD},
		BundlePolicy: BundlePolicyMaxBundle,
	})
	text := answer.String()

	assert.Contains(t, text, "m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n")
	assert.Contains(t, text, "a=rtpmap:97 rtx/90000\r\n")
	assert.Contains(t, text, "a=fmtp:97 apt=96\r\n")
	assert.Contains(t, text, "a=ssrc-group:FID 5000 6000\r\n")
	assert.Contains(t, text, "a=ssrc:5000 cname:local\r\n")
	assert.Contains(t, text, "a=ssrc:6000 cname:local\r\n")
	assert.Contains(t, text, "a=setup:active\r\n")
}

func TestAnswererSetupRoleRespondsToActiveOffer(t *testing.T) {
	assert.Equal(t, SetupPassive, AnswererSetupRole("active"))
	assert.Equal(t, SetupActive, AnswererSetupRole("passive"))
	assert.Equal(t, SetupActive, AnswererSetupRole("actpass"))
}

func TestDirectionReverse(t *testing.T) {
	assert.Equal(t, DirectionRecvOnly, DirectionSendOnly.Reverse())
	assert.Equal(t, DirectionSendOnly, DirectionRecvOnly.Reverse())
	assert.Equal(t, DirectionSendRecv, DirectionSendRecv.Reverse())
	assert.Equal(t, DirectionInactive, DirectionInactive.Reverse())
}

func TestParseCandidateRoundTrip(t *testing.T) {
	line := "3479885519 1 udp 2122260223 192.168.1.5 54321 typ host generation 0"
	c, err := ParseCandidate(line)
	require.NoError(t, err)
	assert.Equal(t, "3479885519", c.Foundation)
	assert.Equal(t, 1, c.Component)
	assert.Equal(t, "udp", c.Transport)
	assert.EqualValues(t, 2122260223, c.Priority)
	assert.Equal(t, "192.168.1.5", c.IP)
	assert.Equal(t, 54321, c.Port)
	assert.Equal(t, "host", c.Type)
	assert.Equal(t, line, c.String())
}

func TestParseCandidateWithRelay(t *testing.T) {
	line := "842163049 1 udp 16777215 10.0.0.1 5000 typ relay raddr 203.0.113.1 rport 9000 generation 0"
	c, err := ParseCandidate(line)
	require.NoError(t, err)
	assert.Equal(t, "relay", c.Type)
	assert.Equal(t, "203.0.113.1", c.RelatedIP)
	assert.Equal(t, 9000, c.RelatedPort)
	assert.Equal(t, line, c.String())
}

func TestCodecsFromMediaH264FormatParameters(t *testing.T) {
	m := Media{
		Attributes: []Attribute{
			{"rtpmap", "100 H264/90000"},
			{"fmtp", "100 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f"},
		},
	}
	codecs, err := CodecsFromMedia(&m)
	require.NoError(t, err)
	require.Len(t, codecs, 1)

	fmtp, err := ParseH264FormatParameters(codecs[0].FMTP)
	require.NoError(t, err)
	assert.True(t, fmtp.LevelAsymmetryAllowed)
	assert.Equal(t, 1, fmtp.PacketizationMode)
	assert.Equal(t, 0x42001f, fmtp.ProfileLevelID)

	reparsed, err := ParseH264FormatParameters(fmtp.Marshal())
	require.NoError(t, err)
	assert.Equal(t, fmtp, reparsed, "Marshal need not preserve field order, only round-trip the values")
}
