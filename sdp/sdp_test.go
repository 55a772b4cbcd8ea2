package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigin(t *testing.T) {
	o, err := parseOrigin("username id 123 IN IP4 0.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "username", o.Username)
	assert.Equal(t, "id", o.SessionId)
	assert.EqualValues(t, 123, o.SessionVersion)
	assert.Equal(t, "IN", o.NetworkType)
	assert.Equal(t, "IP4", o.AddressType)
	assert.Equal(t, "0.0.0.0", o.Address)
}

func TestWriteOrigin(t *testing.T) {
	o, err := parseOrigin("username id 123 IN IP4 0.0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "username id 123 IN IP4 0.0.0.0", o.String())
}

const sampleOfferSDP = `v=0
o=- 6830938501909068252 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE sdparta_0
m=video 9 UDP/TLS/RTP/SAVPF 96 97
c=IN IP4 0.0.0.0
a=rtcp:9 IN IP4 0.0.0.0
a=ice-ufrag:n3E3
a=ice-pwd:auh7I7RsuhlZQgS2XYLStR05
a=ice-options:trickle
a=fingerprint:sha-256 05:67:ED:76:91:C6:58:F3:01:CE:F2:01:6A:04:10:53:C3:B3:9A:74:49:68:18:D5:60:D0:BC:25:1B:95:9C:50
a=setup:active
a=mid:sdparta_0
a=sendonly
a=rtcp-mux
a=rtpmap:96 H264/90000
a=rtcp-fb:96 goog-remb
a=rtcp-fb:96 nack
a=rtcp-fb:96 nack pli
a=fmtp:96 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f
a=rtpmap:97 rtx/90000
a=fmtp:97 apt=96
a=ssrc-group:FID 2541098696 3215547008
a=ssrc:2541098696 cname:cYhx/N8U7h7+3GW3
a=ssrc:3215547008 cname:cYhx/N8U7h7+3GW3
m=application 9 UDP/DTLS/SCTP webrtc-datachannel
a=mid:0
a=sctp-port:5000
`

func TestParseSession(t *testing.T) {
	s, err := ParseSession(sampleOfferSDP)
	require.NoError(t, err)

	assert.EqualValues(t, 0, s.Version)
	assert.Equal(t, "-", s.Name)
	assert.Equal(t, "BUNDLE sdparta_0", s.GetAttr("group"))

	o := s.Origin
	assert.Equal(t, "-", o.Username)
	assert.Equal(t, "6830938501909068252", o.SessionId)
	assert.EqualValues(t, 2, o.SessionVersion)

	require.Len(t, s.Media, 2, "video and application m-sections must not merge")
	m := s.Media[0]

	c := m.Connection
	require.NotNil(t, c)
	assert.Equal(t, "IN", c.NetworkType)
	assert.Equal(t, "IP4", c.AddressType)
	assert.Equal(t, "0.0.0.0", c.Address)

	assert.Equal(t, "sdparta_0", m.GetAttr("mid"))
	assert.True(t, m.HasAttr("rtcp-mux"))
	assert.True(t, m.HasAttr("sendonly"))

	rtpmaps := m.GetAttrs("rtpmap")
	assert.Equal(t, []string{"96 H264/90000", "97 rtx/90000"}, rtpmaps)

	dc := s.Media[1]
	assert.Equal(t, "application", dc.Type)
	assert.Equal(t, "0", dc.GetAttr("mid"))
	assert.Equal(t, "5000", dc.GetAttr("sctp-port"))
}

func TestWriteSession(t *testing.T) {
	s := Session{
		Version: 0,
		Origin: Origin{
			Username:       "fred",
			SessionId:      "123",
			SessionVersion: 9,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "127.0.0.1",
		},
		Name: "mysession",
		Time: []Time{{}},
	}

	assert.Equal(t,
		"v=0\r\no=fred 123 9 IN IP4 127.0.0.1\r\ns=mysession\r\nt=0 0\r\n",
		s.String())
}

func TestParseSessionRoundTrip(t *testing.T) {
	s, err := ParseSession(sampleOfferSDP)
	require.NoError(t, err)

	reparsed, err := ParseSession(s.String())
	require.NoError(t, err)
	assert.Equal(t, s.String(), reparsed.String())
}

func TestGetAttrsReturnsEmptyForMissingKey(t *testing.T) {
	var m Media
	assert.Empty(t, m.GetAttrs("rtpmap"))
	assert.Equal(t, "", m.GetAttr("rtpmap"))
	assert.False(t, m.HasAttr("rtcp-mux"))
}
