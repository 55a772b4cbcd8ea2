package alohartc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohartc/sdp"
	"github.com/lanikai/alohartc/track"
)

func newTestPeerConnection(t *testing.T) *PeerConnection {
	t.Helper()
	pc, err := NewPeerConnection(Config{}, Callbacks{})
	require.NoError(t, err)
	return pc
}

func TestNewPeerConnectionStartsNew(t *testing.T) {
	pc := newTestPeerConnection(t)
	assert.Equal(t, string(PeerConnectionStateNew), pc.connFSM.Current())
	assert.Equal(t, string(ICEConnectionStateNew), pc.iceFSM.Current())
	assert.NotEmpty(t, pc.fingerprint)
	assert.True(t, strings.HasPrefix(pc.fingerprint, "sha-256 "))
}

func TestCreateOfferIncludesEveryTransceiverAndDataChannel(t *testing.T) {
	pc := newTestPeerConnection(t)
	pc.AddTrack(track.KindAudio, track.New(track.KindAudio, "a", "a"), []sdp.Codec{
		{Name: "opus", ClockRate: 48000, Channels: 2},
	})
	pc.AddTrack(track.KindVideo, track.New(track.KindVideo, "v", "v"), []sdp.Codec{vp8Codec()})
	pc.CreateDataChannel("control")

	offerText, err := pc.CreateOffer()
	require.NoError(t, err)

	assert.Contains(t, offerText, "m=audio")
	assert.Contains(t, offerText, "m=video")
	assert.Contains(t, offerText, "m=application")
	assert.Contains(t, offerText, "a=setup:actpass")
	assert.Contains(t, offerText, "a=group:BUNDLE")

	require.NotNil(t, pc.localDesc)
	assert.Len(t, pc.localDesc.Media, 3)
}

func TestCreateAnswerRequiresRemoteDescription(t *testing.T) {
	pc := newTestPeerConnection(t)
	_, err := pc.CreateAnswer()
	assert.ErrorIs(t, err, ErrInvalidState)
}

// buildRemoteOffer renders a minimal single-m-section offer as if from a
// second PeerConnection, for SetRemoteDescription tests that don't need a
// live transport.
func buildRemoteOffer(t *testing.T, mid string, codec sdp.Codec) string {
	t.Helper()
	s := sdp.BuildOffer(sdp.OfferParams{
		Username:  "peer",
		SessionID: 7,
		ICE:       sdp.ICEParams{Ufrag: "rufr", Password: "rrrrrrrrrrrrrrrrrrrrrrrr"},
		Fingerprint: "sha-256 " + strings.Repeat("AB:", 31) + "AB",
		Media: []sdp.MediaDescription{
			{MID: mid, Kind: "video", Direction: sdp.DirectionSendRecv, Codecs: []sdp.Codec{codec}, SSRC: 0xdeadbeef, CNAME: "remote-cname"},
		},
		BundlePolicy: sdp.BundlePolicyMaxBundle,
	})
	return s.String()
}

func TestSetRemoteDescriptionSynthesizesTransceiverAndFiresOnTrack(t *testing.T) {
	var gotTrack *Transceiver
	pc, err := NewPeerConnection(Config{}, Callbacks{
		OnTrack: func(tr *Transceiver) { gotTrack = tr },
	})
	require.NoError(t, err)

	offer := buildRemoteOffer(t, "0", vp8Codec())

	// SetRemoteDescription kicks off ICE gathering/connect in the
	// background (pc.connect); there are no candidates configured so it
	// will simply fail asynchronously without a transport ever forming.
	// The synchronous bookkeeping under test (transceiver synthesis,
	// OnTrack, ICE credential registration) all happens before that
	// goroutine is spawned.
	err = pc.SetRemoteDescription(context.Background(), offer)
	require.NoError(t, err)

	require.NotNil(t, gotTrack)
	assert.Equal(t, "0", gotTrack.mid)
	assert.Equal(t, track.KindVideo, gotTrack.kind)
	assert.EqualValues(t, 0xdeadbeef, gotTrack.remoteSSRC)
	require.NotNil(t, gotTrack.remote)
	assert.Equal(t, "remote-cname", gotTrack.remote.ID())
}

func TestGetStatsSkipsUnwiredTransceivers(t *testing.T) {
	pc := newTestPeerConnection(t)
	pc.AddTrack(track.KindAudio, track.New(track.KindAudio, "a", "a"), []sdp.Codec{
		{Name: "opus", ClockRate: 48000},
	})

	stats := pc.GetStats()
	assert.Empty(t, stats, "no transport established yet, no session to report on")
}

func TestCodecSupportsNACK(t *testing.T) {
	assert.True(t, codecSupportsNACK(sdp.Codec{RTCPFeedback: []string{"nack"}}))
	assert.True(t, codecSupportsNACK(sdp.Codec{RTCPFeedback: []string{"nack pli"}}))
	assert.False(t, codecSupportsNACK(sdp.Codec{RTCPFeedback: []string{"goog-remb"}}))
	assert.False(t, codecSupportsNACK(sdp.Codec{}))
}

func TestBundleGroupMids(t *testing.T) {
	s, err := sdp.ParseSession(buildRemoteOffer(t, "0", vp8Codec()))
	require.NoError(t, err)
	mids := bundleGroupMids(&s)
	assert.Equal(t, []string{"0"}, mids)
}

func TestRandomHelpersProduceDistinctValues(t *testing.T) {
	assert.NotEqual(t, randomSSRC(), randomSSRC())
	assert.NotEqual(t, randomSessionID(), randomSessionID())
	assert.NotEqual(t, randomICEString(4), randomICEString(4))
	assert.Len(t, randomICEString(4), 4)
	assert.Len(t, randomICEString(22), 22)
}
