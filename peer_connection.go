package alohartc

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/lanikai/alohartc/dtls"
	"github.com/lanikai/alohartc/internal/ice"
	"github.com/lanikai/alohartc/internal/logging"
	"github.com/lanikai/alohartc/internal/metrics"
	"github.com/lanikai/alohartc/jitter"
	"github.com/lanikai/alohartc/nack"
	"github.com/lanikai/alohartc/rtp"
	"github.com/lanikai/alohartc/rtpsession"
	"github.com/lanikai/alohartc/sdp"
	"github.com/lanikai/alohartc/srtp"
	"github.com/lanikai/alohartc/svc"
	"github.com/lanikai/alohartc/track"
	"github.com/lanikai/alohartc/transport"
)

// jitterLatencyMs bounds how long the jitter buffer waits for an
// out-of-order packet before declaring the gap lost, per transceiver.
const jitterLatencyMs = 100

// jitterCapacity caps how many out-of-order packets the jitter buffer holds
// at once before evicting the newest.
const jitterCapacity = 64

// nackPollInterval is how often a transceiver's NACK receiver is polled for
// gaps due for (re)request.
const nackPollInterval = 20 * time.Millisecond

var pcLog = logging.DefaultLogger.WithTag("alohartc")

// PeerConnectionState mirrors the W3C RTCPeerConnectionState values this
// engine reports via Callbacks.OnConnectionStateChange.
type PeerConnectionState string

const (
	PeerConnectionStateNew          PeerConnectionState = "new"
	PeerConnectionStateConnecting   PeerConnectionState = "connecting"
	PeerConnectionStateConnected    PeerConnectionState = "connected"
	PeerConnectionStateDisconnected PeerConnectionState = "disconnected"
	PeerConnectionStateFailed       PeerConnectionState = "failed"
	PeerConnectionStateClosed       PeerConnectionState = "closed"
)

// ICEConnectionState mirrors RTCIceConnectionState.
type ICEConnectionState string

const (
	ICEConnectionStateNew       ICEConnectionState = "new"
	ICEConnectionStateChecking  ICEConnectionState = "checking"
	ICEConnectionStateConnected ICEConnectionState = "connected"
	ICEConnectionStateFailed    ICEConnectionState = "failed"
	ICEConnectionStateClosed    ICEConnectionState = "closed"
)

// ICEGatheringState mirrors RTCIceGatheringState.
type ICEGatheringState string

const (
	ICEGatheringStateNew       ICEGatheringState = "new"
	ICEGatheringStateGathering ICEGatheringState = "gathering"
	ICEGatheringStateComplete  ICEGatheringState = "complete"
)

// Callbacks receives every asynchronous event a PeerConnection raises; any
// field left nil is simply not invoked.
type Callbacks struct {
	OnTrack                    func(t *Transceiver)
	OnIceCandidate             func(mid, candidate string) // candidate == "" signals end-of-candidates for mid
	OnConnectionStateChange    func(state PeerConnectionState)
	OnIceConnectionStateChange func(state ICEConnectionState)
	OnIceGatheringStateChange  func(state ICEGatheringState)
	OnDataChannel              func(dc *DataChannel)

	// OnReceiverLoss reports sequence numbers of a transceiver's inbound RTP
	// stream given up as permanently lost, whether aged out of the jitter
	// buffer or abandoned by the NACK receiver's retry budget. Observability
	// only; nothing in the engine acts on it.
	OnReceiverLoss func(t *Transceiver, lost []uint16)
}

// transportGroup is the live connection state for one SDP BUNDLE group (or
// one unbundled mid): the muxed UDP socket, its DTLS association, and the
// pair of SRTP crypto sessions every bundled transceiver's rtpsession.Session
// shares.
type transportGroup struct {
	mids     []string
	mux      *transport.Mux
	dtlsConn *dtls.Conn
	outbound *srtp.Session
	inbound  *srtp.Session

	// rawTap fans out every inbound datagram this group receives, still in
	// encrypted SRTP/SRTCP wire format, to any diagnostic subscriber
	// attached via PeerConnection.SubscribeRawPackets.
	rawTap *Broadcaster
}

// muxTransport adapts a transport.Endpoint (already selected for RTP+RTCP
// via rtcp-mux) to rtpsession.Transport.
type muxTransport struct {
	ep *transport.Endpoint
}

func (t muxTransport) SendRTP(buf []byte) error  { _, err := t.ep.Write(buf); return err }
func (t muxTransport) SendRTCP(buf []byte) error { _, err := t.ep.Write(buf); return err }

// PeerConnection negotiates and carries the media (and, for signalling
// purposes only, data-channel) transceivers of one WebRTC session: SDP
// offer/answer, ICE connectivity, the DTLS-SRTP handshake, and the RTP/RTCP
// sessions that result.
type PeerConnection struct {
	config Config
	cb     Callbacks

	cert        tls.Certificate
	fingerprint string

	localUfrag, localPassword string

	ice *ice.Session

	mu           sync.Mutex
	transceivers []*Transceiver
	dataChannel  *DataChannel
	nextMid      int

	localDesc  *sdp.Session
	remoteDesc *sdp.Session
	setupRole  sdp.SetupRole

	groups []*transportGroup

	connFSM        *fsm.FSM
	iceFSM         *fsm.FSM
	gatheringState ICEGatheringState

	metrics *metrics.Collectors

	closed bool
}

// NewPeerConnection constructs a PeerConnection with a fresh self-signed
// DTLS certificate and ICE credentials, ready to add transceivers and begin
// offer/answer negotiation.
func NewPeerConnection(config Config, cb Callbacks) (*PeerConnection, error) {
	cert, err := dtls.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("alohartc: generate certificate: %w", err)
	}
	fingerprint, err := dtls.Fingerprint(cert, dtls.HashAlgorithmSHA256)
	if err != nil {
		return nil, fmt.Errorf("alohartc: fingerprint certificate: %w", err)
	}

	pc := &PeerConnection{
		config:         config,
		cb:             cb,
		cert:           cert,
		fingerprint:    fingerprint,
		localUfrag:     randomICEString(4),
		localPassword:  randomICEString(22),
		ice:            ice.NewSession(),
		gatheringState: ICEGatheringStateNew,
		metrics:        metrics.New("alohartc", "peerconnection", nil),
		nextMid:        1, // mid "0" is the data channel's (dataChannelMID)
	}
	pc.initFSMs()
	return pc, nil
}

func (pc *PeerConnection) initFSMs() {
	pc.connFSM = fsm.NewFSM(
		string(PeerConnectionStateNew),
		fsm.Events{
			{Name: "connecting", Src: []string{string(PeerConnectionStateNew), string(PeerConnectionStateDisconnected)}, Dst: string(PeerConnectionStateConnecting)},
			{Name: "connect", Src: []string{string(PeerConnectionStateConnecting), string(PeerConnectionStateDisconnected)}, Dst: string(PeerConnectionStateConnected)},
			{Name: "disconnect", Src: []string{string(PeerConnectionStateConnected)}, Dst: string(PeerConnectionStateDisconnected)},
			{Name: "fail", Src: []string{string(PeerConnectionStateNew), string(PeerConnectionStateConnecting), string(PeerConnectionStateConnected), string(PeerConnectionStateDisconnected)}, Dst: string(PeerConnectionStateFailed)},
			{Name: "close", Src: []string{string(PeerConnectionStateNew), string(PeerConnectionStateConnecting), string(PeerConnectionStateConnected), string(PeerConnectionStateDisconnected), string(PeerConnectionStateFailed)}, Dst: string(PeerConnectionStateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				state := PeerConnectionState(e.Dst)
				pc.metrics.SetConnectionState(e.Src, e.Dst)
				if pc.cb.OnConnectionStateChange != nil {
					pc.cb.OnConnectionStateChange(state)
				}
			},
		},
	)

	pc.iceFSM = fsm.NewFSM(
		string(ICEConnectionStateNew),
		fsm.Events{
			{Name: "check", Src: []string{string(ICEConnectionStateNew)}, Dst: string(ICEConnectionStateChecking)},
			{Name: "connect", Src: []string{string(ICEConnectionStateChecking)}, Dst: string(ICEConnectionStateConnected)},
			{Name: "fail", Src: []string{string(ICEConnectionStateNew), string(ICEConnectionStateChecking)}, Dst: string(ICEConnectionStateFailed)},
			{Name: "close", Src: []string{string(ICEConnectionStateNew), string(ICEConnectionStateChecking), string(ICEConnectionStateConnected), string(ICEConnectionStateFailed)}, Dst: string(ICEConnectionStateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if pc.cb.OnIceConnectionStateChange != nil {
					pc.cb.OnIceConnectionStateChange(ICEConnectionState(e.Dst))
				}
			},
		},
	)
}

func (pc *PeerConnection) setGatheringState(s ICEGatheringState) {
	pc.mu.Lock()
	pc.gatheringState = s
	pc.mu.Unlock()
	if pc.cb.OnIceGatheringStateChange != nil {
		pc.cb.OnIceGatheringStateChange(s)
	}
}

// AddTrack attaches local as the send side of a new transceiver of the
// given kind, offered with codecs, and returns the transceiver created.
func (pc *PeerConnection) AddTrack(kind track.Kind, local *track.Track, codecs []sdp.Codec) *Transceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	mid := strconv.Itoa(pc.nextMid)
	pc.nextMid++
	t := newTransceiver(kind, sdp.DirectionSendRecv, local, codecs, mid)
	pc.transceivers = append(pc.transceivers, t)
	return t
}

// AddTransceiver adds a transceiver with no local track, typically recvonly,
// reserving an m-section an inbound SSRC will later attach to.
func (pc *PeerConnection) AddTransceiver(kind track.Kind, direction sdp.Direction, codecs []sdp.Codec) *Transceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	mid := strconv.Itoa(pc.nextMid)
	pc.nextMid++
	t := newTransceiver(kind, direction, nil, codecs, mid)
	pc.transceivers = append(pc.transceivers, t)
	return t
}

// CreateDataChannel negotiates the SCTP m-section for a data channel
// labeled label. Only one data channel m-section is offered per connection
// (mid "0"); actual SCTP framing is an external collaborator's concern.
func (pc *PeerConnection) CreateDataChannel(label string) *DataChannel {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.dataChannel = newDataChannel(label, uint16(len(pc.transceivers)))
	return pc.dataChannel
}

func (pc *PeerConnection) transceiverByMid(mid string) *Transceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, t := range pc.transceivers {
		if t.mid == mid {
			return t
		}
	}
	return nil
}

// CreateOffer renders an SDP offer for every transceiver and the data
// channel (if created), with setup=actpass on every m-section: the offerer
// never picks the DTLS role, the answerer does.
func (pc *PeerConnection) CreateOffer() (string, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	media := make([]sdp.MediaDescription, 0, len(pc.transceivers))
	for _, t := range pc.transceivers {
		media = append(media, t.mediaDescription())
	}

	s := sdp.BuildOffer(sdp.OfferParams{
		Username:     "alohartc",
		SessionID:    randomSessionID(),
		ICE:          sdp.ICEParams{Ufrag: pc.localUfrag, Password: pc.localPassword},
		Fingerprint:  pc.fingerprint,
		Media:        media,
		BundlePolicy: pc.config.bundlePolicy(),
		DataChannel:  pc.dataChannel != nil,
	})
	pc.localDesc = &s
	return s.String(), nil
}

// CreateAnswer renders an SDP answer to the most recently set remote offer,
// asserting this connection's DTLS role (derived from the offer's setup
// attribute) and the reversed direction of every transceiver.
func (pc *PeerConnection) CreateAnswer() (string, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.remoteDesc == nil {
		return "", ErrInvalidState
	}

	media := make([]sdp.MediaDescription, 0, len(pc.transceivers))
	for _, t := range pc.transceivers {
		md := t.mediaDescription()
		md.Direction = md.Direction.Reverse()
		media = append(media, md)
	}

	s := sdp.BuildAnswer(pc.remoteDesc, sdp.AnswerParams{
		Username:     "alohartc",
		SessionID:    randomSessionID(),
		ICE:          sdp.ICEParams{Ufrag: pc.localUfrag, Password: pc.localPassword},
		Fingerprint:  pc.fingerprint,
		Setup:        pc.setupRole,
		Media:        media,
		BundlePolicy: pc.config.bundlePolicy(),
		DataChannel:  pc.dataChannel != nil,
	})
	pc.localDesc = &s
	return s.String(), nil
}

// SetLocalDescription records a caller-constructed local description
// (normally the string returned from CreateOffer/CreateAnswer, applied
// unmodified).
func (pc *PeerConnection) SetLocalDescription(sdpText string) error {
	s, err := sdp.ParseSession(sdpText)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	pc.mu.Lock()
	pc.localDesc = &s
	pc.mu.Unlock()
	return nil
}

// SetRemoteDescription parses the remote offer or answer, picks the local
// DTLS role, synthesizes a recvonly Transceiver (firing OnTrack) for any
// remote m-section without a matching local one, registers every mid's ICE
// credentials, and kicks off candidate gathering and connectivity checks in
// the background.
func (pc *PeerConnection) SetRemoteDescription(ctx context.Context, sdpText string) error {
	s, err := sdp.ParseSession(sdpText)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	pc.mu.Lock()

	pc.remoteDesc = &s

	bundleMids := bundleGroupMids(&s)
	primaryMid := ""
	if len(bundleMids) > 0 {
		primaryMid = bundleMids[0]
	}

	for _, m := range s.Media {
		if m.Type == "application" {
			if pc.dataChannel == nil && m.GetAttr("mid") == dataChannelMID {
				pc.dataChannel = newDataChannel("", uint16(len(pc.transceivers)))
			}
			continue
		}
		mid := m.GetAttr("mid")
		remoteMD, err := sdp.MediaDescriptionFromMedia(&m)
		if err != nil {
			pc.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		t := pc.lookupOrCreateLocked(mid, remoteMD)
		t.remoteSSRC = remoteMD.SSRC
		t.remoteRTXSSRC = remoteMD.RTXSSRC

		if t.remote == nil && (t.direction == sdp.DirectionSendRecv || t.direction == sdp.DirectionRecvOnly) {
			t.remote = track.New(t.kind, remoteMD.CNAME, mid)
			if pc.cb.OnTrack != nil {
				pc.cb.OnTrack(t)
			}
		}

		remoteSetup := m.GetAttr("setup")
		if pc.setupRole == "" && remoteSetup != "" {
			pc.setupRole = sdp.AnswererSetupRole(remoteSetup)
		}

		iceParams := sdp.ParseICEParams(&s, &m)
		bundleMid := ""
		if primaryMid != "" && mid != primaryMid && containsMid(bundleMids, mid) {
			bundleMid = primaryMid
		}
		pc.ice.AddDataStream(mid, 1, pc.localUfrag+":"+iceParams.Ufrag, pc.localPassword, iceParams.Password, bundleMid)
	}

	pc.mu.Unlock()

	go pc.connect(ctx)
	return nil
}

// lookupOrCreateLocked must be called with pc.mu held. It returns the
// transceiver already registered for mid, or synthesizes a recvonly one
// from the remote m-section and fires OnTrack.
func (pc *PeerConnection) lookupOrCreateLocked(mid string, remoteMD sdp.MediaDescription) *Transceiver {
	for _, t := range pc.transceivers {
		if t.mid == mid {
			return t
		}
	}
	kind := track.KindVideo
	if remoteMD.Kind == "audio" {
		kind = track.KindAudio
	}
	t := newTransceiver(kind, sdp.DirectionRecvOnly, nil, remoteMD.Codecs, mid)
	t.remote = track.New(kind, remoteMD.CNAME, mid)
	pc.transceivers = append(pc.transceivers, t)
	if pc.cb.OnTrack != nil {
		pc.cb.OnTrack(t)
	}
	return t
}

// AddIceCandidate delivers a trickled remote candidate to the mid it names.
func (pc *PeerConnection) AddIceCandidate(mid, candidate string) error {
	return pc.ice.AddRemoteCandidate(context.Background(), candidate, mid)
}

// RestartIce generates fresh ICE credentials; the caller must renegotiate
// (CreateOffer/CreateAnswer again) to carry them to the remote peer.
func (pc *PeerConnection) RestartIce() {
	pc.mu.Lock()
	pc.localUfrag = randomICEString(4)
	pc.localPassword = randomICEString(22)
	pc.mu.Unlock()
}

// TransceiverStats pairs a transceiver's mid with its sender/receiver RTCP
// snapshot, for GetStats.
type TransceiverStats struct {
	Mid       string
	Senders   []rtpsession.SenderSnapshot
	Receivers []rtpsession.ReceiverSnapshot
}

// GetStats returns a point-in-time snapshot of every transceiver's RTP
// session counters.
func (pc *PeerConnection) GetStats() []TransceiverStats {
	pc.mu.Lock()
	transceivers := append([]*Transceiver(nil), pc.transceivers...)
	pc.mu.Unlock()

	stats := make([]TransceiverStats, 0, len(transceivers))
	for _, t := range transceivers {
		if t.session == nil {
			continue
		}
		senders, receivers := t.session.Stats()
		stats = append(stats, TransceiverStats{Mid: t.mid, Senders: senders, Receivers: receivers})
	}
	return stats
}

// SubscribeRawPackets taps the raw (still SRTP/SRTCP-encrypted) inbound
// datagram stream for mid's transport group, for packet capture or other
// diagnostics external to the engine's own RTP/RTCP handling. The returned
// channel is closed when the underlying transport group tears down; the
// caller should Unsubscribe when done to free the slot.
func (pc *PeerConnection) SubscribeRawPackets(mid string, buffer int) (<-chan []byte, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, g := range pc.groups {
		if containsMid(g.mids, mid) {
			return g.rawTap.Subscribe(buffer), nil
		}
	}
	return nil, errNotFound
}

// UnsubscribeRawPackets releases a channel obtained from
// SubscribeRawPackets for mid's transport group.
func (pc *PeerConnection) UnsubscribeRawPackets(mid string, ch <-chan []byte) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, g := range pc.groups {
		if containsMid(g.mids, mid) {
			return g.rawTap.Unsubscribe(ch)
		}
	}
	return errNotFound
}

// Close tears down every transport group and RTP session and moves the
// connection to the closed state.
func (pc *PeerConnection) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	groups := append([]*transportGroup(nil), pc.groups...)
	transceivers := append([]*Transceiver(nil), pc.transceivers...)
	pc.mu.Unlock()

	for _, t := range transceivers {
		if t.session != nil {
			t.session.Close("bye")
		}
	}
	for _, g := range groups {
		if g.dtlsConn != nil {
			g.dtlsConn.Close()
		}
		g.mux.Close()
	}

	ctx := context.Background()
	pc.iceFSM.Event(ctx, "close")
	pc.connFSM.Event(ctx, "close")
	return nil
}

// connect gathers local candidates (trickling them out via OnIceCandidate),
// runs connectivity checks, and once a candidate pair is selected for every
// mid, establishes DTLS and SRTP over each resulting transport group.
func (pc *PeerConnection) connect(ctx context.Context) {
	pc.connFSM.Event(ctx, "connecting")

	candCh, err := pc.ice.Gather(ctx)
	if err != nil {
		pcLog.Warn("gather failed: %v", err)
		pc.connFSM.Event(ctx, "fail")
		return
	}
	pc.setGatheringState(ICEGatheringStateGathering)

	go func() {
		for c := range candCh {
			if pc.cb.OnIceCandidate != nil {
				pc.cb.OnIceCandidate(c.Mid(), c.String())
			}
		}
		pc.setGatheringState(ICEGatheringStateComplete)
		if pc.cb.OnIceCandidate != nil {
			pc.cb.OnIceCandidate("", "")
		}
	}()

	pc.iceFSM.Event(ctx, "check")
	conns, err := pc.ice.EstablishConnection(ctx)
	if err != nil {
		pcLog.Warn("ice connection failed: %v", err)
		pc.iceFSM.Event(ctx, "fail")
		pc.connFSM.Event(ctx, "fail")
		return
	}
	pc.iceFSM.Event(ctx, "connect")

	if err := pc.wireTransport(conns); err != nil {
		pcLog.Warn("transport setup failed: %v", err)
		pc.connFSM.Event(ctx, "fail")
		return
	}
	pc.connFSM.Event(ctx, "connect")

	if pc.dataChannel != nil {
		pc.dataChannel.setState(DataChannelStateOpen)
		if pc.cb.OnDataChannel != nil {
			pc.cb.OnDataChannel(pc.dataChannel)
		}
	}
}

// wireTransport builds one transportGroup per distinct net.Conn (bundled
// mids share one), runs the DTLS handshake over it, derives the SRTP
// crypto contexts, and starts an rtpsession.Session per transceiver.
func (pc *PeerConnection) wireTransport(conns map[string]net.Conn) error {
	byConn := make(map[net.Conn][]string)
	for mid, conn := range conns {
		if conn == nil {
			continue
		}
		byConn[conn] = append(byConn[conn], mid)
	}

	for conn, mids := range byConn {
		mux := transport.NewMux(conn, 1500)
		dtlsConn, err := pc.handshakeDTLS(mux.DTLSEndpoint())
		if err != nil {
			return fmt.Errorf("dtls handshake: %w", err)
		}

		outboundCtx, inboundCtx, err := deriveSRTPContexts(dtlsConn, pc.setupRole)
		if err != nil {
			return fmt.Errorf("derive srtp keys: %w", err)
		}

		rtpEp := mux.RTPRTCPEndpoint()
		group := &transportGroup{
			mids:     mids,
			mux:      mux,
			dtlsConn: dtlsConn,
			outbound: srtp.NewSession(outboundCtx),
			inbound:  srtp.NewSession(inboundCtx),
			rawTap:   NewBroadcaster(),
		}

		pc.mu.Lock()
		pc.groups = append(pc.groups, group)
		pc.mu.Unlock()

		tp := muxTransport{ep: rtpEp}
		for _, mid := range mids {
			t := pc.transceiverByMid(mid)
			if t == nil || len(t.codecs) == 0 {
				continue
			}
			cfg := rtpsession.Config{
				LocalSSRC:  t.ssrc,
				LocalCNAME: t.cname,
				ClockRate:  int(t.codecs[0].ClockRate),
			}
			if t.rtxSSRC != 0 {
				cfg.RTXPayloadType = t.rtxPayloadType()
				cfg.RTXSSRC = t.rtxSSRC
			}
			t.session = rtpsession.New(cfg, tp, group.outbound, group.inbound, rtpsession.Callbacks{})
			go t.session.Run()

			if t.codecs[0].ClockRate > 0 {
				t.jitterBuf = jitter.New(int(t.codecs[0].ClockRate), jitterLatencyMs, jitterCapacity)
			}
			if t.kind == track.KindVideo {
				t.svcFilter = svc.NewFilter(svc.Selection{MaxSpatial: 0xff, MaxTemporal: 0xff})
			}
			if codecSupportsNACK(t.codecs[0]) && t.remoteSSRC != 0 {
				t.nackReceiver = nack.NewReceiver(t.ssrc, t.remoteSSRC)
				go pc.runNackLoop(t, tp, group)
			}
		}

		go pc.dispatchInbound(rtpEp, mids, group)
	}
	return nil
}

func (pc *PeerConnection) handshakeDTLS(conn net.Conn) (*dtls.Conn, error) {
	cfg := dtls.Config{Certificate: pc.cert}
	if pc.setupRole == sdp.SetupPassive {
		return dtls.Server(conn, cfg)
	}
	return dtls.Client(conn, cfg)
}

// deriveSRTPContexts exports the SRTP keying material per RFC 5764 §4.2
// and assigns client/server key-salt pairs to outbound/inbound according
// to which DTLS role this peer played.
func deriveSRTPContexts(conn *dtls.Conn, role sdp.SetupRole) (outbound, inbound *srtp.Context, err error) {
	const keyLen = 16
	const saltLen = 14

	var protection srtp.Protection
	switch conn.SelectedSRTPProtectionProfile() {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80:
		protection = srtp.ProtectionAES128CMHMACSHA1_80
	case dtls.SRTP_AES128_CM_HMAC_SHA1_32:
		protection = srtp.ProtectionAES128CMHMACSHA1_32
	default:
		return nil, nil, fmt.Errorf("unsupported srtp protection profile")
	}

	material, err := conn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 2*keyLen+2*saltLen)
	if err != nil {
		return nil, nil, err
	}
	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	var outKey, outSalt, inKey, inSalt []byte
	if role == sdp.SetupPassive {
		// We ran as the DTLS server: our outbound stream uses server_write,
		// our inbound uses client_write.
		outKey, outSalt = serverKey, serverSalt
		inKey, inSalt = clientKey, clientSalt
	} else {
		outKey, outSalt = clientKey, clientSalt
		inKey, inSalt = serverKey, serverSalt
	}

	outbound, err = srtp.NewContext(protection, outKey, outSalt)
	if err != nil {
		return nil, nil, err
	}
	inbound, err = srtp.NewContext(protection, inKey, inSalt)
	if err != nil {
		return nil, nil, err
	}
	return outbound, inbound, nil
}

// dispatchInbound reads every datagram delivered to ep (rtcp-mux'd RTP and
// RTCP for every mid in the group), fans it out to group's raw tap, and
// routes it by SSRC to the owning transceiver's session.
func (pc *PeerConnection) dispatchInbound(ep *transport.Endpoint, mids []string, group *transportGroup) {
	buf := make([]byte, 1500)
	for {
		n, err := ep.Read(buf)
		if err != nil {
			group.rawTap.Close()
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		group.rawTap.Write(raw)

		switch transport.Classify(raw) {
		case transport.ClassRTP:
			pc.handleInboundRTP(raw, mids)
		case transport.ClassRTCP:
			pc.handleInboundRTCP(raw, mids)
		}
	}
}

func (pc *PeerConnection) handleInboundRTP(raw []byte, mids []string) {
	if len(raw) < 12 {
		return
	}
	ssrc := binary.BigEndian.Uint32(raw[8:12])

	t := pc.transceiverBySSRC(ssrc, mids)
	if t == nil || t.session == nil {
		return
	}

	arrival := rtpClockNow(t.codecs[0].ClockRate)
	pkt, err := t.session.HandleRTP(raw, arrival)
	if err != nil {
		return
	}
	losses := t.handleInbound(pkt, arrival)
	pc.metrics.IncPacketsReceived(t.mid, "rtp", 1)
	pc.metrics.AddBytesReceived(t.mid, len(pkt.Payload))
	if len(losses) > 0 {
		var lost []uint16
		for _, l := range losses {
			// l.To is the packet whose timeout ended the wait; it is
			// delivered, so only From through To-1 are lost.
			pc.metrics.AddPacketsLost(t.mid, int(l.To-l.From))
			for seq := l.From; seq != l.To; seq++ {
				lost = append(lost, seq)
			}
		}
		if pc.cb.OnReceiverLoss != nil {
			pc.cb.OnReceiverLoss(t, lost)
		}
	}
}

func (pc *PeerConnection) handleInboundRTCP(raw []byte, mids []string) {
	if len(raw) < 8 {
		return
	}
	ssrc := binary.BigEndian.Uint32(raw[4:8])

	t := pc.transceiverBySSRC(ssrc, mids)
	if t == nil {
		// Fall back to the group's first transceiver: a compound RTCP
		// packet's leading SSRC isn't always one this engine already knows
		// (e.g. the very first SR before any RTP has arrived).
		for _, mid := range mids {
			if c := pc.transceiverByMid(mid); c != nil {
				t = c
				break
			}
		}
	}
	if t == nil || t.session == nil {
		return
	}
	t.session.HandleRTCP(raw)
}

func (pc *PeerConnection) transceiverBySSRC(ssrc uint32, mids []string) *Transceiver {
	for _, mid := range mids {
		t := pc.transceiverByMid(mid)
		if t == nil {
			continue
		}
		if t.ssrc == ssrc || t.rtxSSRC == ssrc || t.remoteSSRC == ssrc || t.remoteRTXSSRC == ssrc {
			return t
		}
	}
	return nil
}

// codecSupportsNACK reports whether c's negotiated rtcp-fb lines include
// generic NACK (RFC 4585 §6.2.1), the precondition for tracking gaps on its
// inbound stream at all.
func codecSupportsNACK(c sdp.Codec) bool {
	for _, fb := range c.RTCPFeedback {
		if fb == "nack" || strings.HasPrefix(fb, "nack ") {
			return true
		}
	}
	return false
}

// runNackLoop polls t's NACK receiver for gaps due for (re-)request and
// sends a compound RTCP NACK for them over tp until t's session closes.
func (pc *PeerConnection) runNackLoop(t *Transceiver, tp muxTransport, group *transportGroup) {
	ticker := time.NewTicker(nackPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		req, permanentLoss := t.nackReceiver.Due(time.Now())
		if len(permanentLoss) > 0 && pc.cb.OnReceiverLoss != nil {
			pc.cb.OnReceiverLoss(t, permanentLoss)
		}
		if req == nil {
			continue
		}
		body, err := rtp.MarshalCompoundRTCP([]rtp.RTCPPacket{req})
		if err != nil {
			continue
		}
		protected, err := group.outbound.ProtectRTCP(body)
		if err != nil {
			continue
		}
		if err := tp.SendRTCP(protected); err != nil {
			return
		}
		pc.metrics.IncNacksSent(t.mid)
	}
}

// rtpClockNow converts the current wall clock to the given stream's RTP
// clock-rate units, for RFC 3550 Appendix A.8 jitter estimation. Only
// differences between successive calls matter to the jitter estimator, so
// this needn't (and can't, without the sender's own clock) be synchronized
// to the remote RTP timestamp's epoch.
func rtpClockNow(clockRate uint32) uint32 {
	if clockRate == 0 {
		return 0
	}
	return uint32(uint64(time.Now().UnixNano()) * uint64(clockRate) / uint64(time.Second))
}

// bundleGroupMids returns the mid list of the session's BUNDLE group, if
// any ("a=group:BUNDLE <mid> <mid> ...").
func bundleGroupMids(s *sdp.Session) []string {
	for _, v := range s.GetAttrs("group") {
		fields := strings.Fields(v)
		if len(fields) > 1 && fields[0] == "BUNDLE" {
			return fields[1:]
		}
	}
	return nil
}

func containsMid(mids []string, mid string) bool {
	for _, m := range mids {
		if m == mid {
			return true
		}
	}
	return false
}

// randomSSRC generates a nonzero 32-bit SSRC.
func randomSSRC() uint32 {
	var b [4]byte
	rand.Read(b[:])
	v := binary.BigEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v
}

// randomSessionID generates an o= line session id per RFC 4566's
// recommendation to use a cryptographically random 64-bit value.
func randomSessionID() uint64 {
	var b [8]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// randomICEString generates an ICE ufrag/password of n characters drawn
// from the standard base64 alphabet (A-Z, a-z, 0-9, '+', '/'), which is
// exactly RFC 8445 §5.3's ice-chars.
func randomICEString(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return base64.RawStdEncoding.EncodeToString(b)[:n]
}
