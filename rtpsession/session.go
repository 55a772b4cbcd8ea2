// Package rtpsession owns one negotiated media stream's sender/receiver
// statistics, RTCP scheduling, and the forwarding path that rewrites and
// re-emits RTP from an upstream source.
package rtpsession

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/lanikai/alohartc/nack"
	"github.com/lanikai/alohartc/rtp"
	"github.com/lanikai/alohartc/srtp"
)

// Transport is the minimum send surface a Session needs; package transport
// satisfies it.
type Transport interface {
	SendRTP(buf []byte) error
	SendRTCP(buf []byte) error
}

// Config configures a Session for one MID.
type Config struct {
	LocalSSRC    uint32
	LocalCNAME   string
	ClockRate    int
	RTCPInterval time.Duration // default 5s

	// RTXPayloadType/RTXSSRC, if RTXSSRC is nonzero, enable RTX
	// encapsulation for retransmissions triggered by inbound NACKs.
	RTXPayloadType uint8
	RTXSSRC        uint32
}

// Callbacks receives events a Session can't resolve on its own; any field
// left nil is simply not invoked.
type Callbacks struct {
	OnReceiverLoss     func(ssrc uint32)
	OnGoodbye          func(ssrc uint32, reason string)
	OnReceiverReport   func(ssrc uint32, r rtp.ReceptionReport)
	OnKeyFrameRequest  func(ssrc uint32)
}

// Session tracks one MID's sender/receiver RTCP statistics and forwarding
// state, and drives the 5-second compound-RTCP scheduling loop.
type Session struct {
	cfg       Config
	transport Transport
	outbound  *srtp.Session // protects packets/reports we send
	inbound   *srtp.Session // authenticates/decrypts packets/reports we receive
	callbacks Callbacks

	retransmit *nack.Retransmitter
	sendBuffer *nack.RetransmitBuffer

	mu        sync.Mutex
	senders   map[uint32]*senderStats
	receivers map[uint32]*receiverStats

	// Forwarding continuity state: anchors the outbound sequence/timestamp
	// space on the first forwarded packet so pausing and resuming with a
	// different upstream source doesn't discontinue the outbound numbering.
	forwardInit bool
	tsAnchorUp  uint32 // upstream timestamp of the first forwarded packet
	lastOutSeq  uint16
	lastUpSeq   uint16
	lastUpTs    uint32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Session. If cfg.RTXSSRC is nonzero, inbound NACKs for
// locally sent packets are answered with RTX-encapsulated retransmissions.
func New(cfg Config, transport Transport, outbound, inbound *srtp.Session, cb Callbacks) *Session {
	if cfg.RTCPInterval == 0 {
		cfg.RTCPInterval = 5 * time.Second
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		outbound:  outbound,
		inbound:   inbound,
		callbacks: cb,
		senders:   make(map[uint32]*senderStats),
		receivers: make(map[uint32]*receiverStats),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.sendBuffer = &nack.RetransmitBuffer{}
	s.retransmit = nack.NewRetransmitter(s.sendBuffer, cfg.RTXPayloadType, cfg.RTXSSRC)
	return s
}

// Run starts the periodic RTCP scheduling loop; it returns when Close is
// called.
func (s *Session) Run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.RTCPInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sendScheduledRTCP(); err != nil {
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close sends a BYE (best-effort, optionally with reason) and stops the
// RTCP scheduling loop.
func (s *Session) Close(reason string) {
	s.sendGoodbye(reason)
	close(s.stopCh)
	<-s.doneCh
}

// Stats returns a point-in-time snapshot of every SSRC this session has
// sent or received, for PeerConnection.GetStats.
func (s *Session) Stats() ([]SenderSnapshot, []ReceiverSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	senders := make([]SenderSnapshot, 0, len(s.senders))
	for _, ss := range s.senders {
		senders = append(senders, SenderSnapshot{
			SSRC:        ss.ssrc,
			PacketsSent: ss.packetCount,
			BytesSent:   ss.octetCount,
		})
	}

	receivers := make([]ReceiverSnapshot, 0, len(s.receivers))
	for _, rs := range s.receivers {
		expected := rs.extendedHighest() - uint32(rs.baseSeq) + 1
		lost := int64(expected) - int64(rs.received)
		if lost < 0 {
			lost = 0
		}
		receivers = append(receivers, ReceiverSnapshot{
			SSRC:            rs.ssrc,
			PacketsReceived: rs.received,
			PacketsLost:     uint32(lost),
			Jitter:          rs.jitter,
		})
	}
	return senders, receivers
}

func (s *Session) receiverStats(ssrc uint32) *receiverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.receivers[ssrc]
	if !ok {
		rs = newReceiverStats(ssrc)
		s.receivers[ssrc] = rs
	}
	return rs
}

func (s *Session) senderStats(ssrc uint32) *senderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.senders[ssrc]
	if !ok {
		ss = newSenderStats(ssrc)
		s.senders[ssrc] = ss
	}
	return ss
}

// HandleRTP decrypts and parses one inbound SRTP packet, updating receiver
// statistics. rtpClock is the receiver's current RTP-clock-rate reading,
// used for jitter estimation.
func (s *Session) HandleRTP(raw []byte, rtpClock uint32) (*rtp.Packet, error) {
	headerLen, err := rtp.HeaderLen(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 {
		return nil, rtp.ErrMalformed
	}
	ssrc := binary.BigEndian.Uint32(raw[8:12])
	seq := binary.BigEndian.Uint16(raw[2:4])

	plain, err := s.inbound.UnprotectRTP(raw, headerLen, ssrc, seq)
	if err != nil {
		return nil, err
	}

	full := make([]byte, headerLen+len(plain))
	copy(full, raw[:headerLen])
	copy(full[headerLen:], plain)

	pkt, err := rtp.Unmarshal(full)
	if err != nil {
		return nil, err
	}

	rs := s.receiverStats(pkt.SSRC)
	rs.UpdateSequence(pkt.SequenceNumber)
	if s.cfg.ClockRate != 0 {
		rs.UpdateJitter(rtpClock, pkt.Timestamp)
	}
	return pkt, nil
}

// HandleRTCP decrypts and dispatches one inbound compound SRTCP packet.
func (s *Session) HandleRTCP(raw []byte) error {
	plain, err := s.inbound.UnprotectRTCP(raw)
	if err != nil {
		return err
	}
	packets, err := rtp.UnmarshalRTCP(plain)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range packets {
		switch v := p.(type) {
		case *rtp.SenderReport:
			rs := s.receiverStats(v.SSRC)
			rs.RecordSenderReport(v.NTPTime, now)
		case *rtp.ReceiverReport:
			for _, r := range v.Reports {
				if s.callbacks.OnReceiverReport != nil {
					s.callbacks.OnReceiverReport(r.SSRC, r)
				}
			}
		case *rtp.Goodbye:
			s.mu.Lock()
			for _, ssrc := range v.Sources {
				delete(s.receivers, ssrc)
			}
			s.mu.Unlock()
			if s.callbacks.OnGoodbye != nil {
				for _, ssrc := range v.Sources {
					s.callbacks.OnGoodbye(ssrc, v.Reason)
				}
			}
		case *rtp.NACK:
			s.handleNACK(v)
		case *rtp.PictureLossIndication:
			if s.callbacks.OnKeyFrameRequest != nil {
				s.callbacks.OnKeyFrameRequest(v.Media)
			}
		case *rtp.FullIntraRequest:
			if s.callbacks.OnKeyFrameRequest != nil {
				for _, e := range v.Entries {
					s.callbacks.OnKeyFrameRequest(e.SSRC)
				}
			}
		}
	}
	return nil
}

func (s *Session) handleNACK(n *rtp.NACK) {
	for _, pkt := range s.retransmit.Handle(n) {
		buf, err := pkt.Marshal()
		if err != nil {
			continue
		}
		protected, err := s.outbound.ProtectRTP(buf, mustHeaderLen(buf), pkt.SSRC, pkt.SequenceNumber)
		if err != nil {
			continue
		}
		s.transport.SendRTP(protected)
	}
}

func mustHeaderLen(buf []byte) int {
	n, err := rtp.HeaderLen(buf)
	if err != nil {
		return len(buf)
	}
	return n
}

// ForwardRewrite describes how Forward should adapt an upstream packet
// onto this session's outbound stream.
type ForwardRewrite struct {
	PayloadType       uint8
	MIDExtensionID    uint8
	MID               string
	AbsSendTimeExtID  uint8 // 0 disables
}

// Forward rewrites pkt onto this session's local SSRC/sequence/timestamp
// space, encrypts it, and sends it through the transport. The mapping
// between the upstream and outbound sequence/timestamp spaces is anchored
// on the first call and held fixed thereafter, so pausing and resuming
// with a different upstream keeps the outbound stream's numbering
// continuous: the outbound sequence number always increments by one per
// forwarded packet regardless of gaps upstream, and the outbound timestamp
// tracks the upstream timestamp's delta from its first observed value.
func (s *Session) Forward(pkt *rtp.Packet, rw ForwardRewrite) error {
	s.mu.Lock()
	if !s.forwardInit {
		s.forwardInit = true
		s.tsAnchorUp = pkt.Timestamp
		s.lastOutSeq = 0 // first emitted seq will be lastOutSeq+1 == 1; callers expecting 0 should pre-seed LocalSSRC's first seq externally
	}
	s.lastUpSeq = pkt.SequenceNumber
	s.lastUpTs = pkt.Timestamp
	outSeq := s.lastOutSeq + 1
	s.lastOutSeq = outSeq
	outTs := pkt.Timestamp - s.tsAnchorUp
	s.mu.Unlock()

	out := pkt.Clone()
	out.SSRC = s.cfg.LocalSSRC
	out.PayloadType = rw.PayloadType
	out.SequenceNumber = outSeq
	out.Timestamp = outTs
	if rw.MIDExtensionID != 0 {
		if out.Extensions == nil {
			out.Extensions = make(map[uint8][]byte)
		}
		out.Extensions[rw.MIDExtensionID] = []byte(rw.MID)
	}

	buf, err := out.Marshal()
	if err != nil {
		return err
	}
	headerLen, err := rtp.HeaderLen(buf)
	if err != nil {
		return err
	}

	protected, err := s.outbound.ProtectRTP(buf, headerLen, out.SSRC, out.SequenceNumber)
	if err != nil {
		return err
	}

	s.sendBuffer.Store(out)
	s.senderStats(out.SSRC).RecordSent(len(out.Payload))
	return s.transport.SendRTP(protected)
}

// sendScheduledRTCP builds and sends one compound RTCP report: an SR for
// every SSRC sent from since the last report, each carrying a reception
// block for every tracked receiver; a single RR from LocalSSRC with those
// blocks only when no SR was built; and one SDES CNAME chunk for LocalSSRC.
func (s *Session) sendScheduledRTCP() error {
	s.mu.Lock()
	var packets []rtp.RTCPPacket
	now := time.Now()

	for ssrc, ss := range s.senders {
		if !ss.sentSinceReport {
			continue
		}
		ss.sentSinceReport = false
		packets = append(packets, &rtp.SenderReport{
			SSRC:        ssrc,
			NTPTime:     ntpNow(now),
			RTPTime:     uint32(now.UnixNano()),
			PacketCount: ss.packetCount,
			OctetCount:  ss.octetCount,
			Reports:     s.buildReceptionReports(now),
		})
	}
	if len(packets) == 0 && len(s.receivers) > 0 {
		packets = append(packets, &rtp.ReceiverReport{
			SSRC:    s.cfg.LocalSSRC,
			Reports: s.buildReceptionReports(now),
		})
	}
	packets = append(packets, &rtp.SourceDescription{SSRC: s.cfg.LocalSSRC, CNAME: s.cfg.LocalCNAME})
	s.mu.Unlock()

	body, err := rtp.MarshalCompoundRTCP(packets)
	if err != nil {
		return err
	}
	protected, err := s.outbound.ProtectRTCP(body)
	if err != nil {
		return err
	}
	return s.transport.SendRTCP(protected)
}

// buildReceptionReports must be called with s.mu held.
func (s *Session) buildReceptionReports(now time.Time) []rtp.ReceptionReport {
	reports := make([]rtp.ReceptionReport, 0, len(s.receivers))
	for _, rs := range s.receivers {
		reports = append(reports, rs.BuildReport(now))
	}
	return reports
}

func (s *Session) sendGoodbye(reason string) {
	body, err := rtp.MarshalCompoundRTCP([]rtp.RTCPPacket{
		&rtp.Goodbye{Sources: []uint32{s.cfg.LocalSSRC}, Reason: reason},
	})
	if err != nil {
		return
	}
	protected, err := s.outbound.ProtectRTCP(body)
	if err != nil {
		return
	}
	s.transport.SendRTCP(protected)
}

// ntpNow returns t as a 64-bit NTP timestamp (seconds since 1900-01-01 in
// the upper 32 bits, fractional seconds in the lower 32).
func ntpNow(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800 // seconds between 1900 and 1970
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}
