package rtpsession

import (
	"time"

	"github.com/lanikai/alohartc/rtp"
)

// receiverStats accumulates the running state RFC 3550 Appendix A.3 needs
// to build one SSRC's reception report block: extended highest sequence
// number, interarrival jitter, and cumulative/fractional loss since the
// last report.
type receiverStats struct {
	ssrc uint32

	initialized bool
	baseSeq     uint16
	cycles      uint32 // count of sequence-number wraps, shifted into bits 16-31 of the extended seq
	highestSeq  uint16
	received    uint32

	// Loss accounting carried across report intervals (RFC 3550 A.3).
	expectedPrior uint32
	receivedPrior uint32

	// Jitter estimator state (RFC 3550 A.8).
	jitter       float64
	haveLastTransit bool
	lastTransit  int64

	lastSR          uint32 // middle 32 bits of the NTP timestamp from the most recent SR
	lastSRWallClock time.Time
}

func newReceiverStats(ssrc uint32) *receiverStats {
	return &receiverStats{ssrc: ssrc}
}

// extendedHighest returns the 32-bit cycle-extended highest sequence
// number received so far.
func (s *receiverStats) extendedHighest() uint32 {
	return s.cycles | uint32(s.highestSeq)
}

// UpdateSequence records the arrival of seq, extending the wraparound
// cycle count when it precedes a 16-bit rollover.
func (s *receiverStats) UpdateSequence(seq uint16) {
	s.received++
	if !s.initialized {
		s.initialized = true
		s.baseSeq = seq
		s.highestSeq = seq
		return
	}
	if rtp.SequenceGreaterThan(seq, s.highestSeq) {
		if seq < s.highestSeq {
			s.cycles += 1 << 16
		}
		s.highestSeq = seq
	}
}

// UpdateJitter applies RFC 3550 Appendix A.8's recursive jitter estimator.
// arrival and rtpTimestamp are both in the stream's RTP clock-rate units.
func (s *receiverStats) UpdateJitter(arrival, rtpTimestamp uint32) {
	transit := int64(arrival) - int64(rtpTimestamp)
	if s.haveLastTransit {
		d := transit - s.lastTransit
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16
	}
	s.lastTransit = transit
	s.haveLastTransit = true
}

// RecordSenderReport stores the fields needed to fill
// LastSenderReport/DelaySinceLastSenderReport in the next reception report.
func (s *receiverStats) RecordSenderReport(ntpTime uint64, arrival time.Time) {
	s.lastSR = uint32(ntpTime >> 16) // middle 32 bits
	s.lastSRWallClock = arrival
}

// BuildReport produces the RFC 3550 §6.4.1 reception report block for this
// SSRC, given the current time (used to compute
// DelaySinceLastSenderReport relative to the last RecordSenderReport call).
func (s *receiverStats) BuildReport(now time.Time) rtp.ReceptionReport {
	expected := s.extendedHighest() - uint32(s.baseSeq) + 1
	lost := int64(expected) - int64(s.received)
	if lost < 0 {
		lost = 0
	}
	if lost > 0xffffff {
		lost = 0xffffff
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	lostInterval := int64(expectedInterval) - int64(receivedInterval)

	var fraction uint8
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	s.expectedPrior = expected
	s.receivedPrior = s.received

	lastSR := s.lastSR
	var delay uint32
	if lastSR != 0 {
		delay = uint32(now.Sub(s.lastSRWallClock).Seconds() * 65536)
	}

	return rtp.ReceptionReport{
		SSRC:                       s.ssrc,
		FractionLost:               fraction,
		TotalLost:                  uint32(lost),
		LastSequenceNumber:         s.extendedHighest(),
		Jitter:                     uint32(s.jitter),
		LastSenderReport:           lastSR,
		DelaySinceLastSenderReport: delay,
	}
}

// SenderSnapshot is a point-in-time copy of one SSRC's outbound counters,
// returned by Session.Stats for GetStats reporting.
type SenderSnapshot struct {
	SSRC        uint32
	PacketsSent uint32
	BytesSent   uint32
}

// ReceiverSnapshot is a point-in-time copy of one SSRC's inbound counters.
type ReceiverSnapshot struct {
	SSRC            uint32
	PacketsReceived uint32
	PacketsLost     uint32
	Jitter          float64
}

// senderStats accumulates the packet/octet counters an outbound SR reports
// (RFC 3550 §6.4.1).
type senderStats struct {
	ssrc        uint32
	packetCount uint32
	octetCount  uint32
	sentSinceReport bool
}

func newSenderStats(ssrc uint32) *senderStats {
	return &senderStats{ssrc: ssrc}
}

// RecordSent accounts for one outbound RTP packet of payloadLen bytes.
func (s *senderStats) RecordSent(payloadLen int) {
	s.packetCount++
	s.octetCount += uint32(payloadLen)
	s.sentSinceReport = true
}
