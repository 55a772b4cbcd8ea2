package alohartc

// dataChannelMID is the fixed MID this engine assigns the SCTP m-section,
// matching the value sdp.BuildOffer/BuildAnswer use for it.
const dataChannelMID = "0"

// DataChannelState mirrors the W3C RTCDataChannelState values this engine
// can actually reach: SCTP association establishment itself is an external
// collaborator (see Non-goals), so a DataChannel only ever advances from
// connecting to open once its m-section is negotiated and the surrounding
// DTLS association is up; closed follows the peer connection's teardown.
type DataChannelState string

const (
	DataChannelStateConnecting DataChannelState = "connecting"
	DataChannelStateOpen       DataChannelState = "open"
	DataChannelStateClosed     DataChannelState = "closed"
)

// DataChannel represents the negotiated "application" m-section
// (UDP/DTLS/SCTP, mid "0"). It tracks the label, SCTP stream id, and
// negotiation state; the SCTP association that would carry actual channel
// traffic is out of scope for this engine and is left to an external
// collaborator wired onto the same DTLS connection.
type DataChannel struct {
	label string
	id    uint16
	state DataChannelState
}

func newDataChannel(label string, id uint16) *DataChannel {
	return &DataChannel{label: label, id: id, state: DataChannelStateConnecting}
}

func (dc *DataChannel) Label() string           { return dc.label }
func (dc *DataChannel) ID() uint16              { return dc.id }
func (dc *DataChannel) State() DataChannelState { return dc.state }

func (dc *DataChannel) setState(s DataChannelState) { dc.state = s }
