package sdp

import (
	"fmt"
	"strconv"
	"strings"
)

// SDESMidExtensionURI is the one-byte header-extension URI used to carry
// the MID on every RTP packet once negotiated (RFC 8843 §5.1.1). Its
// extension ID is fixed at 1 for every m-section this package builds.
const SDESMidExtensionURI = "urn:ietf:params:rtp-hdrext:sdes:mid"

const sdesMidExtensionID = 1

// Direction is the negotiated a=sendrecv/sendonly/recvonly/inactive value.
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// Reverse returns the direction the far end should use to match this one
// (sendonly <-> recvonly, sendrecv/inactive unchanged).
func (d Direction) Reverse() Direction {
	switch d {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	default:
		return d
	}
}

// SetupRole is the DTLS a=setup value (RFC 4145 / RFC 5763).
type SetupRole string

const (
	SetupActPass SetupRole = "actpass"
	SetupActive  SetupRole = "active"
	SetupPassive SetupRole = "passive"
)

// BundlePolicy controls whether negotiated m-sections share one transport.
type BundlePolicy string

const (
	BundlePolicyMaxBundle BundlePolicy = "max-bundle"
	BundlePolicyMaxCompat BundlePolicy = "max-compat"
	BundlePolicyDisable   BundlePolicy = "disable"
)

// ICEParams is the local (or, when read back via ParseICEParams, remote)
// ICE credential pair for one m-section or bundle.
type ICEParams struct {
	Ufrag    string
	Password string
}

// ParseICEParams reads the ice-ufrag/ice-pwd attributes off a Media,
// falling back to the Session's if the m-section doesn't repeat them
// (legal once bundled).
func ParseICEParams(s *Session, m *Media) ICEParams {
	p := ICEParams{Ufrag: m.GetAttr("ice-ufrag"), Password: m.GetAttr("ice-pwd")}
	if p.Ufrag == "" {
		p.Ufrag = s.GetAttr("ice-ufrag")
	}
	if p.Password == "" {
		p.Password = s.GetAttr("ice-pwd")
	}
	return p
}

// MediaDescription is the negotiation-time shape of one transceiver's
// m-section: enough to build or read back an offer/answer, independent of
// the live RTP/ICE/DTLS state that owns it.
type MediaDescription struct {
	MID       string
	Kind      string // "audio" or "video"
	Direction Direction
	Codecs    []Codec
	SSRC      uint32
	RTXSSRC   uint32 // 0 omits the ssrc-group FID line
	CNAME     string
}

func (md MediaDescription) payloadTypes() []string {
	pts := make([]string, 0, len(md.Codecs))
	for _, c := range md.Codecs {
		pts = append(pts, strconv.Itoa(int(c.PayloadType)))
	}
	return pts
}

func codecAttributes(c Codec) []Attribute {
	var attrs []Attribute
	attrs = append(attrs, Attribute{"rtpmap", fmt.Sprintf("%d %s", c.PayloadType, c.RTPMap())})
	for _, fb := range c.RTCPFeedback {
		attrs = append(attrs, Attribute{"rtcp-fb", fmt.Sprintf("%d %s", c.PayloadType, fb)})
	}
	if c.FMTP != "" {
		attrs = append(attrs, Attribute{"fmtp", fmt.Sprintf("%d %s", c.PayloadType, c.FMTP)})
	}
	if c.RTXPayloadType != 0 {
		attrs = append(attrs, Attribute{"rtpmap", fmt.Sprintf("%d rtx/%d", c.RTXPayloadType, c.ClockRate)})
		attrs = append(attrs, Attribute{"fmtp", fmt.Sprintf("%d apt=%d", c.RTXPayloadType, c.PayloadType)})
	}
	return attrs
}

func (md MediaDescription) toMedia(ice ICEParams, fingerprint string, setup SetupRole) Media {
	m := Media{
		Type:  md.Kind,
		Port:  9,
		Proto: "UDP/TLS/RTP/SAVPF",
		Format: func() []string {
			pts := md.payloadTypes()
			for _, c := range md.Codecs {
				if c.RTXPayloadType != 0 {
					pts = append(pts, strconv.Itoa(int(c.RTXPayloadType)))
				}
			}
			return pts
		}(),
		Connection: &Connection{NetworkType: "IN", AddressType: "IP4", Address: "0.0.0.0"},
	}
	m.Attributes = append(m.Attributes,
		Attribute{"ice-ufrag", ice.Ufrag},
		Attribute{"ice-pwd", ice.Password},
		Attribute{"fingerprint", fingerprint},
		Attribute{"setup", string(setup)},
		Attribute{"mid", md.MID},
		Attribute{string(md.Direction), ""},
		Attribute{"rtcp-mux", ""},
		Attribute{"extmap", fmt.Sprintf("%d %s", sdesMidExtensionID, SDESMidExtensionURI)},
	)
	for _, c := range md.Codecs {
		m.Attributes = append(m.Attributes, codecAttributes(c)...)
	}
	if md.SSRC != 0 {
		if md.RTXSSRC != 0 {
			m.Attributes = append(m.Attributes, Attribute{"ssrc-group", fmt.Sprintf("FID %d %d", md.SSRC, md.RTXSSRC)})
		}
		m.Attributes = append(m.Attributes, Attribute{"ssrc", fmt.Sprintf("%d cname:%s", md.SSRC, md.CNAME)})
		if md.RTXSSRC != 0 {
			m.Attributes = append(m.Attributes, Attribute{"ssrc", fmt.Sprintf("%d cname:%s", md.RTXSSRC, md.CNAME)})
		}
	}
	return m
}

// MediaDescriptionFromMedia reads a negotiated MediaDescription back out of
// a parsed Media (used when building an answer mirrors of a remote offer).
func MediaDescriptionFromMedia(m *Media) (MediaDescription, error) {
	codecs, err := CodecsFromMedia(m)
	if err != nil {
		return MediaDescription{}, err
	}
	md := MediaDescription{
		MID:    m.GetAttr("mid"),
		Kind:   m.Type,
		Codecs: codecs,
	}
	switch {
	case m.HasAttr("sendrecv"):
		md.Direction = DirectionSendRecv
	case m.HasAttr("sendonly"):
		md.Direction = DirectionSendOnly
	case m.HasAttr("recvonly"):
		md.Direction = DirectionRecvOnly
	case m.HasAttr("inactive"):
		md.Direction = DirectionInactive
	default:
		md.Direction = DirectionSendRecv
	}
	for _, v := range m.GetAttrs("ssrc-group") {
		fields := strings.Fields(v)
		if len(fields) == 3 && fields[0] == "FID" {
			if ssrc, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
				md.SSRC = uint32(ssrc)
			}
			if rtx, err := strconv.ParseUint(fields[2], 10, 32); err == nil {
				md.RTXSSRC = uint32(rtx)
			}
		}
	}
	for _, v := range m.GetAttrs("ssrc") {
		fields := strings.SplitN(v, " ", 2)
		if len(fields) != 2 {
			continue
		}
		ssrc, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		if md.SSRC == 0 {
			md.SSRC = uint32(ssrc)
		}
		if cname := strings.TrimPrefix(fields[1], "cname:"); cname != fields[1] && md.CNAME == "" {
			md.CNAME = cname
		}
	}
	return md, nil
}

// OfferParams is the input to BuildOffer: everything the RTP session,
// DTLS certificate, and ICE agent have already decided, packaged for
// rendering into SDP text.
type OfferParams struct {
	Username     string // o= username, e.g. "alohartc"
	SessionID    uint64
	ICE          ICEParams
	Fingerprint  string // "sha-256 AA:BB:..." already formatted
	Media        []MediaDescription
	BundlePolicy BundlePolicy
	DataChannel  bool // append an application (SCTP) m-section with MID "0"
}

// BuildOffer renders an SDP offer per the RFC 4566/3264 template this
// engine targets: unicast 0.0.0.0 origin, t=0 0, one BUNDLE group spanning
// every MID (including the DataChannel's "0") unless bundle policy is
// disable, and setup=actpass on every m-section (the offerer never picks a
// DTLS role; the answerer does).
func BuildOffer(p OfferParams) Session {
	s := newSession(p.Username, p.SessionID)
	for _, md := range p.Media {
		m := md.toMedia(p.ICE, p.Fingerprint, SetupActPass)
		s.Media = append(s.Media, m)
	}
	if p.DataChannel {
		s.Media = append(s.Media, dataChannelMedia(p.ICE, p.Fingerprint, SetupActPass, "0"))
	}
	finalizeBundle(&s, p.BundlePolicy)
	return s
}

// AnswerParams is the input to BuildAnswer.
type AnswerParams struct {
	Username     string
	SessionID    uint64
	ICE          ICEParams
	Fingerprint  string
	Setup        SetupRole // Active or Passive; never ActPass in an answer
	Media        []MediaDescription
	BundlePolicy BundlePolicy
	DataChannel  bool
}

// BuildAnswer renders an SDP answer that mirrors the remote offer's
// m-section order and payload-type numbering (per-MediaDescription, the
// caller is expected to have already copied PTs/RTX from the remote
// offer via MediaDescriptionFromMedia) while asserting the local DTLS
// role and reversed media directions.
func BuildAnswer(remote *Session, p AnswerParams) Session {
	s := newSession(p.Username, p.SessionID)
	dcMid := ""
	for _, rm := range remote.Media {
		if rm.Type == "application" {
			dcMid = rm.GetAttr("mid")
			break
		}
	}
	for _, md := range p.Media {
		m := md.toMedia(p.ICE, p.Fingerprint, p.Setup)
		s.Media = append(s.Media, m)
	}
	if p.DataChannel && dcMid != "" {
		s.Media = append(s.Media, dataChannelMedia(p.ICE, p.Fingerprint, p.Setup, dcMid))
	}
	finalizeBundle(&s, p.BundlePolicy)
	return s
}

// AnswererSetupRole picks the local DTLS role in response to a remote
// offer's setup attribute: active offers mean we're the server (passive);
// passive or actpass means we act as the client (active).
func AnswererSetupRole(remoteSetup string) SetupRole {
	if remoteSetup == string(SetupActive) {
		return SetupPassive
	}
	return SetupActive
}

func newSession(username string, sessionID uint64) Session {
	return Session{
		Version: 0,
		Origin: Origin{
			Username:       username,
			SessionId:      strconv.FormatUint(sessionID, 10),
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "0.0.0.0",
		},
		Name: "-",
		Time: []Time{{}},
		Attributes: []Attribute{
			{"ice-options", "trickle"},
		},
	}
}

func finalizeBundle(s *Session, policy BundlePolicy) {
	if policy == BundlePolicyDisable {
		return
	}
	mids := make([]string, 0, len(s.Media))
	for _, m := range s.Media {
		mids = append(mids, m.GetAttr("mid"))
	}
	if len(mids) == 0 {
		return
	}
	group := Attribute{"group", "BUNDLE " + strings.Join(mids, " ")}
	s.Attributes = append([]Attribute{group}, s.Attributes...)
}

func dataChannelMedia(ice ICEParams, fingerprint string, setup SetupRole, mid string) Media {
	return Media{
		Type:   "application",
		Port:   9,
		Proto:  "UDP/DTLS/SCTP",
		Format: []string{"webrtc-datachannel"},
		Connection: &Connection{
			NetworkType: "IN", AddressType: "IP4", Address: "0.0.0.0",
		},
		Attributes: []Attribute{
			{"ice-ufrag", ice.Ufrag},
			{"ice-pwd", ice.Password},
			{"fingerprint", fingerprint},
			{"setup", string(setup)},
			{"mid", mid},
			{"sctp-port", "5000"},
		},
	}
}

// Candidate is one ICE candidate as carried in an a=candidate attribute
// (RFC 5245 §15.1) or a trickle addIceCandidate call.
type Candidate struct {
	Foundation  string
	Component   int
	Transport   string // "udp" or "tcp"
	Priority    uint32
	IP          string
	Port        int
	Type        string // host, srflx, prflx, relay
	RelatedIP   string // "" if not applicable
	RelatedPort int
	Generation  int
}

func (c Candidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Transport, c.Priority, c.IP, c.Port, c.Type)
	if c.RelatedIP != "" {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedIP, c.RelatedPort)
	}
	fmt.Fprintf(&b, " generation %d", c.Generation)
	return b.String()
}

// ParseCandidate reverses Candidate.String for an incoming a=candidate (or
// bare candidate:-prefixed trickle) line.
func ParseCandidate(s string) (Candidate, error) {
	s = strings.TrimPrefix(s, "candidate:")
	fields := strings.Fields(s)
	if len(fields) < 6 {
		return Candidate{}, fmt.Errorf("sdp: malformed candidate %q", s)
	}
	c := Candidate{Foundation: fields[0], Transport: fields[2], IP: fields[4]}
	if n, err := strconv.Atoi(fields[1]); err == nil {
		c.Component = n
	}
	if n, err := strconv.ParseUint(fields[3], 10, 32); err == nil {
		c.Priority = uint32(n)
	}
	if n, err := strconv.Atoi(fields[5]); err == nil {
		c.Port = n
	}
	for i := 6; i+1 < len(fields); i += 2 {
		switch fields[i] {
		case "typ":
			c.Type = fields[i+1]
		case "raddr":
			c.RelatedIP = fields[i+1]
		case "rport":
			if n, err := strconv.Atoi(fields[i+1]); err == nil {
				c.RelatedPort = n
			}
		case "generation":
			if n, err := strconv.Atoi(fields[i+1]); err == nil {
				c.Generation = n
			}
		}
	}
	return c, nil
}
