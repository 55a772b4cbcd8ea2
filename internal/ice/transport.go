package ice

import (
	"fmt"
	"net"
)

// AddressFamily identifies whether a TransportAddress carries a concrete IP
// or an unresolved mDNS hostname.
type AddressFamily int

const (
	Unresolved AddressFamily = iota
	IPv4
	IPv6
)

func (f AddressFamily) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "unresolved"
	}
}

// Protocol is the transport-layer protocol a candidate is reachable over.
type Protocol string

const (
	UDP Protocol = "udp"
	TCP Protocol = "tcp"
)

// IPAddress stores an IP address in fixed-size form so that TransportAddress
// remains a comparable struct (candidate pairing and pruning compare
// addresses with ==). Only the first four bytes are meaningful for an IPv4
// family; it is left zeroed when the owning address is Unresolved.
type IPAddress [16]byte

func makeIPAddress(ip net.IP) IPAddress {
	var a IPAddress
	if ip4 := ip.To4(); ip4 != nil {
		copy(a[:], ip4)
	} else {
		copy(a[:], ip.To16())
	}
	return a
}

func (a IPAddress) netIP(family AddressFamily) net.IP {
	if family == IPv4 {
		return net.IP(a[0:4])
	}
	return net.IP(a[:])
}

// TransportAddress is a (protocol, address, port) tuple, per RFC 8445's
// notion of a candidate's transport address. A candidate gathered for mDNS
// privacy (RFC 8445 mDNS ICE candidates) is Unresolved until the remote
// peer's agent looks up its ".local" hostname.
type TransportAddress struct {
	protocol Protocol
	family   AddressFamily
	ip       IPAddress
	host     string // mDNS hostname; meaningful only when family == Unresolved
	port     int

	linkLocal bool
}

func makeTransportAddress(addr net.Addr) TransportAddress {
	var ip net.IP
	var port int
	var protocol Protocol
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port, protocol = a.IP, a.Port, UDP
	case *net.TCPAddr:
		ip, port, protocol = a.IP, a.Port, TCP
	default:
		panic("ice: unsupported net.Addr type: " + addr.String())
	}

	family := IPv4
	if ip.To4() == nil {
		family = IPv6
	}

	return TransportAddress{
		protocol:  protocol,
		family:    family,
		ip:        makeIPAddress(ip),
		port:      port,
		linkLocal: ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast(),
	}
}

// makeUnresolvedTransportAddress builds a candidate address for an mDNS
// ".local" hostname whose IP the local agent has not yet resolved.
func makeUnresolvedTransportAddress(protocol Protocol, host string, port int) TransportAddress {
	return TransportAddress{protocol: protocol, family: Unresolved, host: host, port: port}
}

// resolved reports whether the address carries a concrete IP, as opposed to
// an mDNS hostname awaiting resolution.
func (ta *TransportAddress) resolved() bool {
	return ta.family != Unresolved
}

// resolve fixes an Unresolved address to a concrete IP, once mDNS lookup of
// its hostname completes.
func (ta *TransportAddress) resolve(ip net.IP) {
	ta.family = IPv4
	if ip.To4() == nil {
		ta.family = IPv6
	}
	ta.ip = makeIPAddress(ip)
	ta.linkLocal = ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// displayIP returns the address's mDNS hostname if unresolved, or its
// textual IP otherwise, so a candidate can always be rendered into SDP
// without leaking a concrete address behind an ephemeral hostname.
func (ta *TransportAddress) displayIP() string {
	if ta.family == Unresolved {
		return ta.host
	}
	return ta.ip.netIP(ta.family).String()
}

func (ta *TransportAddress) netAddr() net.Addr {
	hostport := net.JoinHostPort(ta.displayIP(), fmt.Sprintf("%d", ta.port))
	if ta.protocol == TCP {
		addr, _ := net.ResolveTCPAddr("tcp", hostport)
		return addr
	}
	addr, _ := net.ResolveUDPAddr("udp", hostport)
	return addr
}

func (ta TransportAddress) String() string {
	ip := ta.displayIP()
	if ta.family == IPv6 {
		return fmt.Sprintf("%s/[%s]:%d", ta.protocol, ip, ta.port)
	}
	return fmt.Sprintf("%s/%s:%d", ta.protocol, ip, ta.port)
}
