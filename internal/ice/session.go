package ice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// mdnsResolveTimeout bounds how long AddRemoteCandidate waits for an
// ephemeral ".local" candidate to resolve before giving up on it.
const mdnsResolveTimeout = 5 * time.Second

// A Session coordinates ICE for every media section (mid) of one peer
// connection. Mids that share an SDP BUNDLE group are backed by a single
// DataStream -- one set of bases, one Checklist, one selected candidate
// pair -- while mids outside any bundle (or when bundling is disabled) each
// get their own.
type Session struct {
	mu      sync.Mutex
	streams []*DataStream         // one entry per unique underlying ICE stream
	byMid   map[string]*DataStream // every mid, including bundled aliases
}

func NewSession() *Session {
	return &Session{
		byMid: make(map[string]*DataStream),
	}
}

// AddDataStream registers mid for ICE. If bundleMid names a mid that
// already has a stream, mid is aliased onto that same stream (sharing its
// bases and selected candidate pair) rather than gathering its own
// candidates, matching "single UDP socket per bundle group". Pass an empty
// bundleMid for a mid that is not bundled with anything yet.
func (s *Session) AddDataStream(mid string, component int, username, localPassword, remotePassword, bundleMid string) *DataStream {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bundleMid != "" {
		if ds, ok := s.byMid[bundleMid]; ok {
			ds.mids = append(ds.mids, mid)
			s.byMid[mid] = ds
			return ds
		}
	}

	ds := newDataStream(mid, component, username, localPassword, remotePassword)
	s.streams = append(s.streams, ds)
	s.byMid[mid] = ds
	return ds
}

func (s *Session) getDataStream(mid string) (*DataStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.byMid[mid]
	if !ok {
		return nil, fmt.Errorf("ice: no data stream with mid=%s", mid)
	}
	return ds, nil
}

// AddRemoteCandidate adds a trickled remote candidate, described by an SDP
// "candidate" attribute value, to the stream backing mid. An empty desc
// signals end-of-candidates for that mid and is a no-op: completion is
// instead driven by the checklist's own state machine. A candidate whose
// address is an mDNS ephemeral ".local" hostname is resolved to a concrete
// IP before being added.
func (s *Session) AddRemoteCandidate(ctx context.Context, desc, mid string) error {
	if desc == "" {
		return nil
	}

	ds, err := s.getDataStream(mid)
	if err != nil {
		return err
	}

	c, err := ParseCandidate(desc, mid)
	if err != nil {
		return err
	}

	if c.needsMDNSResolution() {
		if err := mdnsStart(); err != nil {
			return fmt.Errorf("ice: starting mdns: %w", err)
		}
		rctx, cancel := context.WithTimeout(ctx, mdnsResolveTimeout)
		ip, err := mdnsResolve(rctx, c.mdnsHost())
		cancel()
		if err != nil {
			return fmt.Errorf("ice: resolving mdns candidate %s: %w", c.mdnsHost(), err)
		}
		c.resolveMDNSAddress(ip)
	}

	ds.addRemoteCandidate(c)
	return nil
}

// Gather starts candidate gathering for every distinct stream in the
// session and returns a single channel merging all of their candidates, so
// the caller can trickle them out over SDP as they arrive. The channel is
// closed once every stream has finished gathering.
func (s *Session) Gather(ctx context.Context) (<-chan Candidate, error) {
	s.mu.Lock()
	streams := append([]*DataStream(nil), s.streams...)
	s.mu.Unlock()

	merged := make(chan Candidate, 16)
	var wg sync.WaitGroup
	for _, ds := range streams {
		lcand := make(chan Candidate, 16)
		if err := ds.gather(ctx, lcand); err != nil {
			return nil, fmt.Errorf("ice: gathering candidates for mid=%s: %w", ds.mid(), err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range lcand {
				select {
				case merged <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged, nil
}

// EstablishConnection runs connectivity checks for every stream in
// parallel and returns a net.Conn per mid once all of them have selected a
// candidate pair (bundled mids share the same net.Conn).
func (s *Session) EstablishConnection(ctx context.Context) (map[string]net.Conn, error) {
	s.mu.Lock()
	streams := append([]*DataStream(nil), s.streams...)
	byMid := make(map[string]*DataStream, len(s.byMid))
	for mid, ds := range s.byMid {
		byMid[mid] = ds
	}
	s.mu.Unlock()

	conns := make(map[*DataStream]net.Conn, len(streams))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, ds := range streams {
		ds := ds
		g.Go(func() error {
			conn, err := ds.establishConnection(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			conns[ds] = conn
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[string]net.Conn, len(byMid))
	for mid, ds := range byMid {
		result[mid] = conns[ds]
	}
	return result, nil
}
