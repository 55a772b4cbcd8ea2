package ice

// A data stream is the final product of ICE: a connection over which data
// can be exchanged with the remote peer. It implements `net.Conn` so that
// it can be easily passed to other components that expect such an object.
//
// A single DataStream backs every SDP media section bundled together under
// it (see Session.AddDataStream): one set of bases, one Checklist, one
// selected candidate pair, shared by every bundled mid. When bundling is
// disabled each mid gets its own DataStream.

import (
	"context"
	"fmt"
	"net"
	"sync"
)

type DataStream struct {
	// Media IDs sharing this stream. mids[0] is the stream's own mid; the
	// rest are other bundled mids aliased onto it.
	mids []string

	component int

	// Concatenation of local and remote `ice-ufrag` option
	username string

	// Local and remote `ice-pwd` options
	localPassword  string
	remotePassword string

	candidateLock sync.Mutex

	localCandidates  []Candidate
	remoteCandidates []Candidate

	checklist Checklist

	bases  []*Base
	dataIn chan []byte
}

func newDataStream(mid string, component int, username, localPassword, remotePassword string) *DataStream {
	ds := &DataStream{
		mids:           []string{mid},
		component:      component,
		username:       username,
		localPassword:  localPassword,
		remotePassword: remotePassword,
		dataIn:         make(chan []byte, 64),
	}
	ds.checklist.username = username
	ds.checklist.localPassword = localPassword
	ds.checklist.remotePassword = remotePassword
	return ds
}

func (ds *DataStream) hasMid(mid string) bool {
	for _, m := range ds.mids {
		if m == mid {
			return true
		}
	}
	return false
}

// mid returns the stream's primary mid, used to tag locally gathered
// candidates.
func (ds *DataStream) mid() string {
	return ds.mids[0]
}

func (ds *DataStream) addLocalCandidate(c Candidate) {
	ds.candidateLock.Lock()
	defer ds.candidateLock.Unlock()

	ds.localCandidates = append(ds.localCandidates, c)
	// Pair new local candidate with all existing remote candidates.
	ds.checklist.addCandidatePairs([]Candidate{c}, ds.remoteCandidates)
}

func (ds *DataStream) addRemoteCandidate(c Candidate) {
	ds.candidateLock.Lock()
	defer ds.candidateLock.Unlock()

	ds.remoteCandidates = append(ds.remoteCandidates, c)
	// Pair new remote candidate with all existing local candidates.
	ds.checklist.addCandidatePairs(ds.localCandidates, []Candidate{c})
}

// gather creates one base per local network interface, starts each base's
// read loop feeding STUN traffic into the checklist and everything else
// into dataIn, and gathers host/server-reflexive candidates for all of
// them. Candidates are pushed to lcand as they become known and lcand is
// closed once gathering completes, which signals end-of-candidates for
// trickle ICE.
func (ds *DataStream) gather(ctx context.Context, lcand chan<- Candidate) error {
	bases, err := initializeBases(ds.component, ds.mid())
	if err != nil {
		return err
	}
	ds.bases = bases

	for _, base := range bases {
		go base.readLoop(ds.checklist.handleStunRequest, ds.dataIn)
	}

	go func() {
		gatherAllCandidates(ctx, bases, func(c Candidate) {
			announceLocalCandidate(ctx, &c)
			ds.addLocalCandidate(c)
			select {
			case lcand <- c:
			case <-ctx.Done():
			}
		})
		close(lcand)
	}()

	return nil
}

// establishConnection runs the checklist's connectivity checks and blocks
// until a candidate pair is selected, then wraps it in a net.Conn.
func (ds *DataStream) establishConnection(ctx context.Context) (net.Conn, error) {
	ds.checklist.run(ctx)

	pair, err := ds.checklist.getSelected(ctx)
	if err != nil {
		return nil, fmt.Errorf("ice: %s: %w", ds.mid(), err)
	}

	return NewChannelConn(pair.local.base, ds.dataIn, pair.remote.address.netAddr()), nil
}
