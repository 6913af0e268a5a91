// Package swarm implements the per-content bitfield accounting,
// rarest-first piece selection, duplicate/timeout suppression, and
// request pipelining described in spec.md §4.4.
//
// The Manager is a pure function of state: every operation returns a
// list of Actions for the caller (the Coordinator) to dispatch. It never
// performs I/O itself, which is what makes rarest-first selection and
// pipelining unit-testable in isolation — grounded on the teacher's
// internal/node/peer.go FindEligiblePeers/SelectRandomPeer split between
// pure selection logic and I/O, generalized into a fully action-returning
// design per spec.md §9's "action intents vs. direct I/O" design note.
package swarm

import (
	"time"

	"github.com/swarmcast/swarmcast/internal/chunker"
)

// request records who a piece was asked of and when, so timeouts can be
// judged per request rather than approximated from swarm start time
// (spec.md §9's per-request-timestamps design note).
type request struct {
	PeerID string
	At     time.Time
}

// Swarm is the per-content transfer state (spec.md §3).
type Swarm struct {
	ContentID string
	Metadata  *chunker.Package

	owned     map[int]struct{}
	requested map[int]request
	received  map[int]chunker.Piece

	Total     int
	StartedAt time.Time // leechers only; zero for seeders
}

func newSwarm(contentID string, total int) *Swarm {
	return &Swarm{
		ContentID: contentID,
		owned:     make(map[int]struct{}),
		requested: make(map[int]request),
		received:  make(map[int]chunker.Piece),
		Total:     total,
	}
}

// IsSeeder reports whether every piece in [0,total) is owned.
func (s *Swarm) IsSeeder() bool {
	return s.Total > 0 && len(s.owned) == s.Total
}

// OwnedCount returns |owned|.
func (s *Swarm) OwnedCount() int {
	return len(s.owned)
}

// Owns reports whether index is in owned.
func (s *Swarm) Owns(index int) bool {
	_, ok := s.owned[index]
	return ok
}

// Piece returns a previously received and verified piece by index.
func (s *Swarm) Piece(index int) (chunker.Piece, bool) {
	p, ok := s.received[index]
	return p, ok
}

// Pieces returns every received piece, for reassembly.
func (s *Swarm) Pieces() []chunker.Piece {
	out := make([]chunker.Piece, 0, len(s.received))
	for _, p := range s.received {
		out = append(out, p)
	}
	return out
}

// RequestedBy returns the peer index is currently requested from, if any.
func (s *Swarm) RequestedBy(index int) (string, bool) {
	r, ok := s.requested[index]
	return r.PeerID, ok
}

// CheckInvariants reports the two structural invariants from spec.md §8
// (properties 1 and 2), for use in tests and defensive assertions:
// owned ∩ keys(requested) = ∅, and |owned| ≤ total. It also checks that
// every received index is owned.
func (s *Swarm) CheckInvariants() bool {
	if len(s.owned) > s.Total {
		return false
	}
	for idx := range s.requested {
		if _, ok := s.owned[idx]; ok {
			return false
		}
	}
	for idx := range s.received {
		if _, ok := s.owned[idx]; !ok {
			return false
		}
	}
	return true
}
