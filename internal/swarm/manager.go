package swarm

import (
	"sort"
	"sync"
	"time"

	"github.com/swarmcast/swarmcast/internal/chunker"
	"github.com/swarmcast/swarmcast/internal/wire"
)

// Config carries the tunables spec.md §6 requires to be explicit
// constants rather than magic numbers scattered through the logic.
type Config struct {
	PipelineBudget int           // K: max in-flight requests per peer per content
	RequestTimeout time.Duration // age at which an unanswered request is released
}

// DefaultConfig returns the spec.md §6 defaults: pipelining budget 5,
// request timeout 30s.
func DefaultConfig() Config {
	return Config{
		PipelineBudget: 5,
		RequestTimeout: 30 * time.Second,
	}
}

// PeerBitfields maps peer id to that peer's known bitfield for one
// content id. Manager operations that select pieces take this as an
// explicit parameter so rarest-first selection is a pure function of
// its inputs and unit-testable without any network state.
type PeerBitfields map[string]*wire.Bitfield

// Manager owns the per-content Swarm registry. It performs no I/O: every
// operation below returns Actions for the caller to dispatch.
type Manager struct {
	mu     sync.Mutex
	config Config
	swarms map[string]*Swarm

	// bitfields is the Manager's own record of what it has learned about
	// peers, keyed by contentID then peerID, kept for callers that prefer
	// not to thread PeerBitfields through themselves.
	bitfields map[string]PeerBitfields
}

// New returns a Manager using the given config for pipelining/timeouts.
func New(config Config) *Manager {
	return &Manager{
		config:    config,
		swarms:    make(map[string]*Swarm),
		bitfields: make(map[string]PeerBitfields),
	}
}

// ContentIDs returns every content id with a registered swarm, in no
// particular order. Used by the coordinator to re-announce active
// swarms after a tracker reconnect.
func (m *Manager) ContentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.swarms))
	for id := range m.swarms {
		ids = append(ids, id)
	}
	return ids
}

// Swarm returns the registered swarm for contentID, if any.
func (m *Manager) Swarm(contentID string) (*Swarm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.swarms[contentID]
	return s, ok
}

// CreateSwarm registers a new swarm for contentID. If initialPieces is
// non-empty the swarm starts as a seeder (owned = every index, received
// populated); otherwise it starts as a leecher waiting on
// metadata.Provenance.TotalCount pieces. Creating a swarm that already
// exists is a no-op (idempotent registration mirrors the duplicate
// metadata law in spec.md §8).
func (m *Manager) CreateSwarm(contentID string, metadata *chunker.Package, initialPieces []chunker.Piece) *Swarm {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.swarms[contentID]; ok {
		return existing
	}

	total := 0
	if metadata != nil {
		total = metadata.Provenance.TotalCount
	}
	if len(initialPieces) > 0 {
		total = initialPieces[0].Total
	}

	s := newSwarm(contentID, total)
	s.Metadata = metadata

	if len(initialPieces) > 0 {
		for _, p := range initialPieces {
			s.owned[p.Index] = struct{}{}
			s.received[p.Index] = p
		}
	} else {
		s.StartedAt = time.Now()
	}

	m.swarms[contentID] = s
	if _, ok := m.bitfields[contentID]; !ok {
		m.bitfields[contentID] = make(PeerBitfields)
	}
	return s
}

// SetPeerBitfield records peer's full bitfield for contentID, replacing
// any previous record (used on an inbound bitfield frame).
func (m *Manager) SetPeerBitfield(contentID, peerID string, bf *wire.Bitfield) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bitfields[contentID]; !ok {
		m.bitfields[contentID] = make(PeerBitfields)
	}
	m.bitfields[contentID][peerID] = bf
}

// MarkPeerHas mirrors a single have bit into peer's known bitfield,
// creating the bitfield if this is the first thing we've learned about
// the peer for this content. Setting an already-set bit is a no-op.
func (m *Manager) MarkPeerHas(contentID, peerID string, index, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bitfields[contentID]; !ok {
		m.bitfields[contentID] = make(PeerBitfields)
	}
	bf, ok := m.bitfields[contentID][peerID]
	if !ok {
		bf = wire.NewBitfield(total)
		m.bitfields[contentID][peerID] = bf
	}
	bf.Set(index)
}

// PeerBitfields returns a snapshot of what is known about peers'
// holdings for contentID.
func (m *Manager) PeerBitfields(contentID string) PeerBitfields {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(PeerBitfields, len(m.bitfields[contentID]))
	for k, v := range m.bitfields[contentID] {
		out[k] = v
	}
	return out
}

// ForgetPeer drops all knowledge of peerID across every content's
// bitfields and releases any requests outstanding to it, so the next
// selection pass re-requests from remaining peers (spec.md §8, scenario 4).
func (m *Manager) ForgetPeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pb := range m.bitfields {
		delete(pb, peerID)
	}
	for _, s := range m.swarms {
		for idx, r := range s.requested {
			if r.PeerID == peerID {
				delete(s.requested, idx)
			}
		}
	}
}

// HandlePiece verifies an inbound piece, updates swarm state, and
// returns the resulting actions in spec order: on checksum failure, the
// request slot is released and no actions are emitted. On success:
// broadcast_have, download_progress, then either download_complete or
// whatever requestMoreChunks yields.
func (m *Manager) HandlePiece(peerID string, frame wire.PieceFrame, peerBitfields PeerBitfields) []Action {
	m.mu.Lock()
	s, ok := m.swarms[frame.ContentID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	piece := chunker.Piece{
		ContentID: frame.ContentID,
		Index:     frame.Index,
		Total:     s.Total,
		Data:      frame.Data,
		Checksum:  frame.Checksum,
	}

	if !chunker.Verify(piece) {
		delete(s.requested, frame.Index)
		m.mu.Unlock()
		return nil
	}

	s.received[frame.Index] = piece
	s.owned[frame.Index] = struct{}{}
	delete(s.requested, frame.Index)

	actions := []Action{
		{Type: ActionBroadcastHave, ContentID: frame.ContentID, Index: frame.Index},
		{Type: ActionDownloadProgress, ContentID: frame.ContentID, Percent: percent(len(s.owned), s.Total)},
	}
	complete := s.IsSeeder()
	m.mu.Unlock()

	if complete {
		actions = append(actions, Action{Type: ActionDownloadComplete, ContentID: frame.ContentID})
		return actions
	}

	return append(actions, m.RequestMoreChunks(frame.ContentID, peerBitfields)...)
}

// RequestMoreChunks computes needed = [0,total) \ (owned ∪ keys(requested))
// and requests each index rarest-first, tie-broken by ascending index,
// pipelining up to config.PipelineBudget in-flight requests per peer.
// Peers are scanned in ascending id order so results are reproducible.
func (m *Manager) RequestMoreChunks(contentID string, peerBitfields PeerBitfields) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.swarms[contentID]
	if !ok {
		return nil
	}

	needed := make([]int, 0, s.Total)
	for i := 0; i < s.Total; i++ {
		if _, owned := s.owned[i]; owned {
			continue
		}
		if _, inFlight := s.requested[i]; inFlight {
			continue
		}
		needed = append(needed, i)
	}
	if len(needed) == 0 {
		return nil
	}

	rarity := make(map[int]int, len(needed))
	for _, idx := range needed {
		count := 0
		for _, bf := range peerBitfields {
			if bf != nil && bf.Has(idx) {
				count++
			}
		}
		rarity[idx] = count
	}
	sort.Slice(needed, func(i, j int) bool {
		if rarity[needed[i]] != rarity[needed[j]] {
			return rarity[needed[i]] < rarity[needed[j]]
		}
		return needed[i] < needed[j]
	})

	peerIDs := make([]string, 0, len(peerBitfields))
	for id, bf := range peerBitfields {
		if bf != nil && bf.Count() > 0 {
			peerIDs = append(peerIDs, id)
		}
	}
	sort.Strings(peerIDs)

	var actions []Action
	for _, peerID := range peerIDs {
		bf := peerBitfields[peerID]
		inFlight := 0
		for _, r := range s.requested {
			if r.PeerID == peerID {
				inFlight++
			}
		}

		for _, idx := range needed {
			if inFlight >= m.config.PipelineBudget {
				break
			}
			if _, owned := s.owned[idx]; owned {
				continue
			}
			if _, requested := s.requested[idx]; requested {
				continue
			}
			if !bf.Has(idx) {
				continue
			}

			s.requested[idx] = request{PeerID: peerID, At: time.Now()}
			actions = append(actions, Action{
				Type:      ActionRequestChunk,
				PeerID:    peerID,
				ContentID: contentID,
				Index:     idx,
			})
			inFlight++
		}
	}

	return actions
}

// RequestChunksFromPeer emits a single bootstrap request for the first
// piece peerBitfield has that we neither own nor have already requested.
// Used the first time we learn a peer's bitfield or an inbound have.
func (m *Manager) RequestChunksFromPeer(peerID, contentID string, peerBitfield *wire.Bitfield) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.swarms[contentID]
	if !ok || peerBitfield == nil {
		return nil
	}

	for i := 0; i < s.Total; i++ {
		if _, owned := s.owned[i]; owned {
			continue
		}
		if _, requested := s.requested[i]; requested {
			continue
		}
		if !peerBitfield.Has(i) {
			continue
		}

		s.requested[i] = request{PeerID: peerID, At: time.Now()}
		return []Action{{Type: ActionRequestChunk, PeerID: peerID, ContentID: contentID, Index: i}}
	}
	return nil
}

// HandleRequest returns a send_piece action if index is owned, or no
// action otherwise. The Manager has no logger; an unowned request is
// dropped silently.
func (m *Manager) HandleRequest(peerID string, frame wire.RequestFrame) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.swarms[frame.ContentID]
	if !ok {
		return nil
	}
	piece, ok := s.received[frame.Index]
	if !ok {
		return nil
	}
	return []Action{{Type: ActionSendPiece, PeerID: peerID, ContentID: frame.ContentID, Index: frame.Index, Piece: piece}}
}

// CheckTimeouts releases every outstanding request older than
// config.RequestTimeout, across every swarm, so the freed indices become
// re-schedulable on the next selection pass.
func (m *Manager) CheckTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, s := range m.swarms {
		for idx, r := range s.requested {
			if now.Sub(r.At) > m.config.RequestTimeout {
				delete(s.requested, idx)
			}
		}
	}
}

func percent(owned, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(owned) / float64(total) * 100
}
