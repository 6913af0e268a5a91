package tracker

import (
	"sync"
	"time"
)

// membership is a swarm-membership record (spec.md §3): participant id,
// completeness flag, last-seen timestamp.
type membership struct {
	ParticipantID string
	Complete      bool
	LastSeen      time.Time
}

// rooms maps content id -> participant id -> membership. A single coarse
// mutex protects it, grounded on the teacher's tracker/store.go pattern
// (one sync.Mutex guarding a map of files to peer lists); the mutation
// rate here is low enough that per-room locks would be overkill.
type rooms struct {
	mu     sync.Mutex
	byRoom map[string]map[string]*membership
}

func newRooms() *rooms {
	return &rooms{byRoom: make(map[string]map[string]*membership)}
}

// Announce inserts or refreshes participantID's membership in contentID's
// room, and returns whether this was a fresh join (false means it was a
// refresh of an existing membership — spec.md §4.2's idempotence rule).
func (r *rooms) Announce(contentID, participantID string, complete bool) (fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byRoom[contentID]
	if !ok {
		room = make(map[string]*membership)
		r.byRoom[contentID] = room
	}

	m, exists := room[participantID]
	if !exists {
		room[participantID] = &membership{ParticipantID: participantID, Complete: complete, LastSeen: time.Now()}
		return true
	}
	m.Complete = complete
	m.LastSeen = time.Now()
	return false
}

// Participants returns a snapshot of contentID's current membership.
func (r *rooms) Participants(contentID string) []membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.byRoom[contentID]
	out := make([]membership, 0, len(room))
	for _, m := range room {
		out = append(out, *m)
	}
	return out
}

// Leave removes participantID from contentID's room. If the room becomes
// empty it is dropped entirely. Reports whether the participant had been
// a member.
func (r *rooms) Leave(contentID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(contentID, participantID)
}

func (r *rooms) leaveLocked(contentID, participantID string) bool {
	room, ok := r.byRoom[contentID]
	if !ok {
		return false
	}
	if _, ok := room[participantID]; !ok {
		return false
	}
	delete(room, participantID)
	if len(room) == 0 {
		delete(r.byRoom, contentID)
	}
	return true
}

// LeaveAll removes participantID from every room it belongs to (used on
// transport close), returning the content ids it was removed from.
func (r *rooms) LeaveAll(participantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for contentID := range r.byRoom {
		if r.leaveLocked(contentID, participantID) {
			left = append(left, contentID)
		}
	}
	return left
}

// staleEntry names one membership found stale by the sweep.
type staleEntry struct {
	ContentID     string
	ParticipantID string
}

// Sweep removes every membership whose LastSeen is older than threshold
// and returns what was removed, so the caller can broadcast
// peer-left-swarm for each.
func (r *rooms) Sweep(threshold time.Duration) []staleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var removed []staleEntry
	for contentID, room := range r.byRoom {
		for participantID, m := range room {
			if m.LastSeen.Before(cutoff) {
				delete(room, participantID)
				removed = append(removed, staleEntry{ContentID: contentID, ParticipantID: participantID})
			}
		}
		if len(room) == 0 {
			delete(r.byRoom, contentID)
		}
	}
	return removed
}
