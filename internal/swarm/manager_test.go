package swarm

import (
	"testing"
	"time"

	"github.com/swarmcast/swarmcast/internal/chunker"
	"github.com/swarmcast/swarmcast/internal/wire"
)

func metaWithTotal(total int) *chunker.Package {
	return &chunker.Package{
		ContentID:  "content-1",
		Provenance: chunker.Provenance{TotalCount: total},
	}
}

func TestCreateSwarm_SeederVsLeecher(t *testing.T) {
	m := New(DefaultConfig())

	seederPieces := []chunker.Piece{
		{ContentID: "c1", Index: 0, Total: 2, Data: []byte("a")},
		{ContentID: "c1", Index: 1, Total: 2, Data: []byte("b")},
	}
	seeder := m.CreateSwarm("c1", nil, seederPieces)
	if !seeder.IsSeeder() {
		t.Fatal("expected swarm created with initial pieces to be a seeder")
	}

	leecher := m.CreateSwarm("c2", metaWithTotal(3), nil)
	if leecher.IsSeeder() {
		t.Fatal("expected swarm created without pieces to be a leecher")
	}
	if leecher.OwnedCount() != 0 {
		t.Fatalf("expected leecher to own 0 pieces, got %d", leecher.OwnedCount())
	}
}

func TestCreateSwarm_Idempotent(t *testing.T) {
	m := New(DefaultConfig())
	first := m.CreateSwarm("c1", metaWithTotal(5), nil)
	second := m.CreateSwarm("c1", metaWithTotal(999), nil)
	if first != second {
		t.Fatal("expected re-creating an existing swarm to return the same instance")
	}
	if second.Total != 5 {
		t.Fatalf("expected total unchanged by duplicate create, got %d", second.Total)
	}
}

func TestRequestMoreChunks_RarestFirstTieBreakByIndex(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(5), nil)

	// peer A has everything (0-4), peer B has only 0 and 1.
	a := wire.NewBitfield(5)
	for i := 0; i < 5; i++ {
		a.Set(i)
	}
	b := wire.NewBitfield(5)
	b.Set(0)
	b.Set(1)

	actions := m.RequestMoreChunks("c1", PeerBitfields{"peerA": a, "peerB": b})

	// indices 2,3,4 have rarity 1 (only A), indices 0,1 have rarity 2 (A and B).
	// Expect the rarest indices requested first, ascending by index among ties.
	wantOrderOfIndices := []int{2, 3, 4}
	var requested []int
	for _, act := range actions {
		if act.Type != ActionRequestChunk {
			continue
		}
		requested = append(requested, act.Index)
	}
	if len(requested) < len(wantOrderOfIndices) {
		t.Fatalf("expected at least %d requests, got %v", len(wantOrderOfIndices), requested)
	}
	for i, idx := range wantOrderOfIndices {
		if requested[i] != idx {
			t.Errorf("expected request %d to be rarest index %d, got order %v", i, idx, requested)
		}
	}
}

func TestRequestMoreChunks_PipelineBudgetRespected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipelineBudget = 2
	m := New(cfg)
	m.CreateSwarm("c1", metaWithTotal(10), nil)

	peer := wire.NewBitfield(10)
	for i := 0; i < 10; i++ {
		peer.Set(i)
	}

	actions := m.RequestMoreChunks("c1", PeerBitfields{"peerA": peer})

	count := 0
	for _, act := range actions {
		if act.Type == ActionRequestChunk && act.PeerID == "peerA" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected exactly 2 requests (pipeline budget), got %d", count)
	}
}

func TestRequestMoreChunks_EmptyBitfieldProducesNoRequests(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(4), nil)

	empty := wire.NewBitfield(4)
	actions := m.RequestMoreChunks("c1", PeerBitfields{"peerA": empty})
	if len(actions) != 0 {
		t.Fatalf("expected no actions for all-zero bitfield, got %d", len(actions))
	}
}

func TestRequestMoreChunks_NothingNeededReturnsNil(t *testing.T) {
	m := New(DefaultConfig())
	pieces := []chunker.Piece{{ContentID: "c1", Index: 0, Total: 1, Data: []byte("x")}}
	m.CreateSwarm("c1", nil, pieces)

	peer := wire.NewBitfield(1)
	peer.Set(0)
	actions := m.RequestMoreChunks("c1", PeerBitfields{"peerA": peer})
	if actions != nil {
		t.Fatalf("expected nil actions when nothing is needed, got %v", actions)
	}
}

func TestHandlePiece_ChecksumFailureReleasesSlot(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(2), nil)

	peer := wire.NewBitfield(2)
	peer.Set(0)
	peer.Set(1)
	m.RequestMoreChunks("c1", PeerBitfields{"peerA": peer})

	s, _ := m.Swarm("c1")
	if _, requested := s.RequestedBy(0); !requested {
		t.Fatal("expected index 0 to be requested before corrupting it")
	}

	corrupted := wire.PieceFrame{ContentID: "c1", Index: 0, Data: []byte("bad"), Checksum: 0}
	actions := m.HandlePiece("peerA", corrupted, PeerBitfields{"peerA": peer})
	if len(actions) != 0 {
		t.Fatalf("expected no actions for checksum failure, got %v", actions)
	}
	if s.Owns(0) {
		t.Fatal("expected corrupted piece to not be owned")
	}
	if _, requested := s.RequestedBy(0); requested {
		t.Fatal("expected request slot to be released after checksum failure")
	}
}

func TestHandlePiece_SuccessEmitsHaveProgressAndReRequests(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(2), nil)

	peer := wire.NewBitfield(2)
	peer.Set(0)
	peer.Set(1)

	p0 := chunker.Piece{ContentID: "c1", Index: 0, Total: 2, Data: []byte("a")}
	p0.Checksum = pieceChecksum(t, p0.Data)

	frame := wire.PieceFrame{ContentID: "c1", Index: 0, Data: p0.Data, Checksum: p0.Checksum}
	actions := m.HandlePiece("peerA", frame, PeerBitfields{"peerA": peer})

	if len(actions) < 2 {
		t.Fatalf("expected at least have+progress actions, got %v", actions)
	}
	if actions[0].Type != ActionBroadcastHave || actions[0].Index != 0 {
		t.Errorf("expected first action broadcast_have(0), got %+v", actions[0])
	}
	if actions[1].Type != ActionDownloadProgress || actions[1].Percent != 50 {
		t.Errorf("expected second action download_progress(50), got %+v", actions[1])
	}

	s, _ := m.Swarm("c1")
	if !s.Owns(0) {
		t.Fatal("expected piece 0 to be owned after success")
	}
}

func TestHandlePiece_CompletionEmitsDownloadComplete(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(1), nil)

	data := []byte("x")
	frame := wire.PieceFrame{ContentID: "c1", Index: 0, Data: data, Checksum: pieceChecksum(t, data)}
	actions := m.HandlePiece("peerA", frame, PeerBitfields{})

	found := false
	for _, act := range actions {
		if act.Type == ActionDownloadComplete {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected download_complete action, got %v", actions)
	}
}

func TestHandleRequest_OwnedVsUnowned(t *testing.T) {
	m := New(DefaultConfig())
	pieces := []chunker.Piece{{ContentID: "c1", Index: 0, Total: 2, Data: []byte("a")}}
	m.CreateSwarm("c1", nil, pieces)

	got := m.HandleRequest("peerA", wire.RequestFrame{ContentID: "c1", Index: 0})
	if len(got) != 1 || got[0].Type != ActionSendPiece {
		t.Fatalf("expected send_piece for owned index, got %v", got)
	}

	got = m.HandleRequest("peerA", wire.RequestFrame{ContentID: "c1", Index: 1})
	if len(got) != 0 {
		t.Fatalf("expected no action for unowned index, got %v", got)
	}
}

func TestCheckTimeouts_ReleasesStaleRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 10 * time.Millisecond
	m := New(cfg)
	m.CreateSwarm("c1", metaWithTotal(1), nil)

	peer := wire.NewBitfield(1)
	peer.Set(0)
	m.RequestMoreChunks("c1", PeerBitfields{"peerA": peer})

	s, _ := m.Swarm("c1")
	if _, requested := s.RequestedBy(0); !requested {
		t.Fatal("expected index 0 requested")
	}

	time.Sleep(20 * time.Millisecond)
	m.CheckTimeouts()

	if _, requested := s.RequestedBy(0); requested {
		t.Fatal("expected stale request to be released")
	}
}

func TestRequestChunksFromPeer_Bootstrap(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(3), nil)

	peer := wire.NewBitfield(3)
	peer.Set(1)

	actions := m.RequestChunksFromPeer("peerA", "c1", peer)
	if len(actions) != 1 || actions[0].Index != 1 {
		t.Fatalf("expected single bootstrap request for index 1, got %v", actions)
	}
}

func TestForgetPeer_ReleasesItsRequests(t *testing.T) {
	m := New(DefaultConfig())
	m.CreateSwarm("c1", metaWithTotal(1), nil)

	peer := wire.NewBitfield(1)
	peer.Set(0)
	m.RequestMoreChunks("c1", PeerBitfields{"peerA": peer})

	s, _ := m.Swarm("c1")
	if _, requested := s.RequestedBy(0); !requested {
		t.Fatal("expected index 0 requested from peerA")
	}

	m.ForgetPeer("peerA")
	if _, requested := s.RequestedBy(0); requested {
		t.Fatal("expected ForgetPeer to release its outstanding requests")
	}
}

func pieceChecksum(t *testing.T, data []byte) uint32 {
	t.Helper()
	return chunker.Checksum(data)
}
