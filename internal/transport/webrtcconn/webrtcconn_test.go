package webrtcconn

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

// pairSignaler wires two Handlers directly together, standing in for the
// tracker relay: offers/answers/candidates sent by one side are delivered
// straight to the other's Handle* methods. selfID is this Handler's own
// id as seen by the remote side.
type pairSignaler struct {
	selfID string
	other  *Handler
}

func (s *pairSignaler) SendOffer(ctx context.Context, peerID, sdp string) error {
	return s.other.HandleOffer(ctx, s.selfID, sdp)
}

func (s *pairSignaler) SendAnswer(ctx context.Context, peerID, sdp string) error {
	return s.other.HandleAnswer(ctx, s.selfID, sdp)
}

func (s *pairSignaler) SendICECandidate(ctx context.Context, peerID string, candidate string) error {
	if candidate == "" {
		return nil
	}
	return s.other.HandleICECandidate(s.selfID, webrtc.ICECandidateInit{Candidate: candidate})
}

func newPair(t *testing.T) (a, b *Handler, aOpen, bOpen chan struct{}) {
	t.Helper()
	aOpen = make(chan struct{}, 1)
	bOpen = make(chan struct{}, 1)

	cfg := DefaultConfig()
	cfg.ICEServers = nil // host candidates only, no network dependency

	var handlerA, handlerB *Handler
	handlerA = New(cfg, &pairSignaler{selfID: "a"}, Events{
		OnChannelOpen: func(string) { aOpen <- struct{}{} },
	})
	handlerB = New(cfg, &pairSignaler{selfID: "b"}, Events{
		OnChannelOpen: func(string) { bOpen <- struct{}{} },
	})
	handlerA.signaler.(*pairSignaler).other = handlerB
	handlerB.signaler.(*pairSignaler).other = handlerA

	return handlerA, handlerB, aOpen, bOpen
}

func TestHandshake_ChannelOpensBothSides(t *testing.T) {
	a, b, aOpen, bOpen := newPair(t)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Connect(ctx, "b"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-aOpen:
	case <-ctx.Done():
		t.Fatal("timed out waiting for initiator channel to open")
	}
	select {
	case <-bOpen:
	case <-ctx.Done():
		t.Fatal("timed out waiting for answerer channel to open")
	}

	if s, _ := a.State("b"); s != StateOpen {
		t.Errorf("expected initiator state open, got %v", s)
	}
}

func TestSend_FailsFastBeforeOpen(t *testing.T) {
	a, b, _, _ := newPair(t)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx, "b"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := a.Send("b", []byte("too early")); err == nil {
		t.Error("expected Send before channel open to fail")
	}
}

func TestFrameDelivery(t *testing.T) {
	frames := make(chan []byte, 1)
	aOpen := make(chan struct{}, 1)
	bOpen := make(chan struct{}, 1)

	cfg := DefaultConfig()
	cfg.ICEServers = nil

	var handlerA, handlerB *Handler
	handlerA = New(cfg, &pairSignaler{selfID: "a"}, Events{
		OnChannelOpen: func(string) { aOpen <- struct{}{} },
	})
	handlerB = New(cfg, &pairSignaler{selfID: "b"}, Events{
		OnChannelOpen: func(string) { bOpen <- struct{}{} },
		OnFrame:       func(peerID string, data []byte) { frames <- data },
	})
	handlerA.signaler.(*pairSignaler).other = handlerB
	handlerB.signaler.(*pairSignaler).other = handlerA
	defer handlerA.Close()
	defer handlerB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := handlerA.Connect(ctx, "b"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-aOpen:
	case <-ctx.Done():
		t.Fatal("timed out waiting for channel to open")
	}
	<-bOpen

	if err := handlerA.Send("b", []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-frames:
		if string(got) != "hello" {
			t.Errorf("expected %q, got %q", "hello", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for frame delivery")
	}
}

func TestConnect_RefusesPastPeerCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeerCap = 0
	h := New(cfg, &pairSignaler{}, Events{})
	// PeerCap of 0 falls back to DefaultConfig in New, so force it back down.
	h.config.PeerCap = 0

	err := h.Connect(context.Background(), "x")
	if err != ErrPeerCapReached {
		t.Fatalf("expected ErrPeerCapReached, got %v", err)
	}
}
