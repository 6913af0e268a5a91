// Package webrtcconn is the Transport Handler (spec.md §4.3): a single
// reliable ordered data channel per peer, established through the
// standard ICE/DTLS handshake whose offers, answers, and candidates are
// relayed by the tracker.
//
// Grounded on the teacher's internal/transport/webrtc package (connection
// per peer, initiator/answerer split by OnDataChannel vs
// CreateDataChannel) and internal/node/webrtc.go (default STUN list,
// per-peer state cleanup on disconnect), generalized into the full
// NEW/OFFERING/CONNECTING/OPEN/DISCONNECTED/CLOSED state machine spec.md
// §4.3 names and the ICE-restart and disconnect-grace timers it requires.
package webrtcconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// State is a peer connection's position in the spec.md §4.3 lifecycle.
type State int

const (
	StateNew State = iota
	StateOffering
	StateConnecting
	StateOpen
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultICEServers is the teacher's public STUN server list
// (internal/node/config.go), used unless a Config overrides ICEServers.
func DefaultICEServers() []string {
	return []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
	}
}

// Config carries the Transport Handler's explicit tunables (spec.md §6).
type Config struct {
	ICEServers []string

	// PeerCap bounds concurrent peer connections (default 50).
	PeerCap int
	// DisconnectGrace is how long a transient "disconnected" state is
	// masked from the coordinator before peerDisconnected fires (default 10s).
	DisconnectGrace time.Duration
	// ICERestartGrace is how long a failed connection is given to recover
	// via ICE restart before being declared closed (default 5s).
	ICERestartGrace time.Duration
	// RetransmitBudget bounds the data channel's max retransmits (default 3).
	RetransmitBudget uint16

	Logger *logrus.Logger
}

// DefaultConfig returns the spec.md §6 transport defaults.
func DefaultConfig() Config {
	return Config{
		ICEServers:       DefaultICEServers(),
		PeerCap:          50,
		DisconnectGrace:  10 * time.Second,
		ICERestartGrace:  5 * time.Second,
		RetransmitBudget: 3,
	}
}

// ErrPeerCapReached is returned by Handler.Connect/HandleOffer when the
// peer cap (spec.md §4.3 "capacity bound") would be exceeded.
var ErrPeerCapReached = errors.New("webrtcconn: peer cap reached")

// ErrChannelNotOpen is returned by Send when the data channel has not
// reached StateOpen; the coordinator must never send to a non-open channel.
var ErrChannelNotOpen = errors.New("webrtcconn: data channel not open")

// Signaler relays offers, answers, and ICE candidates through the
// tracker. The coordinator implements this over its tracker connection.
type Signaler interface {
	SendOffer(ctx context.Context, peerID, sdp string) error
	SendAnswer(ctx context.Context, peerID, sdp string) error
	SendICECandidate(ctx context.Context, peerID string, candidate string) error
}

// Events is the Transport Handler's four upward events (spec.md §4.3).
type Events struct {
	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string)
	OnChannelOpen      func(peerID string)
	OnFrame            func(peerID string, data []byte)
}

// Handler manages one peer connection per neighbor id.
type Handler struct {
	config   Config
	signaler Signaler
	events   Events
	logger   *logrus.Logger

	webrtcConfig webrtc.Configuration

	mu    sync.Mutex
	peers map[string]*peerConn
}

// New builds a Transport Handler. signaler is used to relay session
// descriptions and candidates; events receives lifecycle notifications.
func New(config Config, signaler Signaler, events Events) *Handler {
	if config.PeerCap == 0 {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}

	iceServers := make([]webrtc.ICEServer, 0, len(config.ICEServers))
	for _, url := range config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &Handler{
		config:       config,
		signaler:     signaler,
		events:       events,
		logger:       logger,
		webrtcConfig: webrtc.Configuration{ICEServers: iceServers, ICETransportPolicy: webrtc.ICETransportPolicyAll},
		peers:        make(map[string]*peerConn),
	}
}

// PeerCount reports the number of currently tracked peer connections.
func (h *Handler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// OpenPeers returns the ids of peers whose data channel is currently
// StateOpen, i.e. safe to Send to.
func (h *Handler) OpenPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.peers))
	for id, p := range h.peers {
		if p.getState() == StateOpen {
			out = append(out, id)
		}
	}
	return out
}

// State reports the lifecycle state of peerID, if known.
func (h *Handler) State(peerID string) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[peerID]
	if !ok {
		return StateNew, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, true
}

// Connect initiates a connection toward peerID: creates the data channel
// and sends an offer through the signaler. Per spec.md §4.3, existing
// members initiate toward a newly announced joiner.
func (h *Handler) Connect(ctx context.Context, peerID string) error {
	h.mu.Lock()
	if _, exists := h.peers[peerID]; exists {
		h.mu.Unlock()
		return nil
	}
	if len(h.peers) >= h.config.PeerCap {
		h.mu.Unlock()
		h.logger.WithField("peer", peerID).Warn("peer cap reached, refusing new connection")
		return ErrPeerCapReached
	}

	p, err := newPeerConn(h, peerID, true)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.peers[peerID] = p
	h.mu.Unlock()

	return p.startAsInitiator(ctx)
}

// HandleOffer creates a peer connection responding to an inbound offer
// and answers it. Called when the tracker forwards an "offer" envelope
// for a peer we do not yet know.
func (h *Handler) HandleOffer(ctx context.Context, peerID, sdp string) error {
	h.mu.Lock()
	p, exists := h.peers[peerID]
	if !exists {
		if len(h.peers) >= h.config.PeerCap {
			h.mu.Unlock()
			h.logger.WithField("peer", peerID).Warn("peer cap reached, refusing inbound offer")
			return ErrPeerCapReached
		}
		var err error
		p, err = newPeerConn(h, peerID, false)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		h.peers[peerID] = p
	}
	h.mu.Unlock()

	return p.handleOffer(ctx, sdp)
}

// HandleAnswer completes the initiator side of the handshake.
func (h *Handler) HandleAnswer(ctx context.Context, peerID, sdp string) error {
	h.mu.Lock()
	p, ok := h.peers[peerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtcconn: answer from unknown peer %q", peerID)
	}
	return p.handleAnswer(sdp)
}

// HandleICECandidate applies a trickled remote candidate.
func (h *Handler) HandleICECandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	h.mu.Lock()
	p, ok := h.peers[peerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtcconn: ICE candidate from unknown peer %q", peerID)
	}
	return p.pc.AddICECandidate(candidate)
}

// Send delivers data on peerID's data channel. Fails fast if the channel
// has not reached StateOpen; the coordinator never sends to a non-open
// channel (spec.md §4.3 ordering rule).
func (h *Handler) Send(peerID string, data []byte) error {
	h.mu.Lock()
	p, ok := h.peers[peerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtcconn: unknown peer %q", peerID)
	}
	return p.send(data)
}

// Close tears down every peer connection.
func (h *Handler) Close() error {
	h.mu.Lock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[string]*peerConn)
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.close()
	}
	return nil
}

func (h *Handler) forget(peerID string) {
	h.mu.Lock()
	delete(h.peers, peerID)
	h.mu.Unlock()
}
