// Package tracker implements the connection-oriented coordinator that
// groups peers by content id, notifies joiners/leavers, and relays
// session-description and candidate messages between peers (spec.md
// §4.2), over a JSON-framed websocket connection (spec.md §6).
//
// Grounded on the teacher's tracker/handler/handler.go (gorilla/websocket
// upgrade + per-connection read loop) and internal/tracker/server.go
// (Server/Config/logger shape, goroutine-per-connection accept loop),
// generalized from the teacher's ad hoc echo handler into the full
// envelope protocol spec.md §4.2 specifies.
package tracker

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/swarmcast/swarmcast/internal/idgen"
	"github.com/swarmcast/swarmcast/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelopeRateLimit bounds how many envelopes per one-minute window a
// single connection may send before the tracker starts dropping them.
// This is a resource-exhaustion guard only (spec.md §9 notes the source
// has none and does not mandate one); legitimate traffic — announces
// plus signaling bursts during connection setup — sits far below it.
const envelopeRateLimit = 200

type client struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex

	rateMu    sync.Mutex
	rateCount int
	rateStart time.Time
}

func (c *client) send(e wire.Envelope) error {
	data, err := wire.Encode(e)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) allow() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	now := time.Now()
	if now.Sub(c.rateStart) > time.Minute {
		c.rateStart = now
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount <= envelopeRateLimit
}

// Server is the tracker's connection-oriented coordinator.
type Server struct {
	config Config
	logger *logrus.Logger
	rooms  *rooms

	httpServer *http.Server

	mu      sync.Mutex
	clients map[string]*client

	stopSweep chan struct{}
}

// NewServer builds a tracker server bound to config.Addr, mounting both
// the websocket signaling endpoint and the read-only debug HTTP endpoint
// spec.md §6 requires.
func NewServer(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if config.StaleThreshold == 0 {
		config.StaleThreshold = 3 * time.Minute
	}
	if config.SweepPeriod == 0 {
		config.SweepPeriod = time.Minute
	}

	s := &Server{
		config:    config,
		logger:    logger,
		rooms:     newRooms(),
		clients:   make(map[string]*client),
		stopSweep: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/peers", s.handlePeersDebug)
	s.httpServer = &http.Server{Addr: config.Addr, Handler: mux}

	return s
}

// Start runs the tracker's HTTP/websocket listener and the periodic
// stale-membership sweep until the server is shut down.
func (s *Server) Start() error {
	go s.sweepLoop()
	s.logger.WithField("addr", s.config.Addr).Info("tracker starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeOn runs the tracker's HTTP/websocket handler and stale-membership
// sweep over a caller-supplied listener, so the bound address is known
// before serving begins (tests, or deployments behind an already-opened
// socket).
func (s *Server) ServeOn(ln net.Listener) error {
	go s.sweepLoop()
	s.httpServer.Addr = ln.Addr().String()
	s.logger.WithField("addr", s.httpServer.Addr).Info("tracker starting")
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and the sweep loop.
func (s *Server) Shutdown() error {
	close(s.stopSweep)
	return s.httpServer.Close()
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.config.SweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			for _, entry := range s.rooms.Sweep(s.config.StaleThreshold) {
				s.logger.WithFields(logrus.Fields{"content": entry.ContentID, "peer": entry.ParticipantID}).
					Info("stale sweep removed membership")
				s.broadcast(entry.ContentID, entry.ParticipantID, wire.Envelope{
					Type:      wire.EnvelopePeerLeftSwarm,
					ContentID: entry.ContentID,
					PeerID:    entry.ParticipantID,
				})
			}
		}
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{id: idgen.NewParticipantID(), conn: conn, rateStart: time.Now()}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.WithField("peer", c.id).Info("participant connected")

	if err := c.send(wire.Envelope{Type: wire.EnvelopeWelcome, ParticipantID: c.id}); err != nil {
		s.logger.WithError(err).Warn("failed to send welcome")
	}

	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.disconnect(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.allow() {
			s.logger.WithField("peer", c.id).Warn("envelope rate limit exceeded, dropping")
			continue
		}

		e, err := wire.Decode(data)
		if err != nil {
			s.logger.WithError(err).WithField("peer", c.id).Warn("dropping malformed envelope")
			continue
		}

		s.handleEnvelope(c, e)
	}
}

func (s *Server) disconnect(c *client) {
	_ = c.conn.Close()
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	for _, contentID := range s.rooms.LeaveAll(c.id) {
		s.broadcast(contentID, c.id, wire.Envelope{
			Type:      wire.EnvelopePeerLeftSwarm,
			ContentID: contentID,
			PeerID:    c.id,
		})
	}
	s.logger.WithField("peer", c.id).Info("participant disconnected")
}

func (s *Server) handleEnvelope(c *client, e wire.Envelope) {
	switch e.Type {
	case wire.EnvelopeAnnounce:
		s.rooms.Announce(e.ContentID, c.id, e.Complete)

		participants := s.rooms.Participants(e.ContentID)
		peers := make([]wire.Participant, 0, len(participants))
		for _, m := range participants {
			if m.ParticipantID == c.id {
				continue
			}
			peers = append(peers, wire.Participant{ID: m.ParticipantID, Complete: m.Complete})
		}

		if err := c.send(wire.Envelope{Type: wire.EnvelopeAnnounceResponse, ContentID: e.ContentID, Participants: peers}); err != nil {
			s.logger.WithError(err).Warn("failed to send announce-response")
		}

		s.broadcast(e.ContentID, c.id, wire.Envelope{
			Type:         wire.EnvelopePeerJoinedSwarm,
			ContentID:    e.ContentID,
			PeerID:       c.id,
			Complete:     e.Complete,
			Participants: peers,
		})

	case wire.EnvelopeLeave:
		if s.rooms.Leave(e.ContentID, c.id) {
			s.broadcast(e.ContentID, c.id, wire.Envelope{
				Type:      wire.EnvelopePeerLeftSwarm,
				ContentID: e.ContentID,
				PeerID:    c.id,
			})
		}

	case wire.EnvelopeOffer, wire.EnvelopeAnswer, wire.EnvelopeICECandidate:
		s.forward(e)

	case wire.EnvelopeRequestConnection:
		s.mu.Lock()
		targets := make([]*client, 0, len(s.clients))
		for id, other := range s.clients {
			if id != c.id {
				targets = append(targets, other)
			}
		}
		s.mu.Unlock()

		for _, target := range targets {
			if err := target.send(wire.Envelope{Type: wire.EnvelopeRequestConnection, From: c.id}); err != nil {
				s.logger.WithError(err).Warn("failed to fan out request-connection")
			}
		}

	default:
		s.logger.WithField("type", e.Type).Warn("unhandled envelope type, dropping")
	}
}

// forward relays an opaque session-description or candidate envelope
// verbatim to its target. The tracker never inspects the payload. A
// target that is not connected is dropped silently.
func (s *Server) forward(e wire.Envelope) {
	s.mu.Lock()
	target, ok := s.clients[e.To]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := target.send(e); err != nil {
		s.logger.WithError(err).WithField("to", e.To).Warn("failed to forward signaling envelope")
	}
}

func (s *Server) broadcast(contentID, exclude string, e wire.Envelope) {
	for _, m := range s.rooms.Participants(contentID) {
		if m.ParticipantID == exclude {
			continue
		}
		s.mu.Lock()
		target, ok := s.clients[m.ParticipantID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := target.send(e); err != nil {
			s.logger.WithError(err).Warn("failed to broadcast envelope")
		}
	}
}

type peerDebugEntry struct {
	PeerID   string `json:"peerId"`
	LastSeen string `json:"lastSeen"`
	Meta     struct {
		Complete bool `json:"complete"`
	} `json:"meta"`
}

type peersDebugResponse struct {
	InfoHash string           `json:"infoHash"`
	Peers    []peerDebugEntry `json:"peers"`
}

func (s *Server) handlePeersDebug(w http.ResponseWriter, r *http.Request) {
	infoHash := r.URL.Query().Get("infoHash")

	resp := peersDebugResponse{InfoHash: infoHash}
	for _, m := range s.rooms.Participants(infoHash) {
		entry := peerDebugEntry{PeerID: m.ParticipantID, LastSeen: m.LastSeen.UTC().Format(time.RFC3339)}
		entry.Meta.Complete = m.Complete
		resp.Peers = append(resp.Peers, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Warn("failed to write debug response")
	}
}
