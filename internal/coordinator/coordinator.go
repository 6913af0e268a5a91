// Package coordinator binds the Tracker, Transport Handler, and Swarm
// Manager into the single glue layer spec.md §4.5 calls the P2P
// Coordinator: it owns the tracker connection, maintains the swarm
// registry, and maps transport events to swarm manager calls.
//
// Grounded on the teacher's internal/node/node.go and manager.go (the
// single struct owning tracker router, peer connections, and active
// downloads, driven by one dispatch loop over channels), generalized
// from the teacher's protobuf NetworkMessage dispatch into the
// wire.Envelope / wire.Frame protocol this engine speaks.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/swarmcast/swarmcast/internal/chunker"
	"github.com/swarmcast/swarmcast/internal/swarm"
	"github.com/swarmcast/swarmcast/internal/trackerclient"
	"github.com/swarmcast/swarmcast/internal/transport/webrtcconn"
	"github.com/swarmcast/swarmcast/internal/wire"
)

// Config carries the coordinator's explicit tunables and the tunables
// of the subsystems it owns (spec.md §6).
type Config struct {
	TrackerURL string

	ChunkerPieceSize int
	Swarm            swarm.Config
	Transport        webrtcconn.Config
	Tracker          trackerclient.Config

	// TimeoutCheckPeriod is how often checkTimeouts runs opportunistically
	// in addition to on every piece arrival (spec.md §4.4).
	TimeoutCheckPeriod time.Duration

	Logger *logrus.Logger
}

// DefaultConfig returns spec.md §6 defaults wired through to every
// owned subsystem.
func DefaultConfig(trackerURL string) Config {
	return Config{
		TrackerURL:         trackerURL,
		ChunkerPieceSize:   chunker.DefaultPieceSize,
		Swarm:              swarm.DefaultConfig(),
		Transport:          webrtcconn.DefaultConfig(),
		Tracker:            trackerclient.DefaultConfig(trackerURL),
		TimeoutCheckPeriod: 10 * time.Second,
	}
}

// Coordinator is the engine's single glue object. One Coordinator
// serves one participant.
type Coordinator struct {
	config  Config
	logger  *logrus.Logger
	sink    Sink
	chunker *chunker.Chunker
	manager *swarm.Manager
	tracker *trackerclient.Client

	transport *webrtcconn.Handler

	mu            sync.Mutex
	selfID        string
	informedPeers map[string]map[string]bool // contentID -> peerID -> metadata+bitfield already sent
}

// New builds a Coordinator. sink receives scene-collaborator events; a
// NoopSink is valid for headless use.
func New(config Config, sink Sink) *Coordinator {
	if config.ChunkerPieceSize == 0 {
		config = DefaultConfig(config.TrackerURL)
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = NoopSink{}
	}

	c := &Coordinator{
		config:        config,
		logger:        logger,
		sink:          sink,
		chunker:       chunker.New(config.ChunkerPieceSize),
		manager:       swarm.New(config.Swarm),
		informedPeers: make(map[string]map[string]bool),
	}

	trackerConfig := config.Tracker
	trackerConfig.URL = config.TrackerURL
	trackerConfig.Logger = logger
	c.tracker = trackerclient.New(trackerConfig)
	c.tracker.OnReconnect = c.onTrackerReconnect

	transportConfig := config.Transport
	transportConfig.Logger = logger
	c.transport = webrtcconn.New(transportConfig, &trackerSignaler{c: c}, webrtcconn.Events{
		OnPeerConnected:    c.onPeerConnected,
		OnPeerDisconnected: c.onPeerDisconnected,
		OnChannelOpen:      c.onChannelOpen,
		OnFrame:            c.onFrame,
	})

	return c
}

func (c *Coordinator) getSelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Coordinator) setSelfID(id string) {
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
}

// Run connects to the tracker and services events until ctx is
// cancelled. It blocks.
func (c *Coordinator) Run(ctx context.Context) {
	go c.tracker.Run(ctx)

	ticker := time.NewTicker(c.config.TimeoutCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.tracker.Inbound:
			c.handleEnvelope(ctx, e)
		case <-ticker.C:
			c.manager.CheckTimeouts()
		}
	}
}

// Close tears down the transport and the tracker connection. Best
// effort; no state survives (spec.md §4.5 "Leaving").
func (c *Coordinator) Close() error {
	_ = c.transport.Close()
	return c.tracker.Close()
}

// ShareModel prepares bytes via the Chunker, registers a seeder swarm,
// announces it to the tracker as complete, and sends metadata+bitfield
// to every currently open peer (spec.md §4.5 "Sharing a new artifact").
func (c *Coordinator) ShareModel(data []byte, transform chunker.Transform, producerID, prompt string) (chunker.Package, error) {
	pkg, pieces, err := c.chunker.Prepare(data, transform, producerID, prompt)
	if err != nil {
		return chunker.Package{}, err
	}
	c.manager.CreateSwarm(pkg.ContentID, &pkg, pieces)

	if err := c.tracker.Send(wire.Envelope{Type: wire.EnvelopeAnnounce, ContentID: pkg.ContentID, Complete: true}); err != nil {
		c.logger.WithError(err).Warn("failed to announce shared model")
	}

	for _, peerID := range c.transport.OpenPeers() {
		c.informPeer(peerID, pkg.ContentID)
	}

	return pkg, nil
}

// JoinSwarm announces interest in an existing content id without
// supplying bytes, so this participant leeches it from peers that already
// seed it.
func (c *Coordinator) JoinSwarm(contentID string) error {
	return c.tracker.Send(wire.Envelope{Type: wire.EnvelopeAnnounce, ContentID: contentID, Complete: false})
}

func (c *Coordinator) onTrackerReconnect() {
	selfID := c.getSelfID()
	if selfID == "" {
		return
	}
	for _, contentID := range c.manager.ContentIDs() {
		complete := false
		if s, ok := c.manager.Swarm(contentID); ok {
			complete = s.IsSeeder()
		}
		if err := c.tracker.Send(wire.Envelope{Type: wire.EnvelopeAnnounce, ContentID: contentID, Complete: complete}); err != nil {
			c.logger.WithError(err).WithField("content", contentID).Warn("failed to re-announce swarm after reconnect")
		}
	}
}

func (c *Coordinator) handleEnvelope(ctx context.Context, e wire.Envelope) {
	switch e.Type {
	case wire.EnvelopeWelcome:
		c.setSelfID(e.ParticipantID)
		if err := c.tracker.Send(wire.Envelope{Type: wire.EnvelopeRequestConnection, From: e.ParticipantID}); err != nil {
			c.logger.WithError(err).Warn("failed to send request-connection")
		}

	case wire.EnvelopeRequestConnection:
		if e.From == "" || e.From == c.getSelfID() {
			return
		}
		if err := c.transport.Connect(ctx, e.From); err != nil && err != webrtcconn.ErrPeerCapReached {
			c.logger.WithError(err).WithField("peer", e.From).Warn("failed to initiate connection")
		}

	case wire.EnvelopeOffer:
		if err := c.transport.HandleOffer(ctx, e.From, e.Payload); err != nil {
			c.logger.WithError(err).WithField("peer", e.From).Warn("failed to handle offer")
		}

	case wire.EnvelopeAnswer:
		if err := c.transport.HandleAnswer(ctx, e.From, e.Payload); err != nil {
			c.logger.WithError(err).WithField("peer", e.From).Warn("failed to handle answer")
		}

	case wire.EnvelopeICECandidate:
		if err := c.transport.HandleICECandidate(e.From, webrtc.ICECandidateInit{Candidate: e.Payload}); err != nil {
			c.logger.WithError(err).WithField("peer", e.From).Warn("failed to apply ICE candidate")
		}

	case wire.EnvelopeAnnounceResponse, wire.EnvelopePeerJoinedSwarm, wire.EnvelopePeerLeftSwarm, wire.EnvelopeLeave:
		// Peer connection setup is driven entirely by request-connection
		// and the offer/answer/ice-candidate exchange above; these
		// envelopes are membership bookkeeping only.
	}
}

func (c *Coordinator) onPeerConnected(peerID string) {
	c.sink.OnPeerConnected(peerID)
}

func (c *Coordinator) onPeerDisconnected(peerID string) {
	c.manager.ForgetPeer(peerID)

	c.mu.Lock()
	for _, peers := range c.informedPeers {
		delete(peers, peerID)
	}
	c.mu.Unlock()

	c.sink.OnPeerDisconnected(peerID)
}

// onChannelOpen sends metadata+bitfield for every locally seeded swarm,
// suppressing duplicates per spec.md §4.5's idempotence rule.
func (c *Coordinator) onChannelOpen(peerID string) {
	for _, contentID := range c.manager.ContentIDs() {
		s, ok := c.manager.Swarm(contentID)
		if !ok || !s.IsSeeder() {
			continue
		}
		c.informPeer(peerID, contentID)
	}
}

func (c *Coordinator) informPeer(peerID, contentID string) {
	c.mu.Lock()
	if _, ok := c.informedPeers[contentID]; !ok {
		c.informedPeers[contentID] = make(map[string]bool)
	}
	if c.informedPeers[contentID][peerID] {
		c.mu.Unlock()
		return
	}
	c.informedPeers[contentID][peerID] = true
	c.mu.Unlock()

	s, ok := c.manager.Swarm(contentID)
	if !ok || s.Metadata == nil {
		return
	}

	if err := c.sendFrame(peerID, wire.Frame{Type: wire.FrameMetadata, Metadata: packageToMetadataFrame(*s.Metadata)}); err != nil {
		c.logger.WithError(err).WithField("peer", peerID).Warn("failed to send metadata")
		return
	}

	bf := ownedBitfield(s)
	if err := c.sendFrame(peerID, wire.Frame{Type: wire.FrameBitfield, Bitfield: wire.BitfieldFrame{ContentID: contentID, Bits: bf.Bytes(), Total: bf.Total()}}); err != nil {
		c.logger.WithError(err).WithField("peer", peerID).Warn("failed to send bitfield")
	}
}

func (c *Coordinator) onFrame(peerID string, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		c.logger.WithError(err).WithField("peer", peerID).Warn("dropping malformed frame")
		return
	}

	switch frame.Type {
	case wire.FrameMetadata:
		c.handleMetadata(frame.Metadata)
	case wire.FrameBitfield:
		c.handleBitfield(peerID, frame.Bitfield)
	case wire.FrameHave:
		c.handleHave(peerID, frame.Have)
	case wire.FrameRequest:
		c.dispatch(c.manager.HandleRequest(peerID, frame.Request))
	case wire.FramePiece:
		c.manager.CheckTimeouts()
		c.dispatch(c.manager.HandlePiece(peerID, frame.Piece, c.manager.PeerBitfields(frame.Piece.ContentID)))
	default:
		c.logger.WithField("type", frame.Type).Warn("unhandled frame type")
	}
}

func (c *Coordinator) handleMetadata(m wire.MetadataFrame) {
	if _, ok := c.manager.Swarm(m.ContentID); ok {
		return
	}
	pkg := metadataFrameToPackage(m)
	c.manager.CreateSwarm(m.ContentID, &pkg, nil)
}

func (c *Coordinator) handleBitfield(peerID string, f wire.BitfieldFrame) {
	bf := wire.FromBytes(f.Bits, f.Total)
	c.manager.SetPeerBitfield(f.ContentID, peerID, bf)

	s, ok := c.manager.Swarm(f.ContentID)
	if !ok || s.IsSeeder() {
		return
	}
	c.dispatch(c.manager.RequestChunksFromPeer(peerID, f.ContentID, bf))
}

func (c *Coordinator) handleHave(peerID string, f wire.HaveFrame) {
	s, ok := c.manager.Swarm(f.ContentID)
	total := 0
	if ok {
		total = s.Total
	}
	c.manager.MarkPeerHas(f.ContentID, peerID, f.Index, total)

	if !ok || s.IsSeeder() {
		return
	}
	bf := c.manager.PeerBitfields(f.ContentID)[peerID]
	c.dispatch(c.manager.RequestChunksFromPeer(peerID, f.ContentID, bf))
}

// dispatch executes the action intents the Swarm Manager returns,
// sending frames and publishing sink events as needed.
func (c *Coordinator) dispatch(actions []swarm.Action) {
	for _, a := range actions {
		switch a.Type {
		case swarm.ActionRequestChunk:
			if err := c.sendFrame(a.PeerID, wire.Frame{Type: wire.FrameRequest, Request: wire.RequestFrame{ContentID: a.ContentID, Index: a.Index}}); err != nil {
				c.logger.WithError(err).WithField("peer", a.PeerID).Warn("failed to send request frame")
			}

		case swarm.ActionSendPiece:
			frame := wire.Frame{Type: wire.FramePiece, Piece: wire.PieceFrame{ContentID: a.ContentID, Index: a.Index, Data: a.Piece.Data, Checksum: a.Piece.Checksum}}
			if err := c.sendFrame(a.PeerID, frame); err != nil {
				c.logger.WithError(err).WithField("peer", a.PeerID).Warn("failed to send piece frame")
			}

		case swarm.ActionBroadcastHave:
			c.broadcastHave(a.ContentID, a.Index)

		case swarm.ActionDownloadProgress:
			c.sink.OnDownloadProgress(a.ContentID, a.Percent)

		case swarm.ActionDownloadComplete:
			c.onDownloadComplete(a.ContentID)
		}
	}
}

func (c *Coordinator) broadcastHave(contentID string, index int) {
	frame := wire.Frame{Type: wire.FrameHave, Have: wire.HaveFrame{ContentID: contentID, Index: index}}
	for _, peerID := range c.transport.OpenPeers() {
		if err := c.sendFrame(peerID, frame); err != nil {
			c.logger.WithError(err).WithField("peer", peerID).Warn("failed to broadcast have")
		}
	}
}

func (c *Coordinator) onDownloadComplete(contentID string) {
	s, ok := c.manager.Swarm(contentID)
	if !ok {
		return
	}

	blob, err := chunker.Assemble(s.Pieces())
	if err != nil {
		c.logger.WithError(err).WithField("content", contentID).Warn("failed to reassemble completed download")
		return
	}

	var pkg chunker.Package
	if s.Metadata != nil {
		pkg = *s.Metadata
	}
	c.sink.OnModelReceived(pkg, blob)

	if err := c.tracker.Send(wire.Envelope{Type: wire.EnvelopeAnnounce, ContentID: contentID, Complete: true}); err != nil {
		c.logger.WithError(err).WithField("content", contentID).Warn("failed to re-announce completed download")
	}
}

func (c *Coordinator) sendFrame(peerID string, frame wire.Frame) error {
	data, err := wire.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("coordinator: encode frame: %w", err)
	}
	return c.transport.Send(peerID, data)
}

func ownedBitfield(s *swarm.Swarm) *wire.Bitfield {
	bf := wire.NewBitfield(s.Total)
	for _, p := range s.Pieces() {
		bf.Set(p.Index)
	}
	return bf
}

func packageToMetadataFrame(pkg chunker.Package) wire.MetadataFrame {
	return wire.MetadataFrame{
		ContentID:    pkg.ContentID,
		Position:     pkg.Transform.Position,
		Rotation:     pkg.Transform.Rotation,
		Scale:        pkg.Transform.Scale,
		ProducerID:   pkg.Provenance.ProducerID,
		Prompt:       pkg.Provenance.Prompt,
		CreatedAtSec: pkg.Provenance.CreatedAt.Unix(),
		TotalSize:    pkg.Provenance.TotalSize,
		TotalCount:   pkg.Provenance.TotalCount,
	}
}

func metadataFrameToPackage(f wire.MetadataFrame) chunker.Package {
	return chunker.Package{
		ContentID: f.ContentID,
		Transform: chunker.Transform{Position: f.Position, Rotation: f.Rotation, Scale: f.Scale},
		Provenance: chunker.Provenance{
			ProducerID: f.ProducerID,
			Prompt:     f.Prompt,
			CreatedAt:  time.Unix(f.CreatedAtSec, 0),
			TotalSize:  f.TotalSize,
			TotalCount: f.TotalCount,
		},
	}
}

type trackerSignaler struct {
	c *Coordinator
}

func (s *trackerSignaler) SendOffer(ctx context.Context, peerID, sdp string) error {
	return s.c.tracker.Send(wire.Envelope{Type: wire.EnvelopeOffer, From: s.c.getSelfID(), To: peerID, Payload: sdp})
}

func (s *trackerSignaler) SendAnswer(ctx context.Context, peerID, sdp string) error {
	return s.c.tracker.Send(wire.Envelope{Type: wire.EnvelopeAnswer, From: s.c.getSelfID(), To: peerID, Payload: sdp})
}

func (s *trackerSignaler) SendICECandidate(ctx context.Context, peerID string, candidate string) error {
	if candidate == "" {
		return nil
	}
	return s.c.tracker.Send(wire.Envelope{Type: wire.EnvelopeICECandidate, From: s.c.getSelfID(), To: peerID, Payload: candidate})
}
