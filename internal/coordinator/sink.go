package coordinator

import "github.com/swarmcast/swarmcast/internal/chunker"

// Sink is the scene collaborator boundary (spec.md §6): the coordinator
// pushes lifecycle and transfer events to it and never calls back in.
type Sink interface {
	OnPeerConnected(peerID string)
	OnPeerDisconnected(peerID string)
	OnModelReceived(pkg chunker.Package, blob []byte)
	OnDownloadProgress(contentID string, percent float64)
}

// NoopSink discards every event. Useful for tests and headless embedding
// of the engine where nothing renders the transfer.
type NoopSink struct{}

func (NoopSink) OnPeerConnected(string)                 {}
func (NoopSink) OnPeerDisconnected(string)              {}
func (NoopSink) OnModelReceived(chunker.Package, []byte) {}
func (NoopSink) OnDownloadProgress(string, float64)      {}
