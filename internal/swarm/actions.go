package swarm

import "github.com/swarmcast/swarmcast/internal/chunker"

// ActionType enumerates the intents the Manager can emit for the
// Coordinator to dispatch (spec.md §4.4).
type ActionType int

const (
	ActionRequestChunk ActionType = iota
	ActionSendPiece
	ActionBroadcastHave
	ActionDownloadProgress
	ActionDownloadComplete
)

func (a ActionType) String() string {
	switch a {
	case ActionRequestChunk:
		return "request_chunk"
	case ActionSendPiece:
		return "send_piece"
	case ActionBroadcastHave:
		return "broadcast_have"
	case ActionDownloadProgress:
		return "download_progress"
	case ActionDownloadComplete:
		return "download_complete"
	default:
		return "unknown"
	}
}

// Action is one intent returned by a Manager operation. Only the fields
// relevant to Type are populated.
type Action struct {
	Type ActionType

	PeerID    string
	ContentID string
	Index     int
	Piece     chunker.Piece
	Percent   float64 // download_progress: 0-100
}
