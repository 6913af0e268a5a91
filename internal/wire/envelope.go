// Package wire defines the two wire formats this engine speaks: JSON
// signaling envelopes over the tracker's websocket connection, and binary
// P2P frames over a peer's WebRTC data channel.
//
// Envelopes and frames are explicit tagged variants. Decode checks an
// envelope's tag against the known set; DecodeFrame leaves the frame tag
// to the caller. Unknown tags are logged by the caller and dropped rather
// than causing a protocol failure (spec.md §7, ProtocolError policy).
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeType discriminates the JSON tagged union carried over the
// tracker connection (spec.md §3, §4.2).
//
// This engine implements the "-swarm"-suffixed variant paired with
// ice-candidate (spec.md §9's canonical choice) and rejects the
// divergent legacy names ice and peer-joined at decode time. "leave" is
// decoded wherever it appears; the tracker itself only receives it and
// announces departures as peer-left-swarm.
type EnvelopeType string

const (
	EnvelopeWelcome           EnvelopeType = "welcome"
	EnvelopeAnnounce          EnvelopeType = "announce"
	EnvelopeAnnounceResponse  EnvelopeType = "announce-response"
	EnvelopePeerJoinedSwarm   EnvelopeType = "peer-joined-swarm"
	EnvelopePeerLeftSwarm     EnvelopeType = "peer-left-swarm"
	EnvelopeLeave             EnvelopeType = "leave"
	EnvelopeRequestConnection EnvelopeType = "request-connection"
	EnvelopeOffer             EnvelopeType = "offer"
	EnvelopeAnswer            EnvelopeType = "answer"
	EnvelopeICECandidate      EnvelopeType = "ice-candidate"
)

// ErrUnknownEnvelopeType is returned by Decode for a well-formed JSON
// object whose "type" field is not one of the EnvelopeType constants
// above (including the rejected legacy variants).
var ErrUnknownEnvelopeType = errors.New("wire: unknown or unsupported envelope type")

// Participant is a membership record as seen by other participants: id
// plus whether that participant currently holds every piece.
type Participant struct {
	ID       string `json:"peerId"`
	Complete bool   `json:"complete"`
}

// Envelope is the strictly JSON-shaped record exchanged with the tracker.
// Only the fields relevant to Type are populated; the rest are zero.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// welcome
	ParticipantID string `json:"participantId,omitempty"`

	// announce / announce-response / peer-joined-swarm / peer-left-swarm / leave
	ContentID    string        `json:"contentId,omitempty"`
	Complete     bool          `json:"complete,omitempty"`
	PeerID       string        `json:"peerId,omitempty"`
	Participants []Participant `json:"peers,omitempty"`

	// request-connection
	From string `json:"from,omitempty"`

	// offer / answer / ice-candidate
	To      string `json:"to,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Encode marshals the envelope to a single JSON object suitable for one
// websocket text frame.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals a single JSON object into an Envelope and validates
// its Type against the canonical set. A malformed object or an unknown
// type is a ProtocolError per spec.md §7: log and drop, never disconnect.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed envelope: %w", err)
	}

	switch e.Type {
	case EnvelopeWelcome, EnvelopeAnnounce, EnvelopeAnnounceResponse,
		EnvelopePeerJoinedSwarm, EnvelopePeerLeftSwarm, EnvelopeLeave,
		EnvelopeRequestConnection, EnvelopeOffer, EnvelopeAnswer, EnvelopeICECandidate:
		// recognized
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, e.Type)
	}

	if (e.Type == EnvelopeOffer || e.Type == EnvelopeAnswer || e.Type == EnvelopeICECandidate) && e.To == "" {
		return Envelope{}, fmt.Errorf("wire: %s envelope missing required \"to\"", e.Type)
	}

	return e, nil
}
