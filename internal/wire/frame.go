package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// FrameType discriminates the tagged union carried over a peer-to-peer
// data channel (spec.md §3, §4.4).
type FrameType uint8

const (
	FrameMetadata FrameType = iota + 1
	FrameBitfield
	FrameHave
	FrameRequest
	FramePiece
)

func (t FrameType) String() string {
	switch t {
	case FrameMetadata:
		return "metadata"
	case FrameBitfield:
		return "bitfield"
	case FrameHave:
		return "have"
	case FrameRequest:
		return "request"
	case FramePiece:
		return "piece"
	default:
		return "unknown"
	}
}

// MetadataFrame carries a produced artifact's package once, before any
// bitfield, over a freshly opened channel.
type MetadataFrame struct {
	ContentID    string
	Position     [3]float64
	Rotation     [3]float64
	Scale        [3]float64
	ProducerID   string
	Prompt       string
	CreatedAtSec int64
	TotalSize    int64
	TotalCount   int
}

// BitfieldFrame carries the sender's compact bitmap of owned pieces for
// one content id, one bit per index, big-endian within each byte.
type BitfieldFrame struct {
	ContentID string
	Bits      []byte
	Total     int
}

// HaveFrame announces that the sender now owns a single piece.
type HaveFrame struct {
	ContentID string
	Index     int
}

// RequestFrame asks the receiver to serve one piece.
type RequestFrame struct {
	ContentID string
	Index     int
}

// PieceFrame carries one piece's raw bytes and checksum. Bytes are raw,
// never base64 — spec.md §9 notes base64 piece bytes are a legacy of a
// text-only channel, and this engine's peer channel is binary-safe.
type PieceFrame struct {
	ContentID string
	Index     int
	Data      []byte
	Checksum  uint32
}

// Frame is the on-the-wire envelope carrying exactly one payload,
// discriminated by Type. Only the field matching Type is populated.
type Frame struct {
	Type      FrameType
	Metadata  MetadataFrame
	Bitfield  BitfieldFrame
	Have      HaveFrame
	Request   RequestFrame
	Piece     PieceFrame
}

// EncodeFrame gob-encodes a frame into a single self-contained byte
// slice — one WebRTC data channel message per frame, matching spec.md
// §3's "one frame = one P2P Frame value" contract without any length
// prefix (the data channel already delivers message boundaries).
func EncodeFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&f); err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame reverses EncodeFrame. An unrecognized Type is left to the
// caller to log and ignore, per spec.md §7's ProtocolError policy.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	return f, nil
}
