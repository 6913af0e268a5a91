package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip_Piece(t *testing.T) {
	f := Frame{
		Type: FramePiece,
		Piece: PieceFrame{
			ContentID: "content-1",
			Index:     3,
			Data:      []byte{1, 2, 3, 4},
			Checksum:  0xDEADBEEF,
		},
	}

	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got.Type != FramePiece || got.Piece.Index != 3 || !bytes.Equal(got.Piece.Data, f.Piece.Data) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestFrameRoundTrip_Metadata(t *testing.T) {
	f := Frame{
		Type: FrameMetadata,
		Metadata: MetadataFrame{
			ContentID:  "content-1",
			TotalCount: 5,
			TotalSize:  1234,
			ProducerID: "producer-1",
		},
	}
	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got.Metadata.TotalCount != 5 || got.Metadata.ContentID != "content-1" {
		t.Errorf("unexpected metadata: %+v", got.Metadata)
	}
}

func TestFrameType_String(t *testing.T) {
	cases := map[FrameType]string{
		FrameMetadata: "metadata",
		FrameBitfield: "bitfield",
		FrameHave:     "have",
		FrameRequest:  "request",
		FramePiece:    "piece",
		FrameType(99): "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("FrameType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected error decoding malformed frame")
	}
}
