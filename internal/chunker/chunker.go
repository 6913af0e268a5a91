// Package chunker slices a produced artifact into fixed-size, checksummed
// pieces keyed by a content id, and reassembles them back into bytes.
//
// Grounded on the teacher's internal/node/chunk.go and internal/node/file.go
// (BuildChunkMap, ReadChunkData/WriteChunkData, HashFile, CalculateTotalChunks),
// generalized from file-specific offsets into the content-addressed Piece
// model spec.md §3/§4.1 describes.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/swarmcast/swarmcast/internal/idgen"
)

// DefaultPieceSize is the configured piece size: large enough to move data
// efficiently, small enough to fit one piece inside a single WebRTC data
// channel message (spec.md §3, §6).
const DefaultPieceSize = 15 * 1024

var (
	ErrEmptyArtifact  = errors.New("chunker: artifact must not be empty")
	ErrMissingPiece   = errors.New("chunker: missing piece index during assembly")
	ErrWrongLength    = errors.New("chunker: piece has wrong length for its position")
	ErrIndexOutOfBand = errors.New("chunker: piece index out of range")
)

// Transform is the placement transform stamped on a Package: position,
// rotation (Euler angles), and scale, each a triple of finite floats.
type Transform struct {
	Position [3]float64
	Rotation [3]float64
	Scale    [3]float64
}

// Provenance records who produced an artifact, how, and when.
type Provenance struct {
	ProducerID string
	Prompt     string // optional; empty when not supplied
	CreatedAt  time.Time
	TotalSize  int64
	TotalCount int
}

// Package is the immutable content artifact record: content id, placement
// transform, and provenance. It never carries piece bytes.
type Package struct {
	ContentID  string
	Transform  Transform
	Provenance Provenance
}

// Piece is a single checksummed byte range of an artifact.
type Piece struct {
	ContentID string
	Index     int
	Total     int
	Data      []byte
	Checksum  uint32
}

// Chunker partitions artifacts into pieces of a fixed configured size and
// reconstructs them. The zero value is not usable; use New.
type Chunker struct {
	pieceSize int
}

// New returns a Chunker using pieceSize for every artifact it slices.
// pieceSize is a configuration constant; it is never transmitted per
// message.
func New(pieceSize int) *Chunker {
	if pieceSize <= 0 {
		pieceSize = DefaultPieceSize
	}
	return &Chunker{pieceSize: pieceSize}
}

// Prepare deterministically partitions data into ceil(len/P) pieces of size
// P (the last piece may be shorter), assigns a fresh content id, stamps
// provenance, and returns both the Package and its Pieces.
func (c *Chunker) Prepare(data []byte, transform Transform, producerID, prompt string) (Package, []Piece, error) {
	if len(data) == 0 {
		return Package{}, nil, ErrEmptyArtifact
	}

	total := (len(data) + c.pieceSize - 1) / c.pieceSize
	pieces := make([]Piece, 0, total)
	contentID := idgen.NewContentID()

	for i := 0; i < total; i++ {
		start := i * c.pieceSize
		end := start + c.pieceSize
		if end > len(data) {
			end = len(data)
		}
		raw := make([]byte, end-start)
		copy(raw, data[start:end])

		pieces = append(pieces, Piece{
			ContentID: contentID,
			Index:     i,
			Total:     total,
			Data:      raw,
			Checksum:  checksum(raw),
		})
	}

	pkg := Package{
		ContentID: contentID,
		Transform: transform,
		Provenance: Provenance{
			ProducerID: producerID,
			Prompt:     prompt,
			CreatedAt:  time.Now(),
			TotalSize:  int64(len(data)),
			TotalCount: total,
		},
	}

	return pkg, pieces, nil
}

// Verify recomputes the checksum over the piece's bytes and compares it
// against the carried checksum.
func Verify(p Piece) bool {
	return checksum(p.Data) == p.Checksum
}

// Assemble sorts pieces by index ascending and concatenates their bytes.
// It fails if any index in [0,total) is missing or if a piece before the
// last has a different length from piece 0. It does not know the
// chunker's piece size, so piece 0 is not checked against it, and the
// last piece's length is not checked at all.
func Assemble(pieces []Piece) ([]byte, error) {
	if len(pieces) == 0 {
		return nil, ErrEmptyArtifact
	}

	total := pieces[0].Total
	byIndex := make(map[int]Piece, len(pieces))
	for _, p := range pieces {
		if p.Index < 0 || p.Index >= total {
			return nil, fmt.Errorf("%w: index %d, total %d", ErrIndexOutOfBand, p.Index, total)
		}
		byIndex[p.Index] = p
	}

	ordered := make([]Piece, 0, total)
	for i := 0; i < total; i++ {
		p, ok := byIndex[i]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrMissingPiece, i)
		}
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var full int
	if total > 1 {
		full = len(ordered[0].Data)
	}

	var out []byte
	for i, p := range ordered {
		if i < total-1 && full != 0 && len(p.Data) != full {
			return nil, fmt.Errorf("%w: piece %d has length %d, expected %d", ErrWrongLength, i, len(p.Data), full)
		}
		out = append(out, p.Data...)
	}
	return out, nil
}
