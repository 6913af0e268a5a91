package chunker

import "hash/adler32"

// checksum computes the 32-bit rolling sum over piece bytes: two
// interleaved modular sums with modulus 65521, packed high/low. This is
// exactly Adler-32, so the standard library's implementation is used
// rather than hand-rolling the same two accumulators — no third-party
// library in the corpus does integrity checksumming, and reimplementing
// adler32 by hand would just be a worse copy of hash/adler32.
func checksum(data []byte) uint32 {
	return adler32.Checksum(data)
}

// Checksum exposes the same computation for callers that need to stamp a
// checksum without going through Prepare (e.g. tests building Piece
// values by hand).
func Checksum(data []byte) uint32 {
	return checksum(data)
}
