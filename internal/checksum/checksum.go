// Package checksum implements blocksql's per-block checksum manager
// (spec §3 block metadata, §4.2). Two algorithms are supported, matching
// spec's enumerated set exactly: FastHash (xxhash64, grounded on the
// cespare/xxhash/v2 dependency pulled by the AKJUS-bsc-erigon and
// cuemby-warren example repos) and CRC32 (stdlib hash/crc32 — a named,
// standardized algorithm with no ecosystem replacement worth introducing).
package checksum

import (
	"hash/crc32"

	"github.com/cespare/xxhash/v2"

	"github.com/blocksql/blocksql/internal/errs"
)

// Algo identifies a checksum algorithm recorded per-block (spec §3).
type Algo uint8

const (
	FastHash Algo = iota
	CRC32
)

// String returns the wire/config name of the algorithm.
func (a Algo) String() string {
	switch a {
	case CRC32:
		return "CRC32"
	default:
		return "FastHash"
	}
}

// ParseAlgo parses the config/wire name of an algorithm, defaulting to
// FastHash for an unrecognized or empty value.
func ParseAlgo(s string) Algo {
	if s == "CRC32" {
		return CRC32
	}
	return FastHash
}

// Other returns the algorithm Verify tries next when the recorded
// one fails to match (spec §4.2: "tries the other known algorithm").
func (a Algo) Other() Algo {
	if a == CRC32 {
		return FastHash
	}
	return CRC32
}

// Sum computes the checksum of payload under algo.
func Sum(algo Algo, payload []byte) uint64 {
	switch algo {
	case CRC32:
		return uint64(crc32.ChecksumIEEE(payload))
	default:
		return xxhash.Sum64(payload)
	}
}

// Verify checks payload against the recorded checksum under algo. On
// mismatch it tries the other known algorithm before concluding corruption,
// per spec §4.2: a match under the other algorithm surfaces as
// ALGO_MISMATCH, otherwise CHECKSUM_MISMATCH. Block 0 is exempt from
// verification entirely by callers (spec §3 invariant 6, §8) — Verify
// itself does not special-case the block id, that policy lives in the
// blockstore layer which skips calling Verify for block 0.
func Verify(db string, blockID uint64, algo Algo, payload []byte, recorded uint64) error {
	if Sum(algo, payload) == recorded {
		return nil
	}
	other := algo.Other()
	if Sum(other, payload) == recorded {
		return &errs.AlgoMismatchError{DB: db, BlockID: blockID}
	}
	return &errs.ChecksumMismatchError{DB: db, BlockID: blockID}
}
