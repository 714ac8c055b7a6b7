// Package xport implements Export/Import (spec §4.5): converting between
// blocksql's block layout and a canonical single-file SQLite image. Header
// parsing/validation follows spec §6.4 byte-for-byte; everything above the
// header is plain block-level I/O against internal/blockstore and
// internal/durablelog, bypassing the SQL engine entirely, the way the
// original CLI's own export tooling reads/writes its SQLite file directly
// rather than through a live connection.
package xport

import (
	"encoding/binary"

	"github.com/blocksql/blocksql/internal/errs"
)

// HeaderMagic is the fixed 16-byte prefix of a valid SQLite file (spec §6.4).
const HeaderMagic = "SQLite format 3\x00"

// HeaderSize is the number of bytes in the standard SQLite file header.
const HeaderSize = 100

const (
	pageSizeOffset  = 16
	pageCountOffset = 28
	// MinPageSize and MaxPageSize bound the valid page-size range (spec
	// §4.5 "page_size ∈ {powers of 2 in [512, 65536]}").
	MinPageSize = 512
	MaxPageSize = 65536
)

// Geometry is a validated SQLite page-size/page-count pair.
type Geometry struct {
	PageSize  uint32
	PageCount uint32
}

// SizeBytes returns the exact file size this geometry describes.
func (g Geometry) SizeBytes() uint64 {
	return uint64(g.PageSize) * uint64(g.PageCount)
}

// ParseHeader reads page geometry out of a SQLite header block (at least
// the first 100 bytes of block 0) and validates magic + page size range
// (spec §6.4): big-endian u16 at offset 16 for page size (a stored value of
// 1 means 65536), big-endian u32 at offset 28 for page count.
func ParseHeader(block []byte) (Geometry, error) {
	if len(block) < HeaderSize {
		return Geometry{}, &errs.InvalidSQLiteFileError{Reason: "header shorter than 100 bytes"}
	}
	if string(block[:len(HeaderMagic)]) != HeaderMagic {
		return Geometry{}, &errs.InvalidSQLiteFileError{Reason: "bad magic"}
	}

	rawPageSize := binary.BigEndian.Uint16(block[pageSizeOffset : pageSizeOffset+2])
	pageSize := uint32(rawPageSize)
	if rawPageSize == 1 {
		pageSize = MaxPageSize
	}
	if err := validatePageSize(pageSize); err != nil {
		return Geometry{}, err
	}

	pageCount := binary.BigEndian.Uint32(block[pageCountOffset : pageCountOffset+4])
	if pageCount == 0 {
		return Geometry{}, &errs.InvalidPageCountError{PageCount: pageCount}
	}

	return Geometry{PageSize: pageSize, PageCount: pageCount}, nil
}

// validatePageSize rejects anything outside the powers-of-two range spec
// §4.5 names explicitly.
func validatePageSize(pageSize uint32) error {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return &errs.InvalidPageSizeError{PageSize: pageSize}
	}
	if pageSize&(pageSize-1) != 0 {
		return &errs.InvalidPageSizeError{PageSize: pageSize}
	}
	return nil
}

// ValidateImageSize checks that an image's byte length matches geometry's
// authoritative size (spec §6.4 "File size must equal page_size ×
// page_count").
func ValidateImageSize(g Geometry, sizeBytes uint64) error {
	expected := g.SizeBytes()
	if expected != sizeBytes {
		return &errs.SizeMismatchError{Expected: expected, Actual: sizeBytes}
	}
	return nil
}
