// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zlib"
)

// Decompress inflates a compressed record payload.
//
// compressedSize is the number of bytes of data that belong to the zlib
// stream and decompressedSize the length declared by the record. An
// Adler-32 mismatch is tolerated: some shipped plugins carry records whose
// checksum is wrong even though the payload inflates correctly.
func Decompress(data []byte, compressedSize, decompressedSize uint32) ([]byte, error) {
	return decompress(data, compressedSize, decompressedSize, discardLogger)
}

// DecompressWithLogger is Decompress with tolerated checksum mismatches
// logged at debug level.
func DecompressWithLogger(data []byte, compressedSize, decompressedSize uint32, log *slog.Logger) ([]byte, error) {
	if log == nil {
		log = discardLogger
	}
	return decompress(data, compressedSize, decompressedSize, log)
}

const (
	// maxPrealloc caps the buffer reserved up front for an inflated payload.
	maxPrealloc = 1 << 20

	// maxDeflateRatio is the largest expansion a deflate stream can encode.
	maxDeflateRatio = 1032
)

func decompress(data []byte, compressedSize, decompressedSize uint32, log *slog.Logger) ([]byte, error) {
	if uint32(len(data)) < compressedSize {
		return nil, &SizeMismatchError{
			Where:    "compressed payload",
			Declared: uint64(compressedSize),
			Actual:   uint64(len(data)),
		}
	}

	if uint64(decompressedSize) > uint64(compressedSize)*maxDeflateRatio {
		return nil, &SizeMismatchError{
			Where:    "decompressed payload",
			Declared: uint64(decompressedSize),
			Actual:   uint64(compressedSize) * maxDeflateRatio,
		}
	}

	r, err := zlib.NewReader(bytes.NewReader(data[:compressedSize]))
	if err != nil {
		return nil, &DecompressionError{Err: fmt.Errorf("create zlib reader: %w", err)}
	}
	defer r.Close()

	// Inflate at most one byte past the declared size.
	buf := bytes.NewBuffer(make([]byte, 0, min(decompressedSize, maxPrealloc)))
	if _, err := io.Copy(buf, io.LimitReader(r, int64(decompressedSize)+1)); err != nil {
		// TODO: surface checksum mismatches to callers once the editor can
		// show per-record warnings.
		if !errors.Is(err, zlib.ErrChecksum) {
			return nil, &DecompressionError{Err: err}
		}
		log.Debug("ignoring zlib checksum mismatch", "size", decompressedSize)
	}

	if uint64(buf.Len()) != uint64(decompressedSize) {
		return nil, &SizeMismatchError{
			Where:    "decompressed payload",
			Declared: uint64(decompressedSize),
			Actual:   uint64(buf.Len()),
		}
	}
	return buf.Bytes(), nil
}
