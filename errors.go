// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import "fmt"

// FormatError reports malformed top-level structure, such as a missing
// header record or a header record without subrecords.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "invalid plugin: " + e.Reason
}

// SizeMismatchError reports a declared byte count that disagrees with the
// bytes actually present or consumed.
type SizeMismatchError struct {
	Where    string // e.g. "record WEAP 00012EB7"
	Declared uint64
	Actual   uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: declared size %d, got %d", e.Where, e.Declared, e.Actual)
}

// DecompressionError reports an inflate failure other than a checksum
// mismatch.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("decompress: %v", e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }
