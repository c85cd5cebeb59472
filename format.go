// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"encoding/binary"
	"io"
)

// Format selects the on-disk header layout of a plugin file.
type Format int

const (
	// FormatAuto detects the layout from the header record.
	FormatAuto Format = iota

	// FormatV1 uses 20-byte record and group headers (Oblivion).
	FormatV1

	// FormatV2 uses 24-byte record and group headers (Fallout 3 and later).
	// Records carry a third flag word and groups a trailing flag word.
	FormatV2
)

// String returns a short name for the format.
func (f Format) String() string {
	switch f {
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	}
	return "auto"
}

// Plugin format constants
const (
	// headerTag is the type of the record every plugin file starts with.
	headerTag = "TES4"

	// groupTag marks a group header.
	groupTag = "GRUP"

	// extTag is the size-extension pseudo-subrecord.
	extTag = "XXXX"

	// Header sizes
	headerSizeV1 = 20
	headerSizeV2 = 24

	// subrecordHeaderSize is tag + 16-bit length.
	subrecordHeaderSize = 6

	// extSize is the full XXXX pseudo-subrecord (header + 32-bit length).
	extSize = subrecordHeaderSize + 4

	// maxSubrecordData is the largest payload that fits the inline length.
	maxSubrecordData = 0xFFFF

	// FlagCompressed marks a record whose payload is zlib-compressed.
	FlagCompressed = 0x00040000
)

// HeaderTag is the record type that must open every plugin file.
var HeaderTag = MustTag(headerTag)

// headerSize returns the size of record and group headers for f.
func (f Format) headerSize() uint32 {
	if f == FormatV1 {
		return headerSizeV1
	}
	return headerSizeV2
}

// recordHeader is the fixed part of a record after tag and size.
type recordHeader struct {
	Flags1 uint32 // Record flags
	FormID uint32 // FormID
	Flags2 uint32 // Version control info
}

// groupHeader is the fixed part of a group after tag and size.
type groupHeader struct {
	Label [4]byte // Meaning depends on Type
	Type  uint32  // GroupType
	Stamp uint32  // Timestamp / version control
}

// readRecordHeader reads the record header fields that follow tag and size.
func readRecordHeader(r io.Reader, f Format) (recordHeader, uint32, error) {
	var h recordHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, 0, err
	}
	var flags3 uint32
	if f == FormatV2 {
		if err := binary.Read(r, binary.LittleEndian, &flags3); err != nil {
			return h, 0, err
		}
	}
	return h, flags3, nil
}

// writeRecordHeader writes the record header fields that follow tag and size.
func writeRecordHeader(w io.Writer, f Format, h recordHeader, flags3 uint32) error {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	if f == FormatV2 {
		return binary.Write(w, binary.LittleEndian, flags3)
	}
	return nil
}

// readGroupHeader reads the group header fields that follow tag and size.
func readGroupHeader(r io.Reader, f Format) (groupHeader, uint32, error) {
	var h groupHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, 0, err
	}
	var flags uint32
	if f == FormatV2 {
		if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
			return h, 0, err
		}
	}
	return h, flags, nil
}

// writeGroupHeader writes the group header fields that follow tag and size.
func writeGroupHeader(w io.Writer, f Format, h groupHeader, flags uint32) error {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	if f == FormatV2 {
		return binary.Write(w, binary.LittleEndian, flags)
	}
	return nil
}

// readTagSize reads a 4-byte tag followed by a 32-bit little-endian size.
func readTagSize(r io.Reader) (Tag, uint32, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Tag{}, 0, err
	}
	var t Tag
	copy(t[:], buf[:4])
	return t, binary.LittleEndian.Uint32(buf[4:]), nil
}

// writeTagSize writes a 4-byte tag followed by a 32-bit little-endian size.
func writeTagSize(w io.Writer, t Tag, size uint32) error {
	var buf [8]byte
	copy(buf[:4], t[:])
	binary.LittleEndian.PutUint32(buf[4:], size)
	_, err := w.Write(buf[:])
	return err
}

// detectFormat looks for the header record's first subrecord ("HEDR") at
// the offset implied by each header layout.
func detectFormat(peek []byte) Format {
	if len(peek) >= headerSizeV2+4 && string(peek[headerSizeV2:headerSizeV2+4]) == "HEDR" {
		return FormatV2
	}
	if len(peek) >= headerSizeV1+4 && string(peek[headerSizeV1:headerSizeV1+4]) == "HEDR" {
		return FormatV1
	}
	return FormatV2
}
