// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Parse reads a complete plugin file from r.
//
// The first entry must be the header record; its subrecords declare the
// file's masters. Compressed records are inflated and their compression
// flag cleared, so writing the container back produces plain records.
func Parse(r io.Reader, opts ...Option) (*Container, error) {
	o := newOptions(opts)

	br := bufio.NewReader(r)
	format := o.format
	if format == FormatAuto {
		peek, _ := br.Peek(headerSizeV2 + 4)
		format = detectFormat(peek)
	}

	p := &parser{format: format, log: o.log}
	c := &Container{Format: format, Index: -1}

	first := true
	for {
		if _, err := br.Peek(1); err == io.EOF {
			break
		}
		if first {
			tag, _ := br.Peek(4)
			if len(tag) < 4 {
				return nil, &FormatError{Reason: "truncated header record"}
			}
			if string(tag) != headerTag {
				return nil, &FormatError{Reason: fmt.Sprintf("first entry is not a %s record", headerTag)}
			}
		}
		e, _, err := p.readEntry(br)
		if err != nil {
			if first && errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &FormatError{Reason: "truncated header record"}
			}
			return nil, err
		}
		if first {
			rec, ok := e.(*Record)
			if !ok || rec.Tag != HeaderTag {
				return nil, &FormatError{Reason: fmt.Sprintf("first entry is not a %s record", headerTag)}
			}
			if len(rec.Subrecords) == 0 {
				return nil, &FormatError{Reason: "header record has no subrecords"}
			}
			first = false
		}
		c.Entries = append(c.Entries, e)
	}
	if first {
		return nil, &FormatError{Reason: "empty file"}
	}

	o.log.Debug("parsed plugin", "format", format, "entries", len(c.Entries))
	return c, nil
}

// ParseBytes parses a plugin held in memory.
func ParseBytes(data []byte, opts ...Option) (*Container, error) {
	return Parse(bytes.NewReader(data), opts...)
}

type parser struct {
	format Format
	log    *slog.Logger
}

// readEntry reads one group or record and returns it with the number of
// bytes consumed from r.
func (p *parser) readEntry(r io.Reader) (Entry, uint32, error) {
	tag, size, err := readTagSize(r)
	if err != nil {
		return nil, 0, unexpected(err)
	}
	if tag.String() == groupTag {
		g, err := p.readGroup(r, size)
		if err != nil {
			return nil, 0, err
		}
		return g, size, nil
	}
	rec, err := p.readRecord(r, tag, size)
	if err != nil {
		return nil, 0, err
	}
	return rec, p.format.headerSize() + size, nil
}

func (p *parser) readGroup(r io.Reader, size uint32) (*Group, error) {
	hs := p.format.headerSize()
	if size < hs {
		return nil, &SizeMismatchError{Where: "group header", Declared: uint64(size), Actual: uint64(hs)}
	}
	h, flags, err := readGroupHeader(r, p.format)
	if err != nil {
		return nil, fmt.Errorf("read group header: %w", unexpected(err))
	}
	g := &Group{
		Label: h.Label,
		Type:  GroupType(h.Type),
		Stamp: h.Stamp,
		Flags: flags,
	}

	bound := size - hs
	body := io.LimitReader(r, int64(bound))
	var consumed uint32
	for consumed < bound {
		e, n, err := p.readEntry(body)
		if err != nil {
			var sm *SizeMismatchError
			if errors.Is(err, io.ErrUnexpectedEOF) && !errors.As(err, &sm) {
				return nil, &SizeMismatchError{
					Where:    "group " + g.LabelString(),
					Declared: uint64(size),
					Actual:   uint64(consumed + hs),
				}
			}
			return nil, fmt.Errorf("in group %s: %w", g.LabelString(), err)
		}
		consumed += n
		g.Entries = append(g.Entries, e)
	}
	if consumed > bound {
		return nil, &SizeMismatchError{
			Where:    "group " + g.LabelString(),
			Declared: uint64(size),
			Actual:   uint64(consumed + hs),
		}
	}
	return g, nil
}

func (p *parser) readRecord(r io.Reader, tag Tag, size uint32) (*Record, error) {
	h, flags3, err := readRecordHeader(r, p.format)
	if err != nil {
		return nil, fmt.Errorf("read record %s header: %w", tag, unexpected(err))
	}
	rec := &Record{
		Tag:    tag,
		Flags1: h.Flags1,
		FormID: h.FormID,
		Flags2: h.Flags2,
		Flags3: flags3,
	}
	where := fmt.Sprintf("record %s %08X", tag, rec.FormID)

	body := io.Reader(io.LimitReader(r, int64(size)))
	bound := size
	if rec.Compressed() {
		if size < 4 {
			return nil, &SizeMismatchError{Where: where, Declared: uint64(size), Actual: 4}
		}
		raw, err := readPayload(r, size)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &SizeMismatchError{Where: where, Declared: uint64(size), Actual: uint64(len(raw))}
			}
			return nil, fmt.Errorf("read %s: %w", where, err)
		}
		decompressedSize := binary.LittleEndian.Uint32(raw[:4])
		data, err := decompress(raw[4:], size-4, decompressedSize, p.log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		p.log.Debug("inflated record", "record", where, "compressed", size-4, "size", decompressedSize)
		body = bytes.NewReader(data)
		bound = decompressedSize
		rec.Flags1 &^= FlagCompressed
	}

	var consumed uint32
	for consumed < bound {
		s, n, err := readSubrecord(body, bound-consumed)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &SizeMismatchError{Where: where, Declared: uint64(bound), Actual: uint64(consumed)}
			}
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		consumed += n
		if consumed > bound {
			return nil, &SizeMismatchError{Where: where, Declared: uint64(bound), Actual: uint64(consumed)}
		}
		rec.Subrecords = append(rec.Subrecords, s)
	}
	return rec, nil
}

// readSubrecord reads one subrecord, unwrapping the XXXX size extension.
// A subrecord that would run past the remaining bytes of its record is
// rejected before its payload is read.
func readSubrecord(r io.Reader, remaining uint32) (*Subrecord, uint32, error) {
	var hdr [subrecordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, unexpected(err)
	}
	var tag Tag
	copy(tag[:], hdr[:4])
	size := uint32(binary.LittleEndian.Uint16(hdr[4:]))
	consumed := uint32(subrecordHeaderSize)

	if tag.String() == extTag {
		if size != 4 {
			return nil, 0, fmt.Errorf("%s subrecord: length %d, want 4", extTag, size)
		}
		var ext [4]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, 0, unexpected(err)
		}
		size = binary.LittleEndian.Uint32(ext[:])
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, 0, unexpected(err)
		}
		copy(tag[:], hdr[:4])
		consumed += 4 + subrecordHeaderSize
	}

	if uint64(consumed)+uint64(size) > uint64(remaining) {
		return nil, 0, &SizeMismatchError{
			Where:    "subrecord " + tag.String(),
			Declared: uint64(size),
			Actual:   uint64(remaining) - min(uint64(consumed), uint64(remaining)),
		}
	}

	data, err := readPayload(r, size)
	if err != nil {
		return nil, 0, err
	}
	return &Subrecord{Tag: tag, Data: data}, consumed + size, nil
}

// readPayload reads exactly n bytes. Large payloads are read through a
// growing buffer, so a size that overstates the input fails once the input
// ends rather than after reserving n bytes. On a short read the bytes read
// so far are returned with io.ErrUnexpectedEOF.
func readPayload(r io.Reader, n uint32) ([]byte, error) {
	if n <= maxPrealloc {
		data := make([]byte, n)
		read, err := io.ReadFull(r, data)
		return data[:read], unexpected(err)
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return buf.Bytes(), unexpected(err)
	}
	return buf.Bytes(), nil
}

// unexpected turns a bare EOF in the middle of a structure into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
