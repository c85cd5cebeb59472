// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteTo serializes the container to w. Sizes are recomputed from the
// tree; compressed records are written uncompressed.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	format := c.writeFormat()
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	for _, e := range c.Entries {
		if err := writeEntry(cw, format, e); err != nil {
			return cw.n, err
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("flush: %w", err)
	}
	return cw.n, nil
}

// Bytes serializes the container into memory.
func (c *Container) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(c.Size()))
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeEntry writes e depth-first.
func writeEntry(w io.Writer, f Format, e Entry) error {
	switch x := e.(type) {
	case *Group:
		return writeGroup(w, f, x)
	case *Record:
		return writeRecord(w, f, x)
	}
	return fmt.Errorf("write entry: unexpected node %T", e)
}

func writeGroup(w io.Writer, f Format, g *Group) error {
	if err := writeTagSize(w, MustTag(groupTag), g.Size(f)); err != nil {
		return fmt.Errorf("write group header: %w", err)
	}
	h := groupHeader{
		Label: g.Label,
		Type:  uint32(g.Type),
		Stamp: g.Stamp,
	}
	if err := writeGroupHeader(w, f, h, g.Flags); err != nil {
		return fmt.Errorf("write group header: %w", err)
	}
	for _, e := range g.Entries {
		if err := writeEntry(w, f, e); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(w io.Writer, f Format, r *Record) error {
	if err := writeTagSize(w, r.Tag, r.DataSize()); err != nil {
		return fmt.Errorf("write record %s header: %w", r.Tag, err)
	}
	h := recordHeader{
		Flags1: r.Flags1 &^ FlagCompressed,
		FormID: r.FormID,
		Flags2: r.Flags2,
	}
	if err := writeRecordHeader(w, f, h, r.Flags3); err != nil {
		return fmt.Errorf("write record %s header: %w", r.Tag, err)
	}
	for _, s := range r.Subrecords {
		if err := writeSubrecord(w, s); err != nil {
			return fmt.Errorf("write record %s %08X: %w", r.Tag, r.FormID, err)
		}
	}
	return nil
}

// writeSubrecord writes s, emitting an XXXX extension in front of payloads
// that do not fit the 16-bit length. The real header then carries length 0.
func writeSubrecord(w io.Writer, s *Subrecord) error {
	var hdr [subrecordHeaderSize]byte
	if len(s.Data) > maxSubrecordData {
		var ext [extSize]byte
		copy(ext[:4], extTag)
		binary.LittleEndian.PutUint16(ext[4:], 4)
		binary.LittleEndian.PutUint32(ext[6:], uint32(len(s.Data)))
		if _, err := w.Write(ext[:]); err != nil {
			return err
		}
		copy(hdr[:4], s.Tag[:])
	} else {
		copy(hdr[:4], s.Tag[:])
		binary.LittleEndian.PutUint16(hdr[4:], uint16(len(s.Data)))
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(s.Data)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
