// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cstr(s string) []byte { return append([]byte(s), 0) }

// samplePlugin builds a small plugin with a master, top groups and a
// nested cell hierarchy.
func samplePlugin(t *testing.T, f Format) *Container {
	t.Helper()
	hedr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hedr[4:], 4)
	c := New("Sample.esp", f, hedr)
	c.Header().Add(NewSubrecord("CNAM", cstr("tester")))
	require.NoError(t, c.SetMasters([]string{"FalloutNV.esm"}))

	sword := NewRecord("WEAP", 0x01000800)
	sword.Add(NewSubrecord("EDID", cstr("TestSword")), NewSubrecord("DATA", []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	override := NewRecord("WEAP", 0x00001234)
	override.Flags1 = 0x00000400
	override.Flags2 = 0xCAFE
	override.Add(NewSubrecord("EDID", cstr("Overridden")))

	weap := NewTopGroup("WEAP")
	weap.Stamp = 0x1234
	weap.Add(sword, override)

	cell := NewRecord("CELL", 0x01000900)
	cell.Add(NewSubrecord("EDID", cstr("TestCell")), NewSubrecord("DATA", []byte{1}))
	ref := NewRecord("REFR", 0x01000901)
	ref.Add(NewSubrecord("NAME", []byte{0x00, 0x08, 0x00, 0x01}))
	temp := NewChildGroup(GroupCellTemporary, 0x01000900)
	temp.Add(ref)
	kids := NewChildGroup(GroupCellChildren, 0x01000900)
	kids.Add(temp)

	sub := &Group{Type: GroupInteriorSubBlock}
	binary.LittleEndian.PutUint32(sub.Label[:], 3)
	sub.Add(cell, kids)
	block := &Group{Type: GroupInteriorBlock}
	binary.LittleEndian.PutUint32(block.Label[:], 0)
	block.Add(sub)
	cells := NewTopGroup("CELL")
	cells.Add(block)

	c.Add(weap, cells)
	return c
}

func TestRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatV1, FormatV2} {
		t.Run(f.String(), func(t *testing.T) {
			c := samplePlugin(t, f)
			data, err := c.Bytes()
			require.NoError(t, err)
			assert.Equal(t, int(c.Size()), len(data))

			parsed, err := ParseBytes(data)
			require.NoError(t, err)
			assert.Equal(t, f, parsed.Format)
			require.Len(t, parsed.Entries, len(c.Entries))
			for i := range c.Entries {
				assert.True(t, Equal(c.Entries[i], parsed.Entries[i]), "entry %d", i)
			}

			again, err := parsed.Bytes()
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestFormatHeaderSizes(t *testing.T) {
	v1 := samplePlugin(t, FormatV1)
	v2 := samplePlugin(t, FormatV2)
	// Six groups and five records, four extra bytes each.
	assert.Equal(t, v1.Size()+11*4, v2.Size())

	rec := NewRecord("MISC", 1)
	assert.Equal(t, uint32(20), rec.Size(FormatV1))
	assert.Equal(t, uint32(24), rec.Size(FormatV2))
}

func TestSizeAccounting(t *testing.T) {
	data, err := samplePlugin(t, FormatV2).Bytes()
	require.NoError(t, err)
	c, err := ParseBytes(data)
	require.NoError(t, err)

	var total uint32
	for _, e := range c.Entries {
		total += e.Size(FormatV2)
	}
	assert.Equal(t, uint32(len(data)), total)

	Walk(c.Entries, func(_ []*Group, e Entry) bool {
		switch x := e.(type) {
		case *Group:
			sum := uint32(headerSizeV2)
			for _, child := range x.Entries {
				sum += child.Size(FormatV2)
			}
			assert.Equal(t, sum, x.Size(FormatV2), "group %s", x.LabelString())
		case *Record:
			sum := uint32(headerSizeV2)
			for _, s := range x.Subrecords {
				sum += uint32(subrecordHeaderSize + len(s.Data))
			}
			assert.Equal(t, sum, x.Size(FormatV2), "record %s", x.Tag)
		}
		return true
	})
}

func TestWalkParents(t *testing.T) {
	c := samplePlugin(t, FormatV2)
	depth := map[string]int{}
	Walk(c.Entries, func(parents []*Group, e Entry) bool {
		if r, ok := e.(*Record); ok {
			depth[r.Tag.String()] = len(parents)
		}
		return true
	})
	assert.Equal(t, map[string]int{"TES4": 0, "WEAP": 1, "CELL": 3, "REFR": 5}, depth)

	var seen int
	Walk(c.Entries, func(_ []*Group, e Entry) bool {
		seen++
		_, isGroup := e.(*Group)
		return !isGroup
	})
	assert.Equal(t, 3, seen)
}

func TestWalkParentsAreStable(t *testing.T) {
	leaf := func(id uint32) *Group {
		g := NewChildGroup(GroupCellTemporary, id)
		g.Add(NewRecord("REFR", id))
		return g
	}
	inner := NewChildGroup(GroupCellChildren, 0x900)
	inner.Add(leaf(0x901), leaf(0x902), leaf(0x903))
	block := &Group{Type: GroupInteriorSubBlock}
	block.Add(inner)
	top := NewTopGroup("CELL")
	top.Add(block)

	kept := map[uint32][]*Group{}
	Walk([]Entry{top}, func(parents []*Group, e Entry) bool {
		if r, ok := e.(*Record); ok {
			kept[r.FormID] = parents
		}
		return true
	})

	require.Len(t, kept, 3)
	for id, parents := range kept {
		require.Len(t, parents, 4)
		assert.Same(t, top, parents[0])
		assert.Equal(t, id, parents[3].LabelFormID())
	}
}

func TestSubrecordExtension(t *testing.T) {
	tests := []struct {
		size int
		ext  bool
	}{
		{size: 0xFFFF, ext: false},
		{size: 0x10000, ext: true},
		{size: 0x12345, ext: true},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			payload := make([]byte, tt.size)
			for i := range payload {
				payload[i] = byte(i * 7)
			}
			c := New("Big.esp", FormatV2, make([]byte, 12))
			rec := NewRecord("LAND", 0x800)
			rec.Add(NewSubrecord("VHGT", payload), NewSubrecord("DATA", []byte{1}))
			c.Add(rec)

			data, err := c.Bytes()
			require.NoError(t, err)

			// The LAND record's first subrecord header starts after the
			// header record (24 + 6 + 12) and its own 24-byte header.
			off := 24 + 6 + 12 + 24
			if tt.ext {
				assert.Equal(t, "XXXX", string(data[off:off+4]))
				assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[off+4:]))
				assert.Equal(t, uint32(tt.size), binary.LittleEndian.Uint32(data[off+6:]))
				assert.Equal(t, "VHGT", string(data[off+10:off+14]))
				assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[off+14:]))
				assert.Equal(t, uint32(subrecordHeaderSize+extSize+tt.size), rec.Subrecords[0].Size(FormatV2))
			} else {
				assert.Equal(t, "VHGT", string(data[off:off+4]))
			}

			parsed, err := ParseBytes(data)
			require.NoError(t, err)
			got := parsed.Entries[1].(*Record)
			require.Len(t, got.Subrecords, 2)
			assert.Equal(t, "VHGT", got.Subrecords[0].Tag.String())
			assert.Equal(t, payload, got.Subrecords[0].Data)
			assert.Equal(t, []byte{1}, got.Subrecords[1].Data)
		})
	}
}

// rawRecord encodes a record header followed by payload as stored.
func rawRecord(t *testing.T, f Format, tag string, flags1, id uint32, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeTagSize(&buf, MustTag(tag), uint32(len(payload))))
	require.NoError(t, writeRecordHeader(&buf, f, recordHeader{Flags1: flags1, FormID: id}, 0))
	buf.Write(payload)
	return buf.Bytes()
}

func subrecordBytes(t *testing.T, subs ...*Subrecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, s := range subs {
		require.NoError(t, writeSubrecord(&buf, s))
	}
	return buf.Bytes()
}

func rawHeader(t *testing.T, f Format) []byte {
	return rawRecord(t, f, "TES4", 0, 0, subrecordBytes(t, NewSubrecord("HEDR", make([]byte, 12))))
}

func compressedPayload(t *testing.T, plain []byte) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(plain)))
	return append(out, deflate(t, plain)...)
}

func TestCompressedRecord(t *testing.T) {
	subs := []*Subrecord{
		NewSubrecord("EDID", cstr("Packed")),
		NewSubrecord("DATA", bytes.Repeat([]byte("abcd"), 100)),
	}
	payload := compressedPayload(t, subrecordBytes(t, subs...))

	var file []byte
	file = append(file, rawHeader(t, FormatV2)...)
	file = append(file, rawRecord(t, FormatV2, "NPC_", FlagCompressed|0x20, 0x800, payload)...)

	c, err := ParseBytes(file)
	require.NoError(t, err)
	rec := c.Entries[1].(*Record)
	assert.False(t, rec.Compressed())
	assert.Equal(t, uint32(0x20), rec.Flags1)
	require.Len(t, rec.Subrecords, 2)
	assert.True(t, Equal(subs[0], rec.Subrecords[0]))
	assert.True(t, Equal(subs[1], rec.Subrecords[1]))
	assert.Equal(t, "Packed", rec.EditorID())

	// Written back plain, and stable from then on.
	out, err := c.Bytes()
	require.NoError(t, err)
	reparsed, err := ParseBytes(out)
	require.NoError(t, err)
	assert.True(t, Equal(rec, reparsed.Entries[1]))
	again, err := reparsed.Bytes()
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestCompressedRecordBadChecksum(t *testing.T) {
	plain := subrecordBytes(t, NewSubrecord("EDID", cstr("Checksum")))
	payload := compressedPayload(t, plain)
	payload[len(payload)-1] ^= 0xFF

	file := append(rawHeader(t, FormatV2), rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800, payload)...)
	c, err := ParseBytes(file)
	require.NoError(t, err)
	assert.Equal(t, "Checksum", c.Entries[1].(*Record).EditorID())
}

func TestCompressedRecordErrors(t *testing.T) {
	plain := subrecordBytes(t, NewSubrecord("EDID", cstr("Broken")))

	t.Run("corrupt stream", func(t *testing.T) {
		payload := make([]byte, 4, 20)
		binary.LittleEndian.PutUint32(payload, uint32(len(plain)))
		payload = append(payload, 0x78, 0x9C, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		file := append(rawHeader(t, FormatV2), rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800, payload)...)
		_, err := ParseBytes(file)
		var de *DecompressionError
		assert.True(t, errors.As(err, &de), "got %v", err)
	})

	t.Run("wrong inflated size", func(t *testing.T) {
		payload := compressedPayload(t, plain)
		binary.LittleEndian.PutUint32(payload, uint32(len(plain)+10))
		file := append(rawHeader(t, FormatV2), rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800, payload)...)
		_, err := ParseBytes(file)
		var sm *SizeMismatchError
		assert.True(t, errors.As(err, &sm), "got %v", err)
	})
}

func TestFormatDetection(t *testing.T) {
	for _, f := range []Format{FormatV1, FormatV2} {
		c, err := ParseBytes(rawHeader(t, f))
		require.NoError(t, err)
		assert.Equal(t, f, c.Format)
	}

	_, err := ParseBytes(rawHeader(t, FormatV2), WithFormat(FormatV1))
	assert.Error(t, err)
}

func TestFormatErrors(t *testing.T) {
	group := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, writeTagSize(&buf, MustTag(groupTag), headerSizeV2))
		require.NoError(t, writeGroupHeader(&buf, FormatV2, groupHeader{Label: MustTag("WEAP")}, 0))
		return buf.Bytes()
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "group first", data: group()},
		{name: "wrong record first", data: rawRecord(t, FormatV2, "WEAP", 0, 0x800, subrecordBytes(t, NewSubrecord("EDID", cstr("x"))))},
		{name: "no subrecords", data: rawRecord(t, FormatV2, "TES4", 0, 0, nil)},
		{name: "truncated header", data: rawHeader(t, FormatV2)[:16]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.data)
			var fe *FormatError
			assert.True(t, errors.As(err, &fe), "got %v", err)
		})
	}
}

func TestSizeMismatch(t *testing.T) {
	rec := rawRecord(t, FormatV2, "MISC", 0, 0x800, subrecordBytes(t, NewSubrecord("EDID", cstr("Wrench"))))

	groupOf := func(declared uint32, body []byte) []byte {
		var buf bytes.Buffer
		require.NoError(t, writeTagSize(&buf, MustTag(groupTag), declared))
		require.NoError(t, writeGroupHeader(&buf, FormatV2, groupHeader{Label: MustTag("MISC")}, 0))
		buf.Write(body)
		return buf.Bytes()
	}

	longRecord := append([]byte(nil), rec...)
	binary.LittleEndian.PutUint32(longRecord[4:], uint32(len(rec)-headerSizeV2+5))
	shortRecord := append([]byte(nil), rec...)
	binary.LittleEndian.PutUint32(shortRecord[4:], 4)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "group longer than file", data: groupOf(uint32(headerSizeV2+len(rec)+10), rec)},
		{name: "group shorter than children", data: groupOf(uint32(headerSizeV2+10), rec)},
		{name: "group shorter than header", data: groupOf(8, nil)},
		{name: "record longer than file", data: longRecord},
		{name: "record cuts subrecord", data: shortRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := append(rawHeader(t, FormatV2), tt.data...)
			_, err := ParseBytes(file)
			var sm *SizeMismatchError
			assert.True(t, errors.As(err, &sm), "got %v", err)
		})
	}
}

// allocated returns the bytes allocated while fn runs.
func allocated(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestOversizedDeclarations(t *testing.T) {
	const gib = 1 << 30

	// XXXX announcing 1 GiB, then the real VHGT header.
	ext := make([]byte, 0, 16)
	ext = append(ext, "XXXX\x04\x00"...)
	ext = binary.LittleEndian.AppendUint32(ext, gib)
	ext = append(ext, "VHGT\x00\x00"...)

	hugeRecord := rawRecord(t, FormatV2, "LAND", 0, 0x800, nil)
	binary.LittleEndian.PutUint32(hugeRecord[4:], 0xFFFFFFF0)

	bomb := deflate(t, make([]byte, 8<<20))
	bombPayload := binary.LittleEndian.AppendUint32(nil, 16)

	tests := []struct {
		name  string
		entry []byte
		limit uint64
	}{
		{
			name:  "extension past record",
			entry: rawRecord(t, FormatV2, "LAND", 0, 0x800, append(ext, 1, 2, 3, 4)),
			limit: 1 << 20,
		},
		{
			name:  "extension past file",
			entry: append(hugeRecord, ext...),
			limit: 64 << 20,
		},
		{
			name:  "inflated size beyond deflate ratio",
			entry: rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800, binary.LittleEndian.AppendUint32(nil, gib)),
			limit: 1 << 20,
		},
		{
			name: "inflated size beyond deflate ratio with stream",
			entry: rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800,
				append(binary.LittleEndian.AppendUint32(nil, gib), deflate(t, []byte("tiny"))...)),
			limit: 1 << 20,
		},
		{
			name:  "stream longer than declared",
			entry: rawRecord(t, FormatV2, "MISC", FlagCompressed, 0x800, append(bombPayload, bomb...)),
			limit: 4 << 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := append(rawHeader(t, FormatV2), tt.entry...)
			var err error
			n := allocated(func() { _, err = ParseBytes(file) })
			var sm *SizeMismatchError
			assert.True(t, errors.As(err, &sm), "got %v", err)
			assert.Less(t, n, tt.limit)
		})
	}
}

func TestTagHelpers(t *testing.T) {
	tag, err := ParseTag("NPC_")
	require.NoError(t, err)
	assert.Equal(t, "NPC_", tag.String())

	_, err = ParseTag("NPC")
	assert.Error(t, err)
	assert.Panics(t, func() { MustTag("TOOLONG") })
}
