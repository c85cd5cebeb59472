// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/encoding/charmap"
)

// Tag is a four-character type code such as "WEAP" or "EDID".
type Tag [4]byte

// ParseTag converts a four-character string into a Tag.
func ParseTag(s string) (Tag, error) {
	var t Tag
	if len(s) != 4 {
		return t, fmt.Errorf("tag %q: must be 4 characters", s)
	}
	copy(t[:], s)
	return t, nil
}

// MustTag is like ParseTag but panics on malformed input.
func MustTag(s string) Tag {
	t, err := ParseTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string { return string(t[:]) }

// NodeKind discriminates the three node variants of a plugin tree.
type NodeKind int

const (
	KindGroup NodeKind = iota
	KindRecord
	KindSubrecord
)

func (k NodeKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindRecord:
		return "record"
	case KindSubrecord:
		return "subrecord"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is one of *Group, *Record or *Subrecord. The set is closed.
type Node interface {
	Kind() NodeKind

	// Size returns the full serialized size of the node, header included.
	Size(f Format) uint32

	// CloneNode returns a deep copy.
	CloneNode() Node

	node()
}

// Entry is a node that may appear in a container or group: *Group or *Record.
type Entry interface {
	Node
	entry()
}

// Subrecord is a tagged field block inside a record.
type Subrecord struct {
	Tag  Tag
	Data []byte
}

// NewSubrecord returns a subrecord owning a copy of data.
func NewSubrecord(tag string, data []byte) *Subrecord {
	return &Subrecord{Tag: MustTag(tag), Data: bytes.Clone(data)}
}

func (*Subrecord) Kind() NodeKind { return KindSubrecord }
func (*Subrecord) node()          {}

// Size returns the serialized size, including an XXXX extension when the
// payload does not fit the 16-bit length.
func (s *Subrecord) Size(Format) uint32 {
	n := uint32(subrecordHeaderSize + len(s.Data))
	if len(s.Data) > maxSubrecordData {
		n += extSize
	}
	return n
}

// Clone returns a deep copy.
func (s *Subrecord) Clone() *Subrecord {
	return &Subrecord{Tag: s.Tag, Data: bytes.Clone(s.Data)}
}

func (s *Subrecord) CloneNode() Node { return s.Clone() }

// String decodes the payload as a zero-terminated Windows-1252 string.
func (s *Subrecord) String() string {
	return decodeZString(s.Data)
}

// Record is a typed game-data entry identified by a FormID.
type Record struct {
	Tag        Tag
	Flags1     uint32
	FormID     uint32
	Flags2     uint32
	Flags3     uint32
	Subrecords []*Subrecord
}

// NewRecord returns an empty record of the given type.
func NewRecord(tag string, formID uint32) *Record {
	return &Record{Tag: MustTag(tag), FormID: formID}
}

func (*Record) Kind() NodeKind { return KindRecord }
func (*Record) node()          {}
func (*Record) entry()         {}

// DataSize returns the size of the serialized subrecords, which is the
// value written to the record's size field.
func (r *Record) DataSize() uint32 {
	var n uint32
	for _, s := range r.Subrecords {
		n += s.Size(FormatAuto)
	}
	return n
}

// Size returns the full serialized size of the record.
func (r *Record) Size(f Format) uint32 {
	return f.headerSize() + r.DataSize()
}

// Compressed reports whether the compression flag is set.
func (r *Record) Compressed() bool {
	return r.Flags1&FlagCompressed != 0
}

// Add appends subrecords.
func (r *Record) Add(subs ...*Subrecord) {
	r.Subrecords = append(r.Subrecords, subs...)
}

// Insert places s at index i.
func (r *Record) Insert(i int, s *Subrecord) error {
	if i < 0 || i > len(r.Subrecords) {
		return fmt.Errorf("insert subrecord: index %d out of range [0,%d]", i, len(r.Subrecords))
	}
	r.Subrecords = append(r.Subrecords, nil)
	copy(r.Subrecords[i+1:], r.Subrecords[i:])
	r.Subrecords[i] = s
	return nil
}

// Remove deletes the subrecord at index i.
func (r *Record) Remove(i int) error {
	if i < 0 || i >= len(r.Subrecords) {
		return fmt.Errorf("remove subrecord: index %d out of range [0,%d)", i, len(r.Subrecords))
	}
	r.Subrecords = append(r.Subrecords[:i], r.Subrecords[i+1:]...)
	return nil
}

// RemoveTag deletes every subrecord with the given tag and returns how many
// were removed.
func (r *Record) RemoveTag(tag Tag) int {
	kept := r.Subrecords[:0]
	for _, s := range r.Subrecords {
		if s.Tag != tag {
			kept = append(kept, s)
		}
	}
	n := len(r.Subrecords) - len(kept)
	for i := len(kept); i < len(r.Subrecords); i++ {
		r.Subrecords[i] = nil
	}
	r.Subrecords = kept
	return n
}

// Subrecord returns the first subrecord with the given tag.
func (r *Record) Subrecord(tag string) *Subrecord {
	t := MustTag(tag)
	for _, s := range r.Subrecords {
		if s.Tag == t {
			return s
		}
	}
	return nil
}

// EditorID returns the decoded EDID subrecord, or "" when absent.
func (r *Record) EditorID() string {
	if s := r.Subrecord("EDID"); s != nil {
		return s.String()
	}
	return ""
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Subrecords = make([]*Subrecord, len(r.Subrecords))
	for i, s := range r.Subrecords {
		c.Subrecords[i] = s.Clone()
	}
	return &c
}

func (r *Record) CloneNode() Node { return r.Clone() }

// Digest hashes the record's type, record flags and subrecords. The
// FormID and the version-control words (Flags2, Flags3) are left out, so a
// master's definition and a plugin's copy of it hash alike. Records with
// different digests are never Equal.
func (r *Record) Digest() uint64 {
	d := xxhash.New()
	var hdr [8]byte
	copy(hdr[:4], r.Tag[:])
	binary.LittleEndian.PutUint32(hdr[4:], r.Flags1)
	d.Write(hdr[:])
	for _, s := range r.Subrecords {
		var sh [8]byte
		copy(sh[:4], s.Tag[:])
		binary.LittleEndian.PutUint32(sh[4:], uint32(len(s.Data)))
		d.Write(sh[:])
		d.Write(s.Data)
	}
	return d.Sum64()
}

// GroupType discriminates what a group's label means.
type GroupType uint32

const (
	GroupTop GroupType = iota
	GroupWorldChildren
	GroupInteriorBlock
	GroupInteriorSubBlock
	GroupExteriorBlock
	GroupExteriorSubBlock
	GroupCellChildren
	GroupTopicChildren
	GroupCellPersistent
	GroupCellTemporary
	GroupCellVisibleDistant
)

// LabelKind says how to interpret a group's label.
type LabelKind int

const (
	LabelTypeTag LabelKind = iota
	LabelBlock
	LabelGrid
	LabelParent
)

// LabelKind returns the interpretation of labels for groups of this type.
func (t GroupType) LabelKind() LabelKind {
	switch t {
	case GroupTop:
		return LabelTypeTag
	case GroupInteriorBlock, GroupInteriorSubBlock:
		return LabelBlock
	case GroupExteriorBlock, GroupExteriorSubBlock:
		return LabelGrid
	}
	return LabelParent
}

// Group is an internal node grouping records by type, cell block or parent.
type Group struct {
	Label   [4]byte
	Type    GroupType
	Stamp   uint32
	Flags   uint32
	Entries []Entry
}

// NewTopGroup returns an empty top-level group holding records of type tag.
func NewTopGroup(tag string) *Group {
	return &Group{Label: MustTag(tag), Type: GroupTop}
}

// NewChildGroup returns an empty group of type t whose label is a parent FormID.
func NewChildGroup(t GroupType, parent uint32) *Group {
	g := &Group{Type: t}
	binary.LittleEndian.PutUint32(g.Label[:], parent)
	return g
}

func (*Group) Kind() NodeKind { return KindGroup }
func (*Group) node()          {}
func (*Group) entry()         {}

// Size returns the full serialized size: header plus every child.
func (g *Group) Size(f Format) uint32 {
	n := f.headerSize()
	for _, e := range g.Entries {
		n += e.Size(f)
	}
	return n
}

// LabelTag returns the label as a record type (top groups).
func (g *Group) LabelTag() Tag { return Tag(g.Label) }

// LabelInt returns the label as a signed block number.
func (g *Group) LabelInt() int32 { return int32(binary.LittleEndian.Uint32(g.Label[:])) }

// LabelGrid returns the label as an exterior cell grid coordinate.
func (g *Group) LabelGrid() (x, y int16) {
	y = int16(binary.LittleEndian.Uint16(g.Label[0:2]))
	x = int16(binary.LittleEndian.Uint16(g.Label[2:4]))
	return x, y
}

// LabelFormID returns the label as the FormID of the parent record.
func (g *Group) LabelFormID() uint32 { return binary.LittleEndian.Uint32(g.Label[:]) }

// LabelString formats the label according to the group type.
func (g *Group) LabelString() string {
	switch g.Type.LabelKind() {
	case LabelTypeTag:
		return g.LabelTag().String()
	case LabelBlock:
		return fmt.Sprintf("block %d", g.LabelInt())
	case LabelGrid:
		x, y := g.LabelGrid()
		return fmt.Sprintf("grid %d,%d", x, y)
	case LabelParent:
		return fmt.Sprintf("parent %08X", g.LabelFormID())
	}
	return ""
}

// Add appends entries.
func (g *Group) Add(entries ...Entry) {
	g.Entries = append(g.Entries, entries...)
}

// Insert places e at index i.
func (g *Group) Insert(i int, e Entry) error {
	var err error
	g.Entries, err = insertEntry(g.Entries, i, e)
	return err
}

// Remove deletes the entry at index i.
func (g *Group) Remove(i int) error {
	var err error
	g.Entries, err = removeEntry(g.Entries, i)
	return err
}

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	c := *g
	c.Entries = cloneEntries(g.Entries)
	return &c
}

func (g *Group) CloneNode() Node { return g.Clone() }

func insertEntry(entries []Entry, i int, e Entry) ([]Entry, error) {
	if i < 0 || i > len(entries) {
		return entries, fmt.Errorf("insert entry: index %d out of range [0,%d]", i, len(entries))
	}
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries, nil
}

func removeEntry(entries []Entry, i int) ([]Entry, error) {
	if i < 0 || i >= len(entries) {
		return entries, fmt.Errorf("remove entry: index %d out of range [0,%d)", i, len(entries))
	}
	return append(entries[:i], entries[i+1:]...), nil
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.CloneNode().(Entry)
	}
	return out
}

// Equal reports whether a and b are structurally identical, comparing
// every header field and payload byte.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Subrecord:
		y, ok := b.(*Subrecord)
		return ok && x.Tag == y.Tag && bytes.Equal(x.Data, y.Data)
	case *Record:
		y, ok := b.(*Record)
		if !ok || x.Tag != y.Tag || x.FormID != y.FormID ||
			x.Flags1 != y.Flags1 || x.Flags2 != y.Flags2 || x.Flags3 != y.Flags3 ||
			len(x.Subrecords) != len(y.Subrecords) {
			return false
		}
		for i := range x.Subrecords {
			if !Equal(x.Subrecords[i], y.Subrecords[i]) {
				return false
			}
		}
		return true
	case *Group:
		y, ok := b.(*Group)
		if !ok || x.Label != y.Label || x.Type != y.Type || x.Stamp != y.Stamp ||
			x.Flags != y.Flags || len(x.Entries) != len(y.Entries) {
			return false
		}
		for i := range x.Entries {
			if !Equal(x.Entries[i], y.Entries[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// WalkFunc is called for every entry during Walk. parents lists the
// enclosing groups, outermost first. Returning false from a group visit
// skips its children.
type WalkFunc func(parents []*Group, e Entry) bool

// Walk visits entries depth-first in file order.
func Walk(entries []Entry, fn WalkFunc) {
	walk(nil, entries, fn)
}

func walk(parents []*Group, entries []Entry, fn WalkFunc) {
	for _, e := range entries {
		descend := fn(parents, e)
		switch x := e.(type) {
		case *Group:
			if descend {
				walk(append(slices.Clip(parents), x), x.Entries, fn)
			}
		case *Record:
		}
	}
}

// decodeZString decodes a zero-terminated Windows-1252 string.
func decodeZString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(s)
}

// encodeZString encodes s as a zero-terminated Windows-1252 string.
func encodeZString(s string) []byte {
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		b = []byte(s)
	}
	return append(b, 0)
}
