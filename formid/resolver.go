// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package formid resolves FormIDs across a plugin and the masters it
// declares.
//
// A FormID's top byte indexes the declaring container's master list; the
// value equal to the list length means the container itself. A master's
// own records carry its own master count in the top byte, so following a
// reference into master i rewrites the top byte to that count (the fixup).
package formid

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/suprsokr/go-esp"
)

// Labels returned by LookupByID when a FormID cannot be resolved.
const (
	LabelMasterNotLoaded = "Master not loaded"
	LabelNoMatch         = "No match"
	LabelInvalid         = "FormID was invalid"
)

const defaultCacheSize = 16

// UnresolvedReferenceError reports a FormID that does not resolve to a
// record. Label is the matching sentinel label.
type UnresolvedReferenceError struct {
	ID    uint32
	Label string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("formid %08X: %s", e.ID, strings.ToLower(e.Label))
}

// Master is one entry of the active container's master list.
type Master struct {
	// Name is the file name declared by the MAST subrecord.
	Name string

	// Container is the loaded master, or nil.
	Container *esp.Container

	// Fixup is the master's own master count: the top byte its own
	// records carry.
	Fixup uint32

	Loaded bool
}

// indexed is a record with its content digest.
type indexed struct {
	rec    *esp.Record
	digest uint64
}

// index maps every FormID defined in a container to its first record.
type index map[uint32]indexed

type options struct {
	log       *slog.Logger
	cacheSize int
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCacheSize sets how many per-container FormID indexes are kept.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// Resolver answers FormID queries for one active container.
type Resolver struct {
	Active      *esp.Container
	MasterTable []Master

	log     *slog.Logger
	indexes *lru.Cache[*esp.Container, index]
}

// Build matches active's declared masters against the loaded containers by
// file name, case-insensitively. Masters that are not loaded are recorded
// as absent.
func Build(active *esp.Container, loaded []*esp.Container, opts ...Option) *Resolver {
	o := options{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	indexes, err := lru.New[*esp.Container, index](o.cacheSize)
	if err != nil {
		panic(err)
	}
	r := &Resolver{Active: active, log: o.log, indexes: indexes}

	for _, name := range active.Masters() {
		m := Master{Name: name}
		for _, c := range loaded {
			if c != active && sameFile(c.Name, name) {
				m.Container = c
				m.Fixup = uint32(len(c.Masters()))
				m.Loaded = true
				break
			}
		}
		if !m.Loaded {
			o.log.Warn("master not loaded", "plugin", active.Name, "master", name)
		}
		r.MasterTable = append(r.MasterTable, m)
	}
	return r
}

func sameFile(a, b string) bool {
	return strings.EqualFold(filepath.Base(a), filepath.Base(b))
}

// Invalidate drops the cached FormID index of c. Call it after editing a
// master's tree.
func (r *Resolver) Invalidate(c *esp.Container) {
	r.indexes.Remove(c)
}

func (r *Resolver) index(c *esp.Container) index {
	if idx, ok := r.indexes.Get(c); ok {
		return idx
	}
	idx := make(index)
	hdr := c.Header()
	for _, rec := range c.Records() {
		if rec == hdr {
			continue
		}
		if _, dup := idx[rec.FormID]; !dup {
			idx[rec.FormID] = indexed{rec: rec, digest: rec.Digest()}
		}
	}
	r.indexes.Add(c, idx)
	r.log.Debug("indexed container", "plugin", c.Name, "records", len(idx))
	return idx
}

// LookupByID returns the label of the record id refers to, or one of the
// Label sentinels.
func (r *Resolver) LookupByID(id uint32) string {
	rec, err := r.FindRecord(id)
	var unresolved *UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		return unresolved.Label
	}
	return Label(rec)
}

// RecordType returns the type of the record id refers to.
func (r *Resolver) RecordType(id uint32) (esp.Tag, bool) {
	rec, err := r.FindRecord(id)
	if err != nil {
		return esp.Tag{}, false
	}
	return rec.Tag, true
}

// FindRecord returns the record id refers to. The active container is
// searched first; otherwise the top byte selects a master. Failures are
// *UnresolvedReferenceError.
func (r *Resolver) FindRecord(id uint32) (*esp.Record, error) {
	if rec := r.Active.FindFormID(id); rec != nil {
		return rec, nil
	}
	rec, _, err := r.FindInMasters(id)
	return rec, err
}

// FindInMasters resolves id in the master its top byte names, skipping the
// active container's tree.
func (r *Resolver) FindInMasters(id uint32) (*esp.Record, *Master, error) {
	e, m, err := r.findInMasters(id)
	return e.rec, m, err
}

// MasterDigest returns the Digest of the master record id refers to. The
// digest is computed once per master and cached with its FormID index.
func (r *Resolver) MasterDigest(id uint32) (uint64, error) {
	e, _, err := r.findInMasters(id)
	return e.digest, err
}

func (r *Resolver) findInMasters(id uint32) (indexed, *Master, error) {
	i := int(id >> 24)
	switch {
	case i == len(r.MasterTable):
		return indexed{}, nil, &UnresolvedReferenceError{ID: id, Label: LabelNoMatch}
	case i > len(r.MasterTable):
		return indexed{}, nil, &UnresolvedReferenceError{ID: id, Label: LabelInvalid}
	}

	m := &r.MasterTable[i]
	if !m.Loaded {
		return indexed{}, m, &UnresolvedReferenceError{ID: id, Label: LabelMasterNotLoaded}
	}
	e, ok := r.index(m.Container)[Compose(id, m.Fixup)]
	if !ok {
		return indexed{}, m, &UnresolvedReferenceError{ID: id, Label: LabelNoMatch}
	}
	return e, m, nil
}

// Compose replaces the top byte of id with fixup.
func Compose(id, fixup uint32) uint32 {
	return id&0x00FFFFFF | fixup<<24
}

// Ref is one result of ScanByType.
type Ref struct {
	ID    uint32
	Label string
}

// ScanByType lists every record of the given type that the active
// container can reference: records each loaded master defines itself,
// remapped into the active container's addressing, and the active
// container's own records. Results are sorted by ID; an active record
// replaces a master record with the same ID.
func (r *Resolver) ScanByType(tag esp.Tag) []Ref {
	found := make(map[uint32]string)
	for i, m := range r.MasterTable {
		if !m.Loaded {
			continue
		}
		for id, e := range r.index(m.Container) {
			if e.rec.Tag != tag || id>>24 != m.Fixup {
				continue
			}
			found[Compose(id, uint32(i))] = Label(e.rec)
		}
	}

	hdr := r.Active.Header()
	for _, rec := range r.Active.Records() {
		if rec != hdr && rec.Tag == tag {
			found[rec.FormID] = Label(rec)
		}
	}

	refs := make([]Ref, 0, len(found))
	for id, label := range found {
		refs = append(refs, Ref{ID: id, Label: label})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

// Label returns the display label of a record: its editor ID, or its type
// and FormID when it has none.
func Label(rec *esp.Record) string {
	if id := rec.EditorID(); id != "" {
		return id
	}
	return fmt.Sprintf("[%s:%08X]", rec.Tag, rec.FormID)
}
