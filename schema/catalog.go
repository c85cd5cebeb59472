// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/elliotchance/orderedmap/v3"
	"gopkg.in/yaml.v3"

	"github.com/suprsokr/go-esp"
)

//go:embed default.yaml
var defaultSchema []byte

// Catalog maps record types to their schema. The zero value is an empty
// catalog; every record decodes as unmatched.
type Catalog struct {
	records *orderedmap.OrderedMap[esp.Tag, *Record]
}

// Load parses a schema document.
func Load(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(r); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile parses the schema document at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in catalog covering the header record and a
// handful of common record types.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultSchema))
	if err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}
	return c
}

// Reload replaces the catalog's contents with the document read from r.
// On error the catalog is left unchanged.
func (c *Catalog) Reload(r io.Reader) error {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return &SchemaError{Reason: "parse document", Err: err}
	}

	records := orderedmap.NewOrderedMap[esp.Tag, *Record]()
	for _, rec := range doc.Records {
		if err := validateRecord(rec); err != nil {
			return err
		}
		if _, dup := records.Get(rec.tag); dup {
			return &SchemaError{Record: rec.Name, Reason: "duplicate record type"}
		}
		records.Set(rec.tag, rec)
	}
	c.records = records
	return nil
}

// Lookup returns the schema for a record type.
func (c *Catalog) Lookup(tag esp.Tag) (*Record, bool) {
	if c == nil || c.records == nil {
		return nil, false
	}
	return c.records.Get(tag)
}

// Types returns the record types in document order.
func (c *Catalog) Types() []esp.Tag {
	if c == nil || c.records == nil {
		return nil
	}
	out := make([]esp.Tag, 0, c.records.Len())
	for tag := range c.records.Keys() {
		out = append(out, tag)
	}
	return out
}

// Len returns the number of record types.
func (c *Catalog) Len() int {
	if c == nil || c.records == nil {
		return 0
	}
	return c.records.Len()
}

// MatchRecord aligns rec against its schema. Records without a schema
// come back with every subrecord unmatched.
func (c *Catalog) MatchRecord(rec *esp.Record) *Binding {
	sr, ok := c.Lookup(rec.Tag)
	if !ok {
		return newBinding(rec, nil)
	}
	return Match(rec, sr)
}

func validateRecord(rec *Record) error {
	tag, err := esp.ParseTag(rec.Name)
	if err != nil {
		return &SchemaError{Record: rec.Name, Reason: "bad record name", Err: err}
	}
	rec.tag = tag

	// Open optional/repeat spans, innermost last. Each entry is the index
	// one past the span's last subrecord.
	var open []int
	for i, ss := range rec.Subrecords {
		if err := validateSubrecord(rec, ss); err != nil {
			return err
		}
		for len(open) > 0 && open[len(open)-1] <= i {
			open = open[:len(open)-1]
		}
		n := ss.span()
		if n == 0 {
			continue
		}
		end := i + n
		if end > len(rec.Subrecords) {
			return &SchemaError{Record: rec.Name, Subrecord: ss.Name,
				Reason: fmt.Sprintf("span of %d runs past the last subrecord", n)}
		}
		if len(open) > 0 && end > open[len(open)-1] {
			return &SchemaError{Record: rec.Name, Subrecord: ss.Name,
				Reason: fmt.Sprintf("span [%d,%d) overlaps enclosing span ending at %d", i, end, open[len(open)-1])}
		}
		open = append(open, end)
	}
	return nil
}

func validateSubrecord(rec *Record, ss *Subrecord) error {
	tag, err := esp.ParseTag(ss.Name)
	if err != nil {
		return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Reason: "bad subrecord name", Err: err}
	}
	ss.tag = tag

	switch {
	case ss.Repeat < 0 || ss.Optional < 0 || ss.Size < 0:
		return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Reason: "negative size, repeat or optional"}
	case ss.Repeat > 0 && ss.Optional > 0 && ss.Repeat != ss.Optional:
		return &SchemaError{Record: rec.Name, Subrecord: ss.Name,
			Reason: fmt.Sprintf("repeat %d and optional %d disagree", ss.Repeat, ss.Optional)}
	}

	remainders := 0
	prevGroup := 0
	closedGroups := make(map[int]bool)
	for i, el := range ss.Elements {
		if el.Type == 0 {
			return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name, Reason: "missing type"}
		}
		if el.Type.Remainder() {
			remainders++
			if remainders > 1 {
				return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name,
					Reason: "more than one free-remainder element"}
			}
		}
		if len(el.RefTypes) > 0 && el.Type != TypeFormID {
			return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name,
				Reason: "reftypes on a non-formid element"}
		}
		for _, rt := range el.RefTypes {
			if _, err := esp.ParseTag(rt); err != nil {
				return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name,
					Reason: "bad reftype", Err: err}
			}
		}
		if (el.Optional || el.Repeat) && i != len(ss.Elements)-1 {
			return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name,
				Reason: "only the final element may be optional or repeat"}
		}
		if el.Group != prevGroup {
			if prevGroup != 0 {
				closedGroups[prevGroup] = true
			}
			if el.Group != 0 && closedGroups[el.Group] {
				return &SchemaError{Record: rec.Name, Subrecord: ss.Name, Element: el.Name,
					Reason: fmt.Sprintf("group %d is not contiguous", el.Group)}
			}
			prevGroup = el.Group
		}
	}
	return nil
}
