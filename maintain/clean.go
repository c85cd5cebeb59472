// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package maintain

import (
	"bytes"
	"fmt"

	"github.com/suprsokr/go-esp"
	"github.com/suprsokr/go-esp/formid"
)

// keepTypes are never removed by Clean: placed references and terrain are
// local to the file that places them, and parent records own child groups.
var keepTypes = func() map[esp.Tag]bool {
	m := make(map[esp.Tag]bool)
	for _, name := range []string{
		"REFR", "ACHR", "ACRE", "PGRE", "PMIS", "PBEA", "PFLA", "PCBE",
		"PARW", "PBAR", "PHZD", "NAVM", "LAND", "PGRD",
		"CELL", "WRLD", "DIAL",
	} {
		m[esp.MustTag(name)] = true
	}
	return m
}()

// CleanResult summarises a Clean pass.
type CleanResult struct {
	// Removed lists the FormIDs of the removed records in file order.
	Removed []uint32

	// GroupsDropped counts groups left empty by the removals.
	GroupsDropped int
}

// Clean removes every record of c that its master defines identically:
// same type, payload size, subrecord count, record flags and subrecord
// bytes. Placed references, terrain and parent records are kept. Groups
// emptied by the removals are dropped. Running Clean again removes
// nothing.
func Clean(c *esp.Container, r *formid.Resolver, opts ...Option) CleanResult {
	o := newOptions(opts)
	cl := cleaner{c: c, r: r, opts: o}

	var res CleanResult
	c.Entries = cl.entries(c.Entries, c.Header(), &res)
	o.log.Info("cleaned plugin", "plugin", c.Name, "removed", len(res.Removed), "groups", res.GroupsDropped)
	return res
}

type cleaner struct {
	c    *esp.Container
	r    *formid.Resolver
	opts options
}

func (cl cleaner) entries(entries []esp.Entry, hdr *esp.Record, res *CleanResult) []esp.Entry {
	kept := entries[:0]
	for _, e := range entries {
		switch x := e.(type) {
		case *esp.Group:
			before := len(x.Entries)
			x.Entries = cl.entries(x.Entries, hdr, res)
			if before > 0 && len(x.Entries) == 0 {
				res.GroupsDropped++
				continue
			}
		case *esp.Record:
			if x != hdr && cl.redundant(x) {
				res.Removed = append(res.Removed, x.FormID)
				cl.opts.log.Debug("removed identical record", "type", x.Tag, "formid", fmt.Sprintf("%08X", x.FormID))
				continue
			}
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	return kept
}

func (cl cleaner) redundant(rec *esp.Record) bool {
	if keepTypes[rec.Tag] {
		return false
	}
	want, err := cl.r.MasterDigest(rec.FormID)
	if err != nil || rec.Digest() != want {
		return false
	}
	master, _, err := cl.r.FindInMasters(rec.FormID)
	if err != nil {
		return false
	}
	return identical(rec, master)
}

// identical compares a record with its master's definition byte by byte,
// after the digests have matched. FormIDs differ
// by the fixup and version-control words differ by file, so neither is
// compared.
func identical(a, b *esp.Record) bool {
	if a.Tag != b.Tag || a.Flags1 != b.Flags1 ||
		a.DataSize() != b.DataSize() || len(a.Subrecords) != len(b.Subrecords) {
		return false
	}
	for i, s := range a.Subrecords {
		t := b.Subrecords[i]
		if s.Tag != t.Tag || !bytes.Equal(s.Data, t.Data) {
			return false
		}
	}
	return true
}
