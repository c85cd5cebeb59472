// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package maintain

import (
	"fmt"

	"github.com/suprsokr/go-esp"
)

// canonicalOrder is the order in which top-level groups appear in a file
// written by the game's editor.
var canonicalOrder = []string{
	"GMST", "TXST", "MICN", "GLOB", "CLAS", "FACT", "HDPT", "HAIR", "EYES", "RACE",
	"SOUN", "ASPC", "MGEF", "SCPT", "LTEX", "ENCH", "SPEL", "ACTI", "TACT", "TERM",
	"ARMO", "BOOK", "CONT", "DOOR", "INGR", "LIGH", "MISC", "STAT", "SCOL", "MSTT",
	"PWAT", "GRAS", "TREE", "FURN", "WEAP", "AMMO", "NPC_", "CREA", "LVLC", "LVLN",
	"KEYM", "ALCH", "IDLM", "NOTE", "COBJ", "PROJ", "LVLI", "WTHR", "CLMT", "REGN",
	"NAVI", "CELL", "WRLD", "DIAL", "QUST", "IDLE", "PACK", "CSTY", "LSCR", "ANIO",
	"WATR", "EFSH", "EXPL", "DEBR", "IMGS", "IMAD", "FLST", "PERK", "BPTD", "ADDN",
	"AVIF", "RADS", "CAMS", "CPTH", "VTYP", "IPCT", "IPDS", "ARMA", "ECZN", "MESG",
	"RGDL", "DOBJ", "LGTM", "MUSC", "IMOD", "REPU", "RCPE", "RCCT", "CHIP", "CSNO",
	"LSCT", "MSET", "ALOC", "CHAL", "AMEF", "CCRD", "CMNY", "CDCK", "DEHY", "HUNG",
	"SLPD",
}

var canonicalRank = func() map[esp.Tag]int {
	m := make(map[esp.Tag]int, len(canonicalOrder))
	for i, name := range canonicalOrder {
		m[esp.MustTag(name)] = i
	}
	return m
}()

// parentTypes own a child group that immediately follows them.
var parentTypes = map[esp.Tag]bool{
	esp.MustTag("CELL"): true,
	esp.MustTag("WRLD"): true,
	esp.MustTag("DIAL"): true,
}

// Issue is something Sanitize could not reconcile. The entry concerned is
// kept.
type Issue struct {
	Tag     esp.Tag
	FormID  uint32
	Message string
}

func (i Issue) String() string {
	if i.FormID != 0 {
		return fmt.Sprintf("%s %08X: %s", i.Tag, i.FormID, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Tag, i.Message)
}

// Report summarises a Sanitize pass.
type Report struct {
	// Merged counts duplicate top groups folded into the first one.
	Merged int

	// Folded counts loose records moved into their type's group.
	Folded int

	// Dropped counts empty top groups removed.
	Dropped int

	// Reordered is set when the top-level entries changed order or
	// identity.
	Reordered bool

	Issues []Issue
}

// Changed reports whether the pass modified the container.
func (r Report) Changed() bool {
	return r.Reordered || r.Merged+r.Folded+r.Dropped > 0
}

func sameEntries(a, b []esp.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type bucket struct {
	group *esp.Group
	seen  bool
}

// Sanitize rewrites the top level of c into canonical group order. The
// header record stays first. Top groups of the same type are merged, loose
// records move into their type's group (a CELL, WRLD or DIAL record takes
// its child group with it) and empty top groups are dropped. Types missing
// from the canonical table, and child groups found at the top level with
// no parent record before them, are kept after the canonical groups and
// reported.
func Sanitize(c *esp.Container, opts ...Option) Report {
	o := newOptions(opts)
	var rep Report

	var head []esp.Entry
	entries := c.Entries
	if hdr := c.Header(); hdr != nil {
		head = append(head, hdr)
		entries = entries[1:]
	}

	buckets := make(map[esp.Tag]*bucket)
	var unknown []esp.Tag
	var orphans []esp.Entry

	get := func(tag esp.Tag) *bucket {
		b, ok := buckets[tag]
		if !ok {
			b = &bucket{group: esp.NewTopGroup(tag.String())}
			buckets[tag] = b
			if _, known := canonicalRank[tag]; !known {
				unknown = append(unknown, tag)
				rep.Issues = append(rep.Issues, Issue{Tag: tag, Message: "record type has no canonical position"})
			}
		}
		return b
	}

	for i := 0; i < len(entries); i++ {
		switch e := entries[i].(type) {
		case *esp.Group:
			if e.Type != esp.GroupTop {
				rep.Issues = append(rep.Issues, Issue{
					Tag:     esp.Tag(e.Label),
					Message: fmt.Sprintf("%s child group at top level without a parent record", e.LabelString()),
				})
				orphans = append(orphans, e)
				continue
			}
			b := get(e.LabelTag())
			if !b.seen {
				b.seen = true
				if len(b.group.Entries) == 0 {
					b.group = e
					continue
				}
				merged := *e
				merged.Entries = append(b.group.Entries, e.Entries...)
				b.group = &merged
				continue
			}
			b.group.Add(e.Entries...)
			rep.Merged++
		case *esp.Record:
			b := get(e.Tag)
			b.group.Add(e)
			rep.Folded++
			if parentTypes[e.Tag] && i+1 < len(entries) {
				if g, ok := entries[i+1].(*esp.Group); ok && g.Type != esp.GroupTop && g.LabelFormID() == e.FormID {
					b.group.Add(g)
					i++
				}
			}
			o.log.Debug("folded loose record", "type", e.Tag, "formid", fmt.Sprintf("%08X", e.FormID))
		}
	}

	out := head
	emit := func(tag esp.Tag) {
		b, ok := buckets[tag]
		if !ok {
			return
		}
		if len(b.group.Entries) == 0 {
			rep.Dropped++
			return
		}
		out = append(out, b.group)
	}
	for _, name := range canonicalOrder {
		emit(esp.MustTag(name))
	}
	for _, tag := range unknown {
		emit(tag)
	}
	out = append(out, orphans...)
	rep.Reordered = !sameEntries(c.Entries, out)
	c.Entries = out

	for _, issue := range rep.Issues {
		o.log.Warn("sanitize", "plugin", c.Name, "issue", issue.String())
	}
	return rep
}
