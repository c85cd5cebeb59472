// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suprsokr/go-esp"
	"github.com/suprsokr/go-esp/formid"
	"github.com/suprsokr/go-esp/maintain"
	"github.com/suprsokr/go-esp/schema"
)

func parseFormID(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad formid %q: %w", s, err)
	}
	return uint32(id), nil
}

func (e *env) resolver() *formid.Resolver {
	return formid.Build(e.plugin, e.session.Containers(), formid.WithLogger(e.log))
}

func cmdDump(e *env) error {
	esp.Walk(e.plugin.Entries, func(parents []*esp.Group, ent esp.Entry) bool {
		indent := strings.Repeat("  ", len(parents))
		switch x := ent.(type) {
		case *esp.Group:
			e.out.printf("%s%s %s %s\n", indent, e.out.paint(colorCyan, "GRUP"), x.LabelString(),
				e.out.paint(colorGray, fmt.Sprintf("(%d entries)", len(x.Entries))))
		case *esp.Record:
			e.out.printf("%s%s %08X %s\n", indent, e.out.paint(colorCyan, x.Tag.String()), x.FormID,
				e.out.paint(colorYellow, x.EditorID()))
		}
		return true
	})
	return nil
}

func cmdDecode(e *env) error {
	id, err := parseFormID(e.args[0])
	if err != nil {
		return err
	}
	r := e.resolver()
	rec, err := r.FindRecord(id)
	if err != nil {
		return err
	}

	e.out.printf("%s %08X %s\n", e.out.paint(colorCyan, rec.Tag.String()), rec.FormID, e.out.paint(colorYellow, formid.Label(rec)))
	b := e.catalog.MatchRecord(rec)
	for i, sub := range rec.Subrecords {
		fields, err := b.Decode(i, schema.WithLabeler(r))
		name := sub.Tag.String()
		if b.For(i) == nil {
			name += e.out.paint(colorGray, " (unmatched)")
			e.log.Debug("unmatched subrecord", "record", rec.Tag, "subrecord", sub.Tag, "index", i)
		}
		e.out.printf("  %s\n", name)
		for _, f := range fields {
			e.out.printf("    %s = %s\n", f.Element.Name, f.Text)
		}
		if err != nil {
			e.out.printf("    %s\n", e.out.paint(colorRed, err.Error()))
		}
	}
	return nil
}

func cmdLookup(e *env) error {
	id, err := parseFormID(e.args[0])
	if err != nil {
		return err
	}
	e.out.printf("%08X %s\n", id, e.resolver().LookupByID(id))
	return nil
}

func cmdScan(e *env) error {
	tag, err := esp.ParseTag(strings.ToUpper(e.args[0]))
	if err != nil {
		return err
	}
	for _, ref := range e.resolver().ScanByType(tag) {
		e.out.printf("%08X %s\n", ref.ID, ref.Label)
	}
	return nil
}

func cmdSanitize(e *env) error {
	rep := maintain.Sanitize(e.plugin, maintain.WithLogger(e.log))
	e.out.printf("merged %d, folded %d, dropped %d, reordered %t\n", rep.Merged, rep.Folded, rep.Dropped, rep.Reordered)
	for _, issue := range rep.Issues {
		e.out.printf("%s %s\n", e.out.paint(colorYellow, "issue:"), issue)
	}
	return e.save()
}

func cmdClean(e *env) error {
	res := maintain.Clean(e.plugin, e.resolver(), maintain.WithLogger(e.log))
	for _, id := range res.Removed {
		e.out.printf("removed %08X\n", id)
	}
	e.out.printf("removed %d records, %d empty groups\n", len(res.Removed), res.GroupsDropped)
	return e.save()
}

func cmdStrip(e *env) error {
	res := maintain.StripIdentifiers(e.plugin, maintain.WithLogger(e.log))
	e.out.printf("removed %d editor IDs, %d script sources\n", res.EditorIDs, res.ScriptSources)
	return e.save()
}

// save writes the plugin to the -o path, if one was given.
func (e *env) save() error {
	if e.output == "" {
		return nil
	}
	if err := e.plugin.Save(e.output); err != nil {
		return err
	}
	e.out.printf("wrote %s\n", e.output)
	return nil
}
