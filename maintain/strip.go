// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package maintain

import (
	"github.com/suprsokr/go-esp"
)

var (
	edidTag = esp.MustTag("EDID")
	sctxTag = esp.MustTag("SCTX")
	gmstTag = esp.MustTag("GMST")
)

// StripResult summarises a StripIdentifiers pass.
type StripResult struct {
	EditorIDs     int
	ScriptSources int
}

// StripIdentifiers removes the leading EDID subrecord of every record
// except game settings, which the game looks up by editor ID, and removes
// every SCTX script source subrecord.
func StripIdentifiers(c *esp.Container, opts ...Option) StripResult {
	o := newOptions(opts)
	var res StripResult
	for _, rec := range c.Records() {
		if rec.Tag != gmstTag && len(rec.Subrecords) > 0 && rec.Subrecords[0].Tag == edidTag {
			rec.Subrecords = rec.Subrecords[1:]
			res.EditorIDs++
		}
		res.ScriptSources += rec.RemoveTag(sctxTag)
	}
	o.log.Info("stripped identifiers", "plugin", c.Name, "edid", res.EditorIDs, "sctx", res.ScriptSources)
	return res
}
