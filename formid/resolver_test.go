// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package formid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suprsokr/go-esp"
	"github.com/suprsokr/go-esp/schema"
)

var _ schema.Labeler = (*Resolver)(nil)

func rec(tag string, id uint32, edid string) *esp.Record {
	r := esp.NewRecord(tag, id)
	if edid != "" {
		r.Add(esp.NewSubrecord("EDID", append([]byte(edid), 0)))
	}
	return r
}

// plugin builds a container whose records are placed in one top group per
// type, in order of first appearance.
func plugin(t testing.TB, name string, masters []string, recs ...*esp.Record) *esp.Container {
	c := esp.New(name, esp.FormatV2, make([]byte, 12))
	if err := c.SetMasters(masters); err != nil {
		t.Fatalf("set masters: %v", err)
	}
	groups := make(map[esp.Tag]*esp.Group)
	for _, r := range recs {
		g, ok := groups[r.Tag]
		if !ok {
			g = esp.NewTopGroup(r.Tag.String())
			groups[r.Tag] = g
			c.Add(g)
		}
		g.Add(r)
	}
	return c
}

type fixture struct {
	base, dlc, mod *esp.Container
}

func newFixture(t *testing.T) fixture {
	base := plugin(t, "Base.esm", nil,
		rec("WEAP", 0x00000800, "IronSword"),
		rec("WEAP", 0x00000801, "Knife"),
		rec("MISC", 0x00000900, ""),
	)
	dlc := plugin(t, "DLC.esm", []string{"Base.esm"},
		rec("WEAP", 0x01000A00, "DLCSword"),
		rec("WEAP", 0x00000801, "KnifeDLC"),
	)
	mod := plugin(t, "Mod.esp", []string{"base.ESM", "DLC.esm"},
		rec("WEAP", 0x02000B00, "NewSword"),
		rec("WEAP", 0x00000800, "IronSwordMod"),
	)
	return fixture{base: base, dlc: dlc, mod: mod}
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})

	require.Len(t, r.MasterTable, 2)
	assert.Equal(t, "base.ESM", r.MasterTable[0].Name)
	assert.Same(t, f.base, r.MasterTable[0].Container)
	assert.Equal(t, uint32(0), r.MasterTable[0].Fixup)
	assert.True(t, r.MasterTable[0].Loaded)
	assert.Same(t, f.dlc, r.MasterTable[1].Container)
	assert.Equal(t, uint32(1), r.MasterTable[1].Fixup)

	r = Build(f.mod, []*esp.Container{f.base})
	assert.False(t, r.MasterTable[1].Loaded)
	assert.Nil(t, r.MasterTable[1].Container)
}

func TestLookupByID(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})

	tests := []struct {
		name string
		id   uint32
		want string
	}{
		{"override in active file", 0x00000800, "IronSwordMod"},
		{"first master", 0x00000801, "Knife"},
		{"second master", 0x01000A00, "DLCSword"},
		{"new record", 0x02000B00, "NewSword"},
		{"no editor id", 0x00000900, "[MISC:00000900]"},
		{"missing in master", 0x00000FFF, LabelNoMatch},
		{"missing in active file", 0x02000C00, LabelNoMatch},
		{"index past master list", 0x03000800, LabelInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.LookupByID(tt.id))
		})
	}
}

func TestLookupMasterNotLoaded(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.mod})

	assert.Equal(t, LabelMasterNotLoaded, r.LookupByID(0x01000A00))
	assert.Equal(t, "Knife", r.LookupByID(0x00000801))

	_, err := r.FindRecord(0x01000A00)
	var ure *UnresolvedReferenceError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, uint32(0x01000A00), ure.ID)
	assert.Equal(t, LabelMasterNotLoaded, ure.Label)
}

func TestLookupComposesFixup(t *testing.T) {
	// The master itself depends on two files, so its own records carry 02
	// in the top byte.
	m := plugin(t, "M.esm", []string{"A.esm", "B.esm"}, rec("NPC_", 0x02ABCDEF, "Doc"))
	x := plugin(t, "X.esp", []string{"M.esm"})

	r := Build(x, []*esp.Container{m, x})
	require.Equal(t, uint32(2), r.MasterTable[0].Fixup)
	assert.Equal(t, uint32(0x02ABCDEF), Compose(0x00ABCDEF, r.MasterTable[0].Fixup))
	assert.Equal(t, "Doc", r.LookupByID(0x00ABCDEF))

	found, master, err := r.FindInMasters(0x00ABCDEF)
	require.NoError(t, err)
	assert.Equal(t, "M.esm", master.Name)
	assert.Equal(t, uint32(0x02ABCDEF), found.FormID)

	r = Build(x, []*esp.Container{x})
	assert.Equal(t, LabelMasterNotLoaded, r.LookupByID(0x00ABCDEF))
}

func TestScanByType(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})

	got := r.ScanByType(esp.MustTag("WEAP"))
	assert.Equal(t, []Ref{
		{ID: 0x00000800, Label: "IronSwordMod"},
		{ID: 0x00000801, Label: "Knife"},
		{ID: 0x01000A00, Label: "DLCSword"},
		{ID: 0x02000B00, Label: "NewSword"},
	}, got)

	assert.Equal(t, []Ref{{ID: 0x00000900, Label: "[MISC:00000900]"}}, r.ScanByType(esp.MustTag("MISC")))
	assert.Empty(t, r.ScanByType(esp.MustTag("ARMO")))
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})
	require.Equal(t, LabelNoMatch, r.LookupByID(0x00000802))

	g := f.base.Entries[1].(*esp.Group)
	g.Add(rec("WEAP", 0x00000802, "Axe"))
	assert.Equal(t, LabelNoMatch, r.LookupByID(0x00000802))

	r.Invalidate(f.base)
	assert.Equal(t, "Axe", r.LookupByID(0x00000802))
}

func TestLabelerIntegration(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})

	ss := &schema.Subrecord{Name: "CNTO", Elements: []*schema.Element{
		{Name: "Item", Type: schema.TypeFormID},
		{Name: "Count", Type: schema.TypeInt},
	}}
	fields, err := schema.Decode([]byte{0x00, 0x0A, 0x00, 0x01, 3, 0, 0, 0}, ss, schema.WithLabeler(r))
	require.NoError(t, err)
	assert.Equal(t, "01000A00: DLCSword", fields[0].Text)
}

func TestMasterDigest(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.mod})

	knife := f.base.FindFormID(0x00000801)
	require.NotNil(t, knife)
	got, err := r.MasterDigest(0x00000801)
	require.NoError(t, err)
	assert.Equal(t, knife.Digest(), got)

	// Digests are cached with the index until it is invalidated.
	knife.Subrecords[0].Data = append([]byte("Dagger"), 0)
	got, err = r.MasterDigest(0x00000801)
	require.NoError(t, err)
	assert.NotEqual(t, knife.Digest(), got)
	r.Invalidate(f.base)
	got, err = r.MasterDigest(0x00000801)
	require.NoError(t, err)
	assert.Equal(t, knife.Digest(), got)

	_, err = r.MasterDigest(0x01000A00)
	var ure *UnresolvedReferenceError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, LabelMasterNotLoaded, ure.Label)
}

func TestRecordTypeEnforcesRefTypes(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod})

	tag, ok := r.RecordType(0x00000900)
	require.True(t, ok)
	assert.Equal(t, "MISC", tag.String())
	_, ok = r.RecordType(0x00000FFF)
	assert.False(t, ok)

	ss := &schema.Subrecord{Name: "CNTO", Elements: []*schema.Element{
		{Name: "Item", Type: schema.TypeFormID, RefTypes: []string{"WEAP"}},
	}}
	_, err := schema.Encode([]string{"01000A00"}, ss, schema.WithTypeResolver(r))
	assert.NoError(t, err)
	_, err = schema.Encode([]string{"00000900"}, ss, schema.WithTypeResolver(r))
	assert.True(t, errors.Is(err, schema.ErrRefType), "got %v", err)
}

func TestSmallCacheEvicts(t *testing.T) {
	f := newFixture(t)
	r := Build(f.mod, []*esp.Container{f.base, f.dlc, f.mod}, WithCacheSize(1))

	// Alternating masters evicts each index in turn; answers stay the same.
	for i := 0; i < 3; i++ {
		assert.Equal(t, "Knife", r.LookupByID(0x00000801))
		assert.Equal(t, "DLCSword", r.LookupByID(0x01000A00))
	}
	assert.Equal(t, 1, r.indexes.Len())
}
