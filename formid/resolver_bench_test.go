// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package formid

import (
	"fmt"
	"testing"

	"github.com/suprsokr/go-esp"
)

// benchChain builds a chain of masters, each depending on every earlier
// one, plus an active plugin depending on all of them.
func benchChain(b *testing.B, masters, records int) (*esp.Container, []*esp.Container) {
	var loaded []*esp.Container
	var names []string
	for i := 0; i < masters; i++ {
		var recs []*esp.Record
		for j := 0; j < records; j++ {
			id := uint32(i)<<24 | uint32(0x800+j)
			recs = append(recs, rec("WEAP", id, fmt.Sprintf("Weapon%02d_%04d", i, j)))
		}
		name := fmt.Sprintf("Master%02d.esm", i)
		loaded = append(loaded, plugin(b, name, append([]string(nil), names...), recs...))
		names = append(names, name)
	}
	active := plugin(b, "Active.esp", names, rec("WEAP", uint32(masters)<<24|0x800, "Local"))
	return active, append(loaded, active)
}

// BenchmarkLookupByID benchmarks master lookups with warm indexes.
func BenchmarkLookupByID(b *testing.B) {
	active, loaded := benchChain(b, 5, 2000)
	r := Build(active, loaded, WithCacheSize(len(loaded)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.LookupByID(0x00000800)
		r.LookupByID(0x02000FFF)
		r.LookupByID(0x04000900)
		r.LookupByID(0x05000800)
	}
}

// BenchmarkScanByType benchmarks building a reference picker list.
func BenchmarkScanByType(b *testing.B) {
	active, loaded := benchChain(b, 5, 2000)
	r := Build(active, loaded)
	weap := esp.MustTag("WEAP")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ScanByType(weap)
	}
}

// BenchmarkBuild benchmarks building the master table and a cold index.
func BenchmarkBuild(b *testing.B) {
	active, loaded := benchChain(b, 5, 2000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := Build(active, loaded)
		r.LookupByID(0x00000800)
	}
}
