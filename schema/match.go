// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"github.com/suprsokr/go-esp"
)

// Binding is the result of matching a record against its schema: for each
// actual subrecord, the schema entry that describes it.
type Binding struct {
	Record *esp.Record
	Schema *Record

	bound []*Subrecord
	conds ConditionTable
}

func newBinding(rec *esp.Record, sr *Record) *Binding {
	return &Binding{
		Record: rec,
		Schema: sr,
		bound:  make([]*Subrecord, len(rec.Subrecords)),
		conds:  make(ConditionTable),
	}
}

// For returns the schema entry bound to the i-th subrecord, or nil when the
// subrecord is unmatched.
func (b *Binding) For(i int) *Subrecord {
	if i < 0 || i >= len(b.bound) {
		return nil
	}
	return b.bound[i]
}

// Matched returns how many subrecords are bound.
func (b *Binding) Matched() int {
	n := 0
	for _, s := range b.bound {
		if s != nil {
			n++
		}
	}
	return n
}

// Complete reports whether every subrecord is bound.
func (b *Binding) Complete() bool {
	return b.Matched() == len(b.bound)
}

// Conditions returns the condition table as it stood when matching ended.
func (b *Binding) Conditions() ConditionTable {
	return b.conds
}

// Decode decodes the i-th subrecord with its bound schema entry. Unmatched
// subrecords decode as a single Trailing blob.
func (b *Binding) Decode(i int, opts ...CodecOption) ([]Field, error) {
	ss := b.For(i)
	if ss == nil {
		ss = &Subrecord{Name: b.Record.Subrecords[i].Tag.String()}
	}
	return Decode(b.Record.Subrecords[i].Data, ss, opts...)
}

// loopSpan is an open repeat block [start, end) of schema entries.
// progressed records whether anything was bound since the block was
// last entered.
type loopSpan struct {
	start, end int
	progressed bool
}

// matcher walks the actual subrecords and the schema entries with two
// cursors.
type matcher struct {
	subs   []*esp.Subrecord
	schema []*Subrecord
	b      *Binding

	srPos int
	ssPos int
	loops []loopSpan
}

// Match aligns rec's subrecords against sr.
//
// Schema entries whose condition does not hold are skipped. An entry binds
// the current subrecord when tag (and fixed size, if any) agree; binding
// opens the entry's repeat block, and reaching the end of an open block
// rewinds to its start. A mismatch at the start of an open block closes it,
// a mismatch at an optional entry skips its optional span, and any other
// mismatch leaves the remaining subrecords unmatched.
func Match(rec *esp.Record, sr *Record) *Binding {
	m := &matcher{
		subs:   rec.Subrecords,
		schema: sr.Subrecords,
		b:      newBinding(rec, sr),
	}
	m.run()
	return m.b
}

func (m *matcher) run() {
	for m.srPos < len(m.subs) && m.ssPos < len(m.schema) {
		if !m.step() {
			return
		}
	}
}

// step performs one transition and reports whether matching continues.
func (m *matcher) step() bool {
	ss := m.schema[m.ssPos]
	sub := m.subs[m.srPos]

	if !ss.Condition.Eval(m.b.conds) {
		m.advance(m.ssPos + 1)
		return true
	}

	if sub.Tag == ss.tag && (ss.Size == 0 || ss.Size == len(sub.Data)) {
		m.bind(ss, sub)
		if ss.Repeat > 0 && !m.loopOpenAt(m.ssPos) {
			m.loops = append(m.loops, loopSpan{start: m.ssPos, end: m.ssPos + ss.Repeat})
		}
		for i := range m.loops {
			m.loops[i].progressed = true
		}
		m.srPos++
		m.advance(m.ssPos + 1)
		return true
	}

	if top := m.top(); top != nil && m.ssPos == top.start {
		end := top.end
		m.loops = m.loops[:len(m.loops)-1]
		m.advance(end)
		return true
	}

	if ss.Optional > 0 {
		m.advance(m.ssPos + ss.Optional)
		return true
	}

	return false
}

// bind attaches ss to the current subrecord and publishes its CondIDs.
func (m *matcher) bind(ss *Subrecord, sub *esp.Subrecord) {
	m.b.bound[m.srPos] = ss
	fields, _ := Decode(sub.Data, ss)
	for _, f := range fields {
		if f.Element != nil && f.Element.CondID != 0 {
			m.b.conds[f.Element.CondID] = f.Value
		}
	}
}

// advance moves the schema cursor to pos, then rewinds to the start of the
// innermost open block when pos is its end. A block that bound nothing
// since it was entered is closed instead, so a block whose entries are all
// disabled by conditions cannot loop forever.
func (m *matcher) advance(pos int) {
	m.ssPos = pos
	for {
		top := m.top()
		if top == nil || m.ssPos != top.end {
			return
		}
		if top.progressed {
			top.progressed = false
			m.ssPos = top.start
			return
		}
		m.loops = m.loops[:len(m.loops)-1]
	}
}

func (m *matcher) top() *loopSpan {
	if len(m.loops) == 0 {
		return nil
	}
	return &m.loops[len(m.loops)-1]
}

func (m *matcher) loopOpenAt(pos int) bool {
	top := m.top()
	return top != nil && top.start == pos
}
