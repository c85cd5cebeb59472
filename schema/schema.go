// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/suprsokr/go-esp"
)

// ElementType is the value kind of a schema element.
type ElementType int

const (
	TypeByte ElementType = iota + 1
	TypeSByte
	TypeShort
	TypeUShort
	TypeInt
	TypeUInt
	TypeFloat
	TypeFormID
	TypeString  // zero-terminated
	TypeFString // rest of the payload, not terminated
	TypeBlob    // rest of the payload as raw bytes
)

var elementTypeNames = map[string]ElementType{
	"byte":    TypeByte,
	"sbyte":   TypeSByte,
	"short":   TypeShort,
	"ushort":  TypeUShort,
	"int":     TypeInt,
	"uint":    TypeUInt,
	"float":   TypeFloat,
	"formid":  TypeFormID,
	"string":  TypeString,
	"fstring": TypeFString,
	"blob":    TypeBlob,
}

func (t ElementType) String() string {
	for name, v := range elementTypeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("ElementType(%d)", int(t))
}

// UnmarshalYAML parses a type name such as "int" or "formid".
func (t *ElementType) UnmarshalYAML(n *yaml.Node) error {
	v, ok := elementTypeNames[strings.ToLower(n.Value)]
	if !ok {
		return fmt.Errorf("line %d: unknown element type %q", n.Line, n.Value)
	}
	*t = v
	return nil
}

// FixedSize returns the encoded width of fixed-size types, or 0.
func (t ElementType) FixedSize() int {
	switch t {
	case TypeByte, TypeSByte:
		return 1
	case TypeShort, TypeUShort:
		return 2
	case TypeInt, TypeUInt, TypeFloat, TypeFormID:
		return 4
	}
	return 0
}

// Remainder reports whether the type consumes the rest of the payload.
func (t ElementType) Remainder() bool {
	return t == TypeFString || t == TypeBlob
}

// CondType is the comparison a Condition performs.
type CondType int

const (
	CondNone CondType = iota
	CondEqual
	CondNot
	CondGreater
	CondLess
	CondGreaterEqual
	CondLessEqual
	CondStartsWith
	CondEndsWith
	CondContains
	CondExists
	CondMissing
)

var condTypeNames = map[string]CondType{
	"none":         CondNone,
	"equal":        CondEqual,
	"not":          CondNot,
	"greater":      CondGreater,
	"less":         CondLess,
	"greaterequal": CondGreaterEqual,
	"lessequal":    CondLessEqual,
	"startswith":   CondStartsWith,
	"endswith":     CondEndsWith,
	"contains":     CondContains,
	"exists":       CondExists,
	"missing":      CondMissing,
}

// UnmarshalYAML parses a condition name such as "equal".
func (c *CondType) UnmarshalYAML(n *yaml.Node) error {
	v, ok := condTypeNames[strings.ToLower(n.Value)]
	if !ok {
		return fmt.Errorf("line %d: unknown condition type %q", n.Line, n.Value)
	}
	*c = v
	return nil
}

// Condition gates whether a schema subrecord participates in a match.
type Condition struct {
	Type   CondType `yaml:"type"`
	CondID int      `yaml:"condid"`
	Value  string   `yaml:"value"`
}

// Option labels one enumerated value of an element.
type Option struct {
	Value int64  `yaml:"value"`
	Label string `yaml:"label"`
}

// Element describes one typed field inside a subrecord.
type Element struct {
	Name string      `yaml:"name"`
	Desc string      `yaml:"desc,omitempty"`
	Type ElementType `yaml:"type"`

	// CondID publishes the decoded value into the condition table.
	CondID int `yaml:"condid,omitempty"`

	Options []Option `yaml:"options,omitempty"`

	// Flags labels bits, lowest bit first.
	Flags []string `yaml:"flags,omitempty"`

	// Group makes consecutive elements with the same non-zero id
	// alternatives for the same bytes.
	Group int `yaml:"group,omitempty"`

	Optional bool `yaml:"optional,omitempty"`
	Repeat   bool `yaml:"repeat,omitempty"`

	// RefTypes lists the record types a formid element may name. Encode
	// enforces it when given WithTypeResolver.
	RefTypes []string `yaml:"reftypes,omitempty"`

	HexView bool `yaml:"hexview,omitempty"`
}

// Label returns the option label for v, if any.
func (e *Element) Label(v int64) (string, bool) {
	for _, o := range e.Options {
		if o.Value == v {
			return o.Label, true
		}
	}
	return "", false
}

// Subrecord describes an expected subrecord of a record type.
type Subrecord struct {
	Name string `yaml:"name"`
	Desc string `yaml:"desc,omitempty"`

	// Size, when non-zero, is the exact payload length required to match.
	Size int `yaml:"size,omitempty"`

	// Repeat is the number of entries, starting here, that form a
	// repeating block.
	Repeat int `yaml:"repeat,omitempty"`

	// Optional is the number of entries, starting here, that may be absent
	// together.
	Optional int `yaml:"optional,omitempty"`

	Condition *Condition `yaml:"condition,omitempty"`
	Elements  []*Element `yaml:"elements,omitempty"`

	tag esp.Tag
}

// Tag returns the subrecord type this entry matches.
func (s *Subrecord) Tag() esp.Tag { return s.tag }

// span returns the number of entries covered by the optional/repeat block.
func (s *Subrecord) span() int {
	if s.Repeat > s.Optional {
		return s.Repeat
	}
	return s.Optional
}

// Record describes the expected subrecords of one record type.
type Record struct {
	Name       string       `yaml:"name"`
	Desc       string       `yaml:"desc,omitempty"`
	Subrecords []*Subrecord `yaml:"subrecords"`

	tag esp.Tag
}

// Tag returns the record type.
func (r *Record) Tag() esp.Tag { return r.tag }

// document is the top level of a schema source.
type document struct {
	Records []*Record `yaml:"records"`
}
