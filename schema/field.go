// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/suprsokr/go-esp"
)

// Labeler resolves a FormID to a display label.
type Labeler interface {
	LookupByID(id uint32) string
}

// TypeResolver reports the type of the record a FormID refers to. ok is
// false when the reference cannot be resolved.
type TypeResolver interface {
	RecordType(id uint32) (tag esp.Tag, ok bool)
}

// Field is one decoded element of a subrecord payload.
type Field struct {
	Element *Element
	Offset  int
	Size    int

	// Value is the typed value: int64 for signed integers, uint64 for
	// unsigned ones, float64, uint32 for FormIDs, string or []byte.
	Value any

	// Raw is the canonical text form accepted back by Encode.
	Raw string

	// Text is the display form, with option and flag labels or the FormID
	// label applied.
	Text string

	// Group is the element's mutual-exclusion group, or 0.
	Group int

	// Unterminated marks a string that ran to the end of the payload
	// without its zero terminator.
	Unterminated bool
}

// Trailing describes bytes left over after every element has been decoded.
var Trailing = &Element{Name: "Unknown", Type: TypeBlob}

type codecOptions struct {
	selection map[int]int
	labeler   Labeler
	types     TypeResolver
}

// CodecOption configures Decode and Encode.
type CodecOption func(*codecOptions)

// WithSelection picks alternative index (0-based) of a group. Groups
// without a selection use their first alternative.
func WithSelection(group, index int) CodecOption {
	return func(o *codecOptions) {
		if o.selection == nil {
			o.selection = make(map[int]int)
		}
		o.selection[group] = index
	}
}

// WithLabeler resolves FormID elements to labels in Field.Text.
func WithLabeler(l Labeler) CodecOption {
	return func(o *codecOptions) {
		o.labeler = l
	}
}

// WithTypeResolver makes Encode reject a FormID whose record type is not
// listed in the element's reftypes. References that do not resolve are
// accepted.
func WithTypeResolver(r TypeResolver) CodecOption {
	return func(o *codecOptions) {
		o.types = r
	}
}

func newCodecOptions(opts []CodecOption) codecOptions {
	var o codecOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// groupRun returns the end of the group run starting at i and the element
// selected from it.
func (o codecOptions) groupRun(elems []*Element, i int) (int, *Element) {
	g := elems[i].Group
	j := i
	for j < len(elems) && elems[j].Group == g {
		j++
	}
	sel := o.selection[g]
	if sel < 0 || sel >= j-i {
		sel = 0
	}
	return j, elems[i+sel]
}

// Decode interprets data according to ss, left to right. The final element
// repeats while enough bytes remain for another value if it is marked repeat, and may be absent if
// it is marked optional. Bytes left over are returned as a Trailing field.
//
// On a short payload the fields decoded so far are returned together with
// a FieldValidationError wrapping ErrShortPayload.
func Decode(data []byte, ss *Subrecord, opts ...CodecOption) ([]Field, error) {
	o := newCodecOptions(opts)
	elems := ss.Elements

	var out []Field
	off := 0
	for i := 0; i < len(elems); {
		el := elems[i]
		next := i + 1
		if el.Group != 0 {
			next, el = o.groupRun(elems, i)
		}

		if off >= len(data) {
			if el.Optional {
				break
			}
			return out, &FieldValidationError{Element: el.Name, Err: ErrShortPayload}
		}

		f, err := decodeElement(data[off:], el, o)
		if err != nil {
			return out, err
		}
		f.Offset = off
		f.Group = el.Group
		out = append(out, f)
		off += f.Size

		if next == len(elems) && el.Repeat && off < len(data) && len(data)-off >= el.Type.FixedSize() {
			continue
		}
		i = next
	}

	if off < len(data) {
		rest := data[off:]
		out = append(out, Field{
			Element: Trailing,
			Offset:  off,
			Size:    len(rest),
			Value:   bytes.Clone(rest),
			Raw:     hexBytes(rest),
			Text:    hexBytes(rest),
		})
	}
	return out, nil
}

func decodeElement(data []byte, el *Element, o codecOptions) (Field, error) {
	f := Field{Element: el}
	if n := el.Type.FixedSize(); n > len(data) {
		return f, &FieldValidationError{Element: el.Name, Err: ErrShortPayload}
	}

	switch el.Type {
	case TypeByte:
		f.Size, f.Value = 1, uint64(data[0])
	case TypeSByte:
		f.Size, f.Value = 1, int64(int8(data[0]))
	case TypeShort:
		f.Size, f.Value = 2, int64(int16(binary.LittleEndian.Uint16(data)))
	case TypeUShort:
		f.Size, f.Value = 2, uint64(binary.LittleEndian.Uint16(data))
	case TypeInt:
		f.Size, f.Value = 4, int64(int32(binary.LittleEndian.Uint32(data)))
	case TypeUInt:
		f.Size, f.Value = 4, uint64(binary.LittleEndian.Uint32(data))
	case TypeFloat:
		f.Size, f.Value = 4, float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	case TypeFormID:
		f.Size, f.Value = 4, binary.LittleEndian.Uint32(data)
	case TypeString:
		n := bytes.IndexByte(data, 0)
		if n < 0 {
			f.Size, f.Value = len(data), decodeText(data)
			f.Unterminated = true
		} else {
			f.Size, f.Value = n+1, decodeText(data[:n])
		}
	case TypeFString:
		f.Size, f.Value = len(data), decodeText(data)
	case TypeBlob:
		f.Size, f.Value = len(data), bytes.Clone(data)
	default:
		return f, &FieldValidationError{Element: el.Name, Err: fmt.Errorf("unsupported type %v", el.Type)}
	}

	f.Raw = rawText(f.Value)
	f.Text = displayText(el, f.Value, f.Raw, o.labeler)
	return f, nil
}

func rawText(v any) string {
	switch x := v.(type) {
	case uint64:
		return strconv.FormatUint(x, 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 32)
	case uint32:
		return fmt.Sprintf("%08X", x)
	case string:
		return x
	case []byte:
		return hexBytes(x)
	}
	return fmt.Sprint(v)
}

func displayText(el *Element, v any, raw string, l Labeler) string {
	switch x := v.(type) {
	case uint32:
		if l != nil {
			return raw + ": " + l.LookupByID(x)
		}
		return raw
	case int64, uint64:
		n := toInt64(x)
		if label, ok := el.Label(n); ok {
			return label
		}
		if len(el.Flags) > 0 {
			return flagText(el.Flags, uint64(n))
		}
		if el.HexView {
			return fmt.Sprintf("0x%X", uint64(n))
		}
	}
	return raw
}

func flagText(names []string, v uint64) string {
	var set []string
	for bit, name := range names {
		if v&(1<<uint(bit)) != 0 && name != "" {
			set = append(set, name)
		}
	}
	if len(set) == 0 {
		return "(none)"
	}
	return strings.Join(set, " | ")
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case uint64:
		return int64(x)
	}
	return 0
}

// Encode is the inverse of Decode. Each value is the Raw text of a field;
// option labels are accepted in place of numbers. A value left over after
// the last non-repeating element is encoded as trailing hex bytes.
func Encode(values []string, ss *Subrecord, opts ...CodecOption) ([]byte, error) {
	return encode(values, nil, ss, newCodecOptions(opts))
}

// EncodeFields re-encodes fields returned by Decode from their Raw text.
// Unterminated strings are written back without a terminator, so decoding
// and re-encoding an unedited payload reproduces it byte for byte.
func EncodeFields(fields []Field, ss *Subrecord, opts ...CodecOption) ([]byte, error) {
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = f.Raw
	}
	return encode(values, fields, ss, newCodecOptions(opts))
}

func encode(values []string, fields []Field, ss *Subrecord, o codecOptions) ([]byte, error) {
	elems := ss.Elements
	last := len(elems) - 1
	repeats := last >= 0 && elems[last].Repeat

	var buf bytes.Buffer
	i := 0
	vi := 0
	for ; vi < len(values); vi++ {
		decodedTrailing := fields != nil && fields[vi].Element == Trailing
		if decodedTrailing || (i >= len(elems) && !repeats) {
			if vi != len(values)-1 {
				return nil, &FieldValidationError{Element: ss.Name, Err: ErrTooManyValues}
			}
			b, err := parseHex(values[vi])
			if err != nil {
				return nil, &FieldValidationError{Element: Trailing.Name, Value: values[vi], Err: err}
			}
			buf.Write(b)
			return buf.Bytes(), nil
		}
		if i >= len(elems) {
			i = last
		}

		el := elems[i]
		next := i + 1
		if el.Group != 0 {
			next, el = o.groupRun(elems, i)
		}
		unterminated := fields != nil && fields[vi].Unterminated
		if err := encodeElement(&buf, values[vi], el, o, unterminated); err != nil {
			return nil, err
		}
		i = next
	}

	if i < len(elems) {
		el := elems[i]
		if el.Group != 0 {
			_, el = o.groupRun(elems, i)
		}
		if !el.Optional {
			return nil, &FieldValidationError{Element: el.Name, Err: ErrMissingValue}
		}
	}
	return buf.Bytes(), nil
}

func encodeElement(buf *bytes.Buffer, value string, el *Element, o codecOptions, unterminated bool) error {
	fail := func(err error) error {
		return &FieldValidationError{Element: el.Name, Value: value, Err: err}
	}
	var tmp [4]byte

	switch el.Type {
	case TypeByte, TypeUShort, TypeUInt:
		bits := el.Type.FixedSize() * 8
		n, err := parseInteger(value, el, bits, false)
		if err != nil {
			return fail(err)
		}
		putUint(buf, uint64(n), el.Type.FixedSize())
	case TypeSByte, TypeShort, TypeInt:
		bits := el.Type.FixedSize() * 8
		n, err := parseInteger(value, el, bits, true)
		if err != nil {
			return fail(err)
		}
		putUint(buf, uint64(n), el.Type.FixedSize())
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return fail(err)
		}
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(float32(f)))
		buf.Write(tmp[:])
	case TypeFormID:
		s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
		id, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return fail(err)
		}
		if err := o.checkRef(el, uint32(id)); err != nil {
			return fail(err)
		}
		binary.LittleEndian.PutUint32(tmp[:], uint32(id))
		buf.Write(tmp[:])
	case TypeString:
		b, err := encodeText(value)
		if err != nil {
			return fail(err)
		}
		buf.Write(b)
		if !unterminated {
			buf.WriteByte(0)
		}
	case TypeFString:
		b, err := encodeText(value)
		if err != nil {
			return fail(err)
		}
		buf.Write(b)
	case TypeBlob:
		b, err := parseHex(value)
		if err != nil {
			return fail(err)
		}
		buf.Write(b)
	default:
		return fail(fmt.Errorf("unsupported type %v", el.Type))
	}
	return nil
}

// checkRef enforces el's reftypes against the resolved record type.
func (o codecOptions) checkRef(el *Element, id uint32) error {
	if o.types == nil || len(el.RefTypes) == 0 {
		return nil
	}
	tag, ok := o.types.RecordType(id)
	if !ok {
		return nil
	}
	for _, want := range el.RefTypes {
		if tag.String() == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not one of %s", ErrRefType, tag, strings.Join(el.RefTypes, ", "))
}

// parseInteger parses a number, or an option label, and checks it fits in
// the given width.
func parseInteger(value string, el *Element, bits int, signed bool) (int64, error) {
	s := strings.TrimSpace(value)
	for _, o := range el.Options {
		if o.Label == s {
			return o.Value, nil
		}
	}
	if signed {
		return strconv.ParseInt(s, 0, bits)
	}
	u, err := strconv.ParseUint(s, 0, bits)
	return int64(u), err
}

func putUint(buf *bytes.Buffer, v uint64, size int) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:size])
}

func decodeText(b []byte) string {
	s, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func encodeText(s string) ([]byte, error) {
	return charmap.Windows1252.NewEncoder().Bytes([]byte(s))
}

func hexBytes(b []byte) string {
	return strings.ToUpper(strings.TrimSpace(fmt.Sprintf("% x", b)))
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
