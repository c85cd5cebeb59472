// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError reports a malformed schema document.
type SchemaError struct {
	Record    string
	Subrecord string
	Element   string
	Reason    string
	Err       error
}

func (e *SchemaError) Error() string {
	var where []string
	if e.Record != "" {
		where = append(where, "record "+e.Record)
	}
	if e.Subrecord != "" {
		where = append(where, "subrecord "+e.Subrecord)
	}
	if e.Element != "" {
		where = append(where, fmt.Sprintf("element %q", e.Element))
	}
	msg := "schema"
	if len(where) > 0 {
		msg += " " + strings.Join(where, ", ")
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// FieldValidationError reports a field value that does not fit its element
// type, or a payload too short for the elements it must hold.
type FieldValidationError struct {
	Element string
	Value   string
	Err     error
}

func (e *FieldValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("field %q: %v", e.Element, e.Err)
	}
	return fmt.Sprintf("field %q: invalid value %q: %v", e.Element, e.Value, e.Err)
}

func (e *FieldValidationError) Unwrap() error { return e.Err }

var (
	// ErrShortPayload is wrapped by FieldValidationError when a payload ends
	// before a required element.
	ErrShortPayload = errors.New("payload too short")

	// ErrTooManyValues is wrapped by FieldValidationError when Encode gets
	// more values than the elements can hold.
	ErrTooManyValues = errors.New("too many values")

	// ErrMissingValue is wrapped by FieldValidationError when Encode runs out
	// of values before a required element.
	ErrMissingValue = errors.New("missing value")

	// ErrRefType is wrapped by FieldValidationError when a FormID names a
	// record of a type the element does not allow.
	ErrRefType = errors.New("wrong record type")
)
