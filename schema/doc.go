// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package schema describes the expected layout of record types and uses
// that description to interpret subrecord payloads.
//
// A Catalog is loaded from a YAML document listing, for each record type,
// the subrecords it may contain and the typed elements inside each one:
//
//	records:
//	  - name: CONT
//	    subrecords:
//	      - name: EDID
//	        elements: [{name: Editor ID, type: string}]
//	      - name: CNTO
//	        repeat: 1
//	        optional: 1
//	        elements:
//	          - {name: Item, type: formid}
//	          - {name: Count, type: int}
//
// # Matching
//
// Match aligns a record's actual subrecords with the schema entries in
// order. Entries may be optional, may repeat as a block, and may be gated
// by a condition on a value decoded earlier in the same record (an element
// with a condid publishes its value; a subrecord condition reads it).
// Subrecords that cannot be aligned stay unmatched and decode as raw bytes.
//
// # Fields
//
// Decode turns a payload into Fields and Encode turns edited text back
// into bytes. Strings are Windows-1252.
package schema
