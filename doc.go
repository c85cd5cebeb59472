// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package esp provides pure Go support for reading and writing plugin and
master files (.esp/.esm) of the Oblivion and Fallout family of games.

A plugin file is a tree of tagged, length-prefixed entries. The file holds
top-level groups and records; groups nest further groups and records;
records hold subrecords, which are opaque tagged byte blocks. The first
record of every file is the TES4 header, whose MAST subrecords name the
master files the plugin depends on.

# Features

  - Lossless parse and serialize of the full record tree
  - Both header layouts: 20-byte (Oblivion) and 24-byte (Fallout 3 and later)
  - Transparent inflate of compressed records
  - Subrecords larger than 64KiB through the XXXX size extension
  - Deep clone and structural equality of tree nodes
  - Sessions of loaded files for cross-file FormID resolution

# Basic Usage

Reading a plugin:

	plugin, err := esp.Open("MyMod.esp")
	if err != nil {
		log.Fatal(err)
	}

	for _, rec := range plugin.Records() {
		fmt.Printf("%s %08X %s\n", rec.Tag, rec.FormID, rec.EditorID())
	}

Writing it back:

	if err := plugin.Save("MyMod.esp"); err != nil {
		log.Fatal(err)
	}

# Sizes

Every size field is recomputed from the tree when writing. The size read
from disk only bounds how many bytes a group or record may consume while
parsing; a mismatch is reported as a [SizeMismatchError].

# Compression

Records flagged with [FlagCompressed] are inflated on read and written back
uncompressed, with the flag cleared. A plugin that has been through one
parse/save cycle therefore grows but is otherwise unchanged.

# Related Packages

The schema package interprets subrecord payloads as typed fields, the
formid package resolves FormIDs across a plugin's masters and the maintain
package implements whole-file clean-up passes.
*/
package esp
