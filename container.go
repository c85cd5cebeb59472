// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Container is a loaded plugin or master file and its full record tree.
type Container struct {
	// Name is the file name (base name) the container was loaded from.
	// Masters are matched against it.
	Name string

	// Format is the header layout used when writing.
	Format Format

	// Entries are the top-level groups and records in file order. The
	// first entry is the header record.
	Entries []Entry

	// Index is the container's position in its Session, or -1.
	Index int
}

// New returns a container holding only a header record with a HEDR
// subrecord, ready to be filled.
func New(name string, f Format, hedr []byte) *Container {
	hdr := NewRecord(headerTag, 0)
	hdr.Add(NewSubrecord("HEDR", hedr))
	return &Container{Name: name, Format: f, Entries: []Entry{hdr}, Index: -1}
}

// Open reads and parses a plugin file from disk.
func Open(path string, opts ...Option) (*Container, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	c, err := Parse(file, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	c.Name = filepath.Base(path)
	return c, nil
}

// Save writes the container to path. The file is written to a temporary
// file in the same directory and renamed over the destination.
func (c *Container) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), "esp_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := c.WriteTo(tempFile); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write plugin: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	// Move temp file to final path
	os.Remove(path)
	if err := os.Rename(tempPath, path); err != nil {
		if err := copyFile(tempPath, path); err != nil {
			os.Remove(tempPath)
			return fmt.Errorf("save plugin: %w", err)
		}
		os.Remove(tempPath)
	}
	return nil
}

// Size returns the serialized size of the whole file.
func (c *Container) Size() uint32 {
	var n uint32
	for _, e := range c.Entries {
		n += e.Size(c.writeFormat())
	}
	return n
}

func (c *Container) writeFormat() Format {
	if c.Format == FormatAuto {
		return FormatV2
	}
	return c.Format
}

// Header returns the header record, or nil for an empty container.
func (c *Container) Header() *Record {
	if len(c.Entries) == 0 {
		return nil
	}
	r, _ := c.Entries[0].(*Record)
	return r
}

// Masters returns the master file names declared by the header record,
// in declaration order. A FormID whose top byte is i refers to Masters()[i].
func (c *Container) Masters() []string {
	hdr := c.Header()
	if hdr == nil {
		return nil
	}
	var masters []string
	mast := MustTag("MAST")
	for _, s := range hdr.Subrecords {
		if s.Tag == mast {
			masters = append(masters, s.String())
		}
	}
	return masters
}

// SetMasters replaces the declared master list. Each master is written as
// a MAST subrecord followed by an 8-byte DATA subrecord.
func (c *Container) SetMasters(names []string) error {
	hdr := c.Header()
	if hdr == nil {
		return &FormatError{Reason: "no header record"}
	}
	mast, data := MustTag("MAST"), MustTag("DATA")

	insertAt := -1
	kept := make([]*Subrecord, 0, len(hdr.Subrecords))
	for i := 0; i < len(hdr.Subrecords); i++ {
		s := hdr.Subrecords[i]
		if s.Tag == mast {
			if insertAt < 0 {
				insertAt = len(kept)
			}
			if i+1 < len(hdr.Subrecords) && hdr.Subrecords[i+1].Tag == data {
				i++
			}
			continue
		}
		kept = append(kept, s)
	}
	if insertAt < 0 {
		insertAt = len(kept)
		for i, s := range kept {
			switch s.Tag.String() {
			case "HEDR", "OFST", "DELE", "CNAM", "SNAM":
				insertAt = i + 1
			}
		}
	}

	subs := make([]*Subrecord, 0, len(kept)+2*len(names))
	subs = append(subs, kept[:insertAt]...)
	for _, n := range names {
		subs = append(subs, &Subrecord{Tag: mast, Data: encodeZString(n)}, &Subrecord{Tag: data, Data: make([]byte, 8)})
	}
	subs = append(subs, kept[insertAt:]...)
	hdr.Subrecords = subs
	return nil
}

// Add appends top-level entries.
func (c *Container) Add(entries ...Entry) {
	c.Entries = append(c.Entries, entries...)
}

// Remove deletes the top-level entry at index i. The header record cannot
// be removed.
func (c *Container) Remove(i int) error {
	if i == 0 && c.Header() != nil {
		return fmt.Errorf("remove entry: cannot remove header record")
	}
	var err error
	c.Entries, err = removeEntry(c.Entries, i)
	return err
}

// Records returns every record in the tree in depth-first file order.
func (c *Container) Records() []*Record {
	var out []*Record
	Walk(c.Entries, func(_ []*Group, e Entry) bool {
		if r, ok := e.(*Record); ok {
			out = append(out, r)
		}
		return true
	})
	return out
}

// FindFormID returns the first record with the given FormID, skipping the
// header record.
func (c *Container) FindFormID(id uint32) *Record {
	var found *Record
	hdr := c.Header()
	Walk(c.Entries, func(_ []*Group, e Entry) bool {
		if found != nil {
			return false
		}
		if r, ok := e.(*Record); ok && r != hdr && r.FormID == id {
			found = r
		}
		return true
	})
	return found
}

// Clone returns a deep copy that does not belong to any session.
func (c *Container) Clone() *Container {
	return &Container{
		Name:    c.Name,
		Format:  c.Format,
		Entries: cloneEntries(c.Entries),
		Index:   -1,
	}
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
