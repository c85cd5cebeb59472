// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"fmt"
	"path/filepath"
	"strings"
)

// normalizeName normalizes a file name for master lookup. Master names are
// matched case-insensitively on the base name.
func normalizeName(name string) string {
	return strings.ToLower(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
}

// Session is the ordered list of containers loaded together. A
// container's position in the list is its Index.
type Session struct {
	containers []*Container
	byName     map[string]int // cache: normalized name -> index
	cacheBuilt bool
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{byName: make(map[string]int)}
}

// Load opens the plugin at path and adds it to the session.
func (s *Session) Load(path string, opts ...Option) (*Container, error) {
	c, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Add appends c to the session and sets its Index.
func (s *Session) Add(c *Container) error {
	if c.Name != "" && s.Get(c.Name) != nil {
		return fmt.Errorf("add %s: already loaded", c.Name)
	}
	c.Index = len(s.containers)
	s.containers = append(s.containers, c)
	s.cacheBuilt = false
	return nil
}

// Unload removes the named container. Indexes of later containers shift
// down by one.
func (s *Session) Unload(name string) bool {
	key := normalizeName(name)
	for i, c := range s.containers {
		if normalizeName(c.Name) != key {
			continue
		}
		c.Index = -1
		s.containers = append(s.containers[:i], s.containers[i+1:]...)
		for j := i; j < len(s.containers); j++ {
			s.containers[j].Index = j
		}
		s.cacheBuilt = false
		return true
	}
	return false
}

// Get returns the loaded container with the given file name, or nil.
func (s *Session) Get(name string) *Container {
	if !s.cacheBuilt {
		s.rebuildNameMap()
	}
	i, ok := s.byName[normalizeName(name)]
	if !ok {
		return nil
	}
	return s.containers[i]
}

// Containers returns the loaded containers in load order.
func (s *Session) Containers() []*Container {
	return append([]*Container(nil), s.containers...)
}

// Len returns the number of loaded containers.
func (s *Session) Len() int {
	return len(s.containers)
}

// rebuildNameMap rebuilds the name lookup cache. The first container with a
// given name wins.
func (s *Session) rebuildNameMap() {
	s.byName = make(map[string]int, len(s.containers))
	for i, c := range s.containers {
		key := normalizeName(c.Name)
		if _, exists := s.byName[key]; !exists {
			s.byName[key] = i
		}
	}
	s.cacheBuilt = true
}
