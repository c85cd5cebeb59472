// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package maintain implements whole-file maintenance passes over a parsed
// plugin: Sanitize restores the canonical top-level layout, Clean drops
// records identical to their master's definition, and StripIdentifiers
// removes editor IDs and script sources.
package maintain

import (
	"io"
	"log/slog"
)

type options struct {
	log *slog.Logger
}

// Option configures a maintenance pass.
type Option func(*options)

// WithLogger sets the logger used to report progress and issues.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
