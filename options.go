// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package esp

import (
	"io"
	"log/slog"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type options struct {
	format Format
	log    *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		format: FormatAuto,
		log:    discardLogger,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures Parse, Open and Session.Load.
type Option func(*options)

// WithFormat forces a header layout instead of detecting it.
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithLogger sets the logger used for diagnostics. The default discards
// everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
