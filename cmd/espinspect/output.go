// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
)

// printer writes command output, coloring it when enabled.
type printer struct {
	w     io.Writer
	color bool
}

// useColor decides whether output to w is colored. "auto" colors only
// terminals, and honours NO_COLOR.
func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + colorReset
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}
