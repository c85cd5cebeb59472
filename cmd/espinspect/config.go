// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// config is read from ~/.espinspect.yaml. Command line flags override it.
type config struct {
	// Schema is a schema document used instead of the built-in one.
	Schema string `yaml:"schema"`

	// DataDirs are searched, in order, for master files.
	DataDirs []string `yaml:"data_dirs"`

	// Color is "auto", "always" or "never".
	Color string `yaml:"color"`
}

func defaultConfig() config {
	return config{Color: "auto"}
}

// defaultConfigPath returns ~/.espinspect.yaml, or "" when there is no
// home directory.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".espinspect.yaml")
}

// loadConfig reads the config file at path. A missing file yields the
// defaults unless the path was given explicitly.
func loadConfig(path string, explicit bool) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Color, err = parseColor(cfg.Color); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	for i, dir := range cfg.DataDirs {
		cfg.DataDirs[i] = expandHome(dir)
	}
	cfg.Schema = expandHome(cfg.Schema)
	return cfg, nil
}

// parseColor normalises a color mode; empty means auto.
func parseColor(mode string) (string, error) {
	mode = strings.ToLower(mode)
	switch mode {
	case "":
		return "auto", nil
	case "auto", "always", "never":
		return mode, nil
	}
	return "", fmt.Errorf("color must be auto, always or never, got %q", mode)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
