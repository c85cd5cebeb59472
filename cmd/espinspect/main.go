// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Command espinspect inspects and maintains plugin files.
//
// Usage:
//
//	espinspect [flags] <command> [-o out] <plugin> [args]
//
// Masters named by the plugin are loaded from the plugin's own directory
// and from the -data directories, so FormIDs pointing into them resolve.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/suprsokr/go-esp"
	"github.com/suprsokr/go-esp/schema"
)

const usage = `Usage: espinspect [flags] <command> [-o out] <plugin> [args]

Commands:
  dump                 Print the group and record tree
  decode <formid>      Print the decoded fields of one record
  lookup <formid>      Resolve a FormID to a label
  scan <TYPE>          List every record of a type the plugin can reference
  sanitize [-o out]    Restore the canonical top-level group order
  clean [-o out]       Remove records identical to their master's
  strip [-o out]       Remove editor IDs and script sources

Flags:
`

// errUsage is returned for bad invocations; usage has been printed.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// env is everything a command needs.
type env struct {
	out     *printer
	log     *slog.Logger
	catalog *schema.Catalog
	session *esp.Session
	plugin  *esp.Container
	output  string
	args    []string
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("espinspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath(), "config file")
	schemaPath := fs.String("schema", "", "schema document (default: built-in)")
	dataDirs := fs.String("data", "", "comma-separated directories searched for masters")
	colorMode := fs.String("color", "", "auto, always or never")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadConfig(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(stderr, "espinspect: %v\n", err)
		return 1
	}
	if *schemaPath != "" {
		cfg.Schema = *schemaPath
	}
	if *dataDirs != "" {
		cfg.DataDirs = append(strings.Split(*dataDirs, ","), cfg.DataDirs...)
	}
	if *colorMode != "" {
		if cfg.Color, err = parseColor(*colorMode); err != nil {
			fmt.Fprintf(stderr, "espinspect: -color: %v\n", err)
			fs.Usage()
			return 2
		}
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := dispatch(fs, cfg, log, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "espinspect: %v\n", err)
		return 1
	}
	return 0
}

type command struct {
	args  int // positional arguments after the plugin
	write bool
	run   func(*env) error
}

var commands = map[string]command{
	"dump":     {run: cmdDump},
	"decode":   {args: 1, run: cmdDecode},
	"lookup":   {args: 1, run: cmdLookup},
	"scan":     {args: 1, run: cmdScan},
	"sanitize": {write: true, run: cmdSanitize},
	"clean":    {write: true, run: cmdClean},
	"strip":    {write: true, run: cmdStrip},
}

func dispatch(fs *flag.FlagSet, cfg config, log *slog.Logger, stdout io.Writer) error {
	if fs.NArg() < 1 {
		return errUsage
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", name, errUsage)
	}

	cmdFlags := flag.NewFlagSet(name, flag.ContinueOnError)
	cmdFlags.SetOutput(fs.Output())
	var output *string
	if cmd.write {
		output = cmdFlags.String("o", "", "write the result to this file (default: report only)")
	}
	if err := cmdFlags.Parse(fs.Args()[1:]); err != nil {
		return errUsage
	}
	if cmdFlags.NArg() != 1+cmd.args {
		return errUsage
	}

	catalog := schema.Default()
	if cfg.Schema != "" {
		c, err := schema.LoadFile(cfg.Schema)
		if err != nil {
			return err
		}
		catalog = c
	}

	e := &env{
		out:     &printer{w: stdout, color: useColor(cfg.Color, stdout)},
		log:     log,
		catalog: catalog,
		session: esp.NewSession(),
		args:    cmdFlags.Args()[1:],
	}
	if output != nil {
		e.output = *output
	}

	plugin, err := e.session.Load(cmdFlags.Arg(0), esp.WithLogger(log))
	if err != nil {
		return err
	}
	e.plugin = plugin
	loadMasters(e, filepath.Dir(cmdFlags.Arg(0)), cfg.DataDirs)
	return cmd.run(e)
}

// loadMasters adds every master the plugin names to the session, searching
// dir and then dataDirs. Masters that cannot be found are logged and left
// unresolved.
func loadMasters(e *env, dir string, dataDirs []string) {
	dirs := append([]string{dir}, dataDirs...)
	for _, name := range e.plugin.Masters() {
		if e.session.Get(name) != nil {
			continue
		}
		path := findFile(dirs, name)
		if path == "" {
			e.log.Warn("master not found", "master", name)
			continue
		}
		if _, err := e.session.Load(path, esp.WithLogger(e.log)); err != nil {
			e.log.Warn("load master", "master", name, "err", err)
		}
	}
}

// findFile looks for name in dirs, matching case-insensitively.
func findFile(dirs []string, name string) string {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !ent.IsDir() && strings.EqualFold(ent.Name(), name) {
				return filepath.Join(dir, ent.Name())
			}
		}
	}
	return ""
}
