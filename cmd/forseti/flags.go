// ABOUTME: Per-subcommand flag parsing using stdlib flag package
// ABOUTME: lint takes --format, --parallelism, --config, --metrics; engines takes --watch

package main

import (
	"flag"
	"fmt"
	"io"
)

type lintArgs struct {
	config      string
	format      string
	parallelism int
	metrics     string
	paths       []string
}

type enginesArgs struct {
	config string
	watch  bool
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseLintFlags(args []string, stderr io.Writer) (lintArgs, error) {
	var a lintArgs
	fs := newFlagSet("lint", stderr)
	fs.StringVar(&a.config, "config", "", "Project config file (default .forseti.yaml in the working directory)")
	fs.StringVar(&a.format, "format", "", "Output format: json, ndjson, or text")
	fs.IntVar(&a.parallelism, "parallelism", 0, "Files analyzed concurrently (0 = number of CPUs)")
	fs.StringVar(&a.metrics, "metrics", "", "Write engine metrics in Prometheus text format to this file")
	if err := fs.Parse(args); err != nil {
		return a, err
	}
	a.paths = fs.Args()
	if len(a.paths) == 0 {
		a.paths = []string{"."}
	}
	if a.parallelism < 0 {
		return a, fmt.Errorf("--parallelism must be >= 0")
	}
	return a, nil
}

func parseEnginesFlags(args []string, stderr io.Writer) (enginesArgs, error) {
	var a enginesArgs
	fs := newFlagSet("engines", stderr)
	fs.StringVar(&a.config, "config", "", "Project config file")
	fs.BoolVar(&a.watch, "watch", false, "Keep running and reprint the list when engines are installed or removed")
	err := fs.Parse(args)
	return a, err
}

func parseConfigFlags(args []string, stderr io.Writer) (string, error) {
	var path string
	fs := newFlagSet("config", stderr)
	fs.StringVar(&path, "config", "", "Project config file")
	err := fs.Parse(args)
	return path, err
}
