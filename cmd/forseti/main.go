// ABOUTME: CLI entry point for forseti: lint files through engine subprocesses
// ABOUTME: Subcommands lint, engines, and config; engines are always shut down before exit

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mauromedda/forseti-go/internal/config"
	"github.com/mauromedda/forseti-go/internal/linter"
	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/internal/manager"
	"github.com/mauromedda/forseti-go/internal/report"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errFailed marks a lint run that completed but should fail the build.
var errFailed = errors.New("lint failed")

const usage = `usage: forseti <command> [flags] [args]

commands:
  lint [paths...]   lint files and directories (default .)
  engines           list discovered engines
  config            show the effective configuration
  version           print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errFailed):
		os.Exit(1)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return flag.ErrHelp
	}
	switch args[0] {
	case "lint":
		a, err := parseLintFlags(args[1:], stderr)
		if err != nil {
			return err
		}
		return runLint(ctx, a, stdout)
	case "engines":
		a, err := parseEnginesFlags(args[1:], stderr)
		if err != nil {
			return err
		}
		return runEngines(ctx, a, stdout)
	case "config":
		path, err := parseConfigFlags(args[1:], stderr)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, config.Explain(cfg))
		return nil
	case "version", "--version", "-version":
		fmt.Fprintf(stdout, "forseti %s (%s) built %s\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

// loadConfig reads the global config and the project config, which is
// explicit or .forseti.yaml in the working directory, then applies the
// log level.
func loadConfig(projectFile string) (*config.Config, error) {
	if projectFile == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		projectFile = config.ProjectConfigFile(cwd)
	}
	cfg, err := config.LoadFiles(os.LookupEnv, config.GlobalConfigFile(), projectFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return cfg, nil
}

// newManager builds a manager from cfg and runs discovery once.
func newManager(ctx context.Context, cfg *config.Config) (*manager.Manager, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	m := manager.New(
		manager.WithSearchPaths(cfg.SearchPaths...),
		manager.WithWorkspaceRoot(root),
		manager.WithIdleTimeout(cfg.IdleTimeout),
		manager.WithStartTimeout(cfg.StartTimeout),
		manager.WithCallTimeout(cfg.CallTimeout),
	)
	if err := m.Refresh(ctx); err != nil {
		log.Warn("engine discovery: %v", err)
	}
	return m, nil
}

// shutdown stops every engine. When the run was interrupted the engines
// are killed outright so a second Ctrl-C is never needed.
func shutdown(ctx context.Context, m *manager.Manager) {
	if ctx.Err() != nil {
		if n := manager.KillAll(); n > 0 {
			log.Warn("interrupted: killed %d engine processes", n)
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), manager.DefaultShutdownTimeout)
	defer cancel()
	for _, st := range m.ShutdownAll(sctx) {
		if st.Err != nil {
			log.Warn("shutting down %s: %v", st.EngineID, st.Err)
		} else if !st.Graceful {
			log.Debug("%s did not exit in time and was killed", st.EngineID)
		}
	}
	_ = m.Close()
}

func runLint(ctx context.Context, a lintArgs, stdout io.Writer) error {
	cfg, err := loadConfig(a.config)
	if err != nil {
		return err
	}
	if a.format != "" {
		cfg.OutputFormat = a.format
	}
	if a.parallelism > 0 {
		cfg.Parallelism = a.parallelism
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	files, err := linter.CollectFiles(a.paths)
	if err != nil {
		return err
	}

	m, err := newManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(ctx, m)

	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go m.RunReaper(reapCtx)

	res, runErr := linter.New(m, cfg).Run(ctx, files)
	if res != nil {
		opts := report.Options{}
		if f, ok := stdout.(*os.File); ok {
			opts = report.TerminalOptions(f)
		}
		if err := report.Write(stdout, res, cfg.OutputFormat, opts); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	if a.metrics != "" {
		if err := prometheus.WriteToTextfile(a.metrics, m.Metrics()); err != nil {
			log.Warn("writing metrics: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if cfg.FailOnError && linter.HasFailures(res) {
		return errFailed
	}
	return nil
}

func runEngines(ctx context.Context, a enginesArgs, stdout io.Writer) error {
	cfg, err := loadConfig(a.config)
	if err != nil {
		return err
	}
	m, err := newManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(ctx, m)

	printEngines(stdout, m.Engines())
	if !a.watch {
		return nil
	}
	for _, dir := range cfg.SearchPaths {
		if err := config.EnsureDir(dir); err != nil {
			log.Warn("search path %s: %v", dir, err)
		}
	}
	return m.Watch(ctx, func(error) {
		fmt.Fprintln(stdout)
		printEngines(stdout, m.Engines())
	})
}

func printEngines(w io.Writer, engines []manager.EngineSnapshot) {
	if len(engines) == 0 {
		fmt.Fprintln(w, "no engines found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tVERSION\tSTATE\tPATTERNS\tBINARY")
	for _, e := range engines {
		ver := e.Version
		if ver == "" {
			ver = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, ver, e.State, strings.Join(e.FilePatterns, ","), filepath.Clean(e.BinaryPath))
	}
	tw.Flush()
}
