// ABOUTME: Re-executes the test binary as a real engine process for manager tests
// ABOUTME: The helper serves the text engine plus a trap rule that can hang, crash, or corrupt stdout

package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mauromedda/forseti-go/internal/rules/text"
	"github.com/mauromedda/forseti-go/pkg/engine"
	"github.com/mauromedda/forseti-go/pkg/protocol"
	"github.com/mauromedda/forseti-go/pkg/ruleset"
)

const (
	helperEnv     = "FORSETI_HELPER_ENGINE"
	helperModeEnv = "FORSETI_HELPER_MODE"
	helperPIDEnv  = "FORSETI_HELPER_PID_FILE"
	trapRule      = "trap"
)

// trapProvider adds a rule to the text ruleset that misbehaves on marker
// content: HANG blocks, CRASH exits, NOISE writes a non-protocol line.
type trapProvider struct {
	*text.Provider
}

func (p trapProvider) LoadRuleset(id string) (*ruleset.Ruleset, error) {
	rs, err := p.Provider.LoadRuleset(id)
	if err != nil {
		return nil, err
	}
	return rs.With(ruleset.RuleFunc{RuleID: trapRule, Fn: func(ctx *ruleset.RuleContext) {
		switch {
		case strings.Contains(ctx.Text, "HANG"):
			time.Sleep(time.Hour)
		case strings.Contains(ctx.Text, "CRASH"):
			os.Exit(3)
		case strings.Contains(ctx.Text, "NOISE"):
			fmt.Fprintln(os.Stdout, "this is not a protocol line")
		}
	}}), nil
}

// TestHelperEngine is not a test: it is the engine process body.
func TestHelperEngine(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("only runs as a spawned engine")
	}
	switch os.Getenv(helperModeEnv) {
	case "mute":
		time.Sleep(time.Hour)
		os.Exit(0)
	case "orphan":
		// A grandchild in its own session keeps our stdout open after
		// the engine's process group is killed.
		cmd := exec.Command("setsid", "sleep", "60")
		cmd.Stdout = os.Stdout
		if err := cmd.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := os.WriteFile(os.Getenv(helperPIDEnv), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if err := engine.ServeStdio(context.Background(), trapProvider{text.NewProvider("helper")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// helperInfo describes an engine backed by this test binary.
func helperInfo(id string, env ...string) EngineInfo {
	return EngineInfo{
		ID:         id,
		BinaryPath: os.Args[0],
		Args:       []string{"-test.run=^TestHelperEngine$"},
		Env:        append([]string{helperEnv + "=1"}, env...),
	}
}

// trapConfig enables trailing whitespace checks and the trap rule.
func trapConfig() protocol.EngineConfig {
	return protocol.EngineConfig{Rulesets: map[string]protocol.RulesetConfig{
		text.RulesetID: protocol.RulesetRules(map[string]protocol.RuleConfigEntry{
			text.RuleNoTrailingWhitespace: protocol.Level(protocol.SeverityWarn),
			trapRule:                      protocol.Level(protocol.SeverityError),
		}),
	}}
}

// newTestManager returns a manager that is shut down when the test ends.
func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithWorkspaceRoot(t.TempDir()), WithShutdownGrace(time.Second)}, opts...)
	m := New(opts...)
	t.Cleanup(func() {
		m.ShutdownAll(context.Background())
		m.Close()
	})
	return m
}

// startHelper registers and starts a helper engine.
func startHelper(t *testing.T, m *Manager, id string) protocol.InitializeResult {
	t.Helper()
	m.Register(helperInfo(id))
	res, err := m.Start(context.Background(), id, trapConfig())
	if err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	return res
}
