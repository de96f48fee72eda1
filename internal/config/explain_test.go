// ABOUTME: Tests for human-readable config explanation rendering
// ABOUTME: Covers default and fully populated configs

package config

import (
	"strings"
	"testing"
	"time"
)

func TestExplain_Defaults(t *testing.T) {
	t.Parallel()

	result := Explain(nil)
	for _, want := range []string{"=== Linter ===", "OutputFormat: json", "Parallelism:  auto", "=== Engines ==="} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in:\n%s", want, result)
		}
	}
}

func TestExplain_Full(t *testing.T) {
	t.Parallel()

	off := false
	c := Defaults()
	c.Parallelism = 3
	c.SearchPaths = []string{"/a", "/b"}
	c.IdleTimeout = 90 * time.Second
	c.Engines["engine_text"] = EngineSettings{Config: map[string]any{"rulesets": map[string]any{"text": "off"}}}
	c.Engines["engine_py"] = EngineSettings{Enabled: &off, Path: "/opt/py"}

	result := Explain(c)
	for _, want := range []string{
		"Parallelism:  3",
		"SearchPaths:  /a, /b",
		"IdleTimeout:  1m30s",
		`Engine[engine_text]: enabled=true config={"rulesets":{"text":"off"}}`,
		"Engine[engine_py]: enabled=false path=/opt/py",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in:\n%s", want, result)
		}
	}
	if strings.Index(result, "engine_py") > strings.Index(result, "engine_text") {
		t.Error("engines not sorted by id")
	}
}
