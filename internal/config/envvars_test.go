// ABOUTME: Tests for environment variable expansion and FORSETI_* overrides
// ABOUTME: Overrides are driven through a map-backed lookup so tests stay parallel

package config

import (
	"testing"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestExpandEnv_Set(t *testing.T) {
	t.Setenv("FORSETI_TEST_HOME", "/home/x")
	result := expandEnv("${FORSETI_TEST_HOME}/engines")
	if result != "/home/x/engines" {
		t.Errorf("expandEnv = %q; want %q", result, "/home/x/engines")
	}
}

func TestExpandEnv_Unset(t *testing.T) {
	result := expandEnv("${DEFINITELY_NOT_SET_12345}")
	if result != "" {
		t.Errorf("expandEnv = %q; want empty for unset var", result)
	}
}

func TestExpandEnv_NoPattern(t *testing.T) {
	result := expandEnv("plain string")
	if result != "plain string" {
		t.Errorf("expandEnv = %q; want %q", result, "plain string")
	}
}

func TestResolveEnvVars_Paths(t *testing.T) {
	t.Setenv("FORSETI_TEST_ROOT", "/srv")

	c := Defaults()
	c.SearchPaths = []string{"${FORSETI_TEST_ROOT}/cache"}
	c.Engines["e"] = EngineSettings{Path: "${FORSETI_TEST_ROOT}/bin/forseti_engine_e"}
	ResolveEnvVars(c)

	if c.SearchPaths[0] != "/srv/cache" {
		t.Errorf("SearchPaths = %v", c.SearchPaths)
	}
	if c.Engines["e"].Path != "/srv/bin/forseti_engine_e" {
		t.Errorf("Path = %q", c.Engines["e"].Path)
	}
}

func TestApplyEnv_Linter(t *testing.T) {
	t.Parallel()

	c := Defaults()
	ApplyEnv(c, lookupFrom(map[string]string{
		EnvLogLevel:     " DEBUG ",
		EnvOutputFormat: "ndjson",
		EnvParallelism:  "8",
		EnvFailOnError:  "off",
	}))
	if c.LogLevel != "debug" || c.OutputFormat != FormatNDJSON || c.Parallelism != 8 || c.FailOnError {
		t.Errorf("config = %+v", c)
	}
}

func TestApplyEnv_IgnoresBadValues(t *testing.T) {
	t.Parallel()

	c := Defaults()
	ApplyEnv(c, lookupFrom(map[string]string{
		EnvLogLevel:     "loud",
		EnvOutputFormat: "sarif",
		EnvParallelism:  "-3",
		EnvFailOnError:  "maybe",
	}))
	want := Defaults()
	if c.LogLevel != want.LogLevel || c.OutputFormat != want.OutputFormat || c.Parallelism != want.Parallelism || c.FailOnError != want.FailOnError {
		t.Errorf("config = %+v; want defaults", c)
	}
}

func TestApplyEnv_Engines(t *testing.T) {
	t.Parallel()

	c := Defaults()
	c.Engines["engine_text"] = EngineSettings{Config: map[string]any{"rulesets": map[string]any{"text": "off"}, "keep": 1}}
	ApplyEnv(c, lookupFrom(map[string]string{
		EnvEngineIDs:                             "engine-py, ,engine_text",
		"FORSETI_ENGINE_ENGINE_PY_ENABLED":       "false",
		"FORSETI_ENGINE_ENGINE_TEXT_CONFIG_JSON": `{"rulesets":{"text":{"no-tabs":"error"}}}`,
	}))

	py, ok := c.Engines["engine-py"]
	if !ok || py.IsEnabled() {
		t.Errorf("engine-py = %+v, %v; want registered and disabled", py, ok)
	}
	text := c.Engines["engine_text"]
	if text.Config["keep"] != 1 {
		t.Errorf("file keys lost: %v", text.Config)
	}
	rulesets, _ := text.Config["rulesets"].(map[string]any)
	if _, isMap := rulesets["text"].(map[string]any); !isMap {
		t.Errorf("rulesets not replaced by env JSON: %v", text.Config["rulesets"])
	}
}

func TestEnvKey(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"engine_text", "ENGINE_TEXT"},
		{"engine-py.v2", "ENGINE_PY_V2"},
		{"Abc9", "ABC9"},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
