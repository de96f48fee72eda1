// ABOUTME: Environment handling for config: ${VAR} expansion in paths and FORSETI_* overrides
// ABOUTME: Unparseable override values are logged and ignored, leaving the file value in place

package config

import (
	"encoding/json"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mauromedda/forseti-go/internal/log"
)

// Override variable names. Per-engine names embed the upper-cased id with
// non-alphanumerics replaced by underscores.
const (
	EnvLogLevel     = "FORSETI_LINTER_LOG_LEVEL"
	EnvOutputFormat = "FORSETI_LINTER_OUTPUT_FORMAT"
	EnvParallelism  = "FORSETI_LINTER_PARALLELISM"
	EnvFailOnError  = "FORSETI_LINTER_FAIL_ON_ERROR"
	EnvEngineIDs    = "FORSETI_ENGINE_IDS"
)

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

var (
	logLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}
	formats   = []string{FormatJSON, FormatNDJSON, FormatText}
)

// ResolveEnvVars expands ${VAR} patterns in path fields.
func ResolveEnvVars(c *Config) {
	for i, p := range c.SearchPaths {
		c.SearchPaths[i] = expandEnv(p)
	}
	for id, e := range c.Engines {
		e.Path = expandEnv(e.Path)
		c.Engines[id] = e
	}
}

// expandEnv replaces ${VAR} with os.Getenv(VAR). Unset vars become "".
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyEnv merges FORSETI_* overrides from lookup into c.
// FORSETI_ENGINE_IDS adds engine entries; each configured engine then
// honours FORSETI_ENGINE_<ID>_ENABLED and FORSETI_ENGINE_<ID>_CONFIG_JSON,
// whose top-level keys are merged over the file config.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok {
		if level := strings.ToLower(strings.TrimSpace(v)); slices.Contains(logLevels, level) {
			c.LogLevel = level
		} else {
			log.Warn("ignoring %s=%q", EnvLogLevel, v)
		}
	}
	if v, ok := lookup(EnvOutputFormat); ok {
		if format := strings.ToLower(strings.TrimSpace(v)); slices.Contains(formats, format) {
			c.OutputFormat = format
		} else {
			log.Warn("ignoring %s=%q", EnvOutputFormat, v)
		}
	}
	if v, ok := lookup(EnvParallelism); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16); err == nil {
			c.Parallelism = int(n)
		} else {
			log.Warn("ignoring %s=%q: %v", EnvParallelism, v, err)
		}
	}
	if v, ok := lookup(EnvFailOnError); ok {
		if b, ok := parseBool(v); ok {
			c.FailOnError = b
		} else {
			log.Warn("ignoring %s=%q", EnvFailOnError, v)
		}
	}

	if v, ok := lookup(EnvEngineIDs); ok {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, exists := c.Engines[id]; !exists {
				c.Engines[id] = EngineSettings{}
			}
		}
	}

	for _, id := range c.EngineIDs() {
		e := c.Engines[id]
		key := envKey(id)
		if v, ok := lookup("FORSETI_ENGINE_" + key + "_ENABLED"); ok {
			if b, ok := parseBool(v); ok {
				e.Enabled = &b
			} else {
				log.Warn("ignoring FORSETI_ENGINE_%s_ENABLED=%q", key, v)
			}
		}
		if v, ok := lookup("FORSETI_ENGINE_" + key + "_CONFIG_JSON"); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(v), &obj); err != nil || obj == nil {
				log.Warn("ignoring FORSETI_ENGINE_%s_CONFIG_JSON: not a JSON object", key)
			} else {
				merged := make(map[string]any, len(e.Config)+len(obj))
				for k, val := range e.Config {
					merged[k] = val
				}
				for k, val := range obj {
					merged[k] = val
				}
				e.Config = merged
			}
		}
		c.Engines[id] = e
	}
}

// envKey upper-cases id and replaces anything outside [A-Za-z0-9].
func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
