// ABOUTME: Human-readable rendering of effective configuration
// ABOUTME: Used by the "config" CLI subcommand to show merged settings

package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Explain renders a human-readable summary of the effective config.
func Explain(c *Config) string {
	if c == nil {
		c = Defaults()
	}

	var b strings.Builder

	b.WriteString("=== Linter ===\n")
	fmt.Fprintf(&b, "  LogLevel:     %s\n", c.LogLevel)
	fmt.Fprintf(&b, "  OutputFormat: %s\n", c.OutputFormat)
	if c.Parallelism == 0 {
		fmt.Fprintf(&b, "  Parallelism:  auto (%d)\n", c.Workers())
	} else {
		fmt.Fprintf(&b, "  Parallelism:  %d\n", c.Parallelism)
	}
	fmt.Fprintf(&b, "  FailOnError:  %v\n", c.FailOnError)
	b.WriteString("\n")

	b.WriteString("=== Engines ===\n")
	if len(c.SearchPaths) > 0 {
		fmt.Fprintf(&b, "  SearchPaths:  %s\n", strings.Join(c.SearchPaths, ", "))
	}
	if c.IdleTimeout != 0 {
		fmt.Fprintf(&b, "  IdleTimeout:  %s\n", c.IdleTimeout)
	}
	if c.StartTimeout != 0 {
		fmt.Fprintf(&b, "  StartTimeout: %s\n", c.StartTimeout)
	}
	if c.CallTimeout != 0 {
		fmt.Fprintf(&b, "  CallTimeout:  %s\n", c.CallTimeout)
	}
	for _, id := range c.EngineIDs() {
		e := c.Engines[id]
		fmt.Fprintf(&b, "  Engine[%s]: enabled=%v", id, e.IsEnabled())
		if e.Path != "" {
			fmt.Fprintf(&b, " path=%s", e.Path)
		}
		if len(e.Config) > 0 {
			if data, err := json.Marshal(e.Config); err == nil {
				fmt.Fprintf(&b, " config=%s", data)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	return b.String()
}
