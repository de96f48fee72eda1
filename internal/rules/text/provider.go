// ABOUTME: engine.Provider for the bundled text engine: default config, capabilities, preprocessing
// ABOUTME: Preprocessing derives language and extension from the URI and never reads file content

package text

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/mauromedda/forseti-go/pkg/protocol"
	"github.com/mauromedda/forseti-go/pkg/ruleset"
)

// EngineID is the id the text engine binary reports.
const EngineID = "engine_text"

// MaxFileSize is the largest file the text engine accepts.
const MaxFileSize = 4 << 20

// FilePatterns are the globs the text engine claims.
var FilePatterns = []string{"*.txt", "*.text", "*.md", "*.markdown", "**/README*"}

var languages = map[string]string{
	".txt":      "plaintext",
	".text":     "plaintext",
	".md":       "markdown",
	".markdown": "markdown",
}

// Provider serves the text ruleset.
type Provider struct {
	version string
}

// NewProvider creates a provider reporting version in its capabilities.
func NewProvider(version string) *Provider {
	if version == "" {
		version = "dev"
	}
	return &Provider{version: version}
}

// DefaultConfig enables trailing whitespace and line length checks.
func (p *Provider) DefaultConfig() protocol.EngineConfig {
	enabled := true
	return protocol.EngineConfig{
		Enabled: &enabled,
		Rulesets: map[string]protocol.RulesetConfig{
			RulesetID: protocol.RulesetRules(map[string]protocol.RuleConfigEntry{
				RuleNoTrailingWhitespace: protocol.Level(protocol.SeverityWarn),
				RuleMaxLineLength:        protocol.LevelWithOptions(protocol.SeverityWarn, []byte(fmt.Sprintf(`{"max":%d}`, DefaultMaxLineLength))),
				RuleNoTabs:               protocol.Off(),
				RuleFinalNewline:         protocol.Off(),
			}),
		},
	}
}

// LoadRuleset returns the text ruleset; any other id is unknown.
func (p *Provider) LoadRuleset(id string) (*ruleset.Ruleset, error) {
	if id != RulesetID {
		return nil, fmt.Errorf("unknown ruleset %q", id)
	}
	return NewRuleset(), nil
}

// Capabilities describes the text engine.
func (p *Provider) Capabilities() protocol.EngineCapabilities {
	limit := uint64(MaxFileSize)
	return protocol.EngineCapabilities{
		EngineID:     EngineID,
		Version:      p.version,
		FilePatterns: append([]string(nil), FilePatterns...),
		MaxFileSize:  &limit,
		Rulesets:     []protocol.RulesetInfo{NewRuleset().Info()},
	}
}

// PreprocessFiles returns per-file language metadata.
func (p *Provider) PreprocessFiles(uris []string) (protocol.PreprocessingContext, error) {
	pctx := protocol.PreprocessingContext{
		EngineID: EngineID,
		Files:    make([]protocol.FileContext, 0, len(uris)),
	}
	counts := map[string]any{}
	for _, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			return protocol.PreprocessingContext{}, errors.New("empty file uri")
		}
		ext := strings.ToLower(path.Ext(uriPath(uri)))
		fc := protocol.FileContext{
			URI:     uri,
			Context: map[string]any{"extension": ext},
		}
		if lang, ok := languages[ext]; ok {
			fc.Language = &lang
			n, _ := counts[lang].(int)
			counts[lang] = n + 1
		}
		pctx.Files = append(pctx.Files, fc)
	}
	pctx.GlobalContext = map[string]any{"fileCount": len(uris), "languages": counts}
	return pctx, nil
}

// ListRulesets returns the only ruleset id.
func (p *Provider) ListRulesets() []string {
	return []string{RulesetID}
}

// uriPath extracts the path of a file:// or mem:// URI, or returns s as is.
func uriPath(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	if u.Path != "" {
		return u.Path
	}
	return u.Host + u.Opaque
}
