// ABOUTME: Plain-text ruleset "text": whitespace, tab, line length, and final newline checks
// ABOUTME: Line length counts grapheme clusters so wide or combined characters count once

package text

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/mauromedda/forseti-go/pkg/ruleset"
)

// RulesetID is the id this package registers its rules under.
const RulesetID = "text"

// Rule ids.
const (
	RuleNoTrailingWhitespace = "no-trailing-whitespace"
	RuleMaxLineLength        = "max-line-length"
	RuleNoTabs               = "no-tabs"
	RuleFinalNewline         = "final-newline"
)

// DefaultMaxLineLength applies when max-line-length has no "max" option.
const DefaultMaxLineLength = 120

// NewRuleset returns the text ruleset with its rules in declaration order.
func NewRuleset() *ruleset.Ruleset {
	return ruleset.New(RulesetID,
		ruleset.RuleFunc{RuleID: RuleNoTrailingWhitespace, Fn: checkTrailingWhitespace},
		ruleset.RuleFunc{RuleID: RuleMaxLineLength, Fn: checkMaxLineLength},
		ruleset.RuleFunc{RuleID: RuleNoTabs, Fn: checkTabs},
		ruleset.RuleFunc{RuleID: RuleFinalNewline, Fn: checkFinalNewline},
	)
}

// eachLine calls fn with every line's byte offset and content, without the
// terminator. A trailing "\r" is stripped too.
func eachLine(text string, fn func(offset int, line string)) {
	offset := 0
	for offset <= len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		line := text[offset:]
		if end >= 0 {
			line = text[offset : offset+end]
		}
		fn(offset, strings.TrimSuffix(line, "\r"))
		if end < 0 {
			return
		}
		offset += end + 1
	}
}

func checkTrailingWhitespace(ctx *ruleset.RuleContext) {
	eachLine(ctx.Text, func(offset int, line string) {
		trimmed := strings.TrimRight(line, " \t")
		if len(trimmed) == len(line) {
			return
		}
		ctx.ReportSpan(offset+len(trimmed), offset+len(line), "Trailing whitespace")
	})
}

type maxLineLengthOptions struct {
	Max int `json:"max"`
}

func checkMaxLineLength(ctx *ruleset.RuleContext) {
	opts := maxLineLengthOptions{Max: DefaultMaxLineLength}
	if err := ctx.DecodeOptions(&opts); err != nil {
		// Surfaces as a rule failure in the engine's log events.
		panic(err)
	}
	if opts.Max <= 0 {
		return
	}

	eachLine(ctx.Text, func(offset int, line string) {
		// Cheap reject: a line can't have more clusters than bytes.
		if len(line) <= opts.Max {
			return
		}
		n := 0
		g := uniseg.NewGraphemes(line)
		for g.Next() {
			n++
			if n == opts.Max+1 {
				start, _ := g.Positions()
				total := n + uniseg.GraphemeClusterCount(line[start:]) - 1
				ctx.ReportSpan(offset+start, offset+len(line),
					fmt.Sprintf("Line is %d characters long; maximum is %d", total, opts.Max))
				return
			}
		}
	})
}

func checkTabs(ctx *ruleset.RuleContext) {
	for i := 0; i < len(ctx.Text); i++ {
		if ctx.Text[i] == '\t' {
			ctx.ReportSpan(i, i+1, "Tab character")
		}
	}
}

func checkFinalNewline(ctx *ruleset.RuleContext) {
	if ctx.Text == "" || strings.HasSuffix(ctx.Text, "\n") {
		return
	}
	n := len(ctx.Text)
	ctx.ReportSpan(n, n, "File does not end with a newline")
}
