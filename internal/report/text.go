// ABOUTME: Terminal renderer: diagnostics grouped by file with aligned position and severity columns
// ABOUTME: Widths are measured in display cells so wide and combining characters line up

package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/mauromedda/forseti-go/pkg/protocol"
)

var (
	pathStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TerminalOptions picks text options for f: color and width when it is a
// terminal, plain otherwise.
func TerminalOptions(f *os.File) Options {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return Options{}
	}
	opts := Options{Color: os.Getenv("NO_COLOR") == ""}
	if w, _, err := term.GetSize(fd); err == nil {
		opts.Width = w
	}
	return opts
}

type row struct {
	pos, severity, message, rule string
}

func writeText(w io.Writer, r *protocol.LintResults, opts Options) error {
	var b strings.Builder
	style := func(s lipgloss.Style, text string) string {
		if !opts.Color {
			return text
		}
		return s.Render(text)
	}

	for _, group := range groupByPath(r.Files) {
		var rows []row
		var failures []string
		for _, f := range group {
			if f.Error != "" {
				label := f.EngineID
				if label == "" {
					label = "read"
				}
				failures = append(failures, fmt.Sprintf("%s: %s", label, f.Error))
			}
			for _, d := range f.Diagnostics {
				rows = append(rows, row{
					pos:      fmt.Sprintf("%d:%d", d.Range.Start.Line+1, d.Range.Start.Character+1),
					severity: d.Severity,
					message:  d.Message,
					rule:     d.RuleID,
				})
			}
		}
		if len(rows) == 0 && len(failures) == 0 {
			continue
		}

		b.WriteString(style(pathStyle, group[0].Path))
		b.WriteString("\n")
		posW, sevW := 0, 0
		for _, rw := range rows {
			posW = max(posW, runewidth.StringWidth(rw.pos))
			sevW = max(sevW, runewidth.StringWidth(rw.severity))
		}
		msgW := 0
		if opts.Width > 0 {
			// Leave room for the indent, the two padded columns and the rule id.
			msgW = opts.Width - 2 - posW - 2 - sevW - 2 - 2 - 24
			if msgW < 20 {
				msgW = 20
			}
		}
		for _, rw := range rows {
			msg := rw.message
			if msgW > 0 {
				msg = runewidth.Truncate(msg, msgW, "…")
			}
			fmt.Fprintf(&b, "  %s  %s  %s  %s\n",
				style(mutedStyle, runewidth.FillRight(rw.pos, posW)),
				severityStyle(style, rw.severity, sevW),
				msg,
				style(mutedStyle, rw.rule))
		}
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s\n", style(errorStyle, f))
		}
		b.WriteString("\n")
	}

	for _, e := range r.Engines {
		if e.Error != "" {
			fmt.Fprintf(&b, "%s %s (%s): %s\n", style(errorStyle, "engine"), e.EngineID, e.State, e.Error)
		}
	}
	if n := len(r.Unrouted); n > 0 {
		fmt.Fprintf(&b, "%s\n", style(mutedStyle, fmt.Sprintf("%d %s matched no engine", n, plural(n, "file", "files"))))
	}

	s := r.Summary
	total := s.Errors + s.Warnings + s.Info
	summary := fmt.Sprintf("%d %s (%d %s, %d %s, %d info) in %d %s, %dms",
		total, plural(total, "problem", "problems"),
		s.Errors, plural(s.Errors, "error", "errors"),
		s.Warnings, plural(s.Warnings, "warning", "warnings"),
		s.Info,
		r.TotalFiles, plural(r.TotalFiles, "file", "files"),
		r.ExecutionTimeMs)
	switch {
	case s.Errors > 0:
		summary = style(errorStyle.Bold(true), summary)
	case s.Warnings > 0:
		summary = style(warnStyle.Bold(true), summary)
	}
	b.WriteString(summary)
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func severityStyle(style func(lipgloss.Style, string) string, sev string, width int) string {
	padded := runewidth.FillRight(sev, width)
	switch sev {
	case protocol.SeverityError:
		return style(errorStyle, padded)
	case protocol.SeverityWarn:
		return style(warnStyle, padded)
	default:
		return style(infoStyle, padded)
	}
}

// groupByPath splits sorted file results into runs sharing a path.
func groupByPath(files []protocol.FileResult) [][]protocol.FileResult {
	var groups [][]protocol.FileResult
	for i := 0; i < len(files); {
		j := i + 1
		for j < len(files) && files[j].Path == files[i].Path {
			j++
		}
		groups = append(groups, files[i:j])
		i = j
	}
	return groups
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
