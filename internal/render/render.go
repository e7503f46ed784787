// Package render formats operation outcomes for splicing into a transcript.
//
// The rendered text is what the model sees on resumption, so the formats are
// part of the engine's contract and must stay byte-stable.
package render

import (
	"fmt"
	"strings"

	"github.com/anthropics/midstream/internal/domain"
)

// Results renders each outcome in dispatch order and concatenates the
// fragments.
func Results(outcomes []domain.Outcome) string {
	var sb strings.Builder
	for _, o := range outcomes {
		sb.WriteString(Result(o))
	}
	return sb.String()
}

// Result renders a single outcome. Failures render as a bracketed note so a
// failed operation never silently disappears from the transcript.
func Result(o domain.Outcome) string {
	if !o.Success {
		return failure(o)
	}
	switch o.Op.Kind {
	case domain.OpRead:
		return fmt.Sprintf("\n--- Content of %s ---\n%s\n---\n", o.Op.Path, o.Content)
	case domain.OpWrite:
		return fmt.Sprintf("\n[Successfully wrote to file %s]\n", o.Op.Path)
	case domain.OpList:
		return fmt.Sprintf("\n--- Contents of directory %s ---\n%s\n---\n", o.Op.Path, entriesText(o.Entries))
	case domain.OpSearch:
		return fmt.Sprintf("\n--- Search results for '%s' in %s ---\n%s\n---\n", o.Op.Pattern, o.Op.Path, matchesText(o.Matches))
	case domain.OpGrep:
		if len(o.GrepMatches) == 0 {
			return fmt.Sprintf("\n--- No grep matches for '%s' in %s ---\n---\n", o.Op.Pattern, o.Op.Path)
		}
		return fmt.Sprintf("\n--- Grep results for '%s' in %s ---\n%s\n---\n", o.Op.Pattern, o.Op.Path, grepText(o.GrepMatches))
	case domain.OpChdir:
		return fmt.Sprintf("\n[Changed working directory to %s]\n", o.Dir)
	case domain.OpPwd:
		return fmt.Sprintf("\n--- Current working directory ---\n%s\n---\n", o.Dir)
	}
	return ""
}

// BudgetAnnotation is appended to a transcript when the continuation budget
// halts a session before the model signalled completion.
func BudgetAnnotation(max int) string {
	return fmt.Sprintf("\n[Continuation limit of %d reached; stopping generation]\n", max)
}

// Entry is a compact summary of one outcome for audit records and logs.
type Entry struct {
	Action  string
	Path    string
	Success bool
	Error   string
	Bytes   int64
}

// Summarize reduces an outcome to its audit entry. Bytes counts the content
// delivered into the transcript for reads and the body size for writes.
func Summarize(o domain.Outcome) Entry {
	e := Entry{
		Action:  string(o.Op.Kind),
		Path:    o.Op.Path,
		Success: o.Success,
		Error:   o.Err,
	}
	switch o.Op.Kind {
	case domain.OpRead:
		e.Bytes = int64(len(o.Content))
	case domain.OpWrite:
		e.Bytes = int64(len(o.Op.Body))
	}
	return e
}

func failure(o domain.Outcome) string {
	errText := o.Err
	if errText == "" {
		errText = "Unknown error"
	}
	if o.Op.Path == "" {
		return fmt.Sprintf("\n[Failed to %s: %s]\n", o.Op.Kind, errText)
	}
	return fmt.Sprintf("\n[Failed to %s %s: %s]\n", o.Op.Kind, o.Op.Path, errText)
}

func entriesText(entries []domain.DirEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Kind == domain.EntryDirectory {
			lines = append(lines, fmt.Sprintf("- %s [dir]", e.Name))
		} else {
			lines = append(lines, fmt.Sprintf("- %s [%d bytes]", e.Name, e.Size))
		}
	}
	return strings.Join(lines, "\n")
}

func matchesText(matches []string) string {
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, "- "+m)
	}
	return strings.Join(lines, "\n")
}

func grepText(matches []domain.GrepMatch) string {
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, fmt.Sprintf("- %s:%d: %s", m.File, m.Line, m.Text))
	}
	return strings.Join(lines, "\n")
}
