package orchestrator

import (
	"regexp"
	"strings"

	"github.com/anthropics/midstream/internal/domain"
)

var (
	fileOpPattern      = regexp.MustCompile(`(?i)(?:read|write|check|view|open|update).*file`)
	fileContentPattern = regexp.MustCompile(`(?i)content(?:s)? of.*\.[a-z]+`)
	searchOpPattern    = regexp.MustCompile(`(?i)(?:search|find|look for|locate|grep)`)
	indicatorPattern   = regexp.MustCompile(`(?i)\b(?:refactor|restructure|implement|create a new|analyze|compare|optimize|fix|debug|add feature|multiple files)\b`)
	listItemPattern    = regexp.MustCompile(`^\s*(?:\d+[.)]\s+|[-*]\s+)(.+)$`)
)

// Planner sizes up prompts before they reach the pool.
type Planner struct{}

// NewPlanner creates a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Assess classifies a prompt so the pool can decide whether to fan out.
// Long prompts, prompts dense with file or search operations, and
// prompts naming restructuring work are all complex.
func (p *Planner) Assess(prompt string) domain.Complexity {
	if len(prompt) > 1000 {
		return domain.ComplexityComplex
	}

	fileOps := len(fileOpPattern.FindAllString(prompt, -1)) +
		len(fileContentPattern.FindAllString(prompt, -1))
	searchOps := len(searchOpPattern.FindAllString(prompt, -1))
	if fileOps > 3 || searchOps > 2 {
		return domain.ComplexityComplex
	}

	if indicatorPattern.MatchString(prompt) {
		return domain.ComplexityComplex
	}
	return domain.ComplexitySimple
}

// Decompose splits a numbered or bulleted multi-step prompt into one
// subtask per item. Prompts with fewer than two items yield nil.
func (p *Planner) Decompose(prompt string) []string {
	var items []string
	for _, line := range strings.Split(prompt, "\n") {
		m := listItemPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if item := strings.TrimSpace(m[1]); item != "" {
			items = append(items, item)
		}
	}
	if len(items) < 2 {
		return nil
	}
	return items
}
