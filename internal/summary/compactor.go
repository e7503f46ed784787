// Package summary compresses long conversation histories through a
// smaller summarizer model so resumed sessions keep fitting the main
// model's context window.
package summary

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Completer produces a single non-streamed model response.
type Completer interface {
	Complete(ctx context.Context, model, prompt, system string) (string, error)
}

// Message is one conversation turn handed to the compactor.
type Message struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const summarySystemPrompt = `You are a Context Summarizer, specializing in compressing conversation history while preserving critical information.

Your task is to analyze the given conversation history and produce a condensed summary that:
1. Preserves all MCP command results and important file content
2. Maintains the key points and decisions from the conversation
3. Removes redundant information and pleasantries
4. Structures information in a way that the main agent can easily understand
5. Keeps important code snippets and technical details intact

FORMAT YOUR RESPONSE AS FOLLOWS:
- Start with "## Conversation Summary"
- Include section "### System Context" for key system information
- Include section "### Command Results" for all MCP command outputs
- Include section "### Key Decisions" for important decisions or conclusions
- End with a very brief "### Next Steps" suggesting what should be addressed next

EXTREMELY IMPORTANT:
- NEVER remove MCP command results
- When a file is viewed, ALWAYS keep the file content
- NEVER remove code blocks or technical details
- Preserve the context related to the current programming task
- Make sure your summary is comprehensive enough that the conversation can continue naturally
`

const summaryPromptFmt = `Below is a conversation history that needs to be summarized while preserving key information:

%s

IMPORTANT NOTES FOR SUMMARIZATION:
1. There are %d command result blocks that must be preserved
2. There are %d code blocks that should be preserved
3. Focus on key technical details and decisions
4. The summary will replace all previous conversation except the %d most recent exchanges
Please provide a comprehensive summary following the format in your instructions.`

var (
	resultSectionPattern = regexp.MustCompile(`---\s+(Content of|Contents of directory|Search results for|Grep results for)[\s\S]+?---`)
	codeBlockPattern     = regexp.MustCompile("```[\\s\\S]+?```")
)

// Compactor decides when a conversation no longer fits the context
// window and replaces its older turns with a model-written summary.
type Compactor struct {
	Gen            Completer
	Model          string
	ContextTokens  int
	Threshold      float64
	PreserveRecent int
	TokenRatio     int
	Log            *zap.Logger
}

// NewCompactor creates a Compactor with the stock thresholds.
func NewCompactor(g Completer, model string, log *zap.Logger) *Compactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compactor{
		Gen:            g,
		Model:          model,
		ContextTokens:  32000,
		Threshold:      0.9,
		PreserveRecent: 2,
		TokenRatio:     4,
		Log:            log,
	}
}

// EstimateTokens approximates the token count of text by character length.
func (c *Compactor) EstimateTokens(text string) int {
	return len(text) / c.ratio()
}

// NeedsCompaction reports whether history plus the system prompt is
// past the threshold share of the context window. A non-positive
// context window disables compaction.
func (c *Compactor) NeedsCompaction(history []Message, system string) bool {
	if c.ContextTokens <= 0 {
		return false
	}
	total := len(system)
	for _, msg := range history {
		total += len(msg.Content)
	}
	return float64(total/c.ratio()) > float64(c.ContextTokens)*c.Threshold
}

func (c *Compactor) ratio() int {
	if c.TokenRatio <= 0 {
		return 4
	}
	return c.TokenRatio
}

// Compact replaces everything but the most recent exchanges with a
// single system message carrying the summarizer model's digest. On
// failure the original history is returned unchanged alongside the
// error so the caller can keep going uncompacted.
func (c *Compactor) Compact(ctx context.Context, history []Message) ([]Message, error) {
	preserved := c.PreserveRecent * 2
	if preserved < 0 {
		preserved = 0
	}
	if preserved > len(history) {
		preserved = len(history)
	}
	older := history[:len(history)-preserved]
	recent := history[len(history)-preserved:]

	if len(older) == 0 {
		return history, nil
	}

	results := resultSections(older)
	code := codeBlocks(older)

	parts := make([]string, len(older))
	for i, msg := range older {
		parts[i] = fmt.Sprintf("%s: %s", strings.ToUpper(msg.Role), msg.Content)
	}
	formatted := strings.Join(parts, "\n\n")

	prompt := fmt.Sprintf(summaryPromptFmt, formatted, len(results), len(code), c.PreserveRecent)

	c.Log.Info("compacting conversation history",
		zap.Int("messages", len(older)),
		zap.Int("chars", len(formatted)),
		zap.String("model", c.Model))

	digest, err := c.Gen.Complete(ctx, c.Model, prompt, summarySystemPrompt)
	if err != nil {
		c.Log.Warn("compaction failed; keeping original history", zap.Error(err))
		return history, err
	}

	out := make([]Message, 0, len(recent)+1)
	out = append(out, Message{Role: RoleSystem, Content: "CONTEXT SUMMARY: " + digest})
	out = append(out, recent...)

	c.Log.Info("history compacted",
		zap.Int("before", len(history)),
		zap.Int("after", len(out)))
	return out, nil
}

// MaybeCompact compacts only when the history crosses the threshold.
// The flag reports whether a compaction pass ran.
func (c *Compactor) MaybeCompact(ctx context.Context, history []Message, system string) ([]Message, bool, error) {
	if !c.NeedsCompaction(history, system) {
		return history, false, nil
	}
	out, err := c.Compact(ctx, history)
	return out, true, err
}

func resultSections(history []Message) []string {
	var sections []string
	for _, msg := range history {
		sections = append(sections, resultSectionPattern.FindAllString(msg.Content, -1)...)
	}
	return sections
}

func codeBlocks(history []Message) []string {
	var blocks []string
	for _, msg := range history {
		blocks = append(blocks, codeBlockPattern.FindAllString(msg.Content, -1)...)
	}
	return blocks
}
