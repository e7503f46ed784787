// Package scan implements incremental detection of instruction blocks inside
// an arbitrarily chunked model output stream. Detection is invariant under how
// the stream is split into fragments: a tag, marker, or fence label may arrive
// in any number of pieces.
package scan

import (
	"regexp"
	"strings"
)

// Markers of the block markup surface. The surface is a closed contract:
// adding an operation kind extends the extractor's tag table, never this
// scanner.
const (
	BlockOpen    = "<mcp:filesystem>"
	BlockClose   = "</mcp:filesystem>"
	blockTagName = "mcp:filesystem"

	reasoningOpen  = "<think>"
	reasoningClose = "</think>"

	fenceMarker = "```"
	blockLang   = "xml"
)

// DefaultFallbackThreshold is the accumulated-buffer size above which the
// direct balanced-pair scan runs as a backstop to incremental tag tracking.
const DefaultFallbackThreshold = 200

type state int

const (
	stateScanning state = iota
	stateReasoning
	stateFence
	stateBlock
)

var (
	tagPattern       = regexp.MustCompile(`<(/?)(\w+(?::\w+)?)((?:\s[^<>]*?)?)(/?)>`)
	blockPattern     = regexp.MustCompile(`(?s)<mcp:filesystem>.*?</mcp:filesystem>`)
	reasoningPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// Scanner is a token-incremental state machine that reports when a complete
// instruction block has accumulated. Reasoning regions are discarded from
// detection (their raw text is still forwarded to the caller by whoever owns
// the stream), and fenced sections are unwrapped when their declared language
// permits. One Scanner serves one session; it is not safe for concurrent use.
type Scanner struct {
	reasoningFilter   bool
	fenceDetection    bool
	fallbackThreshold int

	st           state
	returnTo     state
	buf          string
	fenceHonored bool
	blockBuf     string
	scanPos      int
	tagStack     []string
	complete     string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithReasoningFilter toggles discarding of reasoning regions. On by default.
func WithReasoningFilter(enabled bool) Option {
	return func(s *Scanner) { s.reasoningFilter = enabled }
}

// WithFenceDetection toggles unwrapping of fenced code sections. On by default.
func WithFenceDetection(enabled bool) Option {
	return func(s *Scanner) { s.fenceDetection = enabled }
}

// WithFallbackThreshold sets the buffer size that triggers the direct
// balanced-pair scan. Values smaller than the closing marker are ignored.
func WithFallbackThreshold(n int) Option {
	return func(s *Scanner) {
		if n >= len(BlockClose) {
			s.fallbackThreshold = n
		}
	}
}

// NewScanner creates a Scanner with the given options.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		reasoningFilter:   true,
		fenceDetection:    true,
		fallbackThreshold: DefaultFallbackThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed consumes one stream fragment. It returns true when a completed block
// is pending retrieval via TakeBlock. A block whose opening and closing
// markers both arrive in a single fragment is detected in that same call.
func (s *Scanner) Feed(fragment string) bool {
	s.buf += fragment
	if s.complete != "" {
		return true
	}
	return s.process()
}

// TakeBlock consumes and returns the completed block, or "" when none is
// pending. Input that arrived after the block remains buffered and is
// processed on the next Feed.
func (s *Scanner) TakeBlock() string {
	b := s.complete
	s.complete = ""
	return b
}

// Reset returns the Scanner to its initial state, discarding all buffers.
func (s *Scanner) Reset() {
	s.st = stateScanning
	s.returnTo = stateScanning
	s.buf = ""
	s.fenceHonored = false
	s.blockBuf = ""
	s.scanPos = 0
	s.tagStack = nil
	s.complete = ""
}

// process advances the state machine until no further progress is possible
// or a block completes.
func (s *Scanner) process() bool {
	for {
		var progress bool
		switch s.st {
		case stateScanning:
			progress = s.stepScanning()
		case stateReasoning:
			progress = s.stepReasoning()
		case stateFence:
			progress = s.stepFence()
		case stateBlock:
			progress = s.stepBlock()
		}
		if s.complete != "" {
			return true
		}
		if !progress {
			return false
		}
	}
}

// stepScanning looks for the earliest marker of interest outside any block.
func (s *Scanner) stepScanning() bool {
	idxOpen := strings.Index(s.buf, BlockOpen)
	idxThink := -1
	if s.reasoningFilter {
		idxThink = strings.Index(s.buf, reasoningOpen)
	}
	idxFence := -1
	if s.fenceDetection {
		idxFence = strings.Index(s.buf, fenceMarker)
	}

	best := earliest(idxOpen, idxThink, idxFence)
	if best < 0 {
		// No marker yet. Bound the buffer but keep enough that a marker
		// split across the trim boundary is never lost.
		if len(s.buf) > 2*s.fallbackThreshold {
			s.buf = s.buf[len(s.buf)-s.fallbackThreshold:]
		}
		return false
	}

	switch best {
	case idxThink:
		s.buf = s.buf[idxThink+len(reasoningOpen):]
		s.returnTo = stateScanning
		s.st = stateReasoning
		return true
	case idxFence:
		return s.enterFence(idxFence)
	default:
		s.buf = s.buf[idxOpen+len(BlockOpen):]
		s.blockBuf = BlockOpen
		s.scanPos = len(BlockOpen)
		s.tagStack = []string{blockTagName}
		s.st = stateBlock
		return true
	}
}

// enterFence parses the fence's declared language and transitions into the
// fence state. It waits when the language word has not terminated yet.
func (s *Scanner) enterFence(idx int) bool {
	rest := s.buf[idx+len(fenceMarker):]
	langEnd := 0
	for langEnd < len(rest) && isWordByte(rest[langEnd]) {
		langEnd++
	}
	if langEnd == len(rest) {
		// The language word may continue in the next fragment.
		s.buf = s.buf[idx:]
		return false
	}
	lang := rest[:langEnd]
	s.fenceHonored = lang == "" || strings.EqualFold(lang, blockLang)
	s.buf = rest[langEnd:]
	s.st = stateFence
	return true
}

// stepReasoning discards content until the reasoning region closes, then
// restores the prior state and re-scans the remainder. A region may open and
// close within a single fragment.
func (s *Scanner) stepReasoning() bool {
	idx := strings.Index(s.buf, reasoningClose)
	if idx < 0 {
		if len(s.buf) >= len(reasoningClose) {
			s.buf = s.buf[len(s.buf)-len(reasoningClose)+1:]
		}
		return false
	}
	s.buf = s.buf[idx+len(reasoningClose):]
	s.st = s.returnTo
	return true
}

// stepFence scans fenced content. Block markers are honored only when the
// fence language is the block language or unspecified, and the block must
// close before the fence does, else the fenced content is discarded.
func (s *Scanner) stepFence() bool {
	idxClose := strings.Index(s.buf, fenceMarker)

	if s.fenceHonored {
		idxOpen := strings.Index(s.buf, BlockOpen)
		if idxOpen >= 0 && (idxClose < 0 || idxOpen < idxClose) {
			if rel := strings.Index(s.buf[idxOpen:], BlockClose); rel >= 0 {
				end := idxOpen + rel + len(BlockClose)
				if idxClose < 0 || end <= idxClose {
					s.complete = s.buf[idxOpen:end]
					s.buf = s.buf[end:]
					return true
				}
			}
		}
		if idxClose >= 0 {
			s.buf = s.buf[idxClose+len(fenceMarker):]
			s.st = stateScanning
			return true
		}
		if idxOpen > 2 {
			s.buf = s.buf[idxOpen-2:]
		} else if idxOpen < 0 && len(s.buf) > 2*s.fallbackThreshold {
			s.buf = s.buf[len(s.buf)-s.fallbackThreshold:]
		}
		return false
	}

	if idxClose < 0 {
		if len(s.buf) >= len(fenceMarker) {
			s.buf = s.buf[len(s.buf)-len(fenceMarker)+1:]
		}
		return false
	}
	s.buf = s.buf[idxClose+len(fenceMarker):]
	s.st = stateScanning
	return true
}

// stepBlock absorbs pending input into the block buffer and tracks the tag
// stack. The direct balanced-pair scan runs first once the buffer exceeds the
// fallback threshold, so the backstop wins when both paths would fire in the
// same cycle.
func (s *Scanner) stepBlock() bool {
	s.blockBuf += s.buf
	s.buf = ""

	if len(s.blockBuf) > s.fallbackThreshold {
		if rel := strings.Index(s.blockBuf, BlockClose); rel >= 0 {
			s.finishBlock(rel + len(BlockClose))
			return true
		}
	}

	region := s.blockBuf[s.scanPos:]
	matches := tagPattern.FindAllStringSubmatchIndex(region, -1)
	scanned := 0
	for _, m := range matches {
		closing := region[m[2]:m[3]] == "/"
		name := region[m[4]:m[5]]
		selfClosing := m[8] != m[9]

		if s.reasoningFilter && name == "think" && !closing && !selfClosing {
			// Content nested in a reasoning region is cut from the block
			// buffer so commands cannot hide inside commentary.
			abs := s.scanPos + m[0]
			s.buf = s.blockBuf[s.scanPos+m[1]:]
			s.blockBuf = s.blockBuf[:abs]
			s.scanPos = len(s.blockBuf)
			s.returnTo = stateBlock
			s.st = stateReasoning
			return true
		}

		switch {
		case selfClosing:
			// Self-closing tags never push.
		case closing:
			if len(s.tagStack) > 0 && s.tagStack[len(s.tagStack)-1] == name {
				s.tagStack = s.tagStack[:len(s.tagStack)-1]
				if len(s.tagStack) == 0 && name == blockTagName {
					s.finishBlock(s.scanPos + m[1])
					return true
				}
			}
		default:
			s.tagStack = append(s.tagStack, name)
		}
		scanned = m[1]
	}

	s.scanPos += scanned
	// A trailing partial tag stays unscanned until its '>' arrives.
	if lt := strings.LastIndex(s.blockBuf, "<"); lt >= s.scanPos {
		if !strings.Contains(s.blockBuf[lt:], ">") {
			s.scanPos = lt
			return false
		}
	}
	s.scanPos = len(s.blockBuf)
	return false
}

// finishBlock completes the block ending at the given offset into blockBuf
// and returns the scanner to the scanning state.
func (s *Scanner) finishBlock(end int) {
	s.complete = s.blockBuf[:end]
	s.buf = s.blockBuf[end:] + s.buf
	s.blockBuf = ""
	s.scanPos = 0
	s.tagStack = nil
	s.st = stateScanning
}

// earliest returns the smallest non-negative index, or -1 when all are
// negative. Candidate order breaks exact ties, which cannot occur for the
// distinct markers used here.
func earliest(idxs ...int) int {
	best := -1
	for _, i := range idxs {
		if i < 0 {
			continue
		}
		if best < 0 || i < best {
			best = i
		}
	}
	return best
}

func isWordByte(b byte) bool {
	return b == '_' ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z') ||
		('0' <= b && b <= '9')
}

// StripReasoning removes closed reasoning regions from text.
func StripReasoning(text string) string {
	return reasoningPattern.ReplaceAllString(text, "")
}

// FindBlocks returns every complete instruction block in text, in order,
// after discarding reasoning regions. It is the batch counterpart of the
// incremental scanner, used for final sweeps over an assembled transcript.
func FindBlocks(text string) []string {
	return blockPattern.FindAllString(StripReasoning(text), -1)
}
