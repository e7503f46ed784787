package scan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleBlock = `<mcp:filesystem><read path="/a.txt"/><list path="/tmp"/></mcp:filesystem>`

func feedAll(t *testing.T, s *Scanner, frags ...string) []string {
	t.Helper()
	var blocks []string
	for _, f := range frags {
		if s.Feed(f) {
			blocks = append(blocks, s.TakeBlock())
		}
	}
	return blocks
}

func TestScanner_SingleFragment(t *testing.T) {
	s := NewScanner()
	if !s.Feed("some text " + sampleBlock + " more text") {
		t.Fatal("expected block detection in single fragment")
	}
	if got := s.TakeBlock(); got != sampleBlock {
		t.Errorf("TakeBlock = %q, want %q", got, sampleBlock)
	}
	if got := s.TakeBlock(); got != "" {
		t.Errorf("second TakeBlock = %q, want empty", got)
	}
}

func TestScanner_ChunkInvariance(t *testing.T) {
	input := "intro " + sampleBlock + " outro"
	for i := 1; i < len(input)-1; i++ {
		for j := i + 1; j < len(input); j++ {
			s := NewScanner()
			got := feedAll(t, s, input[:i], input[i:j], input[j:])
			if len(got) != 1 || got[0] != sampleBlock {
				t.Fatalf("split (%d,%d): got %v, want exactly [%q]", i, j, got, sampleBlock)
			}
		}
	}
}

func TestScanner_BytewiseFeed(t *testing.T) {
	s := NewScanner()
	var blocks []string
	for _, b := range []byte(sampleBlock) {
		if s.Feed(string(b)) {
			blocks = append(blocks, s.TakeBlock())
		}
	}
	if diff := cmp.Diff([]string{sampleBlock}, blocks); diff != "" {
		t.Errorf("bytewise feed mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_ReasoningRegionHidesBlock(t *testing.T) {
	first := `<think><mcp:filesystem><read path="/x"/></mcp:filesystem></think>`
	second := `<mcp:filesystem><list path="/"/></mcp:filesystem>`

	s := NewScanner()
	got := feedAll(t, s, first, " ", second)
	if diff := cmp.Diff([]string{second}, got); diff != "" {
		t.Errorf("only the unhidden block should surface (-want +got):\n%s", diff)
	}
}

func TestScanner_ReasoningOpenCloseInOneFragment(t *testing.T) {
	s := NewScanner()
	frag := `<think>planning things</think><mcp:filesystem><pwd/></mcp:filesystem>`
	if !s.Feed(frag) {
		t.Fatal("expected detection after reasoning region closed in the same fragment")
	}
	want := `<mcp:filesystem><pwd/></mcp:filesystem>`
	if got := s.TakeBlock(); got != want {
		t.Errorf("TakeBlock = %q, want %q", got, want)
	}
}

func TestScanner_ReasoningInsideBlockDiscarded(t *testing.T) {
	s := NewScanner()
	frags := []string{
		`<mcp:filesystem><think>maybe I should <read path="/secret"/>`,
		`</think><read path="/ok"/></mcp:filesystem>`,
	}
	got := feedAll(t, s, frags...)
	want := `<mcp:filesystem><read path="/ok"/></mcp:filesystem>`
	if diff := cmp.Diff([]string{want}, got); diff != "" {
		t.Errorf("reasoning content must be cut from the block (-want +got):\n%s", diff)
	}
}

func TestScanner_Fences(t *testing.T) {
	block := `<mcp:filesystem><read path="/a"/></mcp:filesystem>`

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"xml language honored", "```xml\n" + block + "\n```", []string{block}},
		{"no language honored", "```\n" + block + "\n```", []string{block}},
		{"other language discarded", "```python\n" + block + "\n```", nil},
		{"fence closes before block", "```xml\n<mcp:filesystem><read path=\"/a\"/>\n```", nil},
		{"block after discarded fence", "```python\nprint()\n```\n" + block, []string{block}},
		{"detected before fence closes", "```xml\n" + block, []string{block}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner()
			got := feedAll(t, s, tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("blocks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanner_FenceSplitAcrossFragments(t *testing.T) {
	block := `<mcp:filesystem><read path="/a"/></mcp:filesystem>`

	s := NewScanner()
	got := feedAll(t, s, "``", "`xm", "l\n"+block+"\n``", "`")
	if diff := cmp.Diff([]string{block}, got); diff != "" {
		t.Errorf("split fence mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_PairedInnerTags(t *testing.T) {
	block := `<mcp:filesystem><write path="/f.txt">hello world</write></mcp:filesystem>`
	s := NewScanner()
	got := feedAll(t, s, block[:20], block[20:41], block[41:])
	if diff := cmp.Diff([]string{block}, got); diff != "" {
		t.Errorf("paired tags mismatch (-want +got):\n%s", diff)
	}
}

func TestScanner_MalformedNeverCompletes(t *testing.T) {
	s := NewScanner()
	if s.Feed(`<mcp:filesystem><read path="/a"/>`) {
		t.Fatal("unclosed block must not complete")
	}
	if s.Feed(`<write path="/b">text</write>`) {
		t.Fatal("still unclosed, must not complete")
	}
}

func TestScanner_FallbackRescuesPathologicalTags(t *testing.T) {
	// The '>' inside the attribute derails incremental tag tracking; the
	// direct scan must still complete the block once the buffer is large.
	inner := `<search path="/x" pattern="a>b"/>` + strings.Repeat("<pwd/>", 40)
	block := "<mcp:filesystem>" + inner + "</mcp:filesystem>"

	s := NewScanner()
	if !s.Feed(block) {
		t.Fatal("fallback scan should have completed the block")
	}
	if got := s.TakeBlock(); got != block {
		t.Errorf("TakeBlock = %q, want full block", got)
	}
}

func TestScanner_TwoBlocksInOneFragment(t *testing.T) {
	first := `<mcp:filesystem><read path="/one"/></mcp:filesystem>`
	second := `<mcp:filesystem><read path="/two"/></mcp:filesystem>`

	s := NewScanner()
	if !s.Feed(first + second) {
		t.Fatal("expected first block detection")
	}
	if got := s.TakeBlock(); got != first {
		t.Errorf("first TakeBlock = %q, want %q", got, first)
	}
	if !s.Feed("") {
		t.Fatal("expected second block from buffered remainder")
	}
	if got := s.TakeBlock(); got != second {
		t.Errorf("second TakeBlock = %q, want %q", got, second)
	}
}

func TestScanner_Reset(t *testing.T) {
	s := NewScanner()
	s.Feed(`<mcp:filesystem><read path="/a"/>`)
	s.Reset()
	if s.Feed(`</mcp:filesystem>`) {
		t.Fatal("stale close marker after Reset must not complete a block")
	}
	if !s.Feed(sampleBlock) {
		t.Fatal("scanner should detect normally after Reset")
	}
}

func TestScanner_Options(t *testing.T) {
	t.Run("reasoning filter off", func(t *testing.T) {
		block := `<mcp:filesystem><read path="/a"/></mcp:filesystem>`
		s := NewScanner(WithReasoningFilter(false))
		got := feedAll(t, s, "<think>"+block+"</think>")
		if diff := cmp.Diff([]string{block}, got); diff != "" {
			t.Errorf("with the filter off the hidden block is fair game (-want +got):\n%s", diff)
		}
	})

	t.Run("fence detection off", func(t *testing.T) {
		block := `<mcp:filesystem><read path="/a"/></mcp:filesystem>`
		s := NewScanner(WithFenceDetection(false))
		got := feedAll(t, s, "```python\n"+block+"\n```")
		if diff := cmp.Diff([]string{block}, got); diff != "" {
			t.Errorf("fence markers should be plain text (-want +got):\n%s", diff)
		}
	})

	t.Run("fallback threshold", func(t *testing.T) {
		inner := `<search path="/x" pattern="a>b"/>`
		block := "<mcp:filesystem>" + inner + "</mcp:filesystem>"
		s := NewScanner(WithFallbackThreshold(len(BlockClose)))
		if !s.Feed(block) {
			t.Fatal("lowered threshold should trigger the direct scan")
		}
	})
}

func TestStripReasoning(t *testing.T) {
	in := "keep <think>drop this</think> and <think>this</think> too"
	want := "keep  and  too"
	if got := StripReasoning(in); got != want {
		t.Errorf("StripReasoning = %q, want %q", got, want)
	}
}

func TestFindBlocks(t *testing.T) {
	a := `<mcp:filesystem><read path="/a"/></mcp:filesystem>`
	b := `<mcp:filesystem><list path="/b"/></mcp:filesystem>`
	hidden := `<think><mcp:filesystem><read path="/no"/></mcp:filesystem></think>`

	got := FindBlocks("x " + a + " y " + hidden + " z " + b)
	if diff := cmp.Diff([]string{a, b}, got); diff != "" {
		t.Errorf("FindBlocks mismatch (-want +got):\n%s", diff)
	}
	if got := FindBlocks("no blocks here"); got != nil {
		t.Errorf("FindBlocks on plain text = %v, want nil", got)
	}
}
