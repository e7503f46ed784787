// Package command parses instruction block text into typed operations.
package command

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/scan"
)

// freeTextRead matches prose that unambiguously names a file-like path after
// a read-style verb, e.g. "read the contents of notes.txt".
var freeTextRead = regexp.MustCompile(`(?i)(?:read|show|display|get)\s+(?:the\s+)?(?:contents\s+of|file)?\s+["']?([^"'<>:;,\s]+\.[^"'<>:;,\s]+)["']?`)

// Extract parses every instruction block in text into an ordered sequence of
// operations. It never fails: structurally invalid or incomplete elements are
// skipped and extraction continues. Reasoning regions are discarded before
// parsing. When the text carries no block markup at all, a single read may be
// inferred from free text naming a file-like path.
func Extract(text string) []domain.Operation {
	cleaned := scan.StripReasoning(text)

	var ops []domain.Operation
	blocks := scan.FindBlocks(cleaned)
	for _, blk := range blocks {
		ops = append(ops, extractBlock(blk)...)
	}

	if len(ops) == 0 && len(blocks) == 0 && !hasBlockMarker(cleaned) {
		if m := freeTextRead.FindStringSubmatch(cleaned); m != nil {
			ops = append(ops, domain.Operation{Kind: domain.OpRead, Path: m[1]})
		}
	}
	return ops
}

func hasBlockMarker(text string) bool {
	return strings.Contains(text, scan.BlockOpen) || strings.Contains(text, scan.BlockClose)
}

// extractBlock walks the children of one block element. A decode error ends
// the walk with whatever was extracted so far.
func extractBlock(blk string) []domain.Operation {
	d := xml.NewDecoder(strings.NewReader(blk))
	d.Strict = false

	if !enterRoot(d) {
		return nil
	}

	var ops []domain.Operation
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if op, ok := elementOp(d, t); ok {
				ops = append(ops, op)
			}
		case xml.EndElement:
			depth--
		}
	}
	return ops
}

// enterRoot advances the decoder past the declaring element.
func enterRoot(d *xml.Decoder) bool {
	for {
		tok, err := d.Token()
		if err != nil {
			return false
		}
		if _, ok := tok.(xml.StartElement); ok {
			return true
		}
	}
}

// elementOp converts one child element into an operation. The element's tag
// name selects the kind; elements missing required attributes and elements of
// unknown kinds are consumed and skipped.
func elementOp(d *xml.Decoder, se xml.StartElement) (domain.Operation, bool) {
	kind := strings.ToLower(se.Name.Local)
	switch kind {
	case "read":
		path := attrValue(se, "path")
		skip(d)
		if path == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpRead, Path: path}, true

	case "write":
		path := attrValue(se, "path")
		body := innerText(d)
		if path == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpWrite, Path: path, Body: body}, true

	case "list":
		path := attrValue(se, "path")
		skip(d)
		if path == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpList, Path: path}, true

	case "search":
		path := attrValue(se, "path")
		pattern := attrValue(se, "pattern")
		skip(d)
		if path == "" || pattern == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpSearch, Path: path, Pattern: pattern}, true

	case "grep":
		path := attrValue(se, "path")
		pattern := attrValue(se, "pattern")
		skip(d)
		if path == "" || pattern == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpGrep, Path: path, Pattern: pattern}, true

	case "cd":
		path := attrValue(se, "path")
		skip(d)
		if path == "" {
			return domain.Operation{}, false
		}
		return domain.Operation{Kind: domain.OpChdir, Path: path}, true

	case "pwd":
		skip(d)
		return domain.Operation{Kind: domain.OpPwd}, true

	default:
		skip(d)
		return domain.Operation{}, false
	}
}

// innerText collects the character data directly inside the current element,
// verbatim and untrimmed, consuming through the matching end element.
func innerText(d *xml.Decoder) string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				sb.Write(t)
			}
		}
	}
	return sb.String()
}

// skip consumes the current element's content without interpreting it.
func skip(d *xml.Decoder) {
	_ = d.Skip()
}

// attrValue returns the named attribute or "".
func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
