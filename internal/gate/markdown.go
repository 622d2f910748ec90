package gate

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// mdParser is shared across calls; goldmark's parser is safe for
// concurrent use once constructed, matching the package-level
// singleton pattern the teacher uses for its markdown ingester.
var mdParser = goldmark.New().Parser()

// stripMarkdown renders src's markdown AST back down to plain text,
// discarding formatting markers (headings, emphasis, links, code
// fences) so the scoring stage's length/keyword features see the
// content a user actually typed rather than the markup around it.
// Grounded on the teacher's goldmark usage in internal/email/compose.go
// (there: markdown -> HTML for an email body; here: markdown -> plain
// text via an AST walk rather than an HTML round-trip, since the gate
// only ever needs flat text).
func stripMarkdown(src string) string {
	if src == "" {
		return ""
	}
	source := []byte(src)
	doc := mdParser.Parse(text.NewReader(source))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			// Always trail with a space: block boundaries (list items,
			// separate paragraphs) carry no inline break of their own,
			// and the final strings.Fields/Join pass collapses any
			// resulting whitespace runs back down to single spaces.
			buf.WriteByte(' ')
		case *ast.FencedCodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				buf.Write(lines.At(i).Value(source))
			}
		case *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				buf.Write(lines.At(i).Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		// Malformed input is never fatal to the gate (spec section
		// 4.4/7: stage errors degrade, never propagate); fall back to
		// the raw text.
		return strings.TrimSpace(src)
	}

	return strings.Join(strings.Fields(buf.String()), " ")
}
