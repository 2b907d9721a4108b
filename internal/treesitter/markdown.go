package treesitter

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tree_sitter_markdown "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown"

	"github.com/rohankatakam/entitystore/internal/frontmatter"
	"github.com/rohankatakam/entitystore/internal/models"
)

const (
	mdAtxHeading        = "atx_heading"
	mdSetextHeading     = "setext_heading"
	mdFencedCodeBlock   = "fenced_code_block"
	mdInfoString        = "info_string"
	mdLanguage          = "language"
	mdInline            = "inline"
	mdParagraph         = "paragraph"
	mdSetextH1Underline = "setext_h1_underline"
)

var atxMarkers = map[string]int{
	"atx_h1_marker": 1, "atx_h2_marker": 2, "atx_h3_marker": 3,
	"atx_h4_marker": 4, "atx_h5_marker": 5, "atx_h6_marker": 6,
}

// headingFrame is an open heading while walking the document
type headingFrame struct {
	level  int
	entity *models.Entity
}

// parseMarkdown emits a document entity, its headings nested by level and
// fenced code blocks under the heading they appear in
func (x *extraction) parseMarkdown(ctx context.Context) error {
	// A leading frontmatter block is metadata, not content. Blank it out
	// while keeping line numbers.
	if _, end, ok := frontmatter.Span(string(x.code), "markdown"); ok {
		masked := make([]byte, len(x.code))
		copy(masked, x.code)
		for i := 0; i < end; i++ {
			if masked[i] != '\n' {
				masked[i] = ' '
			}
		}
		x.code = masked
	}

	tree, err := x.parseTree(ctx, tree_sitter_markdown.GetLanguage())
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	doc := x.add(root, strings.TrimSuffix(filepath.Base(x.path), filepath.Ext(x.path)), models.TypeDocument, nil)
	doc.LineStart = 1
	doc.LineEnd = bytes.Count(x.code, []byte("\n")) + 1

	var stack []headingFrame
	named := false
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil || ctx.Err() != nil {
			return
		}
		switch node.Type() {
		case mdAtxHeading, mdSetextHeading:
			level, text := x.markdownHeading(node)
			if text == "" {
				return
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			parent := doc
			if len(stack) > 0 {
				parent = stack[len(stack)-1].entity
			}
			h := x.add(node, text, models.TypeHeading, parent)
			h.Signature = strings.Repeat("#", level) + " " + text
			h.Metadata = map[string]interface{}{"heading_level": level}
			stack = append(stack, headingFrame{level: level, entity: h})
			if level == 1 && !named {
				doc.Name = text
				named = true
			}
			return
		case mdFencedCodeBlock:
			parent := doc
			if len(stack) > 0 {
				parent = stack[len(stack)-1].entity
			}
			x.markdownCodeBlock(node, parent)
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)

	return ctx.Err()
}

func (x *extraction) markdownHeading(node *sitter.Node) (int, string) {
	level := 0
	text := ""
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch t := child.Type(); {
		case atxMarkers[t] > 0:
			level = atxMarkers[t]
		case t == mdInline:
			text = strings.TrimSpace(x.text(child))
		case t == mdParagraph:
			text = strings.TrimSpace(x.text(child))
		case t == mdSetextH1Underline:
			level = 1
		case strings.HasPrefix(t, "setext_h"):
			level = 2
		}
	}
	if level == 0 {
		level = 1
	}
	return level, strings.TrimSpace(strings.TrimRight(text, "#"))
}

func (x *extraction) markdownCodeBlock(node *sitter.Node, parent *models.Entity) {
	language := ""
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != mdInfoString {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			if lc := child.NamedChild(j); lc.Type() == mdLanguage {
				language = x.text(lc)
				break
			}
		}
	}

	name := "code_block"
	if language != "" {
		name = language + "_block"
	}
	e := x.add(node, name, models.TypeCodeBlock, parent)
	e.Signature = "```" + language
	if language != "" {
		e.Metadata = map[string]interface{}{"code_language": language}
	}
}
