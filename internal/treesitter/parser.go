package treesitter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rohankatakam/entitystore/internal/models"
)

// ErrUnsupportedLanguage is returned for files no parser understands.
// Callers treat it as "contributes zero entities".
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Parser turns source text into raw entities. Parent ids refer to other
// entities of the same result.
type Parser interface {
	Parse(ctx context.Context, path string, source []byte) ([]*models.Entity, error)
}

// MultiParser dispatches to a language extractor by file extension.
// It is safe for concurrent use; every call builds its own tree-sitter parser.
type MultiParser struct {
	now func() time.Time
}

// New returns a parser covering python, javascript, typescript and markdown
func New() *MultiParser {
	return &MultiParser{now: time.Now}
}

// Supports reports whether path has a parser
func (p *MultiParser) Supports(path string) bool {
	return DetectLanguage(path) != ""
}

// Parse extracts entities from source
func (p *MultiParser) Parse(ctx context.Context, path string, source []byte) ([]*models.Entity, error) {
	lang := DetectLanguage(path)
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x := &extraction{
		path:     path,
		language: lang,
		code:     source,
		created:  p.now().UTC(),
	}

	var err error
	switch lang {
	case "python":
		err = x.parsePython(ctx)
	case "javascript", "jsx", "typescript", "tsx":
		err = x.parseECMAScript(ctx)
	case "markdown":
		err = x.parseMarkdown(ctx)
	}
	if err != nil {
		return nil, err
	}
	return x.entities, nil
}

// DetectLanguage returns language identifier from file extension
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))

	langMap := map[string]string{
		".js":       "javascript",
		".jsx":      "jsx",
		".ts":       "typescript",
		".tsx":      "tsx",
		".mjs":      "javascript",
		".cjs":      "javascript",
		".mts":      "typescript",
		".cts":      "typescript",
		".py":       "python",
		".pyi":      "python",
		".pyw":      "python",
		".md":       "markdown",
		".markdown": "markdown",
	}

	return langMap[ext]
}

// FrontmatterLanguage maps a parser language to the tag selecting its
// frontmatter encoding
func FrontmatterLanguage(lang string) string {
	switch lang {
	case "jsx":
		return "javascript"
	case "tsx":
		return "typescript"
	}
	return lang
}

// extraction accumulates the entities of one file
type extraction struct {
	path     string
	language string
	code     []byte
	created  time.Time
	entities []*models.Entity
}

// add records an entity spanning node
func (x *extraction) add(node *sitter.Node, name string, entityType models.EntityType, parent *models.Entity) *models.Entity {
	e := &models.Entity{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        entityType,
		Path:        x.path,
		LineStart:   int(node.StartPoint().Row) + 1,
		LineEnd:     int(node.EndPoint().Row) + 1,
		Language:    FrontmatterLanguage(x.language),
		State:       models.StateActive,
		Created:     x.created,
		LastUpdated: x.created,
	}
	if parent != nil {
		e.ParentID = parent.ID
	}
	e.FrontmatterSignature = models.ComputeSignature(x.path, name, entityType, x.text(node))
	x.entities = append(x.entities, e)
	return e
}

// text extracts text from a node using byte offsets
func (x *extraction) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	start, end := int(node.StartByte()), int(node.EndByte())
	if end > len(x.code) {
		end = len(x.code)
	}
	if start > end {
		return ""
	}
	return string(x.code[start:end])
}

// header returns the source of node up to the start of its body
func (x *extraction) header(node, body *sitter.Node) string {
	if body == nil {
		return strings.TrimSpace(x.text(node))
	}
	start, end := int(node.StartByte()), int(body.StartByte())
	if end > len(x.code) || start > end {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(string(x.code[start:end])), ":"))
}

// parseTree runs a tree-sitter grammar over the file
func (x *extraction) parseTree(ctx context.Context, lang *sitter.Language) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, x.code)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tree.Close()
		return nil, fmt.Errorf("parse canceled: %w", err)
	}
	return tree, nil
}
