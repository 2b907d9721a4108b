package treesitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/rohankatakam/entitystore/internal/models"
)

// parseECMAScript extracts classes, methods, functions (declared or bound
// to a const) and, for typescript, interfaces and type aliases as schemas
func (x *extraction) parseECMAScript(ctx context.Context) error {
	var lang *sitter.Language
	switch x.language {
	case "typescript":
		lang = typescript.GetLanguage()
	case "tsx":
		lang = tsx.GetLanguage()
	default:
		lang = javascript.GetLanguage()
	}

	tree, err := x.parseTree(ctx, lang)
	if err != nil {
		return err
	}
	defer tree.Close()

	x.walkECMAScript(ctx, tree.RootNode(), nil, false)
	return ctx.Err()
}

func (x *extraction) walkECMAScript(ctx context.Context, node *sitter.Node, class *models.Entity, exported bool) {
	if node == nil || ctx.Err() != nil {
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "export_statement":
			x.walkECMAScript(ctx, child, class, true)
		case "class_declaration", "abstract_class_declaration":
			x.jsClass(ctx, child, class, exported)
		case "method_definition", "abstract_method_signature":
			if class != nil {
				x.jsFunction(child, child.ChildByFieldName("name"), models.TypeMethod, class, exported)
			}
		case "function_declaration", "generator_function_declaration":
			x.jsFunction(child, child.ChildByFieldName("name"), models.TypeFunction, class, exported)
		case "lexical_declaration", "variable_declaration":
			x.jsBoundFunctions(child, class, exported)
		case "interface_declaration", "type_alias_declaration":
			x.jsSchema(child, class, exported)
		case "statement_block", "arrow_function", "function", "function_expression":
			// function bodies are not indexed
		default:
			x.walkECMAScript(ctx, child, class, exported)
		}
	}
}

func (x *extraction) jsClass(ctx context.Context, node *sitter.Node, parent *models.Entity, exported bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	body := node.ChildByFieldName("body")

	e := x.add(node, x.text(nameNode), models.TypeClass, parent)
	e.Signature = x.header(node, body)
	e.Docstring = x.jsDoc(node)
	markExported(e, exported)

	x.walkECMAScript(ctx, body, e, false)
}

func (x *extraction) jsFunction(node, nameNode *sitter.Node, entityType models.EntityType, parent *models.Entity, exported bool) {
	if nameNode == nil {
		return
	}
	e := x.add(node, x.text(nameNode), entityType, parent)
	e.Signature = x.header(node, node.ChildByFieldName("body"))
	e.Docstring = x.jsDoc(node)
	markExported(e, exported)
}

// jsBoundFunctions handles `const name = (...) => ...` and
// `const name = function (...) {...}`
func (x *extraction) jsBoundFunctions(decl *sitter.Node, parent *models.Entity, exported bool) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		declarator := decl.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		value := declarator.ChildByFieldName("value")
		if value == nil {
			continue
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
		default:
			continue
		}
		nameNode := declarator.ChildByFieldName("name")
		if nameNode == nil || nameNode.Type() != "identifier" {
			continue
		}
		e := x.add(decl, x.text(nameNode), models.TypeFunction, parent)
		e.Signature = x.header(decl, value.ChildByFieldName("body"))
		e.Docstring = x.jsDoc(decl)
		markExported(e, exported)
	}
}

func (x *extraction) jsSchema(node *sitter.Node, parent *models.Entity, exported bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	e := x.add(node, x.text(nameNode), models.TypeSchema, parent)
	e.Signature = x.header(node, node.ChildByFieldName("body"))
	e.Docstring = x.jsDoc(node)
	markExported(e, exported)
}

// jsDoc returns the JSDoc comment directly preceding a declaration or the
// export statement wrapping it
func (x *extraction) jsDoc(node *sitter.Node) string {
	target := node
	if p := node.Parent(); p != nil && p.Type() == "export_statement" {
		target = p
	}
	prev := target.PrevSibling()
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	raw := x.text(prev)
	if !strings.HasPrefix(raw, "/**") {
		return ""
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "/**"), "*/")

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		lines = append(lines, line)
	}
	return cleandoc(strings.Join(lines, "\n"))
}

func markExported(e *models.Entity, exported bool) {
	if !exported {
		return
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata["exported"] = true
}
