package treesitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/rohankatakam/entitystore/internal/models"
)

// parsePython extracts classes, functions and methods. Function bodies
// are not descended into, so nested functions are skipped.
func (x *extraction) parsePython(ctx context.Context) error {
	tree, err := x.parseTree(ctx, python.GetLanguage())
	if err != nil {
		return err
	}
	defer tree.Close()

	x.walkPython(ctx, tree.RootNode(), nil)
	return ctx.Err()
}

func (x *extraction) walkPython(ctx context.Context, node *sitter.Node, class *models.Entity) {
	if node == nil || ctx.Err() != nil {
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			x.pythonClass(ctx, child, class)
		case "function_definition":
			x.pythonFunction(child, class)
		case "decorated_definition":
			def := child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			switch def.Type() {
			case "class_definition":
				x.pythonClass(ctx, def, class)
			case "function_definition":
				x.pythonFunction(def, class)
			}
		default:
			x.walkPython(ctx, child, class)
		}
	}
}

func (x *extraction) pythonClass(ctx context.Context, node *sitter.Node, parent *models.Entity) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	body := node.ChildByFieldName("body")

	e := x.add(node, x.text(nameNode), models.TypeClass, parent)
	e.Docstring = x.pythonDocstring(body)
	e.Signature = x.header(node, body)

	x.walkPython(ctx, body, e)
}

func (x *extraction) pythonFunction(node *sitter.Node, class *models.Entity) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := x.text(nameNode)

	entityType := models.TypeFunction
	if class != nil {
		entityType = models.TypeMethod
	}

	signature := "def " + name + x.text(node.ChildByFieldName("parameters"))
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		signature += " -> " + x.text(ret)
	}
	if node.ChildCount() > 0 && node.Child(0).Type() == "async" {
		signature = "async " + signature
	}

	e := x.add(node, name, entityType, class)
	e.Signature = signature
	e.Docstring = x.pythonDocstring(node.ChildByFieldName("body"))
}

// pythonDocstring returns the cleaned docstring of a block, if its first
// statement is a string literal
func (x *extraction) pythonDocstring(block *sitter.Node) string {
	if block == nil || block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return cleandoc(unquotePython(x.text(str)))
}

// unquotePython strips string prefixes and quotes from a literal
func unquotePython(raw string) string {
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return raw[len(q) : len(raw)-len(q)]
		}
	}
	return raw
}

// cleandoc normalizes docstring indentation: the first line is stripped,
// the common indent of the rest is removed and blank edges are dropped
func cleandoc(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\t", "        "), "\n")
	if len(lines) == 0 {
		return ""
	}

	indent := -1
	for _, line := range lines[1:] {
		stripped := strings.TrimLeft(line, " ")
		if stripped == "" {
			continue
		}
		if n := len(line) - len(stripped); indent < 0 || n < indent {
			indent = n
		}
	}

	lines[0] = strings.TrimSpace(lines[0])
	for i := 1; i < len(lines); i++ {
		if indent > 0 && len(lines[i]) >= indent {
			lines[i] = lines[i][indent:]
		}
		lines[i] = strings.TrimRight(lines[i], " ")
	}

	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
