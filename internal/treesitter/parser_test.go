package treesitter

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/models"
)

func byName(entities []*models.Entity, name string) *models.Entity {
	for _, e := range entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func byTypeName(entities []*models.Entity, t models.EntityType, name string) *models.Entity {
	for _, e := range entities {
		if e.Type == t && e.Name == name {
			return e
		}
	}
	return nil
}

func TestPythonClassWithMethod(t *testing.T) {
	src := []byte(`class Foo:
    """doc"""

    def bar(self):
        pass
`)

	entities, err := New().Parse(context.Background(), "pkg/foo.py", src)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	foo, bar := entities[0], entities[1]
	assert.Equal(t, "Foo", foo.Name)
	assert.Equal(t, models.TypeClass, foo.Type)
	assert.Equal(t, "doc", foo.Docstring)
	assert.Empty(t, foo.ParentID)

	assert.Equal(t, "bar", bar.Name)
	assert.Equal(t, models.TypeMethod, bar.Type)
	assert.Equal(t, foo.ID, bar.ParentID)
	assert.Equal(t, "def bar(self)", bar.Signature)

	assert.Equal(t, 1, foo.LineStart)
	assert.Equal(t, 5, foo.LineEnd)
	assert.Equal(t, 4, bar.LineStart)
	assert.Equal(t, "python", foo.Language)
	assert.Equal(t, models.StateActive, foo.State)
	assert.Len(t, foo.FrontmatterSignature, 16)
	assert.NotEqual(t, foo.ID, bar.ID)
}

func TestPythonFunctions(t *testing.T) {
	src := []byte(`import os


@cache
async def fetch(url: str) -> bytes:
    """
    Fetch a URL.

        Indented detail.
    """
    def inner():
        pass
    return b""


def plain(a, b=1):
    return a + b


if os.name == "nt":
    class Windows:
        @staticmethod
        def path():
            pass
`)

	entities, err := New().Parse(context.Background(), "net.py", src)
	require.NoError(t, err)

	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"fetch", "plain", "Windows", "path"}, names)

	fetch := byName(entities, "fetch")
	assert.Equal(t, models.TypeFunction, fetch.Type)
	assert.Equal(t, "async def fetch(url: str) -> bytes", fetch.Signature)
	assert.Equal(t, "Fetch a URL.\n\n    Indented detail.", fetch.Docstring)

	plain := byName(entities, "plain")
	assert.Equal(t, "def plain(a, b=1)", plain.Signature)
	assert.Empty(t, plain.Docstring)

	windows := byName(entities, "Windows")
	path := byName(entities, "path")
	assert.Equal(t, models.TypeMethod, path.Type)
	assert.Equal(t, windows.ID, path.ParentID)
}

func TestJavaScriptEntities(t *testing.T) {
	src := []byte(`/**
 * Adds numbers.
 */
export function add(a, b) {
  function hidden() {}
  return a + b;
}

const double = (x) => x * 2;

class Counter extends Base {
  increment() {
    this.n++;
  }
}
`)

	entities, err := New().Parse(context.Background(), "src/math.js", src)
	require.NoError(t, err)
	require.Len(t, entities, 4)

	add := byName(entities, "add")
	require.NotNil(t, add)
	assert.Equal(t, models.TypeFunction, add.Type)
	assert.Equal(t, "Adds numbers.", add.Docstring)
	assert.Equal(t, "function add(a, b)", add.Signature)
	assert.Equal(t, true, add.Metadata["exported"])
	assert.Equal(t, "javascript", add.Language)

	double := byName(entities, "double")
	require.NotNil(t, double)
	assert.Equal(t, models.TypeFunction, double.Type)

	counter := byName(entities, "Counter")
	increment := byName(entities, "increment")
	require.NotNil(t, counter)
	require.NotNil(t, increment)
	assert.Equal(t, "class Counter extends Base", counter.Signature)
	assert.Equal(t, models.TypeMethod, increment.Type)
	assert.Equal(t, counter.ID, increment.ParentID)

	assert.Nil(t, byName(entities, "hidden"))
}

func TestTypeScriptSchemas(t *testing.T) {
	src := []byte(`export interface Options {
  limit: number;
}

type Id = string;

export class Store {
  get(id: Id): Options | undefined {
    return undefined;
  }
}
`)

	entities, err := New().Parse(context.Background(), "store.ts", src)
	require.NoError(t, err)

	options := byName(entities, "Options")
	require.NotNil(t, options)
	assert.Equal(t, models.TypeSchema, options.Type)
	assert.Equal(t, "typescript", options.Language)

	id := byName(entities, "Id")
	require.NotNil(t, id)
	assert.Equal(t, models.TypeSchema, id.Type)

	get := byName(entities, "get")
	require.NotNil(t, get)
	assert.Equal(t, models.TypeMethod, get.Type)
	assert.Equal(t, byName(entities, "Store").ID, get.ParentID)
}

func TestMarkdownStructure(t *testing.T) {
	src := []byte(`---
entity_id: doc-guide
entity_name: Guide
entity_type_id: document
entity_path: docs/guide.md
entity_created: 2024-01-01T00:00:00Z
---

# User Guide

Intro text.

## Install

` + "```bash\nmake install\n```" + `

## Usage
`)

	entities, err := New().Parse(context.Background(), "docs/guide.md", src)
	require.NoError(t, err)

	doc := entities[0]
	assert.Equal(t, models.TypeDocument, doc.Type)
	assert.Equal(t, "User Guide", doc.Name)
	assert.Equal(t, 1, doc.LineStart)

	guide := byTypeName(entities, models.TypeHeading, "User Guide")
	install := byName(entities, "Install")
	usage := byName(entities, "Usage")
	block := byName(entities, "bash_block")
	require.NotNil(t, guide)
	require.NotNil(t, install)
	require.NotNil(t, usage)
	require.NotNil(t, block)

	assert.Equal(t, models.TypeHeading, guide.Type)
	assert.Equal(t, doc.ID, guide.ParentID)
	assert.Equal(t, guide.ID, install.ParentID)
	assert.Equal(t, guide.ID, usage.ParentID)
	assert.Equal(t, 9, guide.LineStart)

	assert.Equal(t, models.TypeCodeBlock, block.Type)
	assert.Equal(t, install.ID, block.ParentID)
	assert.Equal(t, "bash", block.Metadata["code_language"])

	assert.Nil(t, byName(entities, "Guide"), "frontmatter is not content")
}

func TestUnsupportedLanguage(t *testing.T) {
	_, err := New().Parse(context.Background(), "main.rs", []byte("fn main() {}"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrUnsupportedLanguage))
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Parse(ctx, "a.py", []byte("def f(): pass\n"))
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"a.py":           "python",
		"b.tsx":          "tsx",
		"c.MJS":          "javascript",
		"README.md":      "markdown",
		"main.go":        "",
		"Makefile":       "",
		"x/y/z.pyi":      "python",
		"notes.markdown": "markdown",
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestCleandoc(t *testing.T) {
	assert.Equal(t, "doc", cleandoc("doc"))
	assert.Equal(t, "Summary.\n\nBody line\n  nested", cleandoc("Summary.\n\n    Body line\n      nested\n    "))
	assert.Equal(t, "x", unquotePython(`r"""x"""`))
	assert.Equal(t, "y", unquotePython(`'y'`))
}
