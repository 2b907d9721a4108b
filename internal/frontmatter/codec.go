package frontmatter

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/models"
)

// ErrNoFrontmatter is returned when a source carries no frontmatter block
var ErrNoFrontmatter = stderrors.New("no frontmatter block")

// block locates a frontmatter block inside a source text
type block struct {
	start int // offset of the opening delimiter
	end   int // offset just past the closing delimiter text
	body  string
}

// locate finds the block at the top of source. A leading shebang line is
// skipped; any other leading text means there is no block.
func locate(source string, enc Encoding) (block, bool) {
	start := 0
	if strings.HasPrefix(source, "#!") {
		nl := strings.IndexByte(source, '\n')
		if nl < 0 {
			return block{}, false
		}
		start = nl + 1
	}

	delim := enc.delimiter()
	pos := start
	first := true
	var body []string
	for pos < len(source) {
		lineEnd := strings.IndexByte(source[pos:], '\n')
		var line string
		if lineEnd < 0 {
			line = source[pos:]
			lineEnd = len(source)
		} else {
			line = source[pos : pos+lineEnd]
			lineEnd = pos + lineEnd
		}
		trimmed := strings.TrimRight(line, " \t\r")

		if first {
			if trimmed != delim {
				return block{}, false
			}
			first = false
		} else if trimmed == delim {
			return block{
				start: start,
				end:   pos + len(trimmed),
				body:  strings.Join(body, "\n"),
			}, true
		} else {
			content, ok := enc.unwrapLine(strings.TrimRight(line, "\r"))
			if !ok {
				return block{}, false
			}
			body = append(body, content)
		}

		if lineEnd >= len(source) {
			break
		}
		pos = lineEnd + 1
	}
	return block{}, false
}

// Span returns the byte range of the block at the top of source, from
// the opening delimiter to the end of the closing delimiter text
func Span(source, language string) (start, end int, ok bool) {
	b, ok := locate(source, EncodingFor(language))
	if !ok {
		return 0, 0, false
	}
	return b.start, b.end, true
}

// Has reports whether source starts with a frontmatter block
func Has(source, language string) bool {
	_, ok := locate(source, EncodingFor(language))
	return ok
}

// Parse extracts the frontmatter block from source. Any schema violation
// is reported as no frontmatter.
func Parse(source, language string) (*Frontmatter, bool) {
	f, err := ParseStrict(source, language)
	if err != nil {
		return nil, false
	}
	return f, true
}

// ParseStrict is Parse with the reason for rejection. It returns
// ErrNoFrontmatter when no block is present and a schema error when the
// block fails validation.
func ParseStrict(source, language string) (*Frontmatter, error) {
	b, ok := locate(source, EncodingFor(language))
	if !ok {
		return nil, ErrNoFrontmatter
	}
	return decode(b.body + "\n")
}

func decode(body string) (*Frontmatter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errors.SchemaErrorf("invalid yaml: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.SchemaErrorf("frontmatter must be a mapping")
	}
	root := doc.Content[0]

	f := &Frontmatter{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, val := root.Content[i], root.Content[i+1]
		key := keyNode.Value
		if keyNode.Kind != yaml.ScalarNode {
			return nil, errors.SchemaErrorf("frontmatter keys must be scalars")
		}
		if seen[key] {
			return nil, errors.SchemaErrorf("duplicate key %q", key)
		}
		seen[key] = true

		if err := f.setField(key, val); err != nil {
			return nil, err
		}
	}

	for _, required := range []string{KeyID, KeyName, KeyType, KeyPath, KeyCreated} {
		if !seen[required] {
			return nil, errors.SchemaErrorf("%s is required", required)
		}
	}

	f = f.WithDefaults()
	if err := Validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func (f *Frontmatter) setField(key string, val *yaml.Node) error {
	var err error
	switch key {
	case KeyID:
		f.ID, err = stringValue(key, val)
	case KeyName:
		f.Name, err = stringValue(key, val)
	case KeyType:
		f.Type, err = stringValue(key, val)
	case KeyPath:
		f.Path, err = stringValue(key, val)
	case KeyLanguage:
		f.Language, err = optionalString(key, val)
	case KeyState:
		var s string
		s, err = optionalString(key, val)
		f.State = models.State(s)
	case KeyCreated:
		f.Created, err = timeValue(key, val)
	case KeyLastUpdated:
		if !isNull(val) {
			f.LastUpdated, err = timeValue(key, val)
		}
	case KeyLineStart:
		f.LineStart, err = lineValue(key, val)
	case KeyLineEnd:
		f.LineEnd, err = lineValue(key, val)
	case KeyImports:
		f.Imports, err = listValue(key, val)
	case KeyExports:
		f.Exports, err = listValue(key, val)
	case KeyDependencies:
		f.Dependencies, err = listValue(key, val)
	case KeyCallers:
		f.Callers, err = listValue(key, val)
	case KeyCallees:
		f.Callees, err = listValue(key, val)
	case KeyActors:
		f.Actors, err = listValue(key, val)
	case KeySemverImpact:
		var s string
		s, err = optionalString(key, val)
		f.SemverImpact = models.SemverImpact(s)
	case KeyBreakingChangeRisk:
		var s string
		s, err = optionalString(key, val)
		f.BreakingChangeRisk = models.RiskLevel(s)
	case KeyPublicAPI:
		if isNull(val) {
			return nil
		}
		if val.Kind != yaml.ScalarNode || val.ShortTag() != "!!bool" {
			return errors.SchemaErrorf("%s must be a boolean", key)
		}
		err = val.Decode(&f.PublicAPI)
	case KeyDocstring:
		f.Docstring, err = optionalString(key, val)
	case KeySignature:
		f.Signature, err = optionalString(key, val)
	default:
		var v interface{}
		if err := val.Decode(&v); err != nil {
			return errors.SchemaErrorf("invalid value for %s: %v", key, err)
		}
		if f.Extra == nil {
			f.Extra = make(map[string]interface{})
		}
		f.Extra[key] = v
	}
	return err
}

func stringValue(key string, n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!str" {
		return "", errors.SchemaErrorf("%s must be a string", key)
	}
	return n.Value, nil
}

func optionalString(key string, n *yaml.Node) (string, error) {
	if isNull(n) {
		return "", nil
	}
	return stringValue(key, n)
}

func timeValue(key string, n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", errors.SchemaErrorf("%s must be a timestamp", key)
	}
	switch n.ShortTag() {
	case "!!str", "!!timestamp":
		return n.Value, nil
	}
	return "", errors.SchemaErrorf("%s must be a timestamp", key)
}

func lineValue(key string, n *yaml.Node) (int, error) {
	if isNull(n) {
		return 0, nil
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!int" {
		return 0, errors.SchemaErrorf("%s must be an integer", key)
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil || v < 1 {
		return 0, errors.SchemaErrorf("%s must be >= 1", key)
	}
	return v, nil
}

func listValue(key string, n *yaml.Node) ([]string, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, errors.SchemaErrorf("%s must be a list", key)
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		s, err := stringValue(key, item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Generate renders f as a frontmatter block in the encoding of its
// language. The result has no trailing newline.
func Generate(f *Frontmatter) (string, error) {
	if f == nil {
		return "", errors.SchemaErrorf("frontmatter is nil")
	}
	f = f.WithDefaults()
	if err := Validate(f); err != nil {
		return "", err
	}

	root, err := f.toNode()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	encoding := EncodingFor(f.Language)
	lines := []string{encoding.delimiter()}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		lines = append(lines, encoding.wrapLine(line))
	}
	lines = append(lines, encoding.delimiter())
	return strings.Join(lines, "\n"), nil
}

func (f *Frontmatter) toNode() (*yaml.Node, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, strNode(key), val)
	}

	add(KeyID, strNode(f.ID))
	add(KeyName, strNode(f.Name))
	add(KeyType, strNode(f.Type))
	add(KeyPath, strNode(f.Path))
	if f.LineStart > 0 {
		add(KeyLineStart, intNode(f.LineStart))
	}
	if f.LineEnd > 0 {
		add(KeyLineEnd, intNode(f.LineEnd))
	}
	add(KeyLanguage, strNode(f.Language))
	add(KeyState, strNode(string(f.State)))
	add(KeyCreated, timeNode(f.Created))
	if f.LastUpdated != "" {
		add(KeyLastUpdated, timeNode(f.LastUpdated))
	}
	lists := []struct {
		key   string
		value []string
	}{
		{KeyImports, f.Imports},
		{KeyExports, f.Exports},
		{KeyDependencies, f.Dependencies},
		{KeyCallers, f.Callers},
		{KeyCallees, f.Callees},
	}
	for _, l := range lists {
		if l.value != nil {
			add(l.key, listNode(l.value))
		}
	}
	if f.SemverImpact != DefaultSemver {
		add(KeySemverImpact, strNode(string(f.SemverImpact)))
	}
	if f.BreakingChangeRisk != DefaultRisk {
		add(KeyBreakingChangeRisk, strNode(string(f.BreakingChangeRisk)))
	}
	if f.PublicAPI {
		add(KeyPublicAPI, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"})
	}
	if f.Actors != nil {
		add(KeyActors, listNode(f.Actors))
	}
	if f.Docstring != "" {
		add(KeyDocstring, strNode(f.Docstring))
	}
	if f.Signature != "" {
		add(KeySignature, strNode(f.Signature))
	}

	keys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var val yaml.Node
		if err := val.Encode(f.Extra[k]); err != nil {
			return nil, errors.SchemaErrorf("cannot encode extension key %s: %v", k, err)
		}
		add(k, &val)
	}
	return root, nil
}

// strNode quotes values that a literal block would not read back intact
func strNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if strings.ContainsAny(s, "\t\r") || strings.HasSuffix(s, "\n") {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

// timeNode writes YAML timestamps unquoted and anything else as a string
func timeNode(s string) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err == nil && len(doc.Content) == 1 {
		n := doc.Content[0]
		if n.Kind == yaml.ScalarNode && n.Style == 0 && n.ShortTag() == "!!timestamp" && n.Value == s {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!timestamp", Value: s}
		}
	}
	return strNode(s)
}

func listNode(items []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, item := range items {
		n.Content = append(n.Content, strNode(item))
	}
	return n
}

// Replace swaps the existing block in source for a freshly generated one.
// Every byte outside the block is preserved.
func Replace(source, language string, f *Frontmatter) (string, error) {
	b, ok := locate(source, EncodingFor(language))
	if !ok {
		return "", ErrNoFrontmatter
	}
	if f == nil {
		return "", errors.SchemaErrorf("frontmatter is nil")
	}
	generated, err := Generate(withLanguage(f, language))
	if err != nil {
		return "", err
	}
	return source[:b.start] + generated + source[b.end:], nil
}

// Prepend adds a generated block to the top of source, after any shebang
func Prepend(source string, f *Frontmatter) (string, error) {
	generated, err := Generate(f)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(source, "#!") {
		if nl := strings.IndexByte(source, '\n'); nl >= 0 {
			return source[:nl+1] + generated + "\n\n" + source[nl+1:], nil
		}
	}
	return generated + "\n\n" + source, nil
}

// withLanguage makes sure a block replaced in a file keeps that file's
// encoding
func withLanguage(f *Frontmatter, language string) *Frontmatter {
	if EncodingFor(f.Language) == EncodingFor(language) {
		return f
	}
	c := *f
	c.Language = language
	return &c
}
