package frontmatter

import "strings"

// Encoding is the comment syntax wrapping a frontmatter block
type Encoding int

const (
	// EncodingBare wraps the block in bare --- lines (markdown, prose)
	EncodingBare Encoding = iota
	// EncodingHash prefixes every line with "# "
	EncodingHash
	// EncodingSlash prefixes every line with "// "
	EncodingSlash
)

var hashLanguages = map[string]bool{
	"python": true, "ruby": true, "shell": true, "bash": true, "sh": true,
	"zsh": true, "yaml": true, "toml": true, "perl": true, "r": true,
	"makefile": true, "dockerfile": true,
}

var slashLanguages = map[string]bool{
	"typescript": true, "javascript": true, "tsx": true, "jsx": true,
	"go": true, "rust": true, "java": true, "kotlin": true, "scala": true,
	"swift": true, "c": true, "cpp": true, "csharp": true, "dart": true,
	"php": true,
}

// EncodingFor returns the encoding used for a language tag.
// Unknown languages use the bare encoding.
func EncodingFor(language string) Encoding {
	lang := strings.ToLower(strings.TrimSpace(language))
	switch {
	case hashLanguages[lang]:
		return EncodingHash
	case slashLanguages[lang]:
		return EncodingSlash
	default:
		return EncodingBare
	}
}

// String returns a short name for the encoding
func (enc Encoding) String() string {
	switch enc {
	case EncodingHash:
		return "hash"
	case EncodingSlash:
		return "slash"
	default:
		return "bare"
	}
}

// delimiter returns the opening/closing line of a block
func (enc Encoding) delimiter() string {
	return enc.prefix() + "---"
}

// prefix returns the per-line comment prefix
func (enc Encoding) prefix() string {
	switch enc {
	case EncodingHash:
		return "# "
	case EncodingSlash:
		return "// "
	default:
		return ""
	}
}

// wrapLine prefixes a body line. Blank lines carry no trailing space.
func (enc Encoding) wrapLine(line string) string {
	if line == "" {
		return strings.TrimRight(enc.prefix(), " ")
	}
	return enc.prefix() + line
}

// unwrapLine strips the comment prefix from a body line.
// The second result is false if the line is not part of a comment block.
func (enc Encoding) unwrapLine(line string) (string, bool) {
	if enc == EncodingBare {
		return line, true
	}
	marker := strings.TrimRight(enc.prefix(), " ")
	if !strings.HasPrefix(line, marker) {
		return "", false
	}
	rest := line[len(marker):]
	if rest == "" {
		return "", true
	}
	if rest[0] != ' ' {
		return "", false
	}
	return rest[1:], true
}
