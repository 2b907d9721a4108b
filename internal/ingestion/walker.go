package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rohankatakam/entitystore/internal/treesitter"
)

// SourceFile is one file discovered by the walker
type SourceFile struct {
	// Path is absolute
	Path string
	// Rel is root-relative and slash-separated
	Rel  string
	Info fs.FileInfo
}

// Ignorer decides which root-relative paths the walker and watcher skip
type Ignorer struct {
	patterns []string
}

// NewIgnorer checks and wraps doublestar patterns
func NewIgnorer(patterns []string) (*Ignorer, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return &Ignorer{patterns: patterns}, nil
}

// Ignored reports whether rel matches any pattern
func (ig *Ignorer) Ignored(rel string) bool {
	if ig == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range ig.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return isGeneratedFile(rel)
}

// WalkSourceFiles walks root and yields parseable files. The error channel
// receives at most one error and is closed with the file channel.
func WalkSourceFiles(ctx context.Context, root string, ignore *Ignorer) (<-chan SourceFile, <-chan error) {
	files := make(chan SourceFile, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errc)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				// unreadable entries are skipped
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path != root && (SkipDir(d.Name()) || ignore.Ignored(rel)) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !Supported(rel) || ignore.Ignored(rel) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			select {
			case files <- SourceFile{Path: path, Rel: rel, Info: info}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()

	return files, errc
}

// SkipDir returns true if directory should be excluded from parsing
func SkipDir(name string) bool {
	excludeDirs := []string{
		".git",
		".estore",
		"node_modules",
		"vendor",
		"venv",
		".venv",
		"__pycache__",
		".next",
		".nuxt",
		".cache",
		".pytest_cache",
		".tox",
		".idea",
		".vscode",
	}

	for _, exclude := range excludeDirs {
		if name == exclude {
			return true
		}
	}
	return false
}

// Supported returns true if a parser exists for the file
func Supported(path string) bool {
	return treesitter.DetectLanguage(path) != ""
}

// isGeneratedFile returns true if file is likely generated
func isGeneratedFile(path string) bool {
	generatedPatterns := []string{
		".min.js",       // Minified JS
		".bundle.js",    // Bundled JS
		".generated.ts", // Generated TypeScript
		".generated.js", // Generated JS
		".pb.js",        // Protocol buffers
		".pb.ts",        // Protocol buffers
		".d.ts",         // TypeScript declarations
		"_pb.js",        // Protocol buffers
		"_pb.ts",        // Protocol buffers
		"_pb2.py",       // Protocol buffers
	}

	for _, pattern := range generatedPatterns {
		if strings.HasSuffix(path, pattern) {
			return true
		}
	}
	return false
}
