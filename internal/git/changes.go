// Package git lists changed files in a working tree for impact analysis.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectRepo checks that dir is inside a git working tree
func DetectRepo(ctx context.Context, dir string) error {
	if _, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return fmt.Errorf("not a git repository: %w", err)
	}
	return nil
}

// FindRoot returns the top-level directory of the repository holding dir
func FindRoot(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("failed to find repository root: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// StagedFiles returns files added, copied, modified or renamed in the index
func StagedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := run(ctx, dir, "diff", "--cached", "--name-only", "--diff-filter=ACMR")
	if err != nil {
		return nil, fmt.Errorf("failed to get staged files: %w", err)
	}
	return lines(out), nil
}

// ChangedFiles returns files that differ from base in the working tree.
// An empty base means HEAD. Untracked files are included.
func ChangedFiles(ctx context.Context, dir, base string) ([]string, error) {
	if base == "" {
		base = "HEAD"
	}
	out, err := run(ctx, dir, "diff", "--name-only", base)
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}
	files := lines(out)

	untracked, err := run(ctx, dir, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("failed to list untracked files: %w", err)
	}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f] = true
	}
	for _, f := range lines(untracked) {
		if !seen[f] {
			files = append(files, f)
		}
	}
	return files, nil
}

// Relative rewrites repository-relative paths so they are relative to
// root instead. Paths outside root are dropped.
func Relative(repoRoot, root string, files []string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	var result []string
	for _, f := range files {
		rel, err := filepath.Rel(absRoot, filepath.Join(repoRoot, filepath.FromSlash(f)))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		result = append(result, filepath.ToSlash(rel))
	}
	return result, nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func lines(output string) []string {
	var result []string
	for _, f := range strings.Split(strings.TrimSpace(output), "\n") {
		if f != "" {
			result = append(result, f)
		}
	}
	return result
}
