// Package walker discovers indexable files under a repository checkout.
package walker

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo holds metadata about a discovered file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
}

// maxFileSize is the largest file we'll consider (1 MB).
const maxFileSize = 1 << 20

// DefaultIncludes matches the file types the chunker knows how to split.
var DefaultIncludes = []string{
	"*.md", "*.mmd", "*.go", "*.py", "*.yaml", "*.yml", "*.json", "*.tf", "*.sh",
}

// defaultExcludes are used when no .lodestoneignore file exists.
var defaultExcludes = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".idea",
	".vscode",
	".lodestone",
	"bin",
	"result",
	"dist",
	"build",
	"*.lock",
}

// Walk traverses the tree rooted at root and sends files matching the
// include globs on the returned channel. Directories and files matching
// .lodestoneignore patterns (or the defaults) are skipped, as are symlinks,
// empty files, and files over 1 MB.
func Walk(root string, includes []string) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)

	if len(includes) == 0 {
		includes = DefaultIncludes
	}

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		excludes := loadIgnorePatterns(absRoot)

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip errors, keep walking
			}

			name := d.Name()
			rel, _ := filepath.Rel(absRoot, path)
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				if matchesPattern(name, rel, excludes) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if matchesPattern(name, rel, excludes) {
				return nil
			}
			if !matchesAny(name, includes) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > maxFileSize || info.Size() == 0 {
				return nil
			}

			files <- FileInfo{Path: path, RelPath: rel, Size: info.Size()}
			return nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return files, errs
}

// loadIgnorePatterns reads .lodestoneignore from the repo root, falling
// back to the defaults when the file is missing or empty.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, ".lodestoneignore"))
	if err != nil {
		return defaultExcludes
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return defaultExcludes
	}
	return patterns
}

func matchesAny(name string, globs []string) bool {
	for _, g := range globs {
		if matched, _ := filepath.Match(g, name); matched {
			return true
		}
	}
	return false
}

// matchesPattern checks a name or relative path against exclude patterns:
// exact name, path prefix, or glob.
func matchesPattern(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/")
		if name == p {
			return true
		}
		if strings.HasPrefix(relPath, p+"/") || relPath == p {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
