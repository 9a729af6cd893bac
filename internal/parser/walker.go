package parser

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const binarySniffLen = 8000

// Skipped directory names regardless of depth.
var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	"vendor":       {},
}

// Walker enumerates the indexable files of a repository in a stable order.
type Walker struct {
	MaxFileSize int64 // bytes; files above this are skipped
}

// NewWalker creates a walker. maxFileSizeKB <= 0 means 512 KB.
func NewWalker(maxFileSizeKB int) *Walker {
	if maxFileSizeKB <= 0 {
		maxFileSizeKB = 512
	}
	return &Walker{MaxFileSize: int64(maxFileSizeKB) * 1024}
}

// Discover returns relative slash-separated paths of all indexable files
// under root, sorted lexicographically. The ordering is reproducible across
// restarts for an unchanged tree.
func (w *Walker) Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() > w.MaxFileSize {
			return nil
		}

		ok, err := isTextFile(path)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// isTextFile sniffs the first bytes for a NUL, the usual binary tell.
func isTextFile(path string) (bool, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return !bytes.ContainsRune(buf[:n], 0), nil
}
