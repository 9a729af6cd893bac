// Package parser turns repository files into semantic units ready for
// embedding and indexing.
package parser

import "context"

// Unit is a contiguous span of a file with line-level provenance.
// Lines are 1-indexed and inclusive.
type Unit struct {
	Path      string
	Index     int
	StartLine int
	EndLine   int
	Content   string
}

// Parser splits file content into semantic units. Implementations may be
// language-aware; the pipeline only relies on units carrying resolvable
// line spans.
type Parser interface {
	Parse(ctx context.Context, path string, content []byte) ([]Unit, error)
}
