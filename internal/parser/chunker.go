package parser

import (
	"context"
	"strings"
)

// LineChunker splits files into line windows of roughly TargetBytes each,
// carrying OverlapLines of trailing context into the next unit so that
// statements straddling a boundary stay searchable.
type LineChunker struct {
	TargetBytes  int
	OverlapLines int
}

// NewLineChunker creates a chunker with the given window size and overlap.
// Non-positive targetBytes falls back to 2048.
func NewLineChunker(targetBytes, overlapLines int) *LineChunker {
	if targetBytes <= 0 {
		targetBytes = 2048
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &LineChunker{TargetBytes: targetBytes, OverlapLines: overlapLines}
}

// Parse splits content into units. Output is deterministic for identical
// input: same windows, same line spans, same order.
func (c *LineChunker) Parse(_ context.Context, path string, content []byte) ([]Unit, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	// A trailing newline produces an empty final element; drop it so the
	// last unit's EndLine matches the real line count.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var units []Unit
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			size += len(lines[end]) + 1
			end++
			if size >= c.TargetBytes {
				break
			}
		}

		units = append(units, Unit{
			Path:      path,
			Index:     len(units),
			StartLine: start + 1,
			EndLine:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})

		if end >= len(lines) {
			break
		}

		next := end - c.OverlapLines
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return units, nil
}
