// Package filter defines the equality filters applied to both retrieval branches.
package filter

import "fmt"

// MaxConditions is the maximum number of match conditions per filter.
const MaxConditions = 16

// Expression is a conjunction of exact-match conditions. Both retrieval
// branches are constrained by the same expression so fusion compares
// like with like.
type Expression struct {
	must []Match
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must []Match) (Expression, error) {
	if len(must) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	return Expression{must: must}, nil
}

// Must returns the match conditions.
func (e Expression) Must() []Match { return e.must }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.must) == 0 }

// Match is a single exact-match clause on a tag field.
type Match struct {
	key   string
	value string
}

// NewMatch creates an exact tag match condition.
func NewMatch(key, value string) (Match, error) {
	if key == "" {
		return Match{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Match{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Match{key: key, value: value}, nil
}

// Key returns the field name.
func (m Match) Key() string { return m.key }

// Value returns the exact match value.
func (m Match) Value() string { return m.value }

// ForRepo builds the standard repo/commit scope filter. Empty values are
// omitted so a search may span commits within a repository.
func ForRepo(repoID, commit string) (Expression, error) {
	var must []Match
	if repoID != "" {
		m, err := NewMatch("repo_id", repoID)
		if err != nil {
			return Expression{}, err
		}
		must = append(must, m)
	}
	if commit != "" {
		m, err := NewMatch("commit", commit)
		if err != nil {
			return Expression{}, err
		}
		must = append(must, m)
	}
	return NewExpression(must)
}
