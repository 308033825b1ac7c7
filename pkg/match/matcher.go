package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher selects paths during a recursive walk.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: a file must match at least one (all files when empty)
//   - Exclude patterns: a file or directory must not match any
//
// Paths are relative to the walk root and slash-separated.
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes   []string
	excludes   []string
	skipHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that files must match (at least one).
	// Optional: if empty, every file is included.
	Includes []string

	// Excludes are glob patterns that files and directories must not match.
	// An excluded directory is not descended into.
	Excludes []string

	// SkipHidden drops paths with a segment starting with '.'.
	SkipHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Patterns are normalized to handle Windows-style backslash separators
// while preserving escape sequences for literal glob metacharacters.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:   includes,
		excludes:   excludes,
		skipHidden: cfg.SkipHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		normalized := NormalizePattern(r)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether the file at rel is selected.
//
// A file matches if:
//  1. It matches at least one include pattern, or no includes are set
//  2. It does not match any exclude pattern
//  3. It is not hidden, or SkipHidden is off
//
// A nil Matcher selects everything.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return true
	}
	if m.skipHidden && IsHidden(rel) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if matchPattern(inc, rel) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return !m.excluded(rel)
}

// Prune reports whether the directory at rel and everything below it
// should be skipped. Include patterns never prune.
func (m *Matcher) Prune(rel string) bool {
	if m == nil {
		return false
	}
	if m.skipHidden && IsHidden(rel) {
		return true
	}
	return m.excluded(rel)
}

func (m *Matcher) excluded(rel string) bool {
	for _, exc := range m.excludes {
		if matchPattern(exc, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches a path against a doublestar pattern.
func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		// Pattern was validated at construction time, so this shouldn't happen
		return false
	}
	return matched
}
