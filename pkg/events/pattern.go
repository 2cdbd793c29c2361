package events

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// PatternOptions configure a PatternMatchingHandler.
type PatternOptions struct {
	// Patterns are the glob patterns that at least one event path must match.
	// An empty list matches every path. Patterns without a path separator are
	// matched against base names, others against full paths. Patterns support
	// doublestar (**) syntax.
	Patterns []string
	// IgnorePatterns are glob patterns that exclude an event if any event path
	// matches.
	IgnorePatterns []string
	// IgnoreDirectories excludes directory events.
	IgnoreDirectories bool
	// CaseSensitive controls whether or not matching is case sensitive.
	CaseSensitive bool
}

// PatternMatchingHandler is a decorator that forwards events whose paths match
// a set of glob patterns.
type PatternMatchingHandler struct {
	filtering
	// patterns are the normalized include patterns.
	patterns []string
	// ignorePatterns are the normalized exclude patterns.
	ignorePatterns []string
	// ignoreDirectories indicates whether or not directory events are dropped.
	ignoreDirectories bool
	// caseSensitive indicates whether or not matching is case sensitive.
	caseSensitive bool
}

// NewPatternMatchingHandler creates a new pattern-matching decorator around the
// specified handler.
func NewPatternMatchingHandler(target Handler, options PatternOptions) (*PatternMatchingHandler, error) {
	// Normalize and validate patterns.
	patterns, err := normalizePatterns(options.Patterns, options.CaseSensitive)
	if err != nil {
		return nil, errors.Wrap(err, "invalid pattern")
	}
	ignorePatterns, err := normalizePatterns(options.IgnorePatterns, options.CaseSensitive)
	if err != nil {
		return nil, errors.Wrap(err, "invalid ignore pattern")
	}

	// Create the handler.
	result := &PatternMatchingHandler{
		patterns:          patterns,
		ignorePatterns:    ignorePatterns,
		ignoreDirectories: options.IgnoreDirectories,
		caseSensitive:     options.CaseSensitive,
	}
	result.filtering = filtering{target: target, accept: result.Match}

	// Success.
	return result, nil
}

// normalizePatterns validates patterns and converts them to the canonical
// form used for matching.
func normalizePatterns(patterns []string, caseSensitive bool) ([]string, error) {
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !caseSensitive {
			pattern = strings.ToLower(pattern)
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("malformed pattern: %s", pattern)
		}
		result = append(result, pattern)
	}
	return result, nil
}

// matchPath determines whether or not a path matches a normalized pattern.
func (h *PatternMatchingHandler) matchPath(pattern, path string) bool {
	path = filepath.ToSlash(path)
	if !h.caseSensitive {
		path = strings.ToLower(path)
	}
	if !strings.Contains(pattern, "/") {
		path = path[strings.LastIndexByte(path, '/')+1:]
	}
	matched, _ := doublestar.Match(pattern, path)
	return matched
}

// matchAny determines whether or not any path matches any pattern.
func (h *PatternMatchingHandler) matchAny(patterns, paths []string) bool {
	for _, pattern := range patterns {
		for _, path := range paths {
			if h.matchPath(pattern, path) {
				return true
			}
		}
	}
	return false
}

// Match determines whether or not an event passes the handler's filter.
func (h *PatternMatchingHandler) Match(event Event) bool {
	if h.ignoreDirectories && event.IsDirectory {
		return false
	}
	paths := event.Paths()
	if h.matchAny(h.ignorePatterns, paths) {
		return false
	}
	return len(h.patterns) == 0 || h.matchAny(h.patterns, paths)
}
