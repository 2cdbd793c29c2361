package events

import (
	"regexp"

	"github.com/pkg/errors"
)

// RegexOptions configure a RegexMatchingHandler.
type RegexOptions struct {
	// Regexes are the expressions that at least one event path must match. An
	// empty list matches every path. Expressions are matched against full
	// paths and must match the entire path.
	Regexes []string
	// IgnoreRegexes are expressions that exclude an event if any event path
	// matches.
	IgnoreRegexes []string
	// IgnoreDirectories excludes directory events.
	IgnoreDirectories bool
	// CaseSensitive controls whether or not matching is case sensitive.
	CaseSensitive bool
}

// RegexMatchingHandler is a decorator that forwards events whose paths match a
// set of regular expressions.
type RegexMatchingHandler struct {
	filtering
	// regexes are the include expressions.
	regexes []*regexp.Regexp
	// ignoreRegexes are the exclude expressions.
	ignoreRegexes []*regexp.Regexp
	// ignoreDirectories indicates whether or not directory events are dropped.
	ignoreDirectories bool
}

// compileRegexes compiles a set of expressions anchored to match entire paths.
func compileRegexes(expressions []string, caseSensitive bool) ([]*regexp.Regexp, error) {
	result := make([]*regexp.Regexp, 0, len(expressions))
	for _, expression := range expressions {
		source := "^(?:" + expression + ")$"
		if !caseSensitive {
			source = "(?i)" + source
		}
		compiled, err := regexp.Compile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to compile expression (%s)", expression)
		}
		result = append(result, compiled)
	}
	return result, nil
}

// NewRegexMatchingHandler creates a new regex-matching decorator around the
// specified handler.
func NewRegexMatchingHandler(target Handler, options RegexOptions) (*RegexMatchingHandler, error) {
	regexes, err := compileRegexes(options.Regexes, options.CaseSensitive)
	if err != nil {
		return nil, err
	}
	ignoreRegexes, err := compileRegexes(options.IgnoreRegexes, options.CaseSensitive)
	if err != nil {
		return nil, err
	}
	result := &RegexMatchingHandler{
		regexes:           regexes,
		ignoreRegexes:     ignoreRegexes,
		ignoreDirectories: options.IgnoreDirectories,
	}
	result.filtering = filtering{target: target, accept: result.Match}
	return result, nil
}

// matchAny determines whether or not any path matches any expression.
func matchAny(expressions []*regexp.Regexp, paths []string) bool {
	for _, expression := range expressions {
		for _, path := range paths {
			if expression.MatchString(path) {
				return true
			}
		}
	}
	return false
}

// Match determines whether or not an event passes the handler's filter.
func (h *RegexMatchingHandler) Match(event Event) bool {
	if h.ignoreDirectories && event.IsDirectory {
		return false
	}
	paths := event.Paths()
	if matchAny(h.ignoreRegexes, paths) {
		return false
	}
	return len(h.regexes) == 0 || matchAny(h.regexes, paths)
}
