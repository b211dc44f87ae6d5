package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/mcpagent/internal/config"
)

// ErrRejected is returned for a query the filter refuses
var ErrRejected = errors.New("query rejected")

// Filter screens queries against a length limit, blocked keywords and patterns
type Filter struct {
	enabled  bool
	maxChars int
	keywords []string
	patterns []*regexp.Regexp
}

// New builds a filter. A disabled filter accepts everything.
func New(cfg config.ModerationConfig) (*Filter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Filter{
		enabled:  cfg.Enabled,
		maxChars: cfg.MaxQueryChars,
		keywords: keywords,
		patterns: patterns,
	}, nil
}

// CheckQuery returns an ErrRejected error if the query may not reach the agent.
// The message never echoes the matched pattern.
func (f *Filter) CheckQuery(query string) error {
	if f == nil || !f.enabled {
		return nil
	}

	if f.maxChars > 0 {
		if n := utf8.RuneCountInString(query); n > f.maxChars {
			return fmt.Errorf("%w: %d characters exceeds the limit of %d", ErrRejected, n, f.maxChars)
		}
	}

	normalized := strings.ToLower(query)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			return fmt.Errorf("%w: contains blocked keyword %q", ErrRejected, kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(query) {
			return fmt.Errorf("%w: matches blocked pattern #%d", ErrRejected, i+1)
		}
	}
	return nil
}
