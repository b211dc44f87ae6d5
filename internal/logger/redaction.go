package logger

import (
	"io"
	"regexp"
)

const redactedMark = "[REDACTED]"

// Redactor masks credentials in log output: provider API keys, bearer tokens
// and the tokens used by the built-in tool-server presets.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic and OpenAI keys
			regexp.MustCompile(`sk-(?:ant-|proj-)?[a-zA-Z0-9_-]{20,}`),

			// Authorization header values, including inside escaped JSON
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),

			// Tool-server credentials
			regexp.MustCompile(`(?:ghp|gho|ghs|ghu)_[a-zA-Z0-9]{20,}`),
			regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{20,}`),
			regexp.MustCompile(`xox[abposr]-[a-zA-Z0-9-]{10,}`),
			regexp.MustCompile(`(?:ntn|secret)_[a-zA-Z0-9]{20,}`),

			// key=value and "key": "value" forms
			regexp.MustCompile(`(?i)(?:api_key|bearer_token|password)"?\s*[:=]\s*"?[^\s",}]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// AddLiteral masks an exact secret, such as the configured bearer token
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 4 {
		return
	}
	r.patterns = append(r.patterns, regexp.MustCompile(regexp.QuoteMeta(secret)))
}

// Redact masks sensitive substrings of s
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redactedMark)
	}
	return s
}

// Wrap returns a writer that redacts every write before forwarding it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write
// when redaction changes the length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
