package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrMaxStepsExceeded is returned when the model keeps calling tools past the step budget
var ErrMaxStepsExceeded = errors.New("maximum agent steps exceeded")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AgentMessage represents a message in the conversation
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage across steps
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// AnswerKind tags the shape of a final answer
type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerRecords AnswerKind = "records"
)

// Answer is the final result of a run: free text or a list of records
type Answer struct {
	Kind    AnswerKind
	Text    string
	Records []map[string]any
}

// TextAnswer builds a text answer
func TextAnswer(text string) Answer {
	return Answer{Kind: AnswerText, Text: text}
}

// RecordsAnswer builds a records answer; a nil slice becomes empty
func RecordsAnswer(records []map[string]any) Answer {
	if records == nil {
		records = []map[string]any{}
	}
	return Answer{Kind: AnswerRecords, Records: records}
}

// Value returns the payload for serialization: a string or a list of records
func (a Answer) Value() any {
	if a.Kind == AnswerRecords {
		return a.Records
	}
	return a.Text
}

var fencedBlock = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

// ParseAnswer classifies the model's final message. A JSON array of objects, bare or in
// a single fenced code block, becomes a records answer; anything else is text.
func ParseAnswer(content string) Answer {
	candidate := strings.TrimSpace(content)
	if m := fencedBlock.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(candidate, "[") {
		return TextAnswer(content)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return TextAnswer(content)
	}
	if dec.More() {
		return TextAnswer(content)
	}
	for _, r := range records {
		if r == nil {
			return TextAnswer(content)
		}
	}
	return RecordsAnswer(records)
}

// IsRetryableError reports whether an LLM call failed transiently: rate limits,
// server errors, timeouts and dropped connections.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "rate limit", "429", "500", "502", "503", "504", "529"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
