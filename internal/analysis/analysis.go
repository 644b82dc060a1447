// Package analysis defines the contract of the LLM analysis collaborator and
// an HTTP client for a remote analysis endpoint.
package analysis

import (
	"context"

	"github.com/linnemanlabs/bodyguard/internal/alert"
)

// Structured call names understood by the decision policy.
const (
	CallLockUserAccount    = "lock_user_account"
	CallRotateSecurityKeys = "rotate_security_keys"
	CallTriggerVoiceCall   = "trigger_elevenlabs_call"
)

// Analyzer is the interface for any analysis backend.
type Analyzer interface {
	Analyze(ctx context.Context, al *alert.Alert) (*Result, error)
}

// FunctionCall is a structured tool invocation emitted by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// StringArg returns args[key] when it is a non-empty string.
func (c FunctionCall) StringArg(key string) (string, bool) {
	v, ok := c.Args[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Result is the model's raw output for one alert.
type Result struct {
	Text          string         `json:"text"`
	FunctionCalls []FunctionCall `json:"functionCalls"`
	Model         string         `json:"-"`
	InputTokens   int            `json:"-"`
	OutputTokens  int            `json:"-"`
}

// Response is the wire shape returned by an analysis endpoint.
type Response struct {
	Success       bool           `json:"success"`
	Text          string         `json:"text"`
	FunctionCalls []FunctionCall `json:"functionCalls"`
	Error         string         `json:"error,omitempty"`
	Message       string         `json:"message,omitempty"`
}
