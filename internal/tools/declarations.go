package tools

import (
	"encoding/json"

	"github.com/linnemanlabs/bodyguard/internal/analysis"
)

// Declaration is a static Tool.
type Declaration struct {
	name        string
	description string
	schema      json.RawMessage
}

func (d *Declaration) Name() string                { return d.name }
func (d *Declaration) Description() string         { return d.description }
func (d *Declaration) Parameters() json.RawMessage { return d.schema }

// LockUserAccount temporarily disables account access.
var LockUserAccount = &Declaration{
	name:        analysis.CallLockUserAccount,
	description: "Temporarily disables account access to prevent unauthorized data exfiltration.",
	schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"user_id": {"type": "string", "description": "The unique identifier for the user account."},
			"reason": {"type": "string", "description": "The reason for locking the account."}
		},
		"required": ["user_id", "reason"]
	}`),
}

// RotateSecurityKeys generates new API keys after a suspected leak.
var RotateSecurityKeys = &Declaration{
	name:        analysis.CallRotateSecurityKeys,
	description: "Automatically generates new API keys if a leak is detected.",
	schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"account_id": {"type": "string", "description": "The account ID associated with the keys."},
			"scope": {"type": "string", "description": "The scope of keys to rotate (e.g., \"all\", \"api_only\")."}
		},
		"required": ["account_id"]
	}`),
}

// TriggerVoiceCall asks for an outbound call explaining the situation to the user.
var TriggerVoiceCall = &Declaration{
	name:        analysis.CallTriggerVoiceCall,
	description: "Initiates a voice call via ElevenLabs to explain the situation to the user.",
	schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"phone": {"type": "string", "description": "The phone number to call."},
			"script": {"type": "string", "description": "The exact script for the AI voice to speak."}
		},
		"required": ["phone", "script"]
	}`),
}

// NewSecurityRegistry returns a registry holding the three security tools.
func NewSecurityRegistry() *Registry {
	r := NewRegistry()
	r.Register(LockUserAccount)
	r.Register(RotateSecurityKeys)
	r.Register(TriggerVoiceCall)
	return r
}
