// Package claude implements analysis.Analyzer on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/bodyguard/internal/alert"
	"github.com/linnemanlabs/bodyguard/internal/analysis"
	"github.com/linnemanlabs/bodyguard/internal/tools"
)

const (
	responseTokens = 1024
	temperature    = 0.1
)

// Client analyzes alerts with a single Messages API call. Tool use blocks in
// the reply are returned as function calls, they are never executed here.
type Client struct {
	client   anthropic.Client
	model    string
	registry *tools.Registry
}

// New creates a Claude analyzer. Retries are disabled; a failed call is
// reported to the caller as is.
func New(apiKey, model string, registry *tools.Registry, opts ...option.RequestOption) *Client {
	if registry == nil {
		registry = tools.NewSecurityRegistry()
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &Client{
		client:   anthropic.NewClient(append(base, opts...)...),
		model:    model,
		registry: registry,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Analyze sends the alert as JSON with the security tool declarations.
func (c *Client) Analyze(ctx context.Context, al *alert.Alert) (*analysis.Result, error) {
	prompt, err := buildUserPrompt(al)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   responseTokens,
		System:      []anthropic.TextBlockParam{{Text: SystemInstruction}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Tools:       toSDKTools(c.registry.ToToolDefs()),
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("claude: messages.new: %w", err)
	}

	res := fromSDKResponse(msg)
	if res.Model == "" {
		res.Model = c.model
	}
	return res, nil
}

func buildUserPrompt(al *alert.Alert) (string, error) {
	b, err := json.Marshal(al)
	if err != nil {
		return "", fmt.Errorf("claude: marshal alert: %w", err)
	}
	return string(b), nil
}

// toSDKTools converts registry tool definitions to SDK tool params.
func toSDKTools(defs []tools.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		// declarations are static JSON; a bad schema just yields an empty one
		_ = json.Unmarshal(d.InputSchema, &schema)

		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}})
	}
	return out
}

// fromSDKResponse joins text blocks and collects tool_use blocks as calls.
func fromSDKResponse(msg *anthropic.Message) *analysis.Result {
	var texts []string
	var calls []analysis.FunctionCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			calls = append(calls, analysis.FunctionCall{Name: block.Name, Args: args})
		}
	}

	return &analysis.Result{
		Text:          strings.Join(texts, "\n"),
		FunctionCalls: calls,
		Model:         string(msg.Model),
		InputTokens:   int(msg.Usage.InputTokens),
		OutputTokens:  int(msg.Usage.OutputTokens),
	}
}
