package recognizer

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	model  string
}

// NewClient creates a recognition client backed by the SDK.
func NewClient(apiKey, model string) Client {
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

const fieldsSystem = `You extract product records from raw page or document content.
Respond with only a JSON object:
{"clarity": <0..1>, "records": [{"fields": {<role>: <string value>}, "confidence": {<role>: <0..1>}}]}
Omit roles you cannot find. Never invent values.`

const selectorsSystem = `You analyze a content sample and propose one locator expression per requested role.
Respond with only a JSON object:
{"confidence": <0..1>, "selectors": {<role>: <locator>}}`

func (c *sdkClient) RecognizeFields(ctx context.Context, req FieldRequest) (*FieldResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var prompt strings.Builder
	prompt.WriteString("Roles: " + strings.Join(req.Roles, ", ") + "\n")
	if req.Hint != "" {
		prompt.WriteString("Region shape: " + req.Hint + "\n")
	}
	prompt.WriteString("\nContent:\n" + req.Content)

	text, err := c.complete(ctx, model, fieldsSystem, prompt.String())
	if err != nil {
		return nil, eris.Wrap(err, "recognizer: recognize fields")
	}

	var result FieldResult
	if err := json.Unmarshal(extractJSON(text), &result); err != nil {
		return nil, eris.Wrap(err, "recognizer: unmarshal fields response")
	}
	result.Engine = model
	return &result, nil
}

func (c *sdkClient) ProposeSelectors(ctx context.Context, req SelectorRequest) (*SelectorProposal, error) {
	var prompt strings.Builder
	prompt.WriteString("Origin: " + req.Origin + "\n")
	prompt.WriteString("Roles: " + strings.Join(req.Roles, ", ") + "\n")
	prompt.WriteString("\nSample:\n" + req.Sample)

	text, err := c.complete(ctx, c.model, selectorsSystem, prompt.String())
	if err != nil {
		return nil, eris.Wrap(err, "recognizer: propose selectors")
	}

	var result SelectorProposal
	if err := json.Unmarshal(extractJSON(text), &result); err != nil {
		return nil, eris.Wrap(err, "recognizer: unmarshal selectors response")
	}
	return &result, nil
}

func (c *sdkClient) complete(ctx context.Context, model, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: 4096,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			out.WriteString(b.Text)
		}
	}
	return out.String(), nil
}

// extractJSON strips prose and code fences around the first JSON object in
// the response.
func extractJSON(text string) []byte {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return []byte(text)
	}
	return []byte(text[start : end+1])
}
