// Package anthropicprovider implements the triage and prompt-extraction
// classifier on the Anthropic Messages API. Structured output is obtained
// by forcing a single tool call whose input schema is the result shape.
package anthropicprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tinyland-inc/nanoclaw/pkg/engine"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

const defaultBaseURL = "https://api.anthropic.com"

const (
	classifySystem = "You are a helpful bot connected with nanobanana. Be funny! " +
		"Your task is to understand which feature the user wants to use. " +
		"Possible features: 'text_to_image', 'image_to_image'. " +
		"If you cannot tell, ask the user which one they want."
	extractSystem = "Read the conversation and extract the user's image prompt. " +
		"If no usable prompt is present, ask the user to provide or confirm one."
)

type Classifier struct {
	client  *anthropic.Client
	model   string
	baseURL string
}

func NewClassifier(apiKey, apiBase, model string) *Classifier {
	baseURL := normalizeBaseURL(apiBase)
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Classifier{
		client:  &client,
		model:   model,
		baseURL: baseURL,
	}
}

func NewClassifierWithClient(client *anthropic.Client, model string) *Classifier {
	return &Classifier{
		client:  client,
		model:   model,
		baseURL: defaultBaseURL,
	}
}

func (c *Classifier) BaseURL() string {
	return c.baseURL
}

// routeResult mirrors the route_feature tool input schema.
type routeResult struct {
	InterpretedFeature string `json:"interpreted_feature"`
	Output             string `json:"output"`
}

// promptResult mirrors the read_prompt tool input schema.
type promptResult struct {
	UserPrompt string `json:"user_prompt"`
	Output     string `json:"output"`
}

func (c *Classifier) ClassifyFeature(ctx context.Context, transcript []session.Message) (engine.Classification, error) {
	tool := anthropic.ToolParam{
		Name: "route_feature",
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"interpreted_feature": map[string]any{
					"type":        "string",
					"enum":        []string{engine.FeatureTextToImage, engine.FeatureImageToImage},
					"description": "The feature the user wants, when it is clear.",
				},
				"output": map[string]any{
					"type":        "string",
					"description": "Question for the user when the feature is unclear.",
				},
			},
		},
	}
	tool.Description = anthropic.String("Report the interpreted feature, or a clarifying question.")

	input, err := c.invokeTool(ctx, classifySystem, transcript, tool)
	if err != nil {
		return engine.Classification{}, err
	}

	var out routeResult
	if err := json.Unmarshal(input, &out); err != nil {
		return engine.Classification{}, fmt.Errorf("decoding route_feature output: %w", err)
	}
	return engine.Classification{Feature: out.InterpretedFeature, Reply: out.Output}, nil
}

func (c *Classifier) ExtractPrompt(ctx context.Context, transcript []session.Message) (engine.PromptExtraction, error) {
	tool := anthropic.ToolParam{
		Name: "read_prompt",
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"user_prompt": map[string]any{
					"type":        "string",
					"description": "The user's image prompt, when present.",
				},
				"output": map[string]any{
					"type":        "string",
					"description": "Question asking the user to provide or confirm the prompt.",
				},
			},
		},
	}
	tool.Description = anthropic.String("Report the extracted prompt, or a question for the user.")

	input, err := c.invokeTool(ctx, extractSystem, transcript, tool)
	if err != nil {
		return engine.PromptExtraction{}, err
	}

	var out promptResult
	if err := json.Unmarshal(input, &out); err != nil {
		return engine.PromptExtraction{}, fmt.Errorf("decoding read_prompt output: %w", err)
	}
	return engine.PromptExtraction{Prompt: out.UserPrompt, Reply: out.Output}, nil
}

// invokeTool sends the transcript with a single forced tool and returns the
// tool call's input JSON.
func (c *Classifier) invokeTool(
	ctx context.Context,
	system string,
	transcript []session.Message,
	tool anthropic.ToolParam,
) (json.RawMessage, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  buildMessages(transcript),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Tools:     []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name},
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			tu := block.AsToolUse()
			if tu.Name == tool.Name {
				return json.RawMessage(tu.Input), nil
			}
		}
	}
	return nil, fmt.Errorf("response missing %s tool call", tool.Name)
}

// buildMessages maps the session transcript onto Anthropic messages.
// System notes (image-count markers and the like) become bracketed user
// turns so they stay visible as conversation context rather than
// instructions.
func buildMessages(transcript []session.Message) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case session.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case session.RoleSystem:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock("[note] "+m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return msgs
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}

	base = strings.TrimRight(base, "/")
	if b, ok := strings.CutSuffix(base, "/v1"); ok {
		base = b
	}
	if base == "" {
		return defaultBaseURL
	}

	return base
}
