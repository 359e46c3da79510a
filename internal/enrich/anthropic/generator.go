// Package anthropic implements enrich.Generator on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quillnotes/quill/internal/enrich"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-haiku-4-5"

// Config holds provider settings.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL string
}

// Generator sends each prompt as a single user message.
type Generator struct {
	client anthropic.Client
	model  string
}

// New creates a Generator. The SDK's own retries are disabled; callers
// decide whether to try again.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Generate implements enrich.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string, params enrich.Params) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(params.MaxOutputTokens),
		Temperature: anthropic.Float(params.Temperature),
		TopK:        anthropic.Int(int64(params.TopK)),
		TopP:        anthropic.Float(params.TopP),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic request failed with status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("anthropic returned no text (stop reason %q)", msg.StopReason)
	}
	return sb.String(), nil
}
