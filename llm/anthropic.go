package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

// AnthropicClient wraps the native Anthropic SDK for users who point the
// session at Anthropic directly instead of an OpenAI-compatible proxy.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates a native Anthropic transport.
func NewAnthropic(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicClient{client: client, model: m}, nil
}

// NewAnthropicFromEnv creates a native Anthropic transport using the
// ANTHROPIC_API_KEY env var.
func NewAnthropicFromEnv(model string) (*AnthropicClient, error) {
	return NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), model)
}

// StreamCompletion implements Client over the SDK's streaming iterator.
// Messages with role "system" become the system prompt; the rest are
// replayed as user/assistant turns.
func (c *AnthropicClient) StreamCompletion(ctx context.Context, messages []Message, onDelta func(content string)) (Result, error) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  turns,
	})

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onDelta(delta.Text)
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}
		return Result{}, &TransportError{Err: fmt.Errorf("claude API error: %w", err)}
	}
	if ctx.Err() != nil {
		return Result{Aborted: true}, nil
	}
	return Result{}, nil
}
