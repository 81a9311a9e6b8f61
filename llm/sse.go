package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// SSEClient talks to an OpenAI-compatible chat-completion endpoint:
// POST <baseURL>/v1/chat/completions with stream: true, response decoded
// frame by frame from a text/event-stream body. Endpoints that ignore the
// stream flag and answer with a plain JSON completion are accepted too.
type SSEClient struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64

	// HTTPClient defaults to http.DefaultClient when nil.
	HTTPClient *http.Client

	// OnWarning receives a message for every non-JSON frame the decoder
	// skips. Defaults to the standard logger.
	OnWarning func(msg string)
}

// NewSSE returns an SSEClient for the given endpoint.
func NewSSE(baseURL, model, apiKey string) *SSEClient {
	return &SSEClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		APIKey:      apiKey,
		Temperature: 1.0,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

type chatFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *SSEClient) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.OnWarning != nil {
		c.OnWarning(msg)
		return
	}
	log.Printf("llm: %s", msg)
}

// StreamCompletion implements Client over the SSE wire contract.
func (c *SSEClient) StreamCompletion(ctx context.Context, messages []Message, onDelta func(content string)) (Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Stream:      true,
		Temperature: c.Temperature,
		Messages:    messages,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}
		return Result{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.consumeNonStreaming(ctx, resp.Body, onDelta)
	}
	return c.consumeStream(ctx, resp.Body, onDelta)
}

// consumeStream decodes text/event-stream frames: groups of lines
// separated by a blank line, each data line prefixed "data:", terminated
// by "data: [DONE]". Non-JSON payloads are logged and skipped.
func (c *SSEClient) consumeStream(ctx context.Context, body io.Reader, onDelta func(string)) (Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if done := c.emitFrame(data.String(), onDelta); done {
				return Result{}, nil
			}
			data.Reset()
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(rest))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}
		return Result{}, &TransportError{Err: err}
	}
	c.emitFrame(data.String(), onDelta)
	return Result{}, nil
}

// emitFrame parses one accumulated data payload and forwards its delta
// content. It reports whether the payload was the [DONE] terminator.
func (c *SSEClient) emitFrame(payload string, onDelta func(string)) bool {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return false
	}
	if payload == "[DONE]" {
		return true
	}
	var frame chatFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		c.warn("skipping non-JSON frame: %.80q", payload)
		return false
	}
	if len(frame.Choices) == 0 {
		return false
	}
	if content := frame.Choices[0].Delta.Content; content != "" {
		onDelta(content)
	}
	return false
}

// consumeNonStreaming accepts the plain {choices:[{message:{content}}]}
// response shape from endpoints that do not stream.
func (c *SSEClient) consumeNonStreaming(ctx context.Context, body io.Reader, onDelta func(string)) (Result, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Aborted: true}, nil
		}
		return Result{}, &TransportError{Err: err}
	}
	var frame chatFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Result{}, &TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(frame.Choices) > 0 && frame.Choices[0].Message.Content != "" {
		onDelta(frame.Choices[0].Message.Content)
	}
	return Result{}, nil
}
