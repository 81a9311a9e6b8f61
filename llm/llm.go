// Package llm issues streaming chat completions against an external
// endpoint and surfaces each content delta as it arrives. Two transports
// implement the Client interface: an OpenAI-compatible server-sent-event
// transport (the primary wire contract) and a native Anthropic transport.
package llm

import (
	"context"
	"fmt"
)

// Message is one chat turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is the terminal outcome of a completed stream. A user abort is a
// sentinel result, not an error.
type Result struct {
	Aborted bool
}

// Client is the capability set both transports expose. StreamCompletion
// issues a streaming completion for messages and invokes onDelta for each
// content fragment as it arrives, in order. It returns Result{Aborted:
// true} without error when ctx is cancelled by the caller.
type Client interface {
	StreamCompletion(ctx context.Context, messages []Message, onDelta func(content string)) (Result, error)
}

// TransportError reports an HTTP-level failure: a failed request or a
// non-2xx response. The generation loop exits when it sees one.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: transport: %v", e.Err)
	}
	return fmt.Sprintf("llm: transport: status %d: %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }
