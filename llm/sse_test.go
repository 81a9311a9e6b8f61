package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func TestStreamCompletionDeltas(t *testing.T) {
	frames := []string{
		`{"choices":[{"delta":{"content":"BASS\n"}}]}`,
		`{"choices":[{"delta":{"content":"1 C2:80\n"}}]}`,
		`{"choices":[{"delta":{"content":"2 .\n"}}]}`,
		`[DONE]`,
	}
	srv := httptest.NewServer(sseHandler(frames))
	defer srv.Close()

	client := NewSSE(srv.URL, "test-model", "")
	var got strings.Builder
	res, err := client.StreamCompletion(context.Background(), []Message{{Role: "user", Content: "play"}}, func(content string) {
		got.WriteString(content)
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if res.Aborted {
		t.Error("unexpected aborted result")
	}
	want := "BASS\n1 C2:80\n2 .\n"
	if got.String() != want {
		t.Errorf("deltas = %q, want %q", got.String(), want)
	}
}

func TestStreamCompletionSkipsNonJSONFrames(t *testing.T) {
	frames := []string{
		`{"choices":[{"delta":{"content":"A"}}]}`,
		`this is not json`,
		`{"choices":[{"delta":{"content":"B"}}]}`,
		`[DONE]`,
	}
	srv := httptest.NewServer(sseHandler(frames))
	defer srv.Close()

	client := NewSSE(srv.URL, "m", "")
	var warned bool
	client.OnWarning = func(string) { warned = true }

	var got strings.Builder
	if _, err := client.StreamCompletion(context.Background(), nil, func(c string) { got.WriteString(c) }); err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if got.String() != "AB" {
		t.Errorf("deltas = %q, want %q", got.String(), "AB")
	}
	if !warned {
		t.Error("expected a warning for the non-JSON frame")
	}
}

func TestStreamCompletionNonStreamingShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"BASS\n1 C2:80\n"}}]}`)
	}))
	defer srv.Close()

	client := NewSSE(srv.URL, "m", "")
	var got strings.Builder
	if _, err := client.StreamCompletion(context.Background(), nil, func(c string) { got.WriteString(c) }); err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if got.String() != "BASS\n1 C2:80\n" {
		t.Errorf("content = %q", got.String())
	}
}

func TestStreamCompletionTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewSSE(srv.URL, "m", "")
	_, err := client.StreamCompletion(context.Background(), nil, func(string) {})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", te.Status)
	}
	if !strings.Contains(te.Body, "model overloaded") {
		t.Errorf("body = %q, want the server's message", te.Body)
	}
}

func TestStreamCompletionAbort(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"X\"}}]}\n\n")
		flusher.Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewSSE(srv.URL, "m", "")
	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		res, err = client.StreamCompletion(ctx, nil, func(string) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StreamCompletion did not return after abort")
	}
	if err != nil {
		t.Fatalf("StreamCompletion after abort: %v", err)
	}
	if !res.Aborted {
		t.Error("expected Result.Aborted after context cancellation")
	}
}

func TestStreamCompletionSendsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewSSE(srv.URL, "m", "secret-key")
	if _, err := client.StreamCompletion(context.Background(), nil, func(string) {}); err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}
