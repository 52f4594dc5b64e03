package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     log.NewNop(),
		Retry:      RetryConfig{MaxRetries: 0, InitialInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// drain consumes the event channel, returning all events.
func drain(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, f := range frames {
			w.Write([]byte("data: " + f + "\n\n"))
			if fl != nil {
				fl.Flush()
			}
		}
	}
}

func TestClient_StreamTurn_TextAndDone(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":", world"}}]}`,
		"[DONE]",
	))
	defer srv.Close()
	c := newTestClient(t, srv)

	events := drain(c.StreamTurn(context.Background(), "key", nil, nil))

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Text != "Hello" || events[1].Text != "Hello, world" {
		t.Errorf("text snapshots = %q, %q", events[0].Text, events[1].Text)
	}
	if !events[2].Done {
		t.Error("last event should be Done")
	}
}

func TestClient_StreamTurn_SendsAuthAndPayload(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	history := []conversation.Message{
		conversation.NewMessage(conversation.SenderUser, "log a meal"),
	}
	drain(c.StreamTurn(context.Background(), "secret-key", history, nil))

	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !gotBody.Stream {
		t.Error("request should have stream: true")
	}
	if len(gotBody.Tools) != 2 {
		t.Errorf("got %d tool definitions, want 2", len(gotBody.Tools))
	}
	// System instruction plus the one user message.
	if len(gotBody.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(gotBody.Messages))
	}
}

func TestClient_StreamTurn_PlaceholderExcludedFromPayload(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	history := []conversation.Message{
		conversation.NewMessage(conversation.SenderUser, "hi"),
		conversation.NewMessage(conversation.SenderAssistant, conversation.ThinkingPlaceholder),
	}
	drain(c.StreamTurn(context.Background(), "key", history, nil))

	if len(gotBody.Messages) != 2 { // system + user; placeholder filtered
		t.Errorf("got %d messages, want 2", len(gotBody.Messages))
	}
}

func TestClient_StreamTurn_ErrorStatusAbortsBeforeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	events := drain(c.StreamTurn(context.Background(), "bad", nil, nil))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	var apiErr *APIError
	if !errors.As(events[0].Err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("err = %v, want APIError 401", events[0].Err)
	}
}

func TestClient_StreamTurn_EOFWithoutDoneFlushesPendingCalls(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"a","function":{"name":"logEvent","arguments":"{}"}}]}}]}`,
		// Connection closes here; no finish_reason, no [DONE].
	))
	defer srv.Close()
	c := newTestClient(t, srv)

	events := drain(c.StreamTurn(context.Background(), "key", nil, nil))

	var sawCall, sawDone bool
	for _, ev := range events {
		if ev.Call != nil && ev.Call.Name == ToolLogEvent {
			sawCall = true
		}
		if ev.Done {
			sawDone = true
		}
	}
	if !sawCall || !sawDone {
		t.Errorf("events = %+v, want flushed call and synthesized Done", events)
	}
}

func TestClient_StreamTurn_Cancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n"))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	c := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.StreamTurn(ctx, "key", nil, nil)

	first := <-ch
	if first.Text != "partial" {
		t.Fatalf("first event = %+v", first)
	}
	cancel()

	events := drain(ch)
	if len(events) == 0 {
		t.Fatal("expected a terminal event after cancel")
	}
	last := events[len(events)-1]
	if !errors.Is(last.Err, context.Canceled) {
		t.Errorf("terminal err = %v, want context.Canceled", last.Err)
	}
}

func TestClient_New_RequiresLogger(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New without logger should fail")
	}
}
