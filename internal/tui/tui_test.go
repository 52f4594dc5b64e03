package tui

import (
	"context"
	"testing"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/textarea"
	"go.uber.org/goleak"

	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/dispatch"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/openai"
	"github.com/adjutant-ai/adjutant/internal/orchestrator"
)

func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
	}
}

type stubStreamer struct{}

func (stubStreamer) StreamTurnWithRetry(context.Context, string, []conversation.Message, []openai.RawMessage) <-chan openai.Event {
	ch := make(chan openai.Event, 1)
	ch <- openai.Event{Done: true}
	close(ch)
	return ch
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(context.Context, openai.ToolCall, *dispatch.DedupSet) (*dispatch.Result, error) {
	return &dispatch.Result{Outcome: dispatch.OutcomeLogged}, nil
}

func newStubOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Config{
		APIKey:     "key",
		Store:      conversation.NewStore(conversation.DefaultMaxMessages),
		Streamer:   stubStreamer{},
		Dispatcher: stubDispatcher{},
		Logger:     log.NewNop(),
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return o
}

// newTestTUI creates a TUI with an initialized textarea for testing.
func newTestTUI(t *testing.T) *TUI {
	t.Helper()
	ta := textarea.New()
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	return &TUI{
		state:    StateInput,
		input:    ta,
		history:  make([]string, 0),
		help:     help.New(),
		keys:     newKeyMap(),
		styles:   DefaultStyles(),
		markdown: newMarkdownRenderer(80),
		orch:     newStubOrchestrator(t),
		ctx:      context.Background(),
	}
}

func TestNew_ErrorOnNilOrchestrator(t *testing.T) {
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Error("Expected error for nil orchestrator")
	}
}

func TestNew_ErrorOnNilContext(t *testing.T) {
	//lint:ignore SA1012 intentionally testing nil context handling
	if _, err := New(nil, newStubOrchestrator(t), nil); err == nil { //nolint:staticcheck
		t.Error("Expected error for nil context")
	}
}

func TestNew_SeedsResumedConversation(t *testing.T) {
	initial := []conversation.Message{
		conversation.NewMessage(conversation.SenderUser, "earlier question"),
		conversation.NewMessage(conversation.SenderAssistant, "earlier answer"),
	}
	tui, err := New(context.Background(), newStubOrchestrator(t), initial)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tui.ctxCancel()

	if len(tui.messages) != 2 {
		t.Fatalf("got %d display messages, want 2", len(tui.messages))
	}
	if tui.messages[0].Role != roleUser || tui.messages[1].Role != roleAssistant {
		t.Errorf("roles = %s, %s", tui.messages[0].Role, tui.messages[1].Role)
	}
}

func TestTUI_Init(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	if cmd := tui.Init(); cmd == nil {
		t.Error("Init should return a command (blink + spinner tick)")
	}
}

func TestTUI_HandleSlashCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tests := []struct {
		name     string
		cmd      string
		wantExit bool
		wantMsgs int // messages added on top of the pre-seeded one
	}{
		{"help", "/help", false, 1},
		{"exit", "/exit", true, 0},
		{"quit", "/quit", true, 0},
		{"unknown", "/unknown", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tui := newTestTUI(t)
			tui.messages = []Message{{Role: roleUser, Text: "hello"}}

			model, cmd := tui.handleSlashCommand(tt.cmd)
			result := model.(*TUI)

			if tt.wantExit {
				if cmd == nil {
					t.Error("Expected quit command for exit")
				}
				return
			}
			if len(result.messages) != 1+tt.wantMsgs {
				t.Errorf("Expected %d messages, got %d", 1+tt.wantMsgs, len(result.messages))
			}
		})
	}
}

func TestTUI_NewSessionClearsDisplay(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.messages = []Message{
		{Role: roleUser, Text: "hello"},
		{Role: roleAssistant, Text: "hi"},
	}

	model, _ := tui.handleSlashCommand(cmdNew)
	result := model.(*TUI)

	// Old messages gone; only the session notice remains.
	if len(result.messages) != 1 || result.messages[0].Role != roleSystem {
		t.Errorf("messages after /new = %+v", result.messages)
	}
}

func TestTUI_HistoryNavigation(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.history = []string{"first", "second", "third"}
	tui.historyIdx = 3

	tests := []struct {
		delta    int
		expected string
	}{
		{-1, "third"},
		{-1, "second"},
		{-1, "first"},
		{-1, "first"}, // Should stay at first
		{1, "second"},
		{1, "third"},
		{1, ""}, // Past end = empty
		{1, ""}, // Should stay empty
	}

	for i, tt := range tests {
		model, _ := tui.navigateHistory(tt.delta)
		tui = model.(*TUI)
		if tui.input.Value() != tt.expected {
			t.Errorf("Step %d: got %q, want %q", i, tui.input.Value(), tt.expected)
		}
	}
}

func TestTUI_TurnTextReplacesSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateThinking
	tui.turnEventCh = make(chan orchestrator.TurnEvent)

	model, _ := tui.Update(turnTextMsg{text: "Hello"})
	tui = model.(*TUI)
	model, _ = tui.Update(turnTextMsg{text: "Hello, world"})
	tui = model.(*TUI)

	// Snapshots replace; they never concatenate.
	if tui.output != "Hello, world" {
		t.Errorf("output = %q, want the latest snapshot", tui.output)
	}
	if tui.state != StateStreaming {
		t.Errorf("state = %v, want streaming", tui.state)
	}
}

func TestTUI_TurnDoneFinalizesMessage(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming
	tui.output = "Final answer"

	model, _ := tui.Update(turnDoneMsg{})
	tui = model.(*TUI)

	if tui.state != StateInput {
		t.Errorf("state = %v, want input", tui.state)
	}
	if tui.output != "" {
		t.Errorf("output should reset, got %q", tui.output)
	}
	last := tui.messages[len(tui.messages)-1]
	if last.Role != roleAssistant || last.Text != "Final answer" {
		t.Errorf("final message = %+v", last)
	}
}

func TestTUI_TurnErrorShowsFormattedText(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming

	model, _ := tui.Update(turnErrorMsg{
		err:  &openai.APIError{Status: 503},
		text: "The AI service is temporarily unavailable. Please try again shortly.",
	})
	tui = model.(*TUI)

	last := tui.messages[len(tui.messages)-1]
	if last.Role != roleError {
		t.Errorf("role = %s, want error", last.Role)
	}
	if last.Text != "The AI service is temporarily unavailable. Please try again shortly." {
		t.Errorf("text = %q", last.Text)
	}
	if tui.state != StateInput {
		t.Errorf("state = %v, want input", tui.state)
	}
}

func TestTUI_CtrlCCancelShowsSingleNotice(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming
	tui.output = "partial"
	canceled := false
	tui.turnCancel = func() { canceled = true }
	tui.turnEventCh = make(chan orchestrator.TurnEvent)

	model, _ := tui.handleCtrlC()
	tui = model.(*TUI)

	if !canceled {
		t.Error("Ctrl+C should cancel the turn")
	}
	if tui.state != StateInput {
		t.Errorf("state = %v, want input", tui.state)
	}
	// No notice yet; the in-flight listener delivers the cancellation.
	if len(tui.messages) != 0 {
		t.Fatalf("messages after Ctrl+C = %+v, want none", tui.messages)
	}

	model, _ = tui.Update(turnErrorMsg{err: context.Canceled})
	tui = model.(*TUI)

	count := 0
	for _, m := range tui.messages {
		if m.Role == roleSystem && m.Text == "(Canceled)" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d cancellation notices, want exactly 1: %+v", count, tui.messages)
	}
}

func TestTUI_ViewRendersWithoutPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.messages = []Message{
		{Role: roleUser, Text: "log two eggs"},
		{Role: roleAssistant, Text: "**Logged!**"},
		{Role: roleSystem, Text: "(notice)"},
		{Role: roleError, Text: "oops"},
	}
	tui.rebuildViewportContent()

	if v := tui.View(); v.Content == nil {
		t.Error("View content should not be nil")
	}
}
