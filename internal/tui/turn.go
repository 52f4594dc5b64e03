package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/adjutant-ai/adjutant/internal/orchestrator"
)

// Turn message types for Bubble Tea.
type turnStartedMsg struct {
	eventCh <-chan orchestrator.TurnEvent
	cancel  context.CancelFunc
}

// turnTextMsg carries a full snapshot of the assistant's message so far,
// not a delta: each one replaces the previous.
type turnTextMsg struct {
	text string
}

type turnDoneMsg struct{}

type turnErrorMsg struct {
	err  error
	text string // user-facing message already formatted by the orchestrator
}

// startTurn creates a command that sends the user message and opens the
// turn event stream. The orchestrator runs the whole sequence (stream,
// dispatch, follow-up) behind the returned channel; channel closure after
// the terminal event is the only completion signal needed.
func (t *TUI) startTurn(query string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(t.ctx, turnTimeout)
		eventCh := t.orch.Send(ctx, query)
		return turnStartedMsg{eventCh: eventCh, cancel: cancel}
	}
}

// startRetry replays the last failed turn.
func (t *TUI) startRetry() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(t.ctx, turnTimeout)
		eventCh, err := t.orch.RetryLast(ctx)
		if err != nil {
			cancel()
			return turnErrorMsg{err: err, text: "Nothing to retry."}
		}
		return turnStartedMsg{eventCh: eventCh, cancel: cancel}
	}
}

// listenForTurn creates a command to wait for the next turn event.
// Empty events are skipped via loop instead of recursion.
func listenForTurn(eventCh <-chan orchestrator.TurnEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				return turnErrorMsg{err: fmt.Errorf("turn ended without completion signal")}
			}

			switch {
			case event.Err != nil:
				if errors.Is(event.Err, context.Canceled) {
					slog.Debug("turn canceled")
				}
				return turnErrorMsg{err: event.Err, text: event.Text}
			case event.Done:
				return turnDoneMsg{}
			case event.Text != "":
				return turnTextMsg{text: event.Text}
			default:
				continue
			}
		}
	}
}
