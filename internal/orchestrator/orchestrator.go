// Package orchestrator drives the multi-turn conversation sequence: send a
// user message, stream the assistant's turn, dispatch any tool call, fold
// the tool result into a follow-up turn, and finalize the visible
// conversation. One orchestrator owns one session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adjutant-ai/adjutant/internal/conversation"
	"github.com/adjutant-ai/adjutant/internal/dispatch"
	"github.com/adjutant-ai/adjutant/internal/feedback"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/openai"
)

// State is the orchestrator's position in the turn sequence.
type State int

const (
	// StateIdle means no turn is in progress.
	StateIdle State = iota
	// StateAwaitingFirstTurn means the initial assistant stream is open.
	StateAwaitingFirstTurn
	// StateToolDispatchPending means a finalized tool call is being executed.
	StateToolDispatchPending
	// StateAwaitingFollowupTurn means the post-dispatch stream is open.
	StateAwaitingFollowupTurn
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstTurn:
		return "awaiting_first_turn"
	case StateToolDispatchPending:
		return "tool_dispatch_pending"
	case StateAwaitingFollowupTurn:
		return "awaiting_followup_turn"
	default:
		return "unknown"
	}
}

// TurnEvent is one observable step of a turn. Text carries a full snapshot
// of the assistant's message so far; Done and Err are terminal.
type TurnEvent struct {
	Text string
	Done bool
	Err  error
}

// turnEventBuffer absorbs bursts of snapshots from a fast stream.
const turnEventBuffer = 100

// Streamer opens one completion stream per call.
type Streamer interface {
	StreamTurnWithRetry(ctx context.Context, apiKey string, history []conversation.Message, extra []openai.RawMessage) <-chan openai.Event
}

// ToolDispatcher executes one finalized tool call.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call openai.ToolCall, seen *dispatch.DedupSet) (*dispatch.Result, error)
}

// Snapshots persists the visible conversation across restarts.
type Snapshots interface {
	Save(messages []conversation.Message) error
	Load() ([]conversation.Message, error)
	Delete() error
}

// Config contains all required parameters for the orchestrator.
type Config struct {
	APIKey     string              // required
	Store      *conversation.Store // required
	Streamer   Streamer            // required
	Dispatcher ToolDispatcher      // required
	Snapshots  Snapshots           // optional; nil disables persistence
	Observer   feedback.Observer   // optional; nil means no feedback
	Logger     log.Logger          // required
}

// Orchestrator coordinates one conversation session.
//
// At most one turn sequence should be active at a time; the caller is
// expected to disable sending while a turn is loading. The orchestrator
// serializes its own state transitions but does not queue concurrent sends.
type Orchestrator struct {
	apiKey     string
	store      *conversation.Store
	streamer   Streamer
	dispatcher ToolDispatcher
	snapshots  Snapshots
	observer   feedback.Observer
	logger     log.Logger

	dedup *dispatch.DedupSet

	mu          sync.Mutex
	state       State
	lastErrorID uuid.UUID // assistant message holding the last error text
	hasError    bool
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("orchestrator: API key is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: conversation store is required")
	}
	if cfg.Streamer == nil {
		return nil, errors.New("orchestrator: streamer is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("orchestrator: dispatcher is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("orchestrator: logger is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = feedback.Nop{}
	}

	return &Orchestrator{
		apiKey:     cfg.APIKey,
		store:      cfg.Store,
		streamer:   cfg.Streamer,
		dispatcher: cfg.Dispatcher,
		snapshots:  cfg.Snapshots,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
		dedup:      dispatch.NewDedupSet(),
		state:      StateIdle,
	}, nil
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HasError reports whether the last turn ended in a user-visible error, in
// which case RetryLast can replay it.
func (o *Orchestrator) HasError() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasError
}

// Resume loads the persisted conversation into the store. Called once at
// startup, before any turn.
func (o *Orchestrator) Resume() error {
	if o.snapshots == nil {
		return nil
	}
	messages, err := o.snapshots.Load()
	if err != nil {
		return fmt.Errorf("orchestrator: resume session: %w", err)
	}
	o.store.SetMessages(messages)
	o.logger.Info("session resumed", "messages", len(messages))
	return nil
}

// Send appends the user message and runs one full turn sequence. Events are
// delivered on the returned channel, which closes after the terminal event.
func (o *Orchestrator) Send(ctx context.Context, text string) <-chan TurnEvent {
	o.store.Append(conversation.NewMessage(conversation.SenderUser, text))
	o.persist()
	return o.run(ctx)
}

// RetryLast removes the most recent error-bearing assistant message and
// replays the turn for the prior user message.
func (o *Orchestrator) RetryLast(ctx context.Context) (<-chan TurnEvent, error) {
	o.mu.Lock()
	if !o.hasError {
		o.mu.Unlock()
		return nil, errors.New("orchestrator: nothing to retry")
	}
	errorID := o.lastErrorID
	o.hasError = false
	o.mu.Unlock()

	o.store.Remove(errorID)
	o.persist()
	return o.run(ctx), nil
}

// NewSession clears the visible conversation, the session dedup set, and
// the persisted snapshot.
func (o *Orchestrator) NewSession() error {
	o.store.Clear()
	o.dedup.Clear()

	o.mu.Lock()
	o.state = StateIdle
	o.hasError = false
	o.mu.Unlock()

	if o.snapshots != nil {
		if err := o.snapshots.Delete(); err != nil {
			return fmt.Errorf("orchestrator: clear snapshot: %w", err)
		}
	}
	o.logger.Info("new session started")
	return nil
}

// run opens the placeholder and drives the turn sequence in the background.
func (o *Orchestrator) run(ctx context.Context) <-chan TurnEvent {
	placeholder := conversation.NewMessage(conversation.SenderAssistant, conversation.ThinkingPlaceholder)
	o.store.Append(placeholder)

	o.setState(StateAwaitingFirstTurn)
	o.observer.StreamBegan()

	out := make(chan TurnEvent, turnEventBuffer)
	go func() {
		defer close(out)
		o.runTurnSequence(ctx, placeholder.ID, out)
	}()
	return out
}

func (o *Orchestrator) runTurnSequence(ctx context.Context, placeholderID uuid.UUID, out chan<- TurnEvent) {
	// First turn: no extra tool messages.
	calls, err := o.streamInto(ctx, placeholderID, nil, out)
	if err != nil {
		o.failTurn(placeholderID, err, out)
		return
	}

	if len(calls) > 0 {
		o.setState(StateToolDispatchPending)

		var followUp []openai.RawMessage
		for _, call := range calls {
			result, err := o.dispatcher.Dispatch(ctx, call, o.dedup)
			if err != nil {
				o.failTurn(placeholderID, err, out)
				return
			}
			o.logger.Info("tool call dispatched", "function", call.Name, "outcome", result.Outcome)
			followUp = append(followUp, result.FollowUp...)
		}

		// One follow-up turn folds in every tool result. A duplicate
		// contributes no messages; the model then answers the original
		// message as if no function had been called.
		o.setState(StateAwaitingFollowupTurn)
		if _, err := o.streamInto(ctx, placeholderID, followUp, out); err != nil {
			o.failTurn(placeholderID, err, out)
			return
		}
	}

	o.finishTurn(out)
}

// streamInto relays one stream's text snapshots into the placeholder
// message and returns the finalized tool calls, if any.
func (o *Orchestrator) streamInto(ctx context.Context, placeholderID uuid.UUID, extra []openai.RawMessage, out chan<- TurnEvent) ([]openai.ToolCall, error) {
	history := o.store.Messages()

	var calls []openai.ToolCall
	for ev := range o.streamer.StreamTurnWithRetry(ctx, o.apiKey, history, extra) {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Call != nil:
			calls = append(calls, *ev.Call)
		case ev.Done:
			return calls, nil
		case ev.Text != "":
			o.store.SetText(placeholderID, ev.Text)
			o.observer.StreamTick()
			select {
			case out <- TurnEvent{Text: ev.Text}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, errors.New("orchestrator: stream closed without completion")
}

// finishTurn persists the completed conversation and emits the terminal
// event.
func (o *Orchestrator) finishTurn(out chan<- TurnEvent) {
	o.persist()
	o.setState(StateIdle)
	o.observer.StreamSucceeded()
	out <- TurnEvent{Done: true}
}

// failTurn rewrites the placeholder with a user-facing error message, flags
// the error for retry, and emits the terminal event. A user-initiated cancel
// instead drops the placeholder entirely. Errors never kill the process; the
// conversation stays usable.
func (o *Orchestrator) failTurn(placeholderID uuid.UUID, err error, out chan<- TurnEvent) {
	if errors.Is(err, context.Canceled) {
		// A user-initiated cancel is not a failure. Drop the placeholder so
		// no half-finished assistant message survives into the snapshot, and
		// leave nothing to retry.
		o.store.Remove(placeholderID)
		o.persist()

		o.mu.Lock()
		o.state = StateIdle
		o.hasError = false
		o.mu.Unlock()

		o.logger.Info("turn canceled")
		out <- TurnEvent{Err: err}
		return
	}

	userMsg := userMessage(err)
	o.store.SetText(placeholderID, userMsg)
	o.persist()

	o.mu.Lock()
	o.state = StateIdle
	o.hasError = true
	o.lastErrorID = placeholderID
	o.mu.Unlock()

	o.logger.Error("turn failed", "error", err)
	o.observer.StreamFailed()
	out <- TurnEvent{Text: userMsg, Err: err}
}

func (o *Orchestrator) persist() {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.Save(o.store.Messages()); err != nil {
		// Persistence is best effort; the in-memory conversation is intact.
		o.logger.Warn("failed to save snapshot", "error", err)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// userMessage maps an internal failure to the text shown in the
// conversation.
func userMessage(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrMissingEventType):
		return "I couldn't detect what type of event to log. Try again with meal/workout/expense."
	}

	var unknownFn *dispatch.UnknownFunctionError
	if errors.As(err, &unknownFn) {
		return fmt.Sprintf("I tried to call a function (%s) that isn't supported. Please rephrase your request.", unknownFn.Name)
	}

	var retrieveErr *dispatch.RetrieveError
	if errors.As(err, &retrieveErr) {
		return "I couldn't retrieve your logged events right now. Please try again."
	}

	return openai.UserMessage(err)
}
