// Package dispatch routes finalized tool calls to the webhook backend and
// synthesizes the tool-result messages a follow-up completion turn needs.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adjutant-ai/adjutant/internal/gateway"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/openai"
)

// Timestamp layouts written into every logged record.
const (
	dateLayout = "2006-01-02"
	hourLayout = "15:04"
)

// ErrMissingEventType means the model's arguments carried no event_type, so
// nothing can be logged.
var ErrMissingEventType = errors.New("dispatch: event type missing from arguments")

// UnknownFunctionError means the model invoked a function this client does
// not implement. The backend is never contacted.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("dispatch: unknown function %q", e.Name)
}

// RetrieveError wraps a failed retrieve operation.
type RetrieveError struct {
	Err error
}

func (e *RetrieveError) Error() string {
	return fmt.Sprintf("dispatch: retrieve failed: %v", e.Err)
}

func (e *RetrieveError) Unwrap() error { return e.Err }

// Outcome classifies what a dispatch did.
type Outcome int

const (
	// OutcomeLogged means a new event was sent to the backend.
	OutcomeLogged Outcome = iota
	// OutcomeDuplicate means the event matched one already logged this
	// session; the backend was not contacted and the follow-up turn runs
	// without any tool-result acknowledgment.
	OutcomeDuplicate
	// OutcomeRetrieved means logged data was fetched and summarized.
	OutcomeRetrieved
)

// String implements fmt.Stringer for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeLogged:
		return "logged"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRetrieved:
		return "retrieved"
	default:
		return "unknown"
	}
}

// Result is the product of one dispatch: the outcome, the synthetic messages
// to fold into the next stream turn, and, for logs, the final record.
type Result struct {
	Outcome  Outcome
	FollowUp []openai.RawMessage
	Record   map[string]any
}

// Backend is the slice of the gateway the dispatcher needs.
type Backend interface {
	Create(ctx context.Context, record map[string]any) (*gateway.Response, error)
	Retrieve(ctx context.Context, filters map[string]any) (*gateway.Response, error)
}

// Config contains all required parameters for the dispatcher.
type Config struct {
	Backend Backend          // required
	Logger  log.Logger       // required
	Now     func() time.Time // defaults to time.Now; injectable for tests
}

// Dispatcher executes tool calls. Stateless apart from its collaborators;
// session state (the dedup set) is passed per call.
type Dispatcher struct {
	backend Backend
	logger  log.Logger
	now     func() time.Time
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Backend == nil {
		return nil, errors.New("dispatch: backend is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("dispatch: logger is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		backend: cfg.Backend,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Dispatch routes one finalized tool call. seen is the session's dedup set.
func (d *Dispatcher) Dispatch(ctx context.Context, call openai.ToolCall, seen *DedupSet) (*Result, error) {
	args := parseArguments(call.RawArguments, d.logger)

	switch call.Name {
	case openai.ToolLogEvent:
		return d.logEvent(ctx, call, args, seen)
	case openai.ToolRetrieveEvents:
		return d.retrieveEvents(ctx, call, args)
	default:
		return nil, &UnknownFunctionError{Name: call.Name}
	}
}

// parseArguments decodes the model's raw JSON arguments. A malformed payload
// degrades to an empty object instead of failing the turn.
func parseArguments(raw string, logger log.Logger) map[string]any {
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		logger.Warn("tool arguments are not valid JSON, treating as empty", "error", err)
		return make(map[string]any)
	}
	return args
}

func (d *Dispatcher) logEvent(ctx context.Context, call openai.ToolCall, args map[string]any, seen *DedupSet) (*Result, error) {
	eventType, _ := args["event_type"].(string)
	if eventType == "" {
		return nil, ErrMissingEventType
	}

	// The device clock, not the model, is authoritative for timestamps.
	now := d.now()
	args["date"] = now.Format(dateLayout)
	args["hour"] = now.Format(hourLayout)

	coerceNumericFields(args, eventType)

	key := dedupKey(args)
	if !seen.Add(key) {
		d.logger.Info("suppressing duplicate event", "event_type", eventType, "key", key)
		// The follow-up turn runs with no tool result; the model answers
		// the user's message as if no function had been called.
		return &Result{Outcome: OutcomeDuplicate, Record: args}, nil
	}

	if _, err := d.backend.Create(ctx, args); err != nil {
		// Logging is best effort: the conversation continues and the model
		// still confirms, matching the original fire-and-forget behavior.
		d.logger.Warn("backend create failed", "event_type", eventType, "error", err)
	}

	confirmation := fmt.Sprintf("Event logged successfully on %s at %s.", args["date"], args["hour"])
	return &Result{
		Outcome:  OutcomeLogged,
		FollowUp: followUpMessages(call, confirmation),
		Record:   args,
	}, nil
}

func (d *Dispatcher) retrieveEvents(ctx context.Context, call openai.ToolCall, args map[string]any) (*Result, error) {
	resp, err := d.backend.Retrieve(ctx, args)
	if err != nil {
		return nil, &RetrieveError{Err: err}
	}
	if resp == nil {
		// Dropped as a duplicate in-flight request; there is no data to
		// fold in, so the turn cannot continue.
		return nil, &RetrieveError{Err: errors.New("request suppressed as duplicate")}
	}

	summary := summarize(resp)
	d.logger.Info("retrieved events", "count", recordCount(resp), "summary_len", len(summary))

	return &Result{
		Outcome:  OutcomeRetrieved,
		FollowUp: followUpMessages(call, summary),
	}, nil
}

// followUpMessages builds the assistant tool-call echo and the tool result,
// in the shape the completion endpoint expects for a continued turn. Neither
// is persisted to the visible conversation.
func followUpMessages(call openai.ToolCall, content string) []openai.RawMessage {
	return []openai.RawMessage{
		{
			"role":    "assistant",
			"content": "",
			"tool_calls": []map[string]any{{
				"id":   call.ID,
				"type": "function",
				"function": map[string]any{
					"name":      call.Name,
					"arguments": call.RawArguments,
				},
			}},
		},
		{
			"role":         "tool",
			"tool_call_id": call.ID,
			"name":         call.Name,
			"content":      content,
		},
	}
}

// coerceNumericFields normalizes the numeric fields of the given event type.
// Numbers pass through; numeric strings parse to numbers; anything else is
// removed so a junk value never reaches the backend.
func coerceNumericFields(args map[string]any, eventType string) {
	var fields []string
	switch eventType {
	case "meal":
		fields = []string{"calories", "proteins", "fat", "carbs"}
	case "expense":
		fields = []string{"value"}
	case "workout":
		fields = []string{"sets", "reps", "weight"}
	default:
		return
	}

	for _, f := range fields {
		v, ok := args[f]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			// Already numeric.
		case int:
			args[f] = float64(n)
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				delete(args, f)
				continue
			}
			args[f] = parsed
		default:
			delete(args, f)
		}
	}
}

// summarize renders the aggregate metadata of a retrieve response as the
// plain-language tool result the model narrates from.
func summarize(resp *gateway.Response) string {
	count := recordCount(resp)
	if count == 0 {
		return "No matching events were found."
	}

	text := fmt.Sprintf("Found %d matching event(s).", count)
	if resp.Metadata == nil {
		return text
	}

	if dr := resp.Metadata.DateRange; dr != nil {
		text += fmt.Sprintf(" Date range: %s to %s.", dr.From, dr.To)
	}
	agg := resp.Metadata.Aggregations
	if agg == nil {
		return text
	}
	if agg.TotalCalories != nil {
		text += fmt.Sprintf(" Total calories: %s.", formatNumber(*agg.TotalCalories))
	}
	if agg.AverageCalories != nil {
		text += fmt.Sprintf(" Average calories: %s.", formatNumber(*agg.AverageCalories))
	}
	if agg.TotalValue != nil {
		text += fmt.Sprintf(" Total value: %s.", formatNumber(*agg.TotalValue))
	}
	if agg.TotalWorkouts != nil {
		text += fmt.Sprintf(" Total workouts: %d.", *agg.TotalWorkouts)
	}
	return text
}

func recordCount(resp *gateway.Response) int {
	if resp.Metadata != nil {
		return resp.Metadata.Count
	}
	return len(resp.Data)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
