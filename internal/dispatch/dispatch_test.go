package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adjutant-ai/adjutant/internal/gateway"
	"github.com/adjutant-ai/adjutant/internal/log"
	"github.com/adjutant-ai/adjutant/internal/openai"
)

// fakeBackend records calls and returns scripted responses.
type fakeBackend struct {
	createCalls   []map[string]any
	retrieveCalls []map[string]any

	createErr    error
	retrieveResp *gateway.Response
	retrieveErr  error
}

func (f *fakeBackend) Create(_ context.Context, record map[string]any) (*gateway.Response, error) {
	f.createCalls = append(f.createCalls, record)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.Response{Success: true}, nil
}

func (f *fakeBackend) Retrieve(_ context.Context, filters map[string]any) (*gateway.Response, error) {
	f.retrieveCalls = append(f.retrieveCalls, filters)
	return f.retrieveResp, f.retrieveErr
}

var fixedNow = time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, backend Backend) *Dispatcher {
	t.Helper()
	d, err := New(Config{
		Backend: backend,
		Logger:  log.NewNop(),
		Now:     func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func logCall(rawArgs string) openai.ToolCall {
	return openai.ToolCall{ID: "call_1", Name: openai.ToolLogEvent, RawArguments: rawArgs}
}

func TestDispatch_LogEvent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)

	res, err := d.Dispatch(context.Background(),
		logCall(`{"event_type":"meal","date":"1999-01-01","hour":"03:00","calories":520}`),
		NewDedupSet())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != OutcomeLogged {
		t.Errorf("outcome = %v, want logged", res.Outcome)
	}

	if len(backend.createCalls) != 1 {
		t.Fatalf("create called %d times, want 1", len(backend.createCalls))
	}
	record := backend.createCalls[0]

	// Device clock overrides whatever the model supplied.
	if record["date"] != "2026-08-28" || record["hour"] != "14:30" {
		t.Errorf("timestamp = %v %v, want device time", record["date"], record["hour"])
	}

	if len(res.FollowUp) != 2 {
		t.Fatalf("follow-up = %d messages, want 2", len(res.FollowUp))
	}
	if res.FollowUp[0]["role"] != "assistant" || res.FollowUp[1]["role"] != "tool" {
		t.Errorf("follow-up roles = %v, %v", res.FollowUp[0]["role"], res.FollowUp[1]["role"])
	}
	want := "Event logged successfully on 2026-08-28 at 14:30."
	if res.FollowUp[1]["content"] != want {
		t.Errorf("tool result = %q, want %q", res.FollowUp[1]["content"], want)
	}
}

func TestDispatch_NumericCoercion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     string
		field    string
		want     any
		wantGone bool
	}{
		{
			name:  "string number coerced",
			args:  `{"event_type":"meal","calories":"250"}`,
			field: "calories",
			want:  250.0,
		},
		{
			name:  "number passes through",
			args:  `{"event_type":"meal","calories":250}`,
			field: "calories",
			want:  250.0,
		},
		{
			name:     "non-numeric string removed",
			args:     `{"event_type":"meal","calories":"lots"}`,
			field:    "calories",
			wantGone: true,
		},
		{
			name:  "expense value coerced",
			args:  `{"event_type":"expense","value":"19.99"}`,
			field: "value",
			want:  19.99,
		},
		{
			name:  "workout sets coerced",
			args:  `{"event_type":"workout","workout":"chest","sets":"4"}`,
			field: "sets",
			want:  4.0,
		},
		{
			name:  "string field untouched by coercion",
			args:  `{"event_type":"workout","workout":"chest"}`,
			field: "workout",
			want:  "chest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			backend := &fakeBackend{}
			d := newTestDispatcher(t, backend)

			if _, err := d.Dispatch(context.Background(), logCall(tt.args), NewDedupSet()); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			record := backend.createCalls[0]

			got, present := record[tt.field]
			if tt.wantGone {
				if present {
					t.Errorf("%s = %v, want absent", tt.field, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("%s = %v (%T), want %v", tt.field, got, got, tt.want)
			}
		})
	}
}

func TestDispatch_MissingEventType(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)

	_, err := d.Dispatch(context.Background(), logCall(`{"calories":500}`), NewDedupSet())
	if !errors.Is(err, ErrMissingEventType) {
		t.Errorf("err = %v, want ErrMissingEventType", err)
	}
	if len(backend.createCalls) != 0 {
		t.Error("backend must not be contacted without an event type")
	}
}

func TestDispatch_MalformedArgumentsTreatedAsEmpty(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)

	// Broken JSON degrades to an empty object, which then fails the
	// event-type guard rather than crashing.
	_, err := d.Dispatch(context.Background(), logCall(`{"event_type":`), NewDedupSet())
	if !errors.Is(err, ErrMissingEventType) {
		t.Errorf("err = %v, want ErrMissingEventType", err)
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)

	call := openai.ToolCall{ID: "x", Name: "transferFunds", RawArguments: "{}"}
	_, err := d.Dispatch(context.Background(), call, NewDedupSet())

	var unknownErr *UnknownFunctionError
	if !errors.As(err, &unknownErr) || unknownErr.Name != "transferFunds" {
		t.Errorf("err = %v, want UnknownFunctionError", err)
	}
	if len(backend.createCalls)+len(backend.retrieveCalls) != 0 {
		t.Error("backend must not be contacted for an unknown function")
	}
}

func TestDispatch_DuplicateSuppressed(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)
	seen := NewDedupSet()

	args := `{"event_type":"meal","calories":500,"comments":"two eggs"}`

	first, err := d.Dispatch(context.Background(), logCall(args), seen)
	if err != nil || first.Outcome != OutcomeLogged {
		t.Fatalf("first dispatch = (%+v, %v)", first, err)
	}

	second, err := d.Dispatch(context.Background(), logCall(args), seen)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Errorf("outcome = %v, want duplicate", second.Outcome)
	}
	// No tool result: the follow-up turn answers as if no function ran.
	if second.FollowUp != nil {
		t.Errorf("duplicate follow-up = %+v, want none", second.FollowUp)
	}
	if len(backend.createCalls) != 1 {
		t.Errorf("create called %d times, want 1", len(backend.createCalls))
	}
}

func TestDispatch_DedupKeyNormalizesNumericForm(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)
	seen := NewDedupSet()

	// Same meal, calories as number then as string: one fingerprint.
	if _, err := d.Dispatch(context.Background(), logCall(`{"event_type":"meal","calories":250}`), seen); err != nil {
		t.Fatal(err)
	}
	res, err := d.Dispatch(context.Background(), logCall(`{"event_type":"meal","calories":"250"}`), seen)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Errorf("outcome = %v, want duplicate", res.Outcome)
	}
}

func TestDispatch_ClearedDedupSetAcceptsAgain(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)
	seen := NewDedupSet()

	args := `{"event_type":"expense","value":10,"comments":"coffee"}`
	if _, err := d.Dispatch(context.Background(), logCall(args), seen); err != nil {
		t.Fatal(err)
	}
	seen.Clear()

	res, err := d.Dispatch(context.Background(), logCall(args), seen)
	if err != nil || res.Outcome != OutcomeLogged {
		t.Errorf("post-clear dispatch = (%+v, %v), want logged", res, err)
	}
	if len(backend.createCalls) != 2 {
		t.Errorf("create called %d times, want 2", len(backend.createCalls))
	}
}

func TestDispatch_CreateFailureStillConfirms(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{createErr: errors.New("backend down")}
	d := newTestDispatcher(t, backend)

	res, err := d.Dispatch(context.Background(),
		logCall(`{"event_type":"meal","calories":500}`), NewDedupSet())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != OutcomeLogged || len(res.FollowUp) != 2 {
		t.Errorf("result = %+v, want logged with follow-up", res)
	}
}

func TestDispatch_Retrieve(t *testing.T) {
	t.Parallel()

	totalCal := 1500.0
	avgCal := 500.0
	backend := &fakeBackend{
		retrieveResp: &gateway.Response{
			Success: true,
			Data:    []gateway.Record{{"event_type": "meal"}},
			Metadata: &gateway.Metadata{
				Count:        3,
				Aggregations: &gateway.Aggregations{TotalCalories: &totalCal, AverageCalories: &avgCal},
				DateRange:    &gateway.DateRange{From: "2026-08-21", To: "2026-08-28"},
			},
		},
	}
	d := newTestDispatcher(t, backend)

	call := openai.ToolCall{
		ID:           "call_2",
		Name:         openai.ToolRetrieveEvents,
		RawArguments: `{"event_type":"meal","aggregation":"sum"}`,
	}
	res, err := d.Dispatch(context.Background(), call, NewDedupSet())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != OutcomeRetrieved {
		t.Errorf("outcome = %v, want retrieved", res.Outcome)
	}

	if len(backend.retrieveCalls) != 1 {
		t.Fatalf("retrieve called %d times", len(backend.retrieveCalls))
	}
	if backend.retrieveCalls[0]["event_type"] != "meal" {
		t.Errorf("filters = %+v", backend.retrieveCalls[0])
	}

	content, _ := res.FollowUp[1]["content"].(string)
	for _, fragment := range []string{"3", "1500", "500", "2026-08-21"} {
		if !strings.Contains(content, fragment) {
			t.Errorf("summary %q missing %q", content, fragment)
		}
	}
}

func TestDispatch_RetrieveEmptyResult(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{retrieveResp: &gateway.Response{Success: true}}
	d := newTestDispatcher(t, backend)

	call := openai.ToolCall{ID: "c", Name: openai.ToolRetrieveEvents, RawArguments: `{}`}
	res, err := d.Dispatch(context.Background(), call, NewDedupSet())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	content, _ := res.FollowUp[1]["content"].(string)
	if content != "No matching events were found." {
		t.Errorf("summary = %q", content)
	}
}

func TestDispatch_RetrieveFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{retrieveErr: errors.New("timeout")}
	d := newTestDispatcher(t, backend)

	call := openai.ToolCall{ID: "c", Name: openai.ToolRetrieveEvents, RawArguments: `{}`}
	_, err := d.Dispatch(context.Background(), call, NewDedupSet())

	var retrieveErr *RetrieveError
	if !errors.As(err, &retrieveErr) {
		t.Errorf("err = %v, want RetrieveError", err)
	}
}

func TestDispatch_RetrieveDroppedAsDuplicate(t *testing.T) {
	t.Parallel()

	// A nil response with nil error is the gateway's in-flight suppression.
	backend := &fakeBackend{}
	d := newTestDispatcher(t, backend)

	call := openai.ToolCall{ID: "c", Name: openai.ToolRetrieveEvents, RawArguments: `{}`}
	_, err := d.Dispatch(context.Background(), call, NewDedupSet())

	var retrieveErr *RetrieveError
	if !errors.As(err, &retrieveErr) {
		t.Errorf("err = %v, want RetrieveError", err)
	}
}
