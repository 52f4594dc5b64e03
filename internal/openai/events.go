package openai

// ToolCall is a finalized function invocation assembled from streamed
// fragments. RawArguments is the concatenated JSON argument string exactly
// as the model produced it.
type ToolCall struct {
	ID           string
	Name         string
	RawArguments string
}

// RawMessage is a provider-format chat message injected verbatim into an
// outbound request. Used for the synthetic assistant tool-call and tool
// result messages of a follow-up turn; these never enter the visible
// transcript.
type RawMessage map[string]any

// Event is the discriminated union delivered on a turn's event channel.
// Exactly one field group is meaningful per event:
//
//   - Text non-empty: full-text snapshot of the assistant reply so far
//   - Call non-nil: a finalized tool call, emitted in accumulator-index order
//   - Done true: the turn completed ([DONE] received)
//   - Err non-nil: the turn failed; always the final event
//
// The channel is closed after the terminal event.
type Event struct {
	Text string
	Call *ToolCall
	Done bool
	Err  error
}
