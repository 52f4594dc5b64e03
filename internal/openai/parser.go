package openai

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/adjutant-ai/adjutant/internal/log"
)

// Wire DTOs for one streamed completion chunk.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content   *string         `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type toolCallDelta struct {
	Index    *int    `json:"index"`
	ID       *string `json:"id"`
	Function *struct {
		Name      *string `json:"name"`
		Arguments *string `json:"arguments"`
	} `json:"function"`
}

// toolAccumulator merges the fragments of one logical tool call, keyed by
// the index the server assigns within a turn. ID and name latch on first
// non-null value; argument fragments concatenate in arrival order.
type toolAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// Parser incrementally reconstructs a turn from SSE bytes. Network reads
// may split frames at arbitrary byte offsets; Feed buffers any trailing
// incomplete line and only processes complete ones, so the emitted event
// sequence is independent of how the byte stream was fragmented.
//
// Not safe for concurrent use; one Parser serves one turn.
type Parser struct {
	remainder []byte // trailing bytes of an incomplete line
	text      strings.Builder
	accs      map[int]*toolAccumulator
	finalized bool // tool calls already emitted for this turn
	done      bool // [DONE] seen
	logger    log.Logger
}

// NewParser creates a parser for a single turn.
func NewParser(logger log.Logger) *Parser {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Parser{
		accs:   make(map[int]*toolAccumulator),
		logger: logger,
	}
}

// Done reports whether the terminal [DONE] frame has been processed.
func (p *Parser) Done() bool {
	return p.done
}

// Text returns the accumulated assistant text so far.
func (p *Parser) Text() string {
	return p.text.String()
}

// Feed consumes one network read and returns the events produced by every
// complete line it contained. Bytes after the last newline are held until
// the next Feed.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.done || len(chunk) == 0 {
		return nil
	}

	data := append(p.remainder, chunk...)
	var events []Event
	for {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		line := data[:nl]
		data = data[nl+1:]
		events = append(events, p.processLine(string(line))...)
		if p.done {
			p.remainder = nil
			return events
		}
	}
	p.remainder = append(p.remainder[:0], data...)
	return events
}

// Finish handles a stream that ended without a [DONE] frame: any pending
// tool calls are finalized and a Done event is synthesized. Idempotent.
func (p *Parser) Finish() []Event {
	if p.done {
		return nil
	}
	p.done = true
	events := p.finalizeToolCalls()
	return append(events, Event{Done: true})
}

func (p *Parser) processLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data: ") {
		return nil
	}
	payload := strings.TrimPrefix(line, "data: ")

	if payload == "[DONE]" {
		p.done = true
		// finish_reason normally finalized already; a turn that ended
		// without one still flushes here, exactly once.
		events := p.finalizeToolCalls()
		return append(events, Event{Done: true})
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// One malformed frame must not kill the turn.
		p.logger.Warn("dropping malformed stream frame", "error", err)
		return nil
	}
	if len(chunk.Choices) == 0 {
		return nil
	}

	var events []Event
	choice := chunk.Choices[0]

	if delta := choice.Delta; delta != nil {
		if delta.Content != nil && *delta.Content != "" {
			p.text.WriteString(*delta.Content)
			events = append(events, Event{Text: p.text.String()})
		}
		for _, tc := range delta.ToolCalls {
			p.accumulate(tc)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason == "tool_calls" {
		// The stream is not over yet; [DONE] still follows and must not
		// re-finalize.
		events = append(events, p.finalizeToolCalls()...)
	}

	return events
}

func (p *Parser) accumulate(tc toolCallDelta) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := p.accs[idx]
	if !ok {
		acc = &toolAccumulator{}
		p.accs[idx] = acc
	}
	if tc.ID != nil {
		acc.id = *tc.ID
	}
	if tc.Function != nil {
		if tc.Function.Name != nil {
			acc.name = *tc.Function.Name
		}
		if tc.Function.Arguments != nil {
			acc.args.WriteString(*tc.Function.Arguments)
		}
	}
}

// finalizeToolCalls emits completed calls in index order and clears the
// accumulators so a later [DONE] cannot duplicate them.
func (p *Parser) finalizeToolCalls() []Event {
	if p.finalized || len(p.accs) == 0 {
		return nil
	}
	p.finalized = true

	indexes := make([]int, 0, len(p.accs))
	for idx := range p.accs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var events []Event
	for _, idx := range indexes {
		acc := p.accs[idx]
		if acc.id == "" || acc.name == "" {
			p.logger.Warn("discarding incomplete tool call", "index", idx)
			continue
		}
		events = append(events, Event{Call: &ToolCall{
			ID:           acc.id,
			Name:         acc.name,
			RawArguments: acc.args.String(),
		}})
	}
	p.accs = make(map[int]*toolAccumulator)
	return events
}
