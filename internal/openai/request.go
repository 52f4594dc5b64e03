package openai

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/adjutant-ai/adjutant/internal/conversation"
)

// Tool names the model may invoke.
const (
	ToolLogEvent       = "logEvent"
	ToolRetrieveEvents = "retrieveEvents"
)

// systemInstruction is the fixed system message prefixed to every turn.
const systemInstruction = `You are a helpful assistant for matters related to health, fitness, nutrition, and finances. You offer practical advice on the aforementioned domains and ONLY when the user requests, you call the provided function to log a meal, workout, or expense.

CRITICAL RULES FOR LOGGING:
- NEVER re-log items that have already been logged in this conversation
- Only log NEW items explicitly mentioned in the CURRENT user message
- If a user mentions a price for something already logged, only log the expense, NOT the item again
- Each function call should represent ONE unique event that hasn't been logged yet
- When in doubt, ask for clarification rather than logging duplicates

GENERAL RULES
- Always include: "event_type", "date", and "hour" in the function arguments. Use your best guess, but the client will overwrite date/hour with the device's time.
- Keep arguments strictly JSON-serializable primitives (strings/numbers). Put any units or assumptions in "comments". Prefer whole numbers where reasonable.
- If information is missing, infer sensible defaults rather than asking follow-up questions.

MEALS
- Parse everyday descriptions like "two fried eggs and 250ml of coke".
- Estimate numeric values for: calories (kcal), proteins (g), fat (g), carbs (g).
- Convert quantities (e.g., 250ml soda, two eggs, 100g chicken). Place assumptions in "comments".

WORKOUTS
- Extract muscle group or workout type to "workout" (e.g., chest, legs, cardio). Extract equipment/movement to "exercise" (e.g., horizontal bench, barbell squat, treadmill run).
- Include sets, reps, and weight when mentioned.
- If multiple exercises are mentioned, prefer the primary one; put extras into "comments".

EXPENSES
- Map common currency words/symbols to ISO codes (e.g., euros -> EUR, $, usd -> USD, lei -> RON, pounds -> GBP). If currency is unclear, leave it as a 3-letter best guess.
- Default category to "outgoing" unless user explicitly indicates another (e.g., "income", "refund").

IMPORTANT
- Do not place units in numeric fields (only numbers). Put units/assumptions in "comments".
- Prefer best-effort extraction/estimation over follow-up questions.
- Track conversation context to avoid duplicate logging.

RETRIEVAL RULES
- When users ask about their logged data, use the retrieveEvents function
- Convert natural language dates to YYYY-MM-DD format ("today" -> current date, "yesterday" -> current date - 1, "this week" -> date_from: start of week, date_to: today)
- Choose appropriate aggregation based on the question: sums for totals, "details" for listings, "average" for averages
- Never retrieve the same data twice in one conversation unless explicitly asked
- Present data in a natural, conversational way
- For comparisons, make multiple retrieveEvents calls with different date ranges`

// chatRequest is the completion endpoint request body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []any            `json:"messages"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
	Tools       []toolDefinition `json:"tools"`
	ToolChoice  string           `json:"tool_choice"`
}

type toolDefinition struct {
	Type     string             `json:"type"`
	Function functionDefinition `json:"function"`
}

type functionDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequest assembles the provider payload: system instruction, visible
// history (minus the streaming placeholder), then the synthetic tool
// messages of a follow-up turn.
func buildRequest(model string, temperature float64, history []conversation.Message, extra []RawMessage) chatRequest {
	messages := make([]any, 0, len(history)+len(extra)+1)
	messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})

	for _, m := range history {
		if m.IsPlaceholder() {
			continue
		}
		role := "assistant"
		if m.Sender == conversation.SenderUser {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Text})
	}
	for _, m := range extra {
		messages = append(messages, m)
	}

	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Stream:      true,
		Tools:       toolDefinitions(),
		ToolChoice:  "auto",
	}
}

func toolDefinitions() []toolDefinition {
	return []toolDefinition{
		{
			Type: "function",
			Function: functionDefinition{
				Name:        ToolLogEvent,
				Description: "Logs a meal, workout or expense to the configured webhook backend.",
				Parameters:  logEventSchema(),
			},
		},
		{
			Type: "function",
			Function: functionDefinition{
				Name:        ToolRetrieveEvents,
				Description: "Retrieves logged meals, workouts or expenses with optional filtering and aggregation.",
				Parameters:  retrieveEventsSchema(),
			},
		},
	}
}

func logEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"event_type": {Type: "string", Enum: []any{"meal", "workout", "expense"}},
			"date":       {Type: "string", Description: "YYYY-MM-DD"},
			"hour":       {Type: "string", Description: "HH:mm"},
			"calories":   {Type: "number"},
			"proteins":   {Type: "number"},
			"fat":        {Type: "number"},
			"carbs":      {Type: "number"},
			"workout":    {Type: "string"},
			"exercise":   {Type: "string"},
			"sets":       {Type: "number"},
			"reps":       {Type: "number"},
			"weight":     {Type: "number"},
			"category":   {Type: "string"},
			"value":      {Type: "number"},
			"currency":   {Type: "string"},
			"comments":   {Type: "string"},
		},
		Required: []string{"event_type", "date", "hour"},
	}
}

func retrieveEventsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"event_type": {
				Type:        "string",
				Enum:        []any{"meal", "workout", "expense"},
				Description: "Optional: filter by event type",
			},
			"date_from": {
				Type:        "string",
				Description: "Optional: start date (YYYY-MM-DD) for filtering",
			},
			"date_to": {
				Type:        "string",
				Description: "Optional: end date (YYYY-MM-DD) for filtering",
			},
			"aggregation": {
				Type:        "string",
				Enum:        []any{"sum", "average", "count", "details"},
				Description: "Type of data to return: sum totals, average values, count of entries, or full details",
			},
			"limit": {
				Type:        "number",
				Description: "Optional: maximum number of records to return (default 100)",
			},
		},
	}
}
