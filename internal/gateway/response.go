package gateway

// Record is one logged event as the backend returns it: a flexible map of
// field name to primitive value.
type Record map[string]any

// Response is the webhook's JSON envelope.
type Response struct {
	Success   bool      `json:"success"`
	RequestID string    `json:"request_id,omitempty"`
	Data      []Record  `json:"data,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Metadata accompanies retrieve responses.
type Metadata struct {
	Count        int           `json:"count"`
	Aggregations *Aggregations `json:"aggregations,omitempty"`
	DateRange    *DateRange    `json:"date_range,omitempty"`
}

// Aggregations holds the backend-computed summary figures. Pointer fields
// distinguish "absent" from zero.
type Aggregations struct {
	TotalCalories   *float64 `json:"total_calories,omitempty"`
	AverageCalories *float64 `json:"average_calories,omitempty"`
	TotalValue      *float64 `json:"total_value,omitempty"`
	TotalWorkouts   *int     `json:"total_workouts,omitempty"`
}

// DateRange bounds the records a retrieve response covers.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}
