package errors

// ErrorResponse is the JSON structure rendered to a UI or HTTP client.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the displayable error fields.
type ErrorBody struct {
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Input     string         `json:"input,omitempty"`
	Hint      string         `json:"hint,omitempty"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts an ExecutionError to an ErrorResponse.
func (e *ExecutionError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Category:  e.Category,
			Message:   e.Message,
			Input:     e.Input,
			Hint:      e.Hint,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}
