package tools

// Result is the unified return type from tool execution.
type Result struct {
	Content string `json:"content"`            // content fed back to the agent
	IsError bool   `json:"is_error,omitempty"` // recoverable tool error, surfaced to the agent loop
	Reason  string `json:"reason,omitempty"`   // machine-readable rejection reason, when blocked
}

func NewResult(content string) *Result {
	return &Result{Content: content}
}

func ErrorResult(message string) *Result {
	return &Result{Content: message, IsError: true}
}

func BlockedResult(message, reason string) *Result {
	return &Result{Content: message, IsError: true, Reason: reason}
}
