package models

import "time"

// MessageStatus represents the lifecycle state of a bus message.
type MessageStatus string

const (
	// StatusPending indicates the request has not been handled yet.
	StatusPending MessageStatus = "pending"
	// StatusProcessing indicates a handler is working on the request.
	StatusProcessing MessageStatus = "processing"
	// StatusCompleted indicates the handler finished successfully.
	StatusCompleted MessageStatus = "completed"
	// StatusFailed indicates the handler returned or raised an error.
	StatusFailed MessageStatus = "failed"
	// StatusTimedOut indicates the caller stopped waiting before the
	// handler finished. The handler outcome is unknown.
	StatusTimedOut MessageStatus = "timed_out"
)

// Valid returns true if the status is a known value.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Request is a unit of work routed through the message bus to the handler
// registered for its category.
type Request struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// Category is the agent category the request is addressed to.
	Category string `json:"category"`
	// Payload carries the task data handed to the handler.
	Payload map[string]any `json:"payload,omitempty"`
	// Timeout bounds how long the sender waits for a response.
	Timeout time.Duration `json:"timeout"`
	// CreatedAt is when the request was built.
	CreatedAt time.Time `json:"created_at"`
}

// Response is the handler's answer to a Request. The bus sets CorrelationID
// to the originating request's ID at send time; handlers never choose it.
type Response struct {
	// RequestID is the ID of the request this response answers.
	RequestID string `json:"request_id"`
	// CorrelationID always equals RequestID.
	CorrelationID string `json:"correlation_id"`
	// Category is the agent category that produced the response.
	Category string `json:"category"`
	// Status is the terminal state of the request.
	Status MessageStatus `json:"status"`
	// Payload carries handler output when Status is StatusCompleted.
	Payload map[string]any `json:"payload,omitempty"`
	// Error holds the failure message when Status is not StatusCompleted.
	Error string `json:"error,omitempty"`
}

// Succeeded returns true if the response represents a completed request.
func (r *Response) Succeeded() bool {
	return r.Status == StatusCompleted
}

// CompletedResponse builds a successful response for the given request.
func CompletedResponse(req *Request, payload map[string]any) *Response {
	return &Response{
		RequestID:     req.ID,
		CorrelationID: req.ID,
		Category:      req.Category,
		Status:        StatusCompleted,
		Payload:       payload,
	}
}

// FailedResponse builds a failed response for the given request.
func FailedResponse(req *Request, errMsg string) *Response {
	return &Response{
		RequestID:     req.ID,
		CorrelationID: req.ID,
		Category:      req.Category,
		Status:        StatusFailed,
		Error:         errMsg,
	}
}

// TimedOutResponse builds a timed-out response for the given request.
func TimedOutResponse(req *Request, errMsg string) *Response {
	return &Response{
		RequestID:     req.ID,
		CorrelationID: req.ID,
		Category:      req.Category,
		Status:        StatusTimedOut,
		Error:         errMsg,
	}
}
