package model

import "time"

// WebSocket message types
const (
	WSMessageTypeStatus   = "status"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// StatusEvent is published whenever a book job changes state. It is the
// payload of websocket status messages and AMQP status events.
type StatusEvent struct {
	Type         string     `json:"type"`
	BookID       string     `json:"bookId"`
	OwnerID      string     `json:"ownerId,omitempty"`
	Status       BookStatus `json:"status"`
	StatusDetail string     `json:"statusDetail,omitempty"`
	PagesDone    int        `json:"pagesDone"`
	PageCount    int        `json:"pageCount"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewStatusEvent builds the event for the current state of a job.
func NewStatusEvent(job *BookJob) StatusEvent {
	msgType := WSMessageTypeStatus
	switch job.Status {
	case BookStatusCompleted:
		msgType = WSMessageTypeComplete
	case BookStatusFailed:
		msgType = WSMessageTypeError
	}
	return StatusEvent{
		Type:         msgType,
		BookID:       job.ID,
		OwnerID:      job.OwnerID,
		Status:       job.Status,
		StatusDetail: job.StatusDetail,
		PagesDone:    job.IllustrationCount(),
		PageCount:    job.PageCount,
		UpdatedAt:    job.UpdatedAt,
	}
}
