// internal/models/event.go
package models

import "time"

// EventType identifies a subscriber-facing envelope.
type EventType string

const (
	EventNewMessage     EventType = "new_message"
	EventStatusUpdate   EventType = "status_update"
	EventProgressUpdate EventType = "progress_update"
)

// Envelope is the JSON frame pushed to subscribers.
type Envelope struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// MessageEventData is the payload of a new_message envelope.
type MessageEventData struct {
	ID        string          `json:"id,omitempty"`
	ItemID    string          `json:"item_id"`
	Message   string          `json:"message"`
	UserName  string          `json:"user_name"`
	MsgType   MessageCategory `json:"msg_type"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// StatusEventData is the payload of a status_update envelope.
type StatusEventData struct {
	ItemID    string     `json:"item_id"`
	Status    ItemStatus `json:"status"`
	Timestamp string     `json:"timestamp"`
}

// ProgressEventData is the payload of a progress_update envelope.
type ProgressEventData struct {
	ItemID    string     `json:"item_id"`
	Progress  int        `json:"progress"`
	Status    ItemStatus `json:"status,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// NewMessageEnvelope builds the new_message envelope for m.
func NewMessageEnvelope(m Message) Envelope {
	data := MessageEventData{
		ID:       m.ID,
		ItemID:   m.ItemID,
		Message:  m.Body,
		UserName: m.Author,
		MsgType:  m.Category,
	}
	if !m.CreatedAt.IsZero() {
		data.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	return Envelope{Type: EventNewMessage, Data: data}
}

// NewStatusEnvelope builds the status_update envelope.
func NewStatusEnvelope(itemID string, status ItemStatus, at time.Time) Envelope {
	return Envelope{
		Type: EventStatusUpdate,
		Data: StatusEventData{
			ItemID:    itemID,
			Status:    status,
			Timestamp: at.UTC().Format(time.RFC3339Nano),
		},
	}
}

// NewProgressEnvelope builds the progress_update envelope. status may be empty.
func NewProgressEnvelope(itemID string, progress int, status ItemStatus, at time.Time) Envelope {
	return Envelope{
		Type: EventProgressUpdate,
		Data: ProgressEventData{
			ItemID:    itemID,
			Progress:  progress,
			Status:    status,
			Timestamp: at.UTC().Format(time.RFC3339Nano),
		},
	}
}
