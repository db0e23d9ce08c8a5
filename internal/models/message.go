// internal/models/message.go
package models

import (
	"strings"
	"time"
)

// AnonymousAuthor is stored when a message is posted without a name.
const AnonymousAuthor = "匿名"

// MessageCategory tags a message in an item's thread.
type MessageCategory string

const (
	CategoryGeneral      MessageCategory = "general"
	CategoryIssue        MessageCategory = "issue"
	CategoryFixed        MessageCategory = "fixed"
	CategoryQuestion     MessageCategory = "question"
	CategoryStatusUpdate MessageCategory = "status_update"
)

// Valid reports whether c is a known category.
func (c MessageCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryIssue, CategoryFixed, CategoryQuestion, CategoryStatusUpdate:
		return true
	}
	return false
}

// Message is one durably stored note in an item's thread.
type Message struct {
	ID        string          `json:"id" db:"id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	Body      string          `json:"message" db:"message"`
	Author    string          `json:"user_name" db:"user_name"`
	Category  MessageCategory `json:"msg_type" db:"msg_type"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Notify    bool            `json:"send_notification" db:"send_notification"`
}

// NormalizeAuthor trims the author and substitutes the anonymous sentinel for
// blank input.
func NormalizeAuthor(author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		return AnonymousAuthor
	}
	return author
}

// Normalize returns a copy with the author normalized and an empty category
// defaulted to general.
func (m Message) Normalize() Message {
	m.Author = NormalizeAuthor(m.Author)
	if m.Category == "" {
		m.Category = CategoryGeneral
	}
	return m
}

// Validate reports the first structural problem with the message, or "".
func (m Message) Validate() string {
	switch {
	case strings.TrimSpace(m.ItemID) == "":
		return "item_id is required"
	case strings.TrimSpace(m.Body) == "":
		return "message body must not be empty"
	case m.Category != "" && !m.Category.Valid():
		return "unknown msg_type " + string(m.Category)
	}
	return ""
}
