// internal/models/item.go
package models

import "time"

// ItemStatus is the lifecycle status of a tagged item.
type ItemStatus string

const (
	StatusWorking          ItemStatus = "Working"
	StatusDelayed          ItemStatus = "Delayed"
	StatusCompleted        ItemStatus = "Completed"
	StatusNeedsMaintenance ItemStatus = "NeedsMaintenance"
	StatusOutOfOrder       ItemStatus = "OutOfOrder"
)

// ItemStatuses lists every valid status in display order.
var ItemStatuses = []ItemStatus{
	StatusWorking,
	StatusDelayed,
	StatusCompleted,
	StatusNeedsMaintenance,
	StatusOutOfOrder,
}

// Valid reports whether s is one of the known statuses.
func (s ItemStatus) Valid() bool {
	for _, known := range ItemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Item is a read-only snapshot of a tagged item owned by the persistence layer.
type Item struct {
	ItemID      string     `json:"item_id" db:"item_id"`
	Name        string     `json:"name" db:"name"`
	Location    string     `json:"location" db:"location"`
	Status      ItemStatus `json:"status" db:"status"`
	Progress    int        `json:"progress" db:"progress"`
	UserEmail   string     `json:"user_email,omitempty" db:"user_email"`
	TotalPieces *int       `json:"total_pieces,omitempty" db:"total_pieces"`
	TargetDate  string     `json:"target_date,omitempty" db:"target_date"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

const (
	MinProgress = 0
	MaxProgress = 100
)

// ValidProgress reports whether p is within 0..100.
func ValidProgress(p int) bool {
	return p >= MinProgress && p <= MaxProgress
}

// StatusForProgress derives the status implied by a progress value. The
// second result is false when the progress leaves the status unchanged.
func StatusForProgress(p int) (ItemStatus, bool) {
	switch {
	case p == MaxProgress:
		return StatusCompleted, true
	case p >= 75:
		return StatusWorking, true
	case p < 25:
		return StatusDelayed, true
	default:
		return "", false
	}
}
