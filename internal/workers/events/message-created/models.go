package messagecreated

import "memotag-notifier/internal/models"

// Input mirrors the stored message row plus the optional item snapshot.
type Input struct {
	ID               string       `json:"id,omitempty"`
	ItemID           string       `json:"item_id"`
	Message          string       `json:"message"`
	UserName         string       `json:"user_name,omitempty"`
	MsgType          string       `json:"msg_type,omitempty"`
	CreatedAt        string       `json:"created_at,omitempty"` // RFC 3339
	SendNotification bool         `json:"send_notification"`
	Item             *models.Item `json:"item,omitempty"`
}

type Output struct {
	Delivered              int    `json:"delivered"`
	Pruned                 int    `json:"pruned"`
	NotificationsAttempted int    `json:"notificationsAttempted"`
	NotificationsSucceeded int    `json:"notificationsSucceeded"`
	NotificationError      string `json:"notificationError,omitempty"`
}
