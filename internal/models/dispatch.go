// internal/models/dispatch.go
package models

// RecipientResult is the outcome of one gateway send.
type RecipientResult struct {
	Address string `json:"address"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// DispatchOutcome aggregates one notification run. It is never persisted.
type DispatchOutcome struct {
	ItemID     string            `json:"item_id"`
	MessageID  string            `json:"message_id,omitempty"`
	Attempted  int               `json:"attempted"`
	Succeeded  int               `json:"succeeded"`
	Configured bool              `json:"configured"`
	Results    []RecipientResult `json:"results,omitempty"`
}

// Failed returns attempted minus succeeded.
func (o *DispatchOutcome) Failed() int {
	if o == nil {
		return 0
	}
	return o.Attempted - o.Succeeded
}
