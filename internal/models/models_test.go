package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForProgress(t *testing.T) {
	tests := []struct {
		progress   int
		wantStatus ItemStatus
		wantChange bool
	}{
		{100, StatusCompleted, true},
		{99, StatusWorking, true},
		{75, StatusWorking, true},
		{74, "", false},
		{25, "", false},
		{24, StatusDelayed, true},
		{0, StatusDelayed, true},
	}

	for _, tt := range tests {
		status, changed := StatusForProgress(tt.progress)
		assert.Equal(t, tt.wantChange, changed, "progress %d", tt.progress)
		assert.Equal(t, tt.wantStatus, status, "progress %d", tt.progress)
	}
}

func TestValidProgress(t *testing.T) {
	assert.True(t, ValidProgress(0))
	assert.True(t, ValidProgress(100))
	assert.False(t, ValidProgress(-1))
	assert.False(t, ValidProgress(101))
}

func TestItemStatus_Valid(t *testing.T) {
	for _, s := range ItemStatuses {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, ItemStatus("completed").Valid())
	assert.False(t, ItemStatus("").Valid())
}

func TestMessage_NormalizeAndValidate(t *testing.T) {
	m := Message{ItemID: "drill_c", Body: "  bit is dull ", Author: "   "}.Normalize()

	assert.Equal(t, AnonymousAuthor, m.Author)
	assert.Equal(t, CategoryGeneral, m.Category)
	assert.Empty(t, m.Validate())

	assert.NotEmpty(t, Message{ItemID: "drill_c", Body: "   "}.Validate())
	assert.NotEmpty(t, Message{Body: "hi"}.Validate())
	assert.NotEmpty(t, Message{ItemID: "x", Body: "hi", Category: "rant"}.Validate())
}

func TestEnvelopes_WireShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	raw, err := json.Marshal(NewStatusEnvelope("drill_c", StatusCompleted, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status_update","data":{"item_id":"drill_c","status":"Completed","timestamp":"2026-03-01T09:30:00Z"}}`, string(raw))

	msg := Message{ID: "m1", ItemID: "drill_c", Body: "hello", Author: "Yuki", Category: CategoryIssue, CreatedAt: at}
	raw, err = json.Marshal(NewMessageEnvelope(msg))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"new_message","data":{"id":"m1","item_id":"drill_c","message":"hello","user_name":"Yuki","msg_type":"issue","created_at":"2026-03-01T09:30:00Z"}}`, string(raw))

	raw, err = json.Marshal(NewProgressEnvelope("drill_c", 50, "", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"progress_update","data":{"item_id":"drill_c","progress":50,"timestamp":"2026-03-01T09:30:00Z"}}`, string(raw))
}

func TestDispatchOutcome_Failed(t *testing.T) {
	var nilOutcome *DispatchOutcome
	assert.Equal(t, 0, nilOutcome.Failed())
	assert.Equal(t, 2, (&DispatchOutcome{Attempted: 5, Succeeded: 3}).Failed())
}
