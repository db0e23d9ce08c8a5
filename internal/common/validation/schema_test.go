package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memotag-notifier/pkg/registry"
)

func newDefaultValidator(t *testing.T) *Validator {
	reg, err := registry.Default()
	require.NoError(t, err)
	v, err := NewValidator(reg)
	require.NoError(t, err)
	return v
}

func TestValidator_ValidateJSON(t *testing.T) {
	v := newDefaultValidator(t)

	tests := []struct {
		name      string
		taskType  string
		variables string
		valid     bool
		field     string
	}{
		{"message ok", "memotag.message-created", `{"item_id":"drill_c","message":"hi","send_notification":true}`, true, ""},
		{"message missing body", "memotag.message-created", `{"item_id":"drill_c"}`, false, "(root)"},
		{"message bad category", "memotag.message-created", `{"item_id":"drill_c","message":"hi","msg_type":"rant"}`, false, "msg_type"},
		{"status ok", "memotag.status-changed", `{"item_id":"drill_c","status":"Completed"}`, true, ""},
		{"status unknown", "memotag.status-changed", `{"item_id":"drill_c","status":"Exploded"}`, false, "status"},
		{"progress ok", "memotag.progress-changed", `{"item_id":"drill_c","progress":75}`, true, ""},
		{"progress too high", "memotag.progress-changed", `{"item_id":"drill_c","progress":101}`, false, "progress"},
		{"progress not integer", "memotag.progress-changed", `{"item_id":"drill_c","progress":"half"}`, false, "progress"},
		{"unknown task type passes", "other", `{}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.ValidateJSON(tt.taskType, tt.variables)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid, result.Summary())
			if !tt.valid {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.field, result.Errors[0].Field)
				assert.NotEmpty(t, result.Errors[0].Code)
			}
		})
	}
}

func TestValidator_MalformedJSON(t *testing.T) {
	v := newDefaultValidator(t)
	_, err := v.ValidateJSON("memotag.status-changed", `{not json`)
	assert.Error(t, err)
}

func TestNewValidator_BadSchema(t *testing.T) {
	reg := &registry.ActivityRegistry{Activities: []registry.Activity{{
		ID: "x", TaskType: "x", InputSchema: map[string]interface{}{"type": 42},
	}}}
	_, err := NewValidator(reg)
	assert.Error(t, err)
}

func TestValidateInput(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"item_id"},
	}

	result, err := ValidateInput(map[string]interface{}{"item_id": "drill_c"}, schema)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	result, err = ValidateInput(map[string]interface{}{}, schema)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Summary(), "item_id")

	result, err = ValidateInput(nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}
