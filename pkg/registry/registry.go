// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed events.json
var defaultRegistry []byte

// LoadRegistry reads a registry file. An empty path yields the built-in one.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Default returns the registry compiled into the binary.
func Default() (*ActivityRegistry, error) {
	return Parse(defaultRegistry)
}

func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// Find returns the activity serving taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Check reports the first structural problem in the registry.
func (r *ActivityRegistry) Check() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for _, a := range r.Activities {
		switch {
		case a.ID == "":
			return fmt.Errorf("activity missing required field: id")
		case ids[a.ID]:
			return fmt.Errorf("duplicate activity id: %s", a.ID)
		case a.TaskType == "":
			return fmt.Errorf("activity %s missing required field: taskType", a.ID)
		case taskTypes[a.TaskType]:
			return fmt.Errorf("duplicate task type: %s", a.TaskType)
		case len(a.InputSchema) == 0:
			return fmt.Errorf("activity %s has no inputSchema", a.ID)
		case a.Retries < 0:
			return fmt.Errorf("activity %s has negative retries", a.ID)
		}
		ids[a.ID] = true
		taskTypes[a.TaskType] = true
	}
	return nil
}
