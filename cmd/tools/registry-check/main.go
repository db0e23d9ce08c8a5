// cmd/tools/registry-check/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"memotag-notifier/internal/common/validation"
	"memotag-notifier/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	varsCmd := flag.NewFlagSet("check-vars", flag.ExitOnError)

	validatePath := validateCmd.String("path", "", "Path to registry file (embedded default when empty)")
	listPath := listCmd.String("path", "", "Path to registry file (embedded default when empty)")
	varsPath := varsCmd.String("path", "", "Path to registry file (embedded default when empty)")
	taskType := varsCmd.String("taskType", "", "Task type whose input schema applies (e.g., memotag.status-changed)")
	varsFile := varsCmd.String("file", "", "JSON file holding the job variables")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		if err := validateRegistry(*validatePath); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Registry validation passed.")

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		if err := listActivities(*listPath); err != nil {
			fmt.Printf("Error listing activities: %v\n", err)
			os.Exit(1)
		}

	case "check-vars":
		_ = varsCmd.Parse(os.Args[2:])
		if *taskType == "" || *varsFile == "" {
			fmt.Println("Error: taskType and file are required for check-vars.")
			varsCmd.Usage()
			os.Exit(1)
		}
		ok, err := checkVariables(*varsPath, *taskType, *varsFile)
		if err != nil {
			fmt.Printf("Error checking variables: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(2)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func validateRegistry(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Check(); err != nil {
		return err
	}
	if _, err := validation.NewValidator(reg); err != nil {
		return err
	}
	if _, err := time.Parse(time.RFC3339, reg.LastUpdated); err != nil && reg.LastUpdated != "" {
		return fmt.Errorf("lastUpdated is not RFC 3339: %w", err)
	}
	return nil
}

func listActivities(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].TaskType < activities[j].TaskType })

	fmt.Printf("Registry %s (%d activities)\n", reg.Version, len(activities))
	for _, a := range activities {
		fmt.Printf("  %-28s timeout=%-6s retries=%d  %s\n", a.TaskType, a.Timeout, a.Retries, a.DisplayName)
	}
	return nil
}

func checkVariables(path, taskType, file string) (bool, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return false, fmt.Errorf("failed to load registry: %w", err)
	}
	if _, ok := reg.Find(taskType); !ok {
		return false, fmt.Errorf("unknown task type %q", taskType)
	}
	validator, err := validation.NewValidator(reg)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("failed to read variables: %w", err)
	}
	result, err := validator.ValidateJSON(taskType, string(data))
	if err != nil {
		return false, err
	}
	if result.Valid {
		fmt.Printf("Variables are valid for %s.\n", taskType)
		return true, nil
	}
	fmt.Printf("Variables are invalid for %s:\n", taskType)
	for _, e := range result.Errors {
		fmt.Printf("  %s: %s\n", e.Field, e.Message)
	}
	return false, nil
}

func help() {
	fmt.Println("Usage: registry-check <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  validate   -path <file>                                  Check registry structure and schemas")
	fmt.Println("  list       -path <file>                                  List registered task types")
	fmt.Println("  check-vars -path <file> -taskType <type> -file <vars>    Validate job variables against a task schema")
}
