package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// resolvePassphrase returns the sealing passphrase from the flag value or the
// CARCODE_PASSPHRASE environment variable.
func resolvePassphrase(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("CARCODE_PASSPHRASE"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("passphrase is required. Use --passphrase flag or CARCODE_PASSPHRASE environment variable")
}

// parseTimeFlag accepts RFC3339 timestamps and a couple of forgiving
// date-only forms for interactive use.
func parseTimeFlag(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format %q (expected RFC3339, e.g. 2024-01-31T23:59:59Z)", value)
}

// promptConfirmation asks the user to confirm a destructive operation.
func promptConfirmation(message string) bool {
	fmt.Printf("%s [y/N]: ", message)

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
