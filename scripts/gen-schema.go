//go:build ignore

// gen-schema writes the automation JSON Schema to schemas/automation-v1.json.
// Run with: go run scripts/gen-schema.go
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
)

const out = "schemas/automation-v1.json"

func main() {
	data, err := automation.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote " + out)
}
