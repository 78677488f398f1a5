// cmd/validate re-checks every generated artifact in a directory for the
// structural marks a finished conversion must carry.
//
// Usage:
//   ./validate
//   ./validate -dir out/generated
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tendant/simple-modernizer/internal/gate"
)

func main() {
	dir := flag.String("dir", "src/generated", "Directory of generated artifacts to validate")
	flag.Parse()

	reports, err := gate.ScanDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(reports) == 0 {
		fmt.Printf("No generated artifacts found under %s\n", *dir)
		return
	}

	failed := 0
	for _, r := range reports {
		if r.Outcome.Pass {
			fmt.Printf("✅ %s (%s)\n", r.Path, r.Lang)
			continue
		}
		failed++
		fmt.Printf("❌ %s (%s)\n", r.Path, r.Lang)
		for _, v := range r.Outcome.Violations {
			fmt.Printf("  • %s: %s\n", v.Check, v.Detail)
		}
	}

	fmt.Printf("\n%d checked, %d failed\n", len(reports), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
