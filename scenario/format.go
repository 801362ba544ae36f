package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FormatText renders run results as human-readable text.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Running %d scenario", len(results))
	if len(results) != 1 {
		b.WriteString("s")
	}
	b.WriteString("...\n\n")

	totalChecks := 0
	totalPassed := 0
	failed := 0

	for _, r := range results {
		totalChecks += r.Total
		totalPassed += r.Passed

		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(&b, "  %s  %s (%d/%d)\n", status, r.Name, r.Passed, r.Total)

		for _, c := range r.Checks {
			if !c.Passed {
				fmt.Fprintf(&b, "    FAIL  step %d: %-14s expected %q, got %q\n", c.Index, c.Check, c.Expected, c.Actual)
			}
		}
	}

	fmt.Fprintf(&b, "\n%d of %d checks passed.", totalPassed, totalChecks)
	if failed > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", failed, len(results))
	}
	b.WriteString("\n")

	return b.String()
}

func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "unable to marshal scenario results")
	}
	return string(data), nil
}
