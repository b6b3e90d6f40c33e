package verify

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FailedError reports that the harness ran to completion but one or more
// cases did not pass. It lets callers distinguish a failed verification from
// an operational error.
type FailedError struct {
	Failed int
	Total  int
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%d of %d case(s) failed verification", e.Failed, e.Total)
}

// Summarize returns nil when every case passed, *FailedError otherwise.
func Summarize(results []*CaseResult) error {
	failed := 0
	for _, res := range results {
		if !res.Comparison.Passed() {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return &FailedError{Failed: failed, Total: len(results)}
}

// RenderReport writes a human-readable table of case results.
func RenderReport(w io.Writer, results []*CaseResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("CASE"),
		text.FgHiCyan.Sprint("CHECK"),
		text.FgHiCyan.Sprint("RESULT"),
		text.FgHiCyan.Sprint("DETAIL"),
	})

	for _, res := range results {
		for _, check := range res.Comparison.Checks {
			verdict := text.FgGreen.Sprint("PASS")
			if !check.Passed {
				verdict = text.FgRed.Sprint("FAIL")
			}
			t.AppendRow(table.Row{res.Case.Name, check.Name, verdict, check.Detail})
		}
		t.AppendSeparator()
	}
	t.Render()

	passed := 0
	for _, res := range results {
		if res.Comparison.Passed() {
			passed++
		}
	}
	summary := fmt.Sprintf("%d/%d case(s) passed\n", passed, len(results))
	if passed == len(results) {
		fmt.Fprint(w, text.FgGreen.Sprint(summary))
	} else {
		fmt.Fprint(w, text.FgRed.Sprint(summary))
	}
}
