package verify

import (
	"fmt"

	"routercheck/internal/chat"
	rstrings "routercheck/pkg/strings"
)

// Options is the strictness policy for a response comparison.
type Options struct {
	// Strict requires byte-for-byte equality of final text and reasoning
	// between the direct and routed legs.
	Strict bool
	// RequireReasoning makes a direct response without reasoning content a
	// failure (a misconfigured reference backend).
	RequireReasoning bool
	// MaxTokens, when non-zero, is the completion-token budget both legs
	// must respect.
	MaxTokens int
}

// Check records one comparison step and its verdict.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Result is the outcome of comparing a direct/routed response pair.
type Result struct {
	Checks []Check
	passed bool
}

// Passed reports whether every check held.
func (r *Result) Passed() bool {
	return r.passed
}

// Failures returns the detail lines of failed checks.
func (r *Result) Failures() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}
	return out
}

// add records a check; detail is kept only for failures.
func (r *Result) add(name string, passed bool, detail string) {
	if passed {
		detail = ""
	}
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.passed = false
	}
}

// truncate keeps diagnostic payloads readable.
func truncate(s string) string {
	return rstrings.Truncate(s, rstrings.DefaultDetailMaxLen)
}

// Compare evaluates a direct/routed response pair under the strictness
// policy. Non-strict mode checks presence, reasoning propagation, and budget
// compliance only; strict mode additionally requires exact text equality.
func Compare(direct, routed *chat.Response, opts Options) *Result {
	res := &Result{passed: true}

	directMsg := direct.FirstMessage()
	routedMsg := routed.FirstMessage()

	// Reasoning rules come first: a reference without reasoning when the
	// policy demands it means the comparison itself is meaningless.
	if opts.RequireReasoning && directMsg.ReasoningContent == "" {
		res.add("reasoning required", false, "direct response missing reasoning_content (misconfigured reference)")
		return res
	}

	if directMsg.ReasoningContent != "" {
		if routedMsg.ReasoningContent == "" {
			res.add("reasoning propagated", false, "routed response missing reasoning_content")
		} else {
			res.add("reasoning propagated", true, "")
			if opts.Strict {
				if directMsg.ReasoningContent == routedMsg.ReasoningContent {
					res.add("reasoning identical", true, "")
				} else {
					res.add("reasoning identical", false, fmt.Sprintf("direct %q vs routed %q",
						truncate(directMsg.ReasoningContent), truncate(routedMsg.ReasoningContent)))
				}
			}
		}
	}

	directText := directMsg.FinalText()
	routedText := routedMsg.FinalText()
	res.add("direct final text present", directText != "", "direct response produced no final text")
	res.add("routed final text present", routedText != "", "routed response produced no final text")
	if opts.Strict && directText != "" && routedText != "" {
		if directText == routedText {
			res.add("final text identical", true, "")
		} else {
			res.add("final text identical", false, fmt.Sprintf("direct %q vs routed %q",
				truncate(directText), truncate(routedText)))
		}
	}

	// Budget holds regardless of strictness, but only when both sides report
	// usage and a budget was actually set.
	if opts.MaxTokens > 0 && direct.Usage != nil && routed.Usage != nil {
		res.add("direct within token budget", direct.Usage.CompletionTokens <= opts.MaxTokens,
			fmt.Sprintf("direct used %d completion tokens, budget %d", direct.Usage.CompletionTokens, opts.MaxTokens))
		res.add("routed within token budget", routed.Usage.CompletionTokens <= opts.MaxTokens,
			fmt.Sprintf("routed used %d completion tokens, budget %d", routed.Usage.CompletionTokens, opts.MaxTokens))
	}

	return res
}
