// Package verify implements the differential verification engine: it sends
// the same logical request directly to the reference backend and through the
// router, then compares the two responses under a configurable strictness
// policy.
package verify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"routercheck/internal/chat"
	"routercheck/internal/config"
	"routercheck/pkg/logging"
)

// apiKind is the api selector used for system-prompt resolution; the harness
// only exercises the chat-completion surface.
const apiKind = "chat"

// Case is one differential test case: a base message sequence plus sampling
// parameters shared verbatim by both legs.
type Case struct {
	Name     string         `yaml:"name"`
	Messages []chat.Message `yaml:"messages"`

	Temperature       *float64       `yaml:"temperature,omitempty"`
	Seed              *int           `yaml:"seed,omitempty"`
	MaxTokens         int            `yaml:"max_tokens,omitempty"`
	TopK              *int           `yaml:"top_k,omitempty"`
	RepetitionPenalty *float64       `yaml:"repetition_penalty,omitempty"`
	ChatTemplateKwargs map[string]any `yaml:"chat_template_kwargs,omitempty"`
}

// DefaultCase is the canonical forwarding scenario: a short deterministic
// generation with thinking disabled.
func DefaultCase() Case {
	temperature := 0.0
	seed := 123
	topK := 40
	repetitionPenalty := 1.1
	return Case{
		Name:              "chat-forwarding",
		Messages:          []chat.Message{{Role: chat.RoleUser, Content: "Write a short 4-line poem."}},
		Temperature:       &temperature,
		Seed:              &seed,
		MaxTokens:         128,
		TopK:              &topK,
		RepetitionPenalty: &repetitionPenalty,
		ChatTemplateKwargs: map[string]any{
			"enable_thinking": false,
		},
	}
}

// CaseResult is the full outcome of one case, including both raw responses
// for diagnosis.
type CaseResult struct {
	Case       Case
	Direct     *chat.Response
	Routed     *chat.Response
	Comparison *Result
	Elapsed    time.Duration
}

// Engine runs matched request pairs. Direct talks to the reference backend
// with its native model id; Routed talks to the router under the route name.
type Engine struct {
	// Direct is the client for the reference backend.
	Direct *chat.Client
	// Routed is the client for the router.
	Routed *chat.Client
	// BackendModel is the backend-native model id used on the direct leg.
	BackendModel string
	// RouteModel is the router-visible route name used on the routed leg.
	RouteModel string
	// Policy is applied locally to the direct leg to emulate the injection
	// the router performs internally. Nil means no injection.
	Policy *config.SystemPromptPolicy
	// Options is the comparison strictness policy.
	Options Options
}

// buildRequests constructs the matched pair. The direct leg gets the policy
// applied to its messages; the routed leg sends the base sequence untouched
// because the router injects on its side.
func (e *Engine) buildRequests(c Case) (direct, routed *chat.Request) {
	directMessages := e.Policy.Apply(c.Messages, e.RouteModel, apiKind)

	direct = &chat.Request{
		Model:              e.BackendModel,
		Messages:           directMessages,
		Temperature:        c.Temperature,
		Seed:               c.Seed,
		MaxTokens:          c.MaxTokens,
		TopK:               c.TopK,
		RepetitionPenalty:  c.RepetitionPenalty,
		ChatTemplateKwargs: c.ChatTemplateKwargs,
	}
	routed = &chat.Request{
		Model:              e.RouteModel,
		Messages:           append([]chat.Message(nil), c.Messages...),
		Temperature:        c.Temperature,
		Seed:               c.Seed,
		MaxTokens:          c.MaxTokens,
		TopK:               c.TopK,
		RepetitionPenalty:  c.RepetitionPenalty,
		ChatTemplateKwargs: c.ChatTemplateKwargs,
	}
	return direct, routed
}

// Run executes one case: both legs are issued concurrently with identical
// sampling parameters and the responses compared. A transport failure on
// either leg fails the case before any comparison.
func (e *Engine) Run(ctx context.Context, c Case) (*CaseResult, error) {
	directReq, routedReq := e.buildRequests(c)

	start := time.Now()
	var directResp, routedResp *chat.Response

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		directResp, err = e.Direct.CreateCompletion(gctx, directReq)
		return err
	})
	g.Go(func() error {
		var err error
		routedResp, err = e.Routed.CreateCompletion(gctx, routedReq)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	opts := e.Options
	opts.MaxTokens = c.MaxTokens

	result := &CaseResult{
		Case:       c,
		Direct:     directResp,
		Routed:     routedResp,
		Comparison: Compare(directResp, routedResp, opts),
		Elapsed:    time.Since(start),
	}

	if result.Comparison.Passed() {
		logging.Info("Verify", "case %q passed in %s", c.Name, result.Elapsed.Round(time.Millisecond))
	} else {
		logging.Warn("Verify", "case %q failed: %v", c.Name, result.Comparison.Failures())
	}
	return result, nil
}
