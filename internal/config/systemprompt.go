package config

import (
	"encoding/json"
	"fmt"
	"os"

	"routercheck/internal/chat"
)

// InjectionMode governs where a resolved system prompt is inserted relative
// to the existing message sequence.
type InjectionMode string

const (
	// InjectPrepend inserts the system message before all others.
	InjectPrepend InjectionMode = "prepend"
	// InjectAppend inserts the system message after the last existing system
	// message, or at the end when there is none.
	InjectAppend InjectionMode = "append"
	// InjectReplace drops existing system messages and prepends the new one.
	InjectReplace InjectionMode = "replace"
)

// SystemPromptPolicy mirrors the router's system-prompt config document. The
// harness applies it locally to the direct leg to emulate what the router is
// expected to do internally.
type SystemPromptPolicy struct {
	Enabled       *bool             `json:"enabled,omitempty"`
	InjectionMode InjectionMode     `json:"injection_mode,omitempty"`
	PerModel      map[string]string `json:"per_model,omitempty"`
	PerAPI        map[string]string `json:"per_api,omitempty"`
	Global        string            `json:"global,omitempty"`
}

// LoadSystemPromptPolicy reads a policy document. A missing path yields a nil
// policy, meaning no injection.
func LoadSystemPromptPolicy(path string) (*SystemPromptPolicy, error) {
	if !fileExists(path) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system prompt config %s: %w", path, err)
	}
	var policy SystemPromptPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse system prompt config %s: %w", path, err)
	}
	return &policy, nil
}

// enabled defaults to true when the field is absent, matching the router.
func (p *SystemPromptPolicy) enabled() bool {
	return p != nil && (p.Enabled == nil || *p.Enabled)
}

// Mode returns the effective injection mode, defaulting to prepend.
func (p *SystemPromptPolicy) Mode() InjectionMode {
	if p == nil || p.InjectionMode == "" {
		return InjectPrepend
	}
	return p.InjectionMode
}

// Resolve picks the prompt for a (model, api) pair: per-model exact match
// wins, then per-api, then the global fallback. A disabled policy resolves to
// nothing regardless of its other fields.
func (p *SystemPromptPolicy) Resolve(model, api string) (string, bool) {
	if !p.enabled() {
		return "", false
	}
	if prompt, ok := p.PerModel[model]; ok {
		return prompt, true
	}
	if prompt, ok := p.PerAPI[api]; ok {
		return prompt, true
	}
	if p.Global != "" {
		return p.Global, true
	}
	return "", false
}

// Inject applies prompt to messages under the given mode, returning a new
// slice. An empty prompt returns a copy of the input unchanged.
func Inject(messages []chat.Message, prompt string, mode InjectionMode) []chat.Message {
	if prompt == "" {
		return append([]chat.Message(nil), messages...)
	}

	system := chat.Message{Role: chat.RoleSystem, Content: prompt}

	switch mode {
	case InjectAppend:
		lastSystem := -1
		for i, msg := range messages {
			if msg.Role == chat.RoleSystem {
				lastSystem = i
			}
		}
		if lastSystem >= 0 {
			out := make([]chat.Message, 0, len(messages)+1)
			out = append(out, messages[:lastSystem+1]...)
			out = append(out, system)
			out = append(out, messages[lastSystem+1:]...)
			return out
		}
		return append(append([]chat.Message(nil), messages...), system)

	case InjectReplace:
		out := []chat.Message{system}
		for _, msg := range messages {
			if msg.Role != chat.RoleSystem {
				out = append(out, msg)
			}
		}
		return out

	default: // prepend
		return append([]chat.Message{system}, messages...)
	}
}

// Apply resolves the prompt for (model, api) and injects it into messages,
// returning the transformed sequence.
func (p *SystemPromptPolicy) Apply(messages []chat.Message, model, api string) []chat.Message {
	prompt, ok := p.Resolve(model, api)
	if !ok {
		return append([]chat.Message(nil), messages...)
	}
	return Inject(messages, prompt, p.Mode())
}
