package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"routercheck/pkg/logging"
)

// RouteAlias maps a router-visible model name to a concrete backend.
type RouteAlias struct {
	// BaseURL is the backend's API base, including any /v1 suffix.
	BaseURL string `json:"base_url"`
	// Mode is the protocol mode the router speaks to the backend.
	Mode string `json:"mode"`
	// ModelID is the backend-native model identifier.
	ModelID string `json:"model_id"`
}

// AliasMap is the router alias file content: route name -> backend binding.
type AliasMap map[string]RouteAlias

// Target describes the route the current session needs.
type Target struct {
	// RouteName is the router-visible model name, e.g. "vllm-nemotron".
	RouteName string
	// BackendBaseURL is the reference backend base, without the /v1 suffix.
	BackendBaseURL string
	// BackendModelID is the backend-native model id.
	BackendModelID string
	// Mode is the protocol mode; defaults to "chat" when empty.
	Mode string
}

// Bundle is the result of synthesis: the generated artifacts plus the
// command-line configuration pointers to hand to the router process.
type Bundle struct {
	// Aliases is the merged alias map that was written out.
	Aliases AliasMap
	// RouterConfigPath is the path of the generated alias file.
	RouterConfigPath string
	// Args are the CLI pointer arguments for the router binary.
	Args []string
}

// Synthesizer builds a session-private configuration bundle.
type Synthesizer struct {
	// BaseAliasPath optionally points at a pre-supplied alias file whose
	// entries must be preserved. Missing file means empty base; unreadable
	// file degrades to empty base (logged, not fatal).
	BaseAliasPath string
	// MCPConfigPath optionally points at an MCP config passed through opaquely.
	MCPConfigPath string
	// SystemPromptPath optionally points at the system-prompt policy document.
	SystemPromptPath string
}

// MergeAliases overlays the target route onto the base map. Existing keys are
// never overwritten; the target entry is added only when its key is absent.
func MergeAliases(base AliasMap, target Target) AliasMap {
	merged := make(AliasMap, len(base)+1)
	for name, alias := range base {
		merged[name] = alias
	}

	if target.RouteName == "" || target.BackendBaseURL == "" || target.BackendModelID == "" {
		return merged
	}
	if _, exists := merged[target.RouteName]; exists {
		return merged
	}

	mode := target.Mode
	if mode == "" {
		mode = "chat"
	}
	merged[target.RouteName] = RouteAlias{
		BaseURL: strings.TrimRight(target.BackendBaseURL, "/") + "/v1",
		Mode:    mode,
		ModelID: target.BackendModelID,
	}
	return merged
}

// loadBaseAliases reads the base alias file, failing open to an empty map when
// the file is absent or unparseable. The degraded path is logged so silently
// ignored misconfiguration stays observable.
func (s *Synthesizer) loadBaseAliases() AliasMap {
	if s.BaseAliasPath == "" {
		return AliasMap{}
	}

	data, err := os.ReadFile(s.BaseAliasPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Config", "alias base %s unreadable (%v), continuing with empty base", s.BaseAliasPath, err)
		}
		return AliasMap{}
	}

	var base AliasMap
	if err := json.Unmarshal(data, &base); err != nil {
		logging.Warn("Config", "alias base %s failed to parse (%v), continuing with empty base", s.BaseAliasPath, err)
		return AliasMap{}
	}
	return base
}

// Synthesize merges the base alias file with the target route, writes the
// merged map into dir, and returns the configuration pointers for the router
// command line. The original base files are never mutated.
func (s *Synthesizer) Synthesize(dir string, target Target) (*Bundle, error) {
	merged := MergeAliases(s.loadBaseAliases(), target)

	routerConfigPath := filepath.Join(dir, "router_aliases.json")
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode alias map: %w", err)
	}
	if err := os.WriteFile(routerConfigPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write alias file: %w", err)
	}

	bundle := &Bundle{
		Aliases:          merged,
		RouterConfigPath: routerConfigPath,
		Args:             []string{"--router-config=" + routerConfigPath},
	}

	// MCP and system-prompt documents are pass-through: the pointer is only
	// emitted when the file actually exists.
	if fileExists(s.MCPConfigPath) {
		bundle.Args = append(bundle.Args, "--mcp-config="+s.MCPConfigPath)
	}
	if fileExists(s.SystemPromptPath) {
		bundle.Args = append(bundle.Args, "--system-prompt-config="+s.SystemPromptPath)
	}

	logging.Debug("Config", "synthesized %d alias(es) into %s", len(merged), routerConfigPath)
	return bundle, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
