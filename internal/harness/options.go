package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables the harness reads. Every one of them has a safe
// default so a bare invocation still does something sensible.
const (
	// EnvBackendBase is the reference backend base URL (no /v1 suffix).
	EnvBackendBase = "BACKEND_BASE"
	// EnvBackendModel is the backend-native model id.
	EnvBackendModel = "BACKEND_MODEL"
	// EnvBackendAPIKey authenticates the direct leg, if the backend needs it.
	EnvBackendAPIKey = "BACKEND_API_KEY"
	// EnvRouteModel is the router-visible route name.
	EnvRouteModel = "ROUTE_MODEL"
	// EnvRouterBinary is the router executable to spawn.
	EnvRouterBinary = "ROUTER_BINARY"
	// EnvRouterBase is the base URL of an already-running router, used with
	// EnvUseExternal instead of spawning one.
	EnvRouterBase = "ROUTER_BASE"
	// EnvUseExternal points the harness at an external router instance.
	EnvUseExternal = "ROUTER_USE_EXTERNAL"
	// EnvBindAddr fixes the spawned router's listen address.
	EnvBindAddr = "ROUTER_BIND_ADDR"
	// EnvRouterBackends is passed through to the router's prefix-routing
	// configuration.
	EnvRouterBackends = "ROUTER_BACKENDS"
	// EnvStrictMatch requires byte-identical outputs on both legs.
	EnvStrictMatch = "STRICT_MATCH"
	// EnvRequireReasoning makes missing reasoning on the reference fatal.
	EnvRequireReasoning = "REQUIRE_REASONING"
	// EnvDisable skips the differential test entirely.
	EnvDisable = "E2E_DISABLE"
	// EnvConfigDir holds the optional base config files (router_aliases.json,
	// mcp/mcp.json, system_prompt.json).
	EnvConfigDir = "CONFIG_DIR"
)

const (
	defaultBackendBase  = "http://127.0.0.1:8000"
	defaultBackendModel = "qwen3-8b"
	defaultRouterBase   = "http://127.0.0.1:8099"
	defaultConfigDir    = "testdata"
	defaultTokenTTL     = time.Hour
	defaultTokenLabel   = "routercheck-session"
)

// Options are the environment-driven session parameters.
type Options struct {
	BackendBase   string
	BackendModel  string
	BackendAPIKey string
	RouteModel    string

	RouterBinary   string
	RouterBase     string
	UseExternal    bool
	BindAddr       string
	RouterBackends string

	Strict           bool
	RequireReasoning bool
	Disabled         bool

	ConfigDir    string
	ReadyTimeout time.Duration
	TokenLabel   string
	TokenTTL     time.Duration

	Debug bool
}

// IsTruthy interprets the usual affirmative spellings of a flag variable.
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadOptions resolves session options from the environment, loading a .env
// file first when one exists next to the working directory.
func LoadOptions() Options {
	// Missing .env is the common case and not an error.
	_ = godotenv.Load()

	backendBase := strings.TrimRight(envOr(EnvBackendBase, defaultBackendBase), "/")
	backendModel := envOr(EnvBackendModel, defaultBackendModel)

	opts := Options{
		BackendBase:   backendBase,
		BackendModel:  backendModel,
		BackendAPIKey: os.Getenv(EnvBackendAPIKey),
		RouteModel:    envOr(EnvRouteModel, "vllm-"+backendModel),

		RouterBinary: os.Getenv(EnvRouterBinary),
		RouterBase:   envOr(EnvRouterBase, defaultRouterBase),
		UseExternal:  IsTruthy(os.Getenv(EnvUseExternal)),
		BindAddr:     os.Getenv(EnvBindAddr),
		RouterBackends: envOr(EnvRouterBackends,
			fmt.Sprintf("prefix=vllm-,base=%s/v1,mode=chat", backendBase)),

		Strict:           IsTruthy(os.Getenv(EnvStrictMatch)),
		RequireReasoning: IsTruthy(os.Getenv(EnvRequireReasoning)),
		Disabled:         IsTruthy(os.Getenv(EnvDisable)),

		ConfigDir:    envOr(EnvConfigDir, defaultConfigDir),
		ReadyTimeout: 30 * time.Second,
		TokenLabel:   defaultTokenLabel,
		TokenTTL:     defaultTokenTTL,
	}
	return opts
}

// BaseAliasPath is the optional pre-supplied alias file inside ConfigDir.
func (o Options) BaseAliasPath() string {
	return filepath.Join(o.ConfigDir, "router_aliases.json")
}

// MCPConfigPath is the optional MCP config inside ConfigDir.
func (o Options) MCPConfigPath() string {
	return filepath.Join(o.ConfigDir, "mcp", "mcp.json")
}

// SystemPromptPath is the optional system-prompt policy inside ConfigDir.
func (o Options) SystemPromptPath() string {
	return filepath.Join(o.ConfigDir, "system_prompt.json")
}
