package harness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routercheck/internal/chat"
	"routercheck/internal/service"
	"routercheck/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForTests()
	os.Exit(m.Run())
}

// fakeRouter emulates the router's HTTP surface: status, key issuance, and
// chat completions.
type fakeRouter struct {
	srv        *httptest.Server
	keyCalls   atomic.Int32
	issueToken bool
	answer     string
}

func newFakeRouter(t *testing.T) *fakeRouter {
	t.Helper()
	fr := &fakeRouter{issueToken: true, answer: "routed answer"}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/keys/generate", func(w http.ResponseWriter, r *http.Request) {
		fr.keyCalls.Add(1)
		if !fr.issueToken {
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": "tok-router-0123456789"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chat.Response{
			Choices: []chat.Choice{{Message: chat.Message{Role: chat.RoleAssistant, Content: fr.answer}}},
			Usage:   &chat.Usage{CompletionTokens: 10},
		})
	})
	fr.srv = httptest.NewServer(mux)
	t.Cleanup(fr.srv.Close)
	return fr
}

func externalOptions(t *testing.T, router *fakeRouter) Options {
	return Options{
		BackendBase:  "http://127.0.0.1:1",
		BackendModel: "backend-model",
		RouteModel:   "vllm-backend-model",
		UseExternal:  true,
		RouterBase:   router.srv.URL,
		ConfigDir:    t.TempDir(),
		ReadyTimeout: 2 * time.Second,
		TokenLabel:   "test-session",
		TokenTTL:     time.Hour,
	}
}

func TestOpen_ExternalInstance(t *testing.T) {
	router := newFakeRouter(t)

	sess, err := Open(context.Background(), externalOptions(t, router), nil)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, router.srv.URL, sess.BaseURL)
	require.NotNil(t, sess.Token)
	assert.Equal(t, "tok-router-0123456789", sess.Token.Token)
	assert.Equal(t, int32(1), router.keyCalls.Load(), "exactly one token per session")
}

func TestOpen_ExternalUnreachableIsFatal(t *testing.T) {
	opts := Options{
		UseExternal:  true,
		RouterBase:   "http://127.0.0.1:1",
		ConfigDir:    t.TempDir(),
		ReadyTimeout: time.Second,
	}

	start := time.Now()
	_, err := Open(context.Background(), opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestOpen_ProvisioningFailureAbortsSession(t *testing.T) {
	router := newFakeRouter(t)
	router.issueToken = false

	_, err := Open(context.Background(), externalOptions(t, router), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session aborted")
}

func TestOpen_ManagedMissingBinary(t *testing.T) {
	opts := Options{
		BackendBase:  "http://127.0.0.1:1",
		BackendModel: "m",
		RouteModel:   "vllm-m",
		RouterBinary: "/nonexistent/router",
		ConfigDir:    t.TempDir(),
		ReadyTimeout: time.Second,
	}

	_, err := Open(context.Background(), opts, nil)
	require.Error(t, err)

	var serr *service.StartupError
	assert.ErrorAs(t, err, &serr)
}

func TestOpen_ManagedReadinessTimeout(t *testing.T) {
	// The "router" never serves HTTP, so readiness must time out and the
	// session must clean up the process it spawned.
	opts := Options{
		BackendBase:  "http://127.0.0.1:1",
		BackendModel: "m",
		RouteModel:   "vllm-m",
		RouterBinary: "/bin/sh",
		ConfigDir:    t.TempDir(),
		ReadyTimeout: 700 * time.Millisecond,
	}

	_, err := Open(context.Background(), opts, nil)
	require.Error(t, err)

	var serr *service.StartupError
	require.ErrorAs(t, err, &serr)
	assert.NotEmpty(t, serr.LogPath, "startup failures must name the log file")
}

func TestSession_EngineWiring(t *testing.T) {
	router := newFakeRouter(t)

	sess, err := Open(context.Background(), externalOptions(t, router), nil)
	require.NoError(t, err)
	defer sess.Close()

	engine := sess.Engine()
	assert.Equal(t, "backend-model", engine.BackendModel)
	assert.Equal(t, "vllm-backend-model", engine.RouteModel)
	assert.Equal(t, router.srv.URL, engine.Routed.BaseURL())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	router := newFakeRouter(t)

	sess, err := Open(context.Background(), externalOptions(t, router), nil)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Nil(t, sess.Token, "credential is invalidated with the session")
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		assert.True(t, IsTruthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		assert.False(t, IsTruthy(v), v)
	}
}

func TestLoadOptions_Defaults(t *testing.T) {
	for _, key := range []string{
		EnvBackendBase, EnvBackendModel, EnvRouteModel, EnvRouterBinary,
		EnvRouterBase, EnvUseExternal, EnvStrictMatch, EnvRequireReasoning,
		EnvDisable, EnvConfigDir, EnvRouterBackends,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	opts := LoadOptions()
	assert.Equal(t, "http://127.0.0.1:8000", opts.BackendBase)
	assert.Equal(t, "vllm-"+opts.BackendModel, opts.RouteModel)
	assert.Equal(t, "prefix=vllm-,base=http://127.0.0.1:8000/v1,mode=chat", opts.RouterBackends)
	assert.False(t, opts.Strict)
	assert.False(t, opts.Disabled)
	assert.Equal(t, 30*time.Second, opts.ReadyTimeout)
}

func TestLoadOptions_Overrides(t *testing.T) {
	t.Setenv(EnvBackendBase, "http://backend:9000/")
	t.Setenv(EnvBackendModel, "my-model")
	t.Setenv(EnvRouteModel, "custom-route")
	t.Setenv(EnvStrictMatch, "yes")
	t.Setenv(EnvDisable, "1")

	opts := LoadOptions()
	assert.Equal(t, "http://backend:9000", opts.BackendBase, "trailing slash stripped")
	assert.Equal(t, "custom-route", opts.RouteModel)
	assert.True(t, opts.Strict)
	assert.True(t, opts.Disabled)
}
