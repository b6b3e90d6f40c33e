// Package harness ties the harness components into a session: configuration
// synthesis, router lifecycle, credential provisioning, and the differential
// verification engine, in that strict order.
//
// The session object replaces ambient environment state: every downstream
// operation receives what it needs from the Session rather than reading
// process-wide variables, which keeps the harness safe for a future parallel
// test runner.
package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"routercheck/internal/chat"
	"routercheck/internal/config"
	"routercheck/internal/credentials"
	"routercheck/internal/probe"
	"routercheck/internal/service"
	"routercheck/internal/verify"
	"routercheck/pkg/logging"
)

// externalProbeTimeout bounds the reachability check of an external instance.
const externalProbeTimeout = 5 * time.Second

// Session is the explicit context for one harness run: exactly one router
// instance (spawned or external) and one provisioned credential, shared by
// all test cases executed within it.
type Session struct {
	Options Options
	// BaseURL is the router endpoint all routed requests go to.
	BaseURL string
	// Token is the session credential; nil only before Open completes.
	Token *credentials.AccessToken
	// Policy is the system-prompt policy handed to the router, applied
	// locally on the direct leg.
	Policy *config.SystemPromptPolicy

	manager  *service.Manager
	instance *service.Instance
}

// Open establishes the session: it either attaches to an external router or
// synthesizes configuration and spawns one, waits for readiness, and
// provisions the access token. Any failure is fatal to the whole session and
// leaves no process or temp state behind.
func Open(ctx context.Context, opts Options, logger service.Logger) (*Session, error) {
	if logger == nil {
		logger = service.NewSilentLogger()
	}

	policy, err := config.LoadSystemPromptPolicy(opts.SystemPromptPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load system prompt policy: %w", err)
	}

	s := &Session{Options: opts, Policy: policy}

	if opts.UseExternal {
		if res := probe.WaitForHTTP(ctx, opts.RouterBase+"/status", externalProbeTimeout); !res.Ready {
			return nil, fmt.Errorf("external router at %s is not reachable: %v", opts.RouterBase, res.LastErr)
		}
		s.BaseURL = opts.RouterBase
		logging.Info("Session", "using external router at %s", s.BaseURL)
	} else {
		if err := s.spawn(ctx, logger); err != nil {
			return nil, err
		}
	}

	token, err := credentials.Provision(ctx, s.BaseURL, opts.TokenLabel, opts.TokenTTL)
	if err != nil {
		// Without a credential no managed-auth test can run; unwind the
		// process we just started.
		s.Close()
		return nil, fmt.Errorf("session aborted: %w", err)
	}
	s.Token = token

	return s, nil
}

// spawn synthesizes the config bundle into a session-private directory and
// starts the router from it.
func (s *Session) spawn(ctx context.Context, logger service.Logger) error {
	opts := s.Options

	stateDir, err := os.MkdirTemp("", "routercheck-*")
	if err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	synth := &config.Synthesizer{
		BaseAliasPath:    opts.BaseAliasPath(),
		MCPConfigPath:    opts.MCPConfigPath(),
		SystemPromptPath: opts.SystemPromptPath(),
	}
	bundle, err := synth.Synthesize(stateDir, config.Target{
		RouteName:      opts.RouteModel,
		BackendBaseURL: opts.BackendBase,
		BackendModelID: opts.BackendModel,
	})
	if err != nil {
		os.RemoveAll(stateDir)
		return fmt.Errorf("config synthesis failed: %w", err)
	}

	s.manager = service.NewManager(logger)
	inst, err := s.manager.Start(ctx, service.StartSpec{
		BinaryPath: opts.RouterBinary,
		Args:       bundle.Args,
		BindAddr:   opts.BindAddr,
		StateDir:   stateDir,
		Env: map[string]string{
			EnvRouterBackends: opts.RouterBackends,
		},
	})
	if err != nil {
		os.RemoveAll(stateDir)
		return fmt.Errorf("session aborted: %w", err)
	}
	s.instance = inst
	s.BaseURL = inst.BaseURL

	if opts.Debug {
		followCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.manager.FollowLog(followCtx, inst)
	}

	if err := s.manager.AwaitReady(ctx, inst, opts.ReadyTimeout); err != nil {
		s.instance = nil
		return fmt.Errorf("session aborted: %w", err)
	}
	return nil
}

// Engine builds the differential engine bound to this session's router,
// token, and policy.
func (s *Session) Engine() *verify.Engine {
	routedToken := ""
	if s.Token != nil {
		routedToken = s.Token.Token
	}
	return &verify.Engine{
		Direct:       chat.NewClient(s.Options.BackendBase, s.Options.BackendAPIKey),
		Routed:       chat.NewClient(s.BaseURL, routedToken),
		BackendModel: s.Options.BackendModel,
		RouteModel:   s.Options.RouteModel,
		Policy:       s.Policy,
		Options: verify.Options{
			Strict:           s.Options.Strict,
			RequireReasoning: s.Options.RequireReasoning,
		},
	}
}

// Close tears the session down. The token is implicitly invalidated when the
// router stops; external instances are left running.
func (s *Session) Close() error {
	s.Token = nil
	if s.manager == nil || s.instance == nil {
		return nil
	}
	err := s.manager.Stop(s.instance)
	s.instance = nil
	return err
}
