package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"routercheck/internal/probe"
)

const (
	// DefaultReadyTimeout bounds the wait for the status endpoint.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultGracePeriod is how long stop waits after SIGTERM before
	// escalating to SIGKILL.
	DefaultGracePeriod = 10 * time.Second

	// EnvBindAddr is the environment variable the router reads its listen
	// address from.
	EnvBindAddr = "BIND_ADDR"
	// EnvStoragePath overrides the router's on-disk key store location so a
	// test session never touches real state.
	EnvStoragePath = "STORAGE_PATH"
)

// State is the lifecycle state of a managed instance.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// ErrReadinessTimeout marks a startup failure caused by the status endpoint
// never answering within the deadline, as opposed to a launch failure.
var ErrReadinessTimeout = errors.New("router readiness timeout")

// StartupError is the fatal outcome of a failed start or readiness wait. It
// carries the log path so the operator can diagnose the dead process.
type StartupError struct {
	Reason  string
	LogPath string
	Elapsed time.Duration
	Err     error
}

func (e *StartupError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.LogPath != "" {
		msg = fmt.Sprintf("%s (see log at %s)", msg, e.LogPath)
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// StartSpec describes how to launch the router process.
type StartSpec struct {
	// BinaryPath is the router executable.
	BinaryPath string
	// Args are the configuration-pointer arguments.
	Args []string
	// BindAddr optionally fixes the listen address ("127.0.0.1:8099"). When
	// empty an ephemeral free port is reserved immediately before launch.
	BindAddr string
	// StateDir is the session-private directory for the log file and the
	// router's storage override. Created as a temp dir when empty.
	StateDir string
	// Env are extra environment overrides, applied after the built-ins.
	Env map[string]string
}

// Instance is the single router process a session manages.
type Instance struct {
	// ID uniquely identifies this instance.
	ID string
	// BaseURL is the http endpoint of the running router.
	BaseURL string
	// Port is the bound listen port.
	Port int
	// StateDir is the session-private temp directory.
	StateDir string
	// LogPath is the combined stdout/stderr log file.
	LogPath string
	// StartTime is when the process was launched.
	StartTime time.Time

	cmd     *exec.Cmd
	logFile *os.File

	mu    sync.Mutex
	state State
	// waitDone closes once cmd.Wait has returned; Wait may only be called once.
	waitDone chan struct{}
	waitErr  error
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Manager starts, awaits, and stops router instances. A session uses exactly
// one instance at a time; the manager enforces no pooling or restarts.
type Manager struct {
	logger Logger
	// GracePeriod is the SIGTERM-to-SIGKILL escalation window.
	GracePeriod time.Duration
}

// NewManager creates a lifecycle manager reporting through logger.
func NewManager(logger Logger) *Manager {
	if logger == nil {
		logger = NewSilentLogger()
	}
	return &Manager{logger: logger, GracePeriod: DefaultGracePeriod}
}

// pickFreePort reserves an ephemeral port on the loopback interface. The
// listener is closed immediately; the caller must launch the process promptly
// to keep the race window with other local processes small.
func pickFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to reserve ephemeral port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// splitPort extracts the port from a host:port bind address.
func splitPort(bindAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return 0, fmt.Errorf("invalid bind address %q: %w", bindAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port in bind address %q: %w", bindAddr, err)
	}
	return port, nil
}

// Start launches the router process with the given configuration pointers.
// The process environment inherits the caller's environment with the bind
// address and storage path overlaid. Combined stdout/stderr goes to a log
// file inside the state directory.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (*Instance, error) {
	if spec.BinaryPath == "" {
		return nil, &StartupError{Reason: "no router binary configured"}
	}
	if _, err := os.Stat(spec.BinaryPath); err != nil {
		if resolved, lookErr := exec.LookPath(spec.BinaryPath); lookErr == nil {
			spec.BinaryPath = resolved
		} else {
			return nil, &StartupError{Reason: fmt.Sprintf("router binary %s not found", spec.BinaryPath), Err: err}
		}
	}

	stateDir := spec.StateDir
	ownedDir := false
	if stateDir == "" {
		dir, err := os.MkdirTemp("", "routercheck-*")
		if err != nil {
			return nil, &StartupError{Reason: "failed to create state directory", Err: err}
		}
		stateDir = dir
		ownedDir = true
	}
	cleanupDir := func() {
		if ownedDir {
			os.RemoveAll(stateDir)
		}
	}

	bindAddr := spec.BindAddr
	var port int
	var err error
	if bindAddr != "" {
		if port, err = splitPort(bindAddr); err != nil {
			cleanupDir()
			return nil, &StartupError{Reason: "bad bind address override", Err: err}
		}
	} else {
		// Reserved at the last possible moment before launch.
		if port, err = pickFreePort(); err != nil {
			cleanupDir()
			return nil, &StartupError{Reason: "failed to pick a port", Err: err}
		}
		bindAddr = fmt.Sprintf("127.0.0.1:%d", port)
	}

	logPath := filepath.Join(stateDir, "router.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		cleanupDir()
		return nil, &StartupError{Reason: "failed to create log file", Err: err}
	}

	cmd := exec.CommandContext(ctx, spec.BinaryPath, spec.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcAttr(cmd)

	env := os.Environ()
	env = append(env, EnvBindAddr+"="+bindAddr)
	env = append(env, EnvStoragePath+"="+filepath.Join(stateDir, "store"))
	for key, value := range spec.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	m.logger.Debug("starting router: %s %v (bind %s)\n", spec.BinaryPath, spec.Args, bindAddr)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		cleanupDir()
		return nil, &StartupError{Reason: "failed to start router process", LogPath: logPath, Err: err}
	}

	inst := &Instance{
		ID:        fmt.Sprintf("router-%s", uuid.NewString()[:8]),
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", port),
		Port:      port,
		StateDir:  stateDir,
		LogPath:   logPath,
		StartTime: time.Now(),
		cmd:       cmd,
		logFile:   logFile,
		state:     StateStarting,
		waitDone:  make(chan struct{}),
	}

	// Reap the process exactly once; stop and await both select on waitDone.
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.waitDone)
	}()

	m.logger.Info("router instance %s started on port %d (pid %d)\n", inst.ID, port, cmd.Process.Pid)
	return inst, nil
}

// AwaitReady polls the instance's status endpoint until it answers or the
// timeout elapses. On timeout the process is terminated and cleaned up, the
// instance moves to Failed, and the returned error names the log path.
func (m *Manager) AwaitReady(ctx context.Context, inst *Instance, timeout time.Duration) error {
	if state := inst.State(); state != StateStarting {
		return fmt.Errorf("cannot await readiness from state %q", state)
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	res := probe.WaitForHTTP(ctx, inst.BaseURL+"/status", timeout)
	if res.Ready {
		inst.setState(StateReady)
		m.logger.Info("router instance %s ready after %s (%d probe(s))\n", inst.ID, res.Elapsed.Round(time.Millisecond), res.Attempts)
		return nil
	}

	m.logger.Error("router instance %s not ready after %s, terminating\n", inst.ID, timeout)
	m.teardown(inst)
	inst.setState(StateFailed)
	cause := ErrReadinessTimeout
	if res.LastErr != nil {
		cause = fmt.Errorf("%w: last probe error: %v", ErrReadinessTimeout, res.LastErr)
	}
	return &StartupError{
		Reason:  fmt.Sprintf("router did not become ready within %s", timeout),
		LogPath: inst.LogPath,
		Elapsed: res.Elapsed,
		Err:     cause,
	}
}

// Stop terminates the instance. It requests graceful termination, escalates
// to a forced kill after the grace period, and always closes the log file and
// removes the state directory. Safe to call on already-stopped instances.
func (m *Manager) Stop(inst *Instance) error {
	if inst == nil {
		return nil
	}

	inst.mu.Lock()
	if inst.state == StateStopped {
		inst.mu.Unlock()
		return nil
	}
	terminal := inst.state == StateFailed
	inst.mu.Unlock()

	if terminal {
		// AwaitReady already tore the process down.
		return nil
	}

	m.logger.Debug("stopping router instance %s (pid %d)\n", inst.ID, inst.cmd.Process.Pid)
	err := m.teardown(inst)
	inst.setState(StateStopped)
	return err
}

// teardown kills the process group and releases every resource. It must
// succeed at releasing resources on all paths, including hung and
// already-dead processes.
func (m *Manager) teardown(inst *Instance) error {
	var termErr error

	if inst.cmd != nil && inst.cmd.Process != nil {
		pid := inst.cmd.Process.Pid
		if err := killProcessGroup(pid, syscall.SIGTERM); err != nil {
			m.logger.Debug("SIGTERM delivery to %d failed: %v\n", pid, err)
		}

		select {
		case <-inst.waitDone:
			// Exited within the grace period. Sweep any leftover children.
			killProcessGroup(pid, syscall.SIGKILL)
		case <-time.After(m.GracePeriod):
			m.logger.Error("router instance %s ignored SIGTERM, killing\n", inst.ID)
			termErr = killProcessGroup(pid, syscall.SIGKILL)
			select {
			case <-inst.waitDone:
			case <-time.After(2 * time.Second):
				termErr = fmt.Errorf("process %d did not exit after SIGKILL", pid)
			}
		}
	}

	if inst.logFile != nil {
		inst.logFile.Close()
		inst.logFile = nil
	}
	if inst.StateDir != "" {
		if err := os.RemoveAll(inst.StateDir); err != nil && termErr == nil {
			termErr = fmt.Errorf("failed to remove state directory %s: %w", inst.StateDir, err)
		}
	}
	return termErr
}
