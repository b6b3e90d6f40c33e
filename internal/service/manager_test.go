//go:build !windows

package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger records log lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) append(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func (l *captureLogger) Debug(format string, args ...interface{}) { l.append(format, args...) }
func (l *captureLogger) Info(format string, args ...interface{})  { l.append(format, args...) }
func (l *captureLogger) Error(format string, args ...interface{}) { l.append(format, args...) }
func (l *captureLogger) IsDebugEnabled() bool                     { return true }

func startSleeper(t *testing.T, mgr *Manager, spec StartSpec) *Instance {
	t.Helper()
	spec.BinaryPath = "/bin/sh"
	if spec.Args == nil {
		spec.Args = []string{"-c", "sleep 60"}
	}
	inst, err := mgr.Start(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Stop(inst) })
	return inst
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestStart_MissingBinary(t *testing.T) {
	mgr := NewManager(NewSilentLogger())

	_, err := mgr.Start(context.Background(), StartSpec{BinaryPath: "/nonexistent/router-binary"})
	require.Error(t, err)

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "not found")
}

func TestStart_NoBinaryConfigured(t *testing.T) {
	mgr := NewManager(nil)
	_, err := mgr.Start(context.Background(), StartSpec{})
	var serr *StartupError
	require.ErrorAs(t, err, &serr)
}

func TestStartStop_ReleasesEverything(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = 2 * time.Second

	inst := startSleeper(t, mgr, StartSpec{})
	require.Equal(t, StateStarting, inst.State())
	require.FileExists(t, inst.LogPath)
	pid := inst.cmd.Process.Pid
	require.True(t, processAlive(pid))

	require.NoError(t, mgr.Stop(inst))
	assert.Equal(t, StateStopped, inst.State())
	assert.NoDirExists(t, inst.StateDir, "state directory must be removed on stop")

	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 50*time.Millisecond,
		"process must be gone after stop")

	// Idempotent: stopping again is a no-op.
	require.NoError(t, mgr.Stop(inst))
}

func TestStop_AlreadyDeadProcess(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = time.Second

	inst := startSleeper(t, mgr, StartSpec{Args: []string{"-c", "exit 0"}})

	// Let the process exit and be reaped before stopping.
	select {
	case <-inst.waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("short-lived process did not exit")
	}

	require.NoError(t, mgr.Stop(inst))
	assert.Equal(t, StateStopped, inst.State())
	assert.NoDirExists(t, inst.StateDir)
}

func TestStop_HungProcessIsKilled(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = 300 * time.Millisecond

	inst := startSleeper(t, mgr, StartSpec{Args: []string{"-c", `trap "" TERM; sleep 60`}})
	pid := inst.cmd.Process.Pid

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, mgr.Stop(inst))
	assert.Equal(t, StateStopped, inst.State())
	assert.NoDirExists(t, inst.StateDir, "forced-kill path must still release the state directory")
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 50*time.Millisecond)
}

func TestStart_EnvironmentOverlay(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = time.Second

	dir := t.TempDir()
	inst, err := mgr.Start(context.Background(), StartSpec{
		BinaryPath: "/bin/sh",
		Args:       []string{"-c", `echo "bind=$BIND_ADDR store=$STORAGE_PATH extra=$EXTRA_VAR"; sleep 60`},
		StateDir:   dir,
		Env:        map[string]string{"EXTRA_VAR": "extra-value"},
	})
	require.NoError(t, err)
	defer mgr.Stop(inst)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(inst.LogPath)
		return err == nil && strings.Contains(string(data), "extra=extra-value")
	}, 5*time.Second, 50*time.Millisecond)

	data, err := os.ReadFile(inst.LogPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, fmt.Sprintf("bind=127.0.0.1:%d", inst.Port))
	assert.Contains(t, out, "store="+dir)
}

func TestStart_BindAddrOverride(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = time.Second

	// Reserve a port to hand over as an explicit override.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	inst := startSleeper(t, mgr, StartSpec{BindAddr: fmt.Sprintf("127.0.0.1:%d", port)})
	assert.Equal(t, port, inst.Port)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", port), inst.BaseURL)
}

func TestStart_BadBindAddr(t *testing.T) {
	mgr := NewManager(NewSilentLogger())
	_, err := mgr.Start(context.Background(), StartSpec{BinaryPath: "/bin/sh", BindAddr: "no-port-here"})
	var serr *StartupError
	require.ErrorAs(t, err, &serr)
}

func TestAwaitReady_Success(t *testing.T) {
	// A status server stands in for the router's health endpoint; the managed
	// process itself just sleeps.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	mgr := NewManager(NewSilentLogger())
	mgr.GracePeriod = time.Second
	inst := startSleeper(t, mgr, StartSpec{BindAddr: addr})

	require.NoError(t, mgr.AwaitReady(context.Background(), inst, 5*time.Second))
	assert.Equal(t, StateReady, inst.State())

	// Readiness is monotonic: immediate re-checks keep succeeding.
	for i := 0; i < 3; i++ {
		resp, err := http.Get(inst.BaseURL + "/status")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Awaiting again from Ready is a state error, not a re-poll.
	require.Error(t, mgr.AwaitReady(context.Background(), inst, time.Second))
}

func TestAwaitReady_TimeoutKillsAndReportsLog(t *testing.T) {
	logger := &captureLogger{}
	mgr := NewManager(logger)
	mgr.GracePeriod = 500 * time.Millisecond

	inst := startSleeper(t, mgr, StartSpec{})
	pid := inst.cmd.Process.Pid
	logPath := inst.LogPath

	err := mgr.AwaitReady(context.Background(), inst, 700*time.Millisecond)
	require.Error(t, err)

	var serr *StartupError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Equal(t, logPath, serr.LogPath)
	assert.Contains(t, serr.Error(), logPath, "startup error must name the log for diagnosis")

	assert.Equal(t, StateFailed, inst.State())
	assert.NoDirExists(t, inst.StateDir)
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 3*time.Second, 50*time.Millisecond)

	// A failed instance stays failed; stop is a no-op.
	require.NoError(t, mgr.Stop(inst))
	assert.Equal(t, StateFailed, inst.State())
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/router.log"
	content := "one\ntwo\nthree\nfour\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lines, err := TailLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	all, err := TailLines(path, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = TailLines(dir+"/missing.log", 2)
	assert.Error(t, err)
}

func TestFollowLog_StreamsAppendedLines(t *testing.T) {
	logger := &captureLogger{}
	mgr := NewManager(logger)
	mgr.GracePeriod = time.Second

	inst := startSleeper(t, mgr, StartSpec{Args: []string{"-c", "echo first; sleep 0.2; echo second; sleep 60"}})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.FollowLog(ctx, inst)
	}()

	assert.Eventually(t, func() bool {
		joined := logger.joined()
		return strings.Contains(joined, "first") && strings.Contains(joined, "second")
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FollowLog did not stop on cancellation")
	}
}
