package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_ImmediateSuccess(t *testing.T) {
	res := Poll(context.Background(), func(ctx context.Context) (bool, error) {
		return true, nil
	}, 10*time.Millisecond, time.Second)

	assert.True(t, res.Ready)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.LastErr)
}

func TestPoll_LateSuccess(t *testing.T) {
	var calls int32
	res := Poll(context.Background(), func(ctx context.Context) (bool, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	}, 5*time.Millisecond, time.Second)

	assert.True(t, res.Ready)
	assert.GreaterOrEqual(t, res.Attempts, 3)
}

func TestPoll_Timeout(t *testing.T) {
	start := time.Now()
	res := Poll(context.Background(), func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}, 10*time.Millisecond, 50*time.Millisecond)

	assert.False(t, res.Ready)
	assert.Error(t, res.LastErr)
	assert.Less(t, time.Since(start), time.Second, "poll must respect its deadline")
}

func TestPoll_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Poll(ctx, func(ctx context.Context) (bool, error) {
		return false, nil
	}, 10*time.Millisecond, time.Second)

	assert.False(t, res.Ready)
	assert.Error(t, res.LastErr)
}

func TestHTTPReady_SuccessAndMonotonicity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := WaitForHTTP(context.Background(), srv.URL+"/status", time.Second)
	require.True(t, res.Ready)

	// Once ready, immediate re-checks must also succeed.
	pred := HTTPReady(nil, srv.URL+"/status")
	for i := 0; i < 3; i++ {
		ok, err := pred(context.Background())
		require.NoError(t, err)
		require.True(t, ok, "readiness must not flap within a session")
	}
}

func TestHTTPReady_BecomesReady(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		ready.Store(true)
	}()

	res := Poll(context.Background(), HTTPReady(nil, srv.URL+"/status"), 10*time.Millisecond, 2*time.Second)
	assert.True(t, res.Ready)
}

func TestWaitForHTTP_Unreachable(t *testing.T) {
	// Reserved-but-closed port: connection errors are "not ready", then timeout.
	res := WaitForHTTP(context.Background(), "http://127.0.0.1:1/status", 100*time.Millisecond)
	assert.False(t, res.Ready)
	assert.Error(t, res.LastErr)
}
