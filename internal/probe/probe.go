// Package probe implements the bounded readiness poll used to decide when a
// freshly started process is able to serve requests. The primitive is a plain
// (predicate, interval, deadline) loop so it can back any future probe, not
// just the HTTP status check.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultInterval is the pause between poll attempts.
	DefaultInterval = 500 * time.Millisecond
	// healthRequestTimeout bounds a single health request.
	healthRequestTimeout = 1 * time.Second
)

// Predicate reports whether the probed condition holds. Errors are treated as
// "not yet ready" and retried until the deadline; they never abort the poll.
type Predicate func(ctx context.Context) (bool, error)

// Result describes a completed poll.
type Result struct {
	// Ready reports whether the predicate succeeded before the deadline.
	Ready bool
	// Elapsed is the time spent polling.
	Elapsed time.Duration
	// Attempts is the number of predicate invocations.
	Attempts int
	// LastErr is the error from the final predicate invocation, if any.
	LastErr error
}

// Poll invokes the predicate at the given interval until it succeeds or the
// timeout elapses. The first attempt runs immediately. Context cancellation
// counts as a failed poll with the context error recorded.
func Poll(ctx context.Context, pred Predicate, interval, timeout time.Duration) Result {
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	res := Result{}
	for {
		res.Attempts++
		ok, err := pred(pollCtx)
		res.LastErr = err
		if ok {
			res.Ready = true
			res.Elapsed = time.Since(start)
			return res
		}

		select {
		case <-pollCtx.Done():
			if res.LastErr == nil {
				res.LastErr = pollCtx.Err()
			}
			res.Elapsed = time.Since(start)
			return res
		case <-ticker.C:
		}
	}
}

// HTTPReady returns a predicate that succeeds once a GET to url returns a 2xx
// status. Connection errors and non-2xx statuses mean "not yet ready".
func HTTPReady(client *http.Client, url string) Predicate {
	if client == nil {
		client = &http.Client{Timeout: healthRequestTimeout}
	}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true, nil
		}
		return false, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
}

// WaitForHTTP polls url until it answers with a success status or the timeout
// elapses.
func WaitForHTTP(ctx context.Context, url string, timeout time.Duration) Result {
	return Poll(ctx, HTTPReady(nil, url), DefaultInterval, timeout)
}
