package script

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type runResult struct {
	report *Report
	err    error
}

// waitWithTimeout waits for a run to finish. Results of runs superseded by a
// newer generation are discarded. The caller cancels the run's context once
// this returns, after which every builtin fails without touching the
// workflow; the interpreter goroutine itself may still be running.
func waitWithTimeout(
	ctx context.Context,
	ch <-chan runResult,
	gen uint64,
	timeout time.Duration,
	mu *sync.Mutex,
	currentGen *uint64,
) (*Report, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()
		if gen != current {
			return nil, fmt.Errorf("script superseded by newer run")
		}
		return res.report, res.err

	case <-timer.C:
		return nil, fmt.Errorf("script timed out after %s", timeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
