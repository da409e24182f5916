// Package session implements the process-wide session manager: one worker
// goroutine per configured leaf, running independently to completion with
// blocking I/O against its own SSH session (spec.md §4.9, §5).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jianglibo/bkoverssh/pkg/helper/log"
)

// Leaf identifies one configured leaf host a worker is responsible for.
type Leaf struct {
	Name          string
	ServerYmlPath string
	CronExpr      string
}

// Task runs one sync/archive/prune cycle against leaf. Errors are
// per-worker: a failing leaf never cancels its siblings.
type Task func(ctx context.Context, leaf Leaf) error

// Manager spawns and joins one worker per configured leaf.
type Manager struct {
	logger log.Logger
	task   Task
}

// NewManager builds a Manager that runs task once per leaf per RunOnce
// call, or on its own cron tick loop per leaf under RunService.
func NewManager(logger log.Logger, task Task) *Manager {
	return &Manager{logger: logger, task: task}
}

// Result is one worker's outcome, returned by RunOnce so the caller can
// build the aggregate run report.
type Result struct {
	Leaf Leaf
	Err  error
}

// RunOnce spawns one worker per leaf, each running task exactly once, and
// joins all workers before returning. A panic in one worker is recovered
// and reported as that worker's error; it never cancels the others.
func (m *Manager) RunOnce(ctx context.Context, leaves []Leaf) []Result {
	results := make([]Result, len(leaves))
	var wg sync.WaitGroup
	wg.Add(len(leaves))

	for i, leaf := range leaves {
		i, leaf := i, leaf
		go func() {
			defer wg.Done()
			results[i] = Result{Leaf: leaf, Err: m.runGuarded(ctx, leaf)}
		}()
	}
	wg.Wait()
	return results
}

func (m *Manager) runGuarded(ctx context.Context, leaf Leaf) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("leaf", leaf.Name).Error("worker panicked", panicError(r))
			err = panicError(r)
		}
	}()
	if runErr := m.task(ctx, leaf); runErr != nil {
		m.logger.WithField("leaf", leaf.Name).Error("worker failed", runErr)
		return runErr
	}
	return nil
}

// RunService installs one cron tick loop per leaf: on every tick it opens
// a fresh session (by calling task, which owns connect/teardown), runs
// once, and sleeps to the next tick. It blocks until ctx is canceled, then
// waits for all per-leaf loops to return.
func (m *Manager) RunService(ctx context.Context, leaves []Leaf, tick time.Duration) {
	var wg sync.WaitGroup
	wg.Add(len(leaves))
	for _, leaf := range leaves {
		leaf := leaf
		go func() {
			defer wg.Done()
			m.serviceLoop(ctx, leaf, tick)
		}()
	}
	wg.Wait()
}

func (m *Manager) serviceLoop(ctx context.Context, leaf Leaf, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.runGuarded(ctx, leaf)
		}
	}
}

type panicValueError struct {
	value interface{}
}

func (e panicValueError) Error() string {
	return "panic: " + toString(e.value)
}

func panicError(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return panicValueError{value: v}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}
