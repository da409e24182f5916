// Package scheduler implements the cron-expression-driven at-most-once
// firing gate (spec.md §4.8): given a (server yml path, task name, cron
// expression), it decides whether "now" warrants running the task, and
// persists that decision so a crash or restart can never double-fire.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
)

// parser accepts a six-field cron expression (seconds first), needed for
// sub-minute fire times like spec.md §8 S5's "fires 3s in the future".
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Decision is the outcome of a Gate.Check call.
type Decision int

const (
	// NotYet means now < next fire time; nothing to do.
	NotYet Decision = iota
	// Skip means now >= next fire time, but this fire time was already
	// claimed (by this call or a prior run before a restart).
	Skip
	// Run means now >= next fire time and this call claimed it; the
	// caller must invoke Gate.MarkDone after finishing the task.
	Run
)

// Gate implements spec.md §4.8's five-step algorithm against a store.
type Gate struct {
	store  *inventory.Store
	logger log.Logger
}

// NewGate builds a Gate persisting its claims in store, logging its
// decisions through logger.
func NewGate(store *inventory.Store, logger log.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// Check implements the five-step algorithm: parse the expression, compute
// the next fire time after the last representable tick at or before now,
// and if now has passed it, atomically claim that fire time.
func (g *Gate) Check(ctx context.Context, serverYmlPath, taskName, cronExpr string, now time.Time) (Decision, time.Time, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return NotYet, time.Time{}, errors.InvalidInputf("parse cron expression %q: %v", cronExpr, err)
	}

	nextFire := nextFireAtOrBefore(schedule, now)
	if nextFire.IsZero() {
		g.logger.WithField("task", taskName).Debug("cron expression has not fired yet")
		return NotYet, time.Time{}, nil
	}

	claimed, err := g.store.TryClaimSchedule(ctx, serverYmlPath, taskName, nextFire)
	if err != nil {
		return NotYet, time.Time{}, err
	}
	if !claimed {
		g.logger.WithField("task", taskName).WithField("fire_time", nextFire).Debug("fire time already claimed")
		return Skip, nextFire, nil
	}
	g.logger.WithField("task", taskName).WithField("fire_time", nextFire).Info("claimed fire time")
	return Run, nextFire, nil
}

// MarkDone flips the claimed row's done flag, matching spec.md §4.8 step 5
// ("caller updates done=true after the task completes").
func (g *Gate) MarkDone(ctx context.Context, serverYmlPath, taskName string, fireTime time.Time) error {
	if err := g.store.MarkScheduleDone(ctx, serverYmlPath, taskName, fireTime); err != nil {
		return err
	}
	g.logger.WithField("task", taskName).WithField("fire_time", fireTime).Debug("marked fire time done")
	return nil
}

// nextFireAtOrBefore walks the schedule forward from a safe lower bound,
// returning the last fire time that is <= now, or the zero time if the
// schedule has not fired by now at all within the search window.
func nextFireAtOrBefore(schedule cron.Schedule, now time.Time) time.Time {
	// Search back far enough to cross at least one fire time even for
	// sparse (e.g. monthly) schedules, then walk forward from there.
	cursor := now.AddDate(-1, 0, 0)
	var last time.Time
	for {
		next := schedule.Next(cursor)
		if next.After(now) {
			break
		}
		last = next
		cursor = next
	}
	return last
}
