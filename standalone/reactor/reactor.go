// Package reactor provides the cooperative scheduling primitives the
// concurrency model calls for: a Completion handle that suspension points
// (endstop arming, drip moves) resolve through, the join combinator that
// merges several of them, and a rate-limited periodic dispatch loop
// adapted from the teacher's core/timer.go and core/scheduler.go
// sorted-timer dispatch (and the periodic status reports core/trsync.go
// sent over that dispatch) now that there is no hardware clock to drive
// it — golang.org/x/time/rate supplies the cadence instead of a
// reimplemented tick scheduler.
package reactor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Completion is a one-shot result slot, the host-side analog of klippy's
// reactor completion. A plain completion is resolved once via Complete; a
// join completion (from MultiComplete) derives its state from its members.
type Completion struct {
	mu        sync.Mutex
	completed bool
	err       error
	members   []*Completion
}

// NewCompletion returns an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{}
}

// Complete resolves the completion with the given result. Resolving twice
// keeps the first result, matching the first-error-wins collection policy
// of the homing core.
func (c *Completion) Complete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	c.err = err
}

// Ready reports whether the completion has resolved. For a join, that is
// "any member resolved with an error, or all members resolved".
func (c *Completion) Ready() bool {
	c.mu.Lock()
	members := c.members
	done := c.completed
	c.mu.Unlock()
	if members == nil {
		return done
	}
	allDone := true
	for _, m := range members {
		if !m.Ready() {
			allDone = false
			continue
		}
		if m.Err() != nil {
			return true
		}
	}
	return allDone
}

// Err returns the resolution result; nil until resolved. For a join, the
// first member error wins.
func (c *Completion) Err() error {
	c.mu.Lock()
	members := c.members
	err := c.err
	c.mu.Unlock()
	if members == nil {
		return err
	}
	for _, m := range members {
		if m.Ready() && m.Err() != nil {
			return m.Err()
		}
	}
	return nil
}

// MultiComplete joins several completions into one that reads as resolved
// when any member carries an error or when every member has resolved —
// the barrier homing arms its endstops behind so a drip move stops at the
// first trigger.
func MultiComplete(members ...*Completion) *Completion {
	return &Completion{members: members}
}

// Reactor rate-limits a repeating callback, standing in for trsync's
// ReportTicks-driven periodic status report.
type Reactor struct {
	limiter *rate.Limiter
}

// NewReactor builds a Reactor that permits at most eventsPerSecond calls
// to Run's callback per second.
func NewReactor(eventsPerSecond float64) *Reactor {
	return &Reactor{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), 1)}
}

// Run calls report repeatedly at the configured cadence until ctx is
// cancelled.
func (r *Reactor) Run(ctx context.Context, report func()) {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		report()
	}
}
