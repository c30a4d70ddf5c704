// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential_test

import (
	"sync"
	"time"

	"github.com/holomush/credpolicy/internal/credential"
)

// fakeClock is a settable credential.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	failures []int
	locks    []time.Time
	unlocks  []string
	reuses   int
}

func (o *recordingObserver) FailedAttempt(attempts int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, attempts)
}

func (o *recordingObserver) Locked(until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locks = append(o.locks, until)
}

func (o *recordingObserver) Unlocked(reason credential.UnlockReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unlocks = append(o.unlocks, string(reason))
}

func (o *recordingObserver) ReuseDetected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reuses++
}

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
