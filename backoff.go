// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff computes successive reconnect delays for the Connection
// Handler: exponential with a hard multiplier of 2 and a mandatory
// stop past which the handler gives up and transitions to Failed.
type Backoff struct {
	initial       time.Duration
	max           time.Duration
	mandatoryStop time.Duration

	eb      *backoff.ExponentialBackOff
	started time.Time
}

// NewBackoff builds a Backoff with the given initial delay, cap, and
// total retry budget. The budget is counted from construction; after
// Reset it is counted from the next call to Next.
func NewBackoff(initial, max, mandatoryStop time.Duration) *Backoff {
	b := &Backoff{initial: initial, max: max, mandatoryStop: mandatoryStop, started: timeNow()}
	b.eb = backoff.NewExponentialBackOff()
	b.eb.InitialInterval = initial
	b.eb.MaxInterval = max
	b.eb.Multiplier = 2
	b.eb.RandomizationFactor = 0.2
	return b
}

// Reset restarts the backoff sequence and its elapsed-time budget.
func (b *Backoff) Reset() {
	b.eb.Reset()
	b.started = time.Time{}
}

// Next returns the delay before the next reconnect attempt, and
// whether the mandatory-stop budget has already been exhausted (in
// which case the caller must transition to Failed instead of
// scheduling another attempt).
func (b *Backoff) Next() (delay time.Duration, exhausted bool) {
	if b.started.IsZero() {
		b.started = timeNow()
	}
	elapsed := timeNow().Sub(b.started)
	if b.mandatoryStop > 0 && elapsed >= b.mandatoryStop {
		return 0, true
	}
	d := b.eb.NextBackOff()
	if b.mandatoryStop > 0 {
		if remaining := b.mandatoryStop - elapsed; d > remaining {
			d = remaining
		}
	}
	return d, false
}

// timeNow is indirected so tests can control elapsed-time accounting
// without sleeping for real.
var timeNow = time.Now
