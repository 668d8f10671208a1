// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"sync"
	"time"
)

// negativeAckTracker defers redelivery of negatively-acked messages by
// redeliveryDelay, draining expired entries into redeliver in a single
// batch per tick, per §4.7.
type negativeAckTracker struct {
	mu       sync.Mutex
	deadline map[string]time.Time
	ids      map[string]MessageId
	delay    time.Duration

	redeliver func([]MessageId)

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func newNegativeAckTracker(delay, tick time.Duration, redeliver func([]MessageId)) *negativeAckTracker {
	t := &negativeAckTracker{
		deadline:  make(map[string]time.Time),
		ids:       make(map[string]MessageId),
		delay:     delay,
		redeliver: redeliver,
		done:      make(chan struct{}),
	}
	t.ticker = time.NewTicker(tick)
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *negativeAckTracker) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.drainExpired(time.Now())
		case <-t.done:
			return
		}
	}
}

// Add schedules id for redelivery at now + redeliveryDelay.
func (t *negativeAckTracker) Add(id MessageId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.String()
	t.deadline[key] = time.Now().Add(t.delay)
	t.ids[key] = id
}

func (t *negativeAckTracker) drainExpired(now time.Time) {
	t.mu.Lock()
	var expired []MessageId
	for key, deadline := range t.deadline {
		if !now.Before(deadline) {
			expired = append(expired, t.ids[key])
			delete(t.deadline, key)
			delete(t.ids, key)
		}
	}
	t.mu.Unlock()
	if len(expired) > 0 && t.redeliver != nil {
		t.redeliver(expired)
	}
}

// Close cancels the periodic drain.
func (t *negativeAckTracker) Close() {
	t.ticker.Stop()
	close(t.done)
	t.wg.Wait()
}
