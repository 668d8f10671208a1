// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"sync"
	"time"
)

// unackedMessageTracker is a time-bucketed pending-ack set. Every tick
// of tickDuration it rotates: the tail bucket's ids are bulk-handed to
// redeliver, then recycled as the new head.
type unackedMessageTracker struct {
	mu       sync.Mutex
	buckets  []map[string]MessageId
	index    map[string]int // messageId.String() -> bucket index holding it
	disabled bool

	redeliver func([]MessageId)

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// newUnackedMessageTracker builds a tracker ticking every tickDuration.
// ackTimeout == 0 returns a disabled, inert instance per §4.6. The
// ring is sized from ackTimeout/tickDuration, as real unacked-message
// trackers do, so a message survives roughly ackTimeout (not a fixed
// tick count) before redelivery; tickDuration is clamped to ackTimeout
// so a misconfigured tick longer than the timeout can't suppress it.
func newUnackedMessageTracker(ackTimeout, tickDuration time.Duration, redeliver func([]MessageId)) *unackedMessageTracker {
	if ackTimeout <= 0 {
		return &unackedMessageTracker{disabled: true}
	}
	if tickDuration <= 0 || tickDuration > ackTimeout {
		tickDuration = ackTimeout
	}
	buckets := int(ackTimeout / tickDuration)
	if buckets < 1 {
		buckets = 1
	}
	t := &unackedMessageTracker{
		buckets:   make([]map[string]MessageId, buckets),
		index:     make(map[string]int),
		redeliver: redeliver,
		done:      make(chan struct{}),
	}
	for i := range t.buckets {
		t.buckets[i] = make(map[string]MessageId)
	}
	t.ticker = time.NewTicker(tickDuration)
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *unackedMessageTracker) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.rotate()
		case <-t.done:
			return
		}
	}
}

// Add inserts id into the head bucket.
func (t *unackedMessageTracker) Add(id MessageId) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.String()
	t.buckets[0][key] = id
	t.index[key] = 0
}

// Remove extracts id from whichever bucket holds it.
func (t *unackedMessageTracker) Remove(id MessageId) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id.String())
}

func (t *unackedMessageTracker) removeLocked(key string) {
	if bi, ok := t.index[key]; ok {
		delete(t.buckets[bi], key)
		delete(t.index, key)
	}
}

// RemoveMessagesTill removes every id <= cutoff and returns the count
// removed.
func (t *unackedMessageTracker) RemoveMessagesTill(cutoff MessageId) int {
	if t.disabled {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, bi := range t.index {
		id := t.bucketEntry(bi, key)
		if id.LessEqual(cutoff) {
			delete(t.buckets[bi], key)
			delete(t.index, key)
			n++
		}
	}
	return n
}

func (t *unackedMessageTracker) bucketEntry(bi int, key string) MessageId {
	return t.buckets[bi][key]
}

// rotate advances the ring: the tail bucket's contents are handed to
// redeliver, then the bucket is recycled as the new head.
func (t *unackedMessageTracker) rotate() {
	t.mu.Lock()
	n := len(t.buckets)
	tail := t.buckets[n-1]
	expired := make([]MessageId, 0, len(tail))
	for key, id := range tail {
		expired = append(expired, id)
		delete(t.index, key)
	}
	for key := range t.index {
		t.index[key]++
	}
	for i := n - 1; i > 0; i-- {
		t.buckets[i] = t.buckets[i-1]
	}
	clear(tail)
	t.buckets[0] = tail
	t.mu.Unlock()

	if len(expired) > 0 && t.redeliver != nil {
		t.redeliver(expired)
	}
}

// Close cancels the ticker.
func (t *unackedMessageTracker) Close() {
	if t.disabled || t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.done)
	t.wg.Wait()
}
