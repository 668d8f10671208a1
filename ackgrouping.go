// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"sync"
	"time"
)

// AckType distinguishes an individual ack from a cumulative one.
type AckType int

const (
	AckIndividual AckType = iota
	AckCumulative
)

// ackGroupingTracker buffers (messageId, ackType) pairs and flushes
// them as a single ACK command per bucket, per §4.5: individual acks
// in an ordered set, plus the latest cumulative ack, which wins over
// any individual it covers.
type ackGroupingTracker struct {
	mu           sync.Mutex
	individuals  []MessageId
	seen         map[string]struct{}
	cumulative   *MessageId
	nonPersistent bool

	flushFn func(individuals []MessageId, cumulative *MessageId)

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// newAckGroupingTracker builds a tracker that flushes on the given
// interval. A non-persistent topic tracker is a no-op: every ack is
// handed to flushFn immediately instead of being buffered.
func newAckGroupingTracker(interval time.Duration, nonPersistent bool, flushFn func([]MessageId, *MessageId)) *ackGroupingTracker {
	t := &ackGroupingTracker{
		seen:          make(map[string]struct{}),
		nonPersistent: nonPersistent,
		flushFn:       flushFn,
		done:          make(chan struct{}),
	}
	if !nonPersistent && interval > 0 {
		t.ticker = time.NewTicker(interval)
		t.wg.Add(1)
		go t.loop()
	}
	return t
}

func (t *ackGroupingTracker) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.Flush()
		case <-t.done:
			return
		}
	}
}

// AddAck buffers one ack, or for a non-persistent-topic tracker, hands
// it straight to flushFn.
func (t *ackGroupingTracker) AddAck(id MessageId, kind AckType) {
	if t.nonPersistent {
		if kind == AckCumulative {
			t.flushFn(nil, &id)
		} else {
			t.flushFn([]MessageId{id}, nil)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == AckCumulative {
		if t.cumulative == nil || t.cumulative.Less(id) {
			t.cumulative = &id
		}
		return
	}
	key := id.String()
	if _, ok := t.seen[key]; ok {
		return
	}
	t.seen[key] = struct{}{}
	t.individuals = append(t.individuals, id)
}

// IsDuplicate reports whether id is covered by a pending or
// just-flushed ack.
func (t *ackGroupingTracker) IsDuplicate(id MessageId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cumulative != nil && id.LessEqual(*t.cumulative) {
		return true
	}
	_, ok := t.seen[id.String()]
	return ok
}

// Flush emits the buffered acks and clears the individual-ack buffer.
// The latest cumulative ack stays set, so IsDuplicate keeps covering
// it, and is emitted again by every later flush.
func (t *ackGroupingTracker) Flush() {
	t.mu.Lock()
	individuals := t.individuals
	cumulative := t.cumulative
	t.individuals = nil
	t.mu.Unlock()

	if len(individuals) == 0 && cumulative == nil {
		return
	}
	t.flushFn(individuals, cumulative)
}

// Close stops the periodic flush after one final flush.
func (t *ackGroupingTracker) Close() {
	t.Flush()
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
		t.wg.Wait()
	}
}
