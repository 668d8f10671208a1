// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnackedMessageTrackerDisabledWhenTimeoutZero(t *testing.T) {
	tr := newUnackedMessageTracker(0, time.Second, nil)
	defer tr.Close()
	tr.Add(individualId(1, 1, 0, "t"))
	assert.Equal(t, 0, tr.RemoveMessagesTill(LatestMessageId()))
}

func TestUnackedMessageTrackerRemoveBeforeExpiry(t *testing.T) {
	tr := newUnackedMessageTracker(time.Hour, time.Hour, func(ids []MessageId) {
		t.Fatalf("unexpected redelivery of %v", ids)
	})
	defer tr.Close()

	id := individualId(1, 1, 0, "t")
	tr.Add(id)
	tr.Remove(id)
	assert.Equal(t, 0, tr.RemoveMessagesTill(LatestMessageId()))
}

func TestUnackedMessageTrackerRedeliversAfterBucketsRotateThrough(t *testing.T) {
	var mu sync.Mutex
	var redelivered []MessageId
	done := make(chan struct{})

	tr := newUnackedMessageTracker(10*time.Millisecond, 10*time.Millisecond, func(ids []MessageId) {
		mu.Lock()
		redelivered = append(redelivered, ids...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer tr.Close()

	id := individualId(9, 9, 0, "t")
	tr.Add(id)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never redelivered after bucket rotation")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, redelivered, 1)
	assert.True(t, redelivered[0].Equal(id))
}
