// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckGroupingTrackerBuffersUntilFlush(t *testing.T) {
	var gotIndividuals []MessageId
	var gotCumulative *MessageId
	flushed := make(chan struct{}, 1)

	tr := newAckGroupingTracker(0, false, func(ind []MessageId, cum *MessageId) {
		gotIndividuals = ind
		gotCumulative = cum
		flushed <- struct{}{}
	})
	defer tr.Close()

	id1 := individualId(1, 1, 0, "t")
	id2 := individualId(1, 2, 0, "t")
	tr.AddAck(id1, AckIndividual)
	tr.AddAck(id2, AckIndividual)
	assert.True(t, tr.IsDuplicate(id1))

	tr.Flush()
	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("flush callback never fired")
	}
	require.Len(t, gotIndividuals, 2)
	assert.Nil(t, gotCumulative)
}

func TestAckGroupingTrackerCumulativeWinsOverIndividual(t *testing.T) {
	flushed := make(chan *MessageId, 1)
	tr := newAckGroupingTracker(0, false, func(_ []MessageId, cum *MessageId) {
		flushed <- cum
	})
	defer tr.Close()

	low := individualId(1, 1, 0, "t")
	high := individualId(1, 5, 0, "t")
	tr.AddAck(low, AckCumulative)
	tr.AddAck(high, AckCumulative)

	assert.True(t, tr.IsDuplicate(low))
	assert.True(t, tr.IsDuplicate(high))

	tr.Flush()
	cum := <-flushed
	require.NotNil(t, cum)
	assert.True(t, cum.Equal(high))
}

func TestAckGroupingTrackerNonPersistentFlushesImmediately(t *testing.T) {
	calls := make(chan []MessageId, 4)
	tr := newAckGroupingTracker(time.Minute, true, func(ind []MessageId, _ *MessageId) {
		calls <- ind
	})
	defer tr.Close()

	tr.AddAck(individualId(1, 1, 0, "t"), AckIndividual)
	select {
	case ind := <-calls:
		assert.Len(t, ind, 1)
	case <-time.After(time.Second):
		t.Fatal("non-persistent ack was buffered instead of flushed immediately")
	}
}
