// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchAckerIndividualAckTracksCompletion(t *testing.T) {
	a := newBatchAcker(1, 1, 3, nil)
	assert.False(t, a.ackIndividual(0))
	assert.False(t, a.ackIndividual(1))
	assert.True(t, a.ackIndividual(2))
	assert.True(t, a.allAcked())
}

func TestBatchAckerIndividualAckIsIdempotent(t *testing.T) {
	a := newBatchAcker(1, 1, 2, nil)
	assert.False(t, a.ackIndividual(0))
	assert.False(t, a.ackIndividual(0))
	assert.True(t, a.ackIndividual(1))
}

func TestBatchAckerCumulativeAckCoversPriorIndices(t *testing.T) {
	a := newBatchAcker(1, 1, 4, nil)
	assert.False(t, a.ackCumulative(1))
	assert.False(t, a.allAcked())
	assert.True(t, a.ackCumulative(3))
	assert.True(t, a.allAcked())
}

func TestBatchAckerPrevBatchCumulativelyAckedFlag(t *testing.T) {
	a := newBatchAcker(1, 1, 1, nil)
	assert.False(t, a.isPrevBatchCumulativelyAcked())
	a.markPrevBatchCumulativelyAcked()
	assert.True(t, a.isPrevBatchCumulativelyAcked())
}

func TestBatchAckerPrevBatchLastIDCarriesThrough(t *testing.T) {
	prev := individualId(1, 1, 0, "t")
	a := newBatchAcker(1, 2, 3, &prev)
	got := a.prevBatchLastID()
	if assert.NotNil(t, got) {
		assert.True(t, got.Equal(prev))
	}
}
