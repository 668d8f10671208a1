// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIdCompareOrdersByLedgerThenEntry(t *testing.T) {
	a := individualId(1, 1, 0, "t")
	b := individualId(1, 2, 0, "t")
	c := individualId(2, 0, 0, "t")

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}

func TestMessageIdBatchSubIndexOrdersAfterNonBatch(t *testing.T) {
	acker := newBatchAcker(1, 1, 3, nil)
	nonBatch := individualId(1, 1, 0, "t")
	batch0 := cumulativeId(1, 1, 0, "t", 0, acker)
	batch1 := cumulativeId(1, 1, 0, "t", 1, acker)

	assert.True(t, nonBatch.Less(batch0))
	assert.True(t, batch0.Less(batch1))
}

func TestMessageIdEqualIgnoresAcker(t *testing.T) {
	a := cumulativeId(1, 1, 0, "t", 2, newBatchAcker(1, 1, 3, nil))
	b := cumulativeId(1, 1, 0, "t", 2, nil)
	assert.True(t, a.Equal(b))
}

func TestEarliestMessageIdIsBeforeEverything(t *testing.T) {
	earliest := EarliestMessageId()
	real := individualId(5, 5, 0, "t")
	assert.True(t, earliest.Less(real))
}
