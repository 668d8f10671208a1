// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "sync"

// batchAcker tracks, for one received batched entry, which
// sub-messages have been individually acked. It is shared by every
// MessageId produced from that batch. count always equals the number
// of true entries in acked and never exceeds size.
type batchAcker struct {
	mu     sync.Mutex
	size   int32
	acked  []bool
	count  int32
	ledger uint64
	entry  uint64

	// prevBatchLastId is the last message of the batch received
	// immediately before this one, if any. §4.9 requires a cumulative
	// ack for it to be sent once, before this batch's own cumulative
	// ack, so the broker doesn't skip over an earlier unacked entry.
	prevBatchLastId *MessageId

	// prevBatchCumulativelyAcked records whether that one-time ack has
	// already been sent, per §4.9's cumulative-ack ordering rule.
	prevBatchCumulativelyAcked bool
}

func newBatchAcker(ledger, entry uint64, size int32, prevBatchLastId *MessageId) *batchAcker {
	return &batchAcker{ledger: ledger, entry: entry, size: size, acked: make([]bool, size), prevBatchLastId: prevBatchLastId}
}

// ackIndividual marks batchIndex acked and reports whether every
// sub-message in the batch is now acked.
func (a *batchAcker) ackIndividual(batchIndex int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if batchIndex < 0 || batchIndex >= a.size {
		return a.count >= a.size
	}
	if !a.acked[batchIndex] {
		a.acked[batchIndex] = true
		a.count++
	}
	return a.count >= a.size
}

// ackCumulative marks every index up to and including batchIndex as
// acked and reports whether the whole batch is now acked.
func (a *batchAcker) ackCumulative(batchIndex int32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := int32(0); i <= batchIndex && i < a.size; i++ {
		if !a.acked[i] {
			a.acked[i] = true
			a.count++
		}
	}
	return a.count >= a.size
}

func (a *batchAcker) allAcked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count >= a.size
}

func (a *batchAcker) markPrevBatchCumulativelyAcked() {
	a.mu.Lock()
	a.prevBatchCumulativelyAcked = true
	a.mu.Unlock()
}

func (a *batchAcker) isPrevBatchCumulativelyAcked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prevBatchCumulativelyAcked
}

// prevBatchLastID returns the previous batch's last message id, or nil
// if this is the first batch received.
func (a *batchAcker) prevBatchLastID() *MessageId {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prevBatchLastId
}
