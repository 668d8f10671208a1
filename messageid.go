// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "fmt"

// idKind tags whether a MessageId addresses a whole entry or one
// sub-message inside a batched entry.
type idKind int

const (
	idIndividual idKind = iota
	idCumulative
)

// MessageId is the immutable address of one message (or one
// sub-message of a batch) on a topic partition. Ordering is
// lexicographic on (LedgerId, EntryId, batch index).
type MessageId struct {
	LedgerId  uint64
	EntryId   uint64
	Partition int32
	TopicName string

	kind       idKind
	batchIndex int32
	acker      *batchAcker
}

// EarliestMessageId is the sentinel meaning "start of topic".
func EarliestMessageId() MessageId {
	return MessageId{EntryId: ^uint64(0) /* -1 as u64 */}
}

// LatestMessageId is the sentinel meaning "end of topic, exclusive".
func LatestMessageId() MessageId {
	return MessageId{LedgerId: ^uint64(0), EntryId: ^uint64(0)}
}

func individualId(ledgerId, entryId uint64, partition int32, topic string) MessageId {
	return MessageId{LedgerId: ledgerId, EntryId: entryId, Partition: partition, TopicName: topic, kind: idIndividual}
}

func cumulativeId(ledgerId, entryId uint64, partition int32, topic string, batchIndex int32, acker *batchAcker) MessageId {
	return MessageId{
		LedgerId: ledgerId, EntryId: entryId, Partition: partition, TopicName: topic,
		kind: idCumulative, batchIndex: batchIndex, acker: acker,
	}
}

// IsBatch reports whether this id addresses a sub-message of a batch.
func (id MessageId) IsBatch() bool { return id.kind == idCumulative }

// BatchIndex returns the sub-message index within its batch, or -1 if
// this id does not address a batch sub-message.
func (id MessageId) BatchIndex() int32 {
	if id.kind != idCumulative {
		return -1
	}
	return id.batchIndex
}

// Compare orders two ids lexicographically on (LedgerId, EntryId,
// batch index), per §3. A non-batch id sorts before any sub-message
// of the same entry.
func (id MessageId) Compare(other MessageId) int {
	if id.LedgerId != other.LedgerId {
		return cmpUint64(id.LedgerId, other.LedgerId)
	}
	if id.EntryId != other.EntryId {
		return cmpUint64(id.EntryId, other.EntryId)
	}
	return cmpInt32(id.effectiveBatchIndex(), other.effectiveBatchIndex())
}

// LessEqual reports id <= other per Compare.
func (id MessageId) LessEqual(other MessageId) bool { return id.Compare(other) <= 0 }

// Less reports id < other per Compare.
func (id MessageId) Less(other MessageId) bool { return id.Compare(other) < 0 }

// Equal reports whether two ids address the same entry and, for batch
// ids, the same sub-index.
func (id MessageId) Equal(other MessageId) bool { return id.Compare(other) == 0 }

func (id MessageId) effectiveBatchIndex() int32 {
	if id.kind != idCumulative {
		return -1
	}
	return id.batchIndex
}

func (id MessageId) String() string {
	if id.kind == idCumulative {
		return fmt.Sprintf("%d:%d:%d:%d", id.LedgerId, id.EntryId, id.Partition, id.batchIndex)
	}
	return fmt.Sprintf("%d:%d:%d", id.LedgerId, id.EntryId, id.Partition)
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
