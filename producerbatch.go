// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"time"

	"github.com/destiny/pulsar/wireproto"
)

// batchItem is one accumulated message awaiting batch seal, per §3's
// BatchItem: a builder plus the completer its eventual MessageId (or
// error) is delivered to.
type batchItem struct {
	builder  *MessageBuilder
	complete func(MessageId, error)
}

// pendingMessage is one entry of the producer's ordered send queue,
// per §3. Single holds one completer; batch holds the per-sub-message
// completers of a sealed batch, each already bound to a Cumulative
// MessageId missing only its final (ledger, entry).
type pendingMessage struct {
	sequenceId uint64
	frameBytes []byte
	metadata   MessageMetadata
	createdAt  time.Time

	single     func(MessageId, error)
	batch      []batchCompleter
}

type batchCompleter struct {
	batchIndex int32
	complete   func(MessageId, error)
}

// sealBatch serializes the per-item SingleMessageMetadata+payload
// concatenation, compresses it as a unit, and returns the resulting
// frame payload bytes ready for framing by the caller, together with
// the size of the concatenation before compression, per §4.8's
// "Batching" paragraph.
func sealBatch(items []batchItem, sequenceId uint64, compress CompressionType) (payload []byte, uncompressedSize int, completers []batchCompleter) {
	var buf []byte
	for i, it := range items {
		smm := &wireproto.SingleMessageMetadata{
			HasPartitionKey: it.builder.HasKey,
			PartitionKey:    it.builder.Key,
			SequenceId:      sequenceId,
			Properties:      it.builder.Properties,
		}
		buf = append(buf, smm.Marshal(it.builder.Payload)...)
		completers = append(completers, batchCompleter{batchIndex: int32(i), complete: it.complete})
	}
	codec := compress.codec()
	payload = codec.Encode(nil, buf)
	return payload, len(buf), completers
}

// explodeBatch is the consumer-side counterpart: it walks a decoded
// batch payload and yields each sub-message's metadata and payload in
// order, per §4.9's "Message delivery" batch-explosion rule.
func explodeBatch(data []byte) ([]*wireproto.SingleMessageMetadata, [][]byte, error) {
	var metas []*wireproto.SingleMessageMetadata
	var payloads [][]byte
	for len(data) > 0 {
		meta, payload, n, err := wireproto.ReadSingleMessage(data)
		if err != nil {
			return nil, nil, err
		}
		metas = append(metas, meta)
		payloads = append(payloads, payload)
		data = data[n:]
	}
	return metas, payloads, nil
}
