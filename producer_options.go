// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "time"

// MessageRoutingMode selects how a partitioned-topic producer picks a
// partition. Routing across partitions is out of scope for this
// per-partition engine (see Non-goals); the field is accepted for
// configuration-surface completeness only.
type MessageRoutingMode int

const (
	RoundRobinPartition MessageRoutingMode = iota
	SinglePartition
	CustomPartition
)

// HashingScheme selects the key-hash function a partition router would
// use; likewise accepted but not exercised by this per-partition core.
type HashingScheme int

const (
	JavaStringHash HashingScheme = iota
	Murmur3_32Hash
)

// ProducerOption configures a Producer.
type ProducerOption func(o *producerOptions)

type producerOptions struct {
	topic        string
	producerName string

	maxPendingMessages int
	batchingEnabled    bool
	maxMessagesPerBatch int
	maxBatchingDelay   time.Duration
	sendTimeout        time.Duration
	compressionType    CompressionType
	routingMode        MessageRoutingMode
	hashingScheme      HashingScheme
}

func defaultProducerOptions() *producerOptions {
	return &producerOptions{
		maxPendingMessages:  1000,
		batchingEnabled:     true,
		maxMessagesPerBatch: 1000,
		maxBatchingDelay:    10 * time.Millisecond,
		sendTimeout:         30 * time.Second,
		compressionType:     CompressionNone,
		routingMode:         RoundRobinPartition,
		hashingScheme:       JavaStringHash,
	}
}

// WithProducerTopic sets the target topic. Required.
func WithProducerTopic(topic string) ProducerOption {
	return func(o *producerOptions) { o.topic = topic }
}

// WithProducerName overrides the generated producer name.
func WithProducerName(name string) ProducerOption {
	return func(o *producerOptions) { o.producerName = name }
}

// WithMaxPendingMessages bounds the outstanding-send queue; beyond it
// sendAsync fails immediately with ProducerQueueFull.
func WithMaxPendingMessages(n int) ProducerOption {
	return func(o *producerOptions) { o.maxPendingMessages = n }
}

// WithBatchingEnabled toggles batching.
func WithBatchingEnabled(enabled bool) ProducerOption {
	return func(o *producerOptions) { o.batchingEnabled = enabled }
}

// WithMaxMessagesPerBatch caps how many messages seal a batch.
func WithMaxMessagesPerBatch(n int) ProducerOption {
	return func(o *producerOptions) { o.maxMessagesPerBatch = n }
}

// WithMaxBatchingPublishDelay caps how long a batch accumulates before
// it is sealed on a timer even if under the message-count cap.
func WithMaxBatchingPublishDelay(d time.Duration) ProducerOption {
	return func(o *producerOptions) { o.maxBatchingDelay = d }
}

// WithSendTimeout bounds how long a pending message may wait for its
// receipt before completing with Timeout.
func WithSendTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) { o.sendTimeout = d }
}

// WithCompressionType selects the codec applied before framing.
func WithCompressionType(c CompressionType) ProducerOption {
	return func(o *producerOptions) { o.compressionType = c }
}

// WithMessageRoutingMode sets the partition-routing mode (accepted for
// configuration-surface parity; routing itself is out of scope here).
func WithMessageRoutingMode(m MessageRoutingMode) ProducerOption {
	return func(o *producerOptions) { o.routingMode = m }
}

// WithHashingScheme sets the key-hash scheme (same scope note as
// WithMessageRoutingMode).
func WithHashingScheme(h HashingScheme) ProducerOption {
	return func(o *producerOptions) { o.hashingScheme = h }
}
