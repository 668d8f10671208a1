// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "time"

// SubscriptionType selects the delivery discipline among consumers
// sharing one subscription.
type SubscriptionType int

const (
	Exclusive SubscriptionType = iota
	Shared
	Failover
	KeyShared
)

// SubscriptionInitialPosition selects where a brand-new subscription's
// cursor starts.
type SubscriptionInitialPosition int

const (
	SubscriptionPositionLatest SubscriptionInitialPosition = iota
	SubscriptionPositionEarliest
)

// ConsumerOption configures a Consumer.
type ConsumerOption func(o *consumerOptions)

type consumerOptions struct {
	topic            string
	consumerName     string
	subscriptionName string
	subType          SubscriptionType
	initialPosition  SubscriptionInitialPosition

	receiverQueueSize int

	ackTimeout            time.Duration
	ackTimeoutTick        time.Duration
	ackGroupingTime       time.Duration
	readCompacted         bool
	negativeAckDelay      time.Duration
	negativeAckTick       time.Duration
	resetIncludeHead      bool
	nonPersistentTopic    bool

	startMessageId *MessageId
}

func defaultConsumerOptions() *consumerOptions {
	return &consumerOptions{
		subType:           Exclusive,
		initialPosition:   SubscriptionPositionLatest,
		receiverQueueSize: 1000,
		ackTimeoutTick:    1 * time.Second,
		ackGroupingTime:   100 * time.Millisecond,
		negativeAckDelay:  1 * time.Minute,
		negativeAckTick:   1 * time.Second,
	}
}

// WithConsumerTopic sets the subscribed topic. Required.
func WithConsumerTopic(topic string) ConsumerOption {
	return func(o *consumerOptions) { o.topic = topic }
}

// WithConsumerName overrides the generated consumer name.
func WithConsumerName(name string) ConsumerOption {
	return func(o *consumerOptions) { o.consumerName = name }
}

// WithSubscriptionName sets the subscription this consumer joins.
// Required for a durable consumer.
func WithSubscriptionName(name string) ConsumerOption {
	return func(o *consumerOptions) { o.subscriptionName = name }
}

// WithSubscriptionType selects the delivery discipline.
func WithSubscriptionType(t SubscriptionType) ConsumerOption {
	return func(o *consumerOptions) { o.subType = t }
}

// WithSubscriptionInitialPosition selects where a new subscription's
// cursor starts.
func WithSubscriptionInitialPosition(p SubscriptionInitialPosition) ConsumerOption {
	return func(o *consumerOptions) { o.initialPosition = p }
}

// WithReceiverQueueSize sets the consumer's local prefetch window; a
// FLOW command is emitted once availablePermits reaches half of it.
func WithReceiverQueueSize(n int) ConsumerOption {
	return func(o *consumerOptions) { o.receiverQueueSize = n }
}

// WithAckTimeout sets the unacked-message redelivery timeout. Zero
// disables the tracker.
func WithAckTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.ackTimeout = d }
}

// WithAckTimeoutTickTime sets the unacked tracker's bucket-rotation
// tick.
func WithAckTimeoutTickTime(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.ackTimeoutTick = d }
}

// WithAcknowledgementsGroupTime sets the ack-grouping flush interval.
func WithAcknowledgementsGroupTime(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.ackGroupingTime = d }
}

// WithReadCompacted requests the compacted view of the topic.
func WithReadCompacted(enabled bool) ConsumerOption {
	return func(o *consumerOptions) { o.readCompacted = enabled }
}

// WithNegativeAckRedeliveryDelay sets the negative-ack tracker's delay.
func WithNegativeAckRedeliveryDelay(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.negativeAckDelay = d }
}

// WithResetIncludeHead makes a seek/start-message boundary inclusive
// of the boundary entry itself.
func WithResetIncludeHead(enabled bool) ConsumerOption {
	return func(o *consumerOptions) { o.resetIncludeHead = enabled }
}

// withStartMessageId is unexported: only Reader (a non-durable,
// Exclusive-subscription view built on Consumer) needs to seed the
// start-of-read boundary directly, per the GLOSSARY's Reader entry.
func withStartMessageId(id MessageId) ConsumerOption {
	return func(o *consumerOptions) { o.startMessageId = &id }
}
