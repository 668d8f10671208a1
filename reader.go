// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "context"

// Reader is the non-durable, single-consumer view of a topic described
// in the GLOSSARY: it forces SubscriptionType=Exclusive, has no
// subscription name (so no durable cursor survives it), and exposes a
// plain ReadNext instead of explicit acknowledgment. It is a thin
// wrapper over the same Consumer Engine every subscribed Consumer uses.
type Reader struct {
	consumer *Consumer
}

// newReader builds the Exclusive, non-durable Consumer backing a
// Reader and starts it at opts.startMessageId.
func newReader(opts *readerOptions, grab grabCnxFunc, log *Logger) *Reader {
	consumerOpts := []ConsumerOption{
		WithConsumerTopic(opts.topic),
		WithConsumerName(opts.readerName),
		WithSubscriptionType(Exclusive),
		WithReceiverQueueSize(opts.receiverQueueSize),
		WithReadCompacted(opts.readCompacted),
		WithResetIncludeHead(opts.startInclusive),
		withStartMessageId(opts.startMessageId),
	}
	return &Reader{consumer: NewConsumer(opts.topic, grab, log, consumerOpts...)}
}

// ReadNext blocks until the next message is available or ctx ends.
// Reader has no acknowledgment surface: the underlying consumer's
// cursor advances implicitly as messages are delivered.
func (r *Reader) ReadNext(ctx context.Context) (Message, error) {
	msg, err := r.consumer.ReceiveAsync(ctx)
	if err != nil {
		return Message{}, err
	}
	r.consumer.post(cAcknowledge{id: msg.ID, kind: AckIndividual, reply: make(chan error, 1)})
	return msg, nil
}

// HasMessageAvailable reports whether a next message is ready without
// consuming it.
func (r *Reader) HasMessageAvailable(ctx context.Context) (bool, error) {
	return r.consumer.HasMessageAvailable(ctx)
}

// Seek moves the reader to target.
func (r *Reader) Seek(ctx context.Context, target MessageId) error {
	return r.consumer.SeekMessageId(ctx, target)
}

// Close tears the reader's underlying consumer down.
func (r *Reader) Close(ctx context.Context) error {
	return r.consumer.Close(ctx)
}
