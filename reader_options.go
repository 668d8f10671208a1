// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

// ReaderOption configures a Reader, the non-durable single-consumer
// view of a topic described in the GLOSSARY.
type ReaderOption func(o *readerOptions)

type readerOptions struct {
	topic             string
	readerName        string
	startMessageId    MessageId
	startInclusive    bool
	receiverQueueSize int
	readCompacted     bool
}

func defaultReaderOptions() *readerOptions {
	return &readerOptions{
		startMessageId:    EarliestMessageId(),
		receiverQueueSize: 1000,
	}
}

// WithReaderTopic sets the topic to read. Required.
func WithReaderTopic(topic string) ReaderOption {
	return func(o *readerOptions) { o.topic = topic }
}

// WithReaderName overrides the generated reader (consumer) name.
func WithReaderName(name string) ReaderOption {
	return func(o *readerOptions) { o.readerName = name }
}

// WithStartMessageId sets where reading resumes from.
func WithStartMessageId(id MessageId) ReaderOption {
	return func(o *readerOptions) { o.startMessageId = id }
}

// WithStartMessageIdInclusive makes StartMessageId itself the first
// message delivered, rather than the first one after it.
func WithStartMessageIdInclusive(inclusive bool) ReaderOption {
	return func(o *readerOptions) { o.startInclusive = inclusive }
}

// WithReaderReceiverQueueSize sets the reader's local prefetch window.
func WithReaderReceiverQueueSize(n int) ReaderOption {
	return func(o *readerOptions) { o.receiverQueueSize = n }
}

// WithReaderReadCompacted requests the compacted view of the topic.
func WithReaderReadCompacted(enabled bool) ReaderOption {
	return func(o *readerOptions) { o.readCompacted = enabled }
}
