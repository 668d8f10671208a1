// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Client is the top-level entry point: it owns the shared connection
// pool and lookup service, and hands out Producers/Consumers/Readers
// each wired with a grabCnxFunc that resolves their topic to a broker
// and dials (or reuses) the connection to it, per §2's component list.
type Client struct {
	opts *clientOptions
	addr string

	pool   *ConnectionPool
	lookup *LookupService
	log    *Logger

	mu        sync.Mutex
	producers map[*Producer]struct{}
	consumers map[*Consumer]struct{}
	closed    bool
}

// NewClient parses opts.serviceURL and builds a Client ready to create
// producers, consumers, and readers against it.
func NewClient(opts ...ClientOption) (*Client, error) {
	o := defaultClientOptions()
	for _, fn := range opts {
		fn(o)
	}
	if o.serviceURL == "" {
		return nil, newError("NewClient", KindInvalidConfiguration, fmt.Errorf("service url is required"))
	}
	addr, err := parseServiceAddr(o.serviceURL)
	if err != nil {
		return nil, newError("NewClient", KindInvalidConfiguration, err)
	}

	pool := NewConnectionPool(o.connectTimeout, o.logger)
	c := &Client{
		opts:      o,
		addr:      addr,
		pool:      pool,
		lookup:    NewLookupService(pool, addr, o.operationTimeout, 64, o.logger),
		log:       o.logger,
		producers: make(map[*Producer]struct{}),
		consumers: make(map[*Consumer]struct{}),
	}
	return c, nil
}

// parseServiceAddr reduces a pulsar://host:port or pulsar+ssl://host:port
// service url to the bare host:port DialConnection expects. TLS
// negotiation itself is an out-of-scope external collaborator; only
// the scheme is consulted to fill in the default port.
func parseServiceAddr(serviceURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", err
	}
	host := u.Host
	if host == "" {
		host = strings.TrimPrefix(serviceURL, u.Scheme+"://")
	}
	if !strings.Contains(host, ":") {
		port := "6650"
		if u.Scheme == "pulsar+ssl" {
			port = "6651"
		}
		host = host + ":" + port
	}
	if _, _, err := splitHostPort(host); err != nil {
		return "", err
	}
	return host, nil
}

func splitHostPort(hostport string) (string, int, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port in %q", hostport)
	}
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", hostport, err)
	}
	return hostport[:idx], port, nil
}

// grabCnx resolves topic to its owning broker and dials (or reuses
// from the pool) the connection to it. This is the grabCnxFunc every
// Producer/Consumer's ConnectionHandler drives.
func (c *Client) grabCnx(topic string) grabCnxFunc {
	return func(ctx context.Context) (*Connection, error) {
		broker, err := c.lookup.GetBroker(ctx, topic)
		if err != nil {
			return nil, err
		}
		return c.pool.Get(ctx, broker.Physical)
	}
}

// CreateProducer builds and starts a Producer for the topic named by
// opts (via WithProducerTopic).
func (c *Client) CreateProducer(opts ...ProducerOption) (*Producer, error) {
	o := defaultProducerOptions()
	for _, fn := range opts {
		fn(o)
	}
	if o.topic == "" {
		return nil, newError("CreateProducer", KindInvalidConfiguration, fmt.Errorf("producer topic is required"))
	}
	if _, err := ParseTopicName(o.topic); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	c.mu.Unlock()

	p := NewProducer(o.topic, c.grabCnx(o.topic), c.log, opts...)
	c.mu.Lock()
	c.producers[p] = struct{}{}
	c.mu.Unlock()
	return p, nil
}

// Subscribe builds and starts a Consumer joining the subscription
// named by opts (via WithConsumerTopic/WithSubscriptionName).
func (c *Client) Subscribe(opts ...ConsumerOption) (*Consumer, error) {
	o := defaultConsumerOptions()
	for _, fn := range opts {
		fn(o)
	}
	if o.topic == "" {
		return nil, newError("Subscribe", KindInvalidConfiguration, fmt.Errorf("consumer topic is required"))
	}
	if o.subscriptionName == "" {
		return nil, newError("Subscribe", KindInvalidConfiguration, fmt.Errorf("subscription name is required"))
	}
	if _, err := ParseTopicName(o.topic); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	c.mu.Unlock()

	consumer := NewConsumer(o.topic, c.grabCnx(o.topic), c.log, opts...)
	c.mu.Lock()
	c.consumers[consumer] = struct{}{}
	c.mu.Unlock()
	return consumer, nil
}

// CreateReader builds a Reader over the topic named by opts, starting
// at opts.startMessageId.
func (c *Client) CreateReader(opts ...ReaderOption) (*Reader, error) {
	o := defaultReaderOptions()
	for _, fn := range opts {
		fn(o)
	}
	if o.topic == "" {
		return nil, newError("CreateReader", KindInvalidConfiguration, fmt.Errorf("reader topic is required"))
	}
	if _, err := ParseTopicName(o.topic); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	c.mu.Unlock()

	r := newReader(o, c.grabCnx(o.topic), c.log)
	c.mu.Lock()
	c.consumers[r.consumer] = struct{}{}
	c.mu.Unlock()
	return r, nil
}

// TopicPartitions returns the fully-qualified name of every partition
// of topic, or the bare topic itself when it is not partitioned.
func (c *Client) TopicPartitions(ctx context.Context, topic string) ([]string, error) {
	name, err := ParseTopicName(topic)
	if err != nil {
		return nil, err
	}
	meta, err := c.lookup.GetPartitionedTopicMetadata(ctx, topic)
	if err != nil {
		return nil, err
	}
	if meta.Partitions == 0 {
		return []string{name.String()}, nil
	}
	out := make([]string, meta.Partitions)
	for i := range out {
		out[i] = name.PartitionName(int32(i))
	}
	return out, nil
}

// Close closes every outstanding producer/consumer/reader and releases
// pooled connections.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	producers := c.producers
	consumers := c.consumers
	c.producers = nil
	c.consumers = nil
	c.mu.Unlock()

	for p := range producers {
		p.Close(ctx)
	}
	for cons := range consumers {
		cons.Close(ctx)
	}
	c.pool.CloseAll()
	return nil
}
