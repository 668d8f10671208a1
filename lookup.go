// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/destiny/pulsar/wireproto"
)

// maxLookupRedirects bounds redirect-following in getBroker, per §4.4.
const maxLookupRedirects = 20

// BrokerAddress is the result of resolving a topic to the broker that
// currently owns it; Physical differs from Logical when the broker is
// fronted by a proxy.
type BrokerAddress struct {
	Logical  string
	Physical string
}

// PartitionedTopicMetadata reports how many partitions a topic has; 0
// means non-partitioned.
type PartitionedTopicMetadata struct {
	Partitions uint32
}

// LookupService resolves topic -> broker address and topic ->
// partition count against one service-url connection, retrying with
// bounded backoff and following broker redirects, per §4.4.
type LookupService struct {
	pool    *ConnectionPool
	addr    string
	timeout time.Duration
	log     *Logger
	sem     *semaphore.Weighted

	requestId atomic.Uint64
}

// NewLookupService builds a lookup service talking to the given
// service-url host:port, bounding concurrent in-flight lookups to
// maxConcurrent.
func NewLookupService(pool *ConnectionPool, serviceAddr string, timeout time.Duration, maxConcurrent int64, log *Logger) *LookupService {
	return &LookupService{
		pool:    pool,
		addr:    serviceAddr,
		timeout: timeout,
		log:     log,
		sem:     semaphore.NewWeighted(maxConcurrent),
	}
}

func (l *LookupService) nextRequestId() uint64 {
	return l.requestId.Add(1)
}

// GetPartitionedTopicMetadata resolves how many partitions topic has.
func (l *LookupService) GetPartitionedTopicMetadata(ctx context.Context, topic string) (*PartitionedTopicMetadata, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return withRetry(ctx, l.timeout, l.log, func(ctx context.Context) (*PartitionedTopicMetadata, error) {
		conn, err := l.pool.Get(ctx, l.addr)
		if err != nil {
			return nil, newError("GetPartitionedTopicMetadata", KindLookupFailed, err)
		}
		defer l.pool.Release(l.addr)

		requestId := l.nextRequestId()
		cmd := &wireproto.Command{Type: wireproto.CmdPartitionedMetadata, RequestId: requestId, Topic: topic}
		wc, err := conn.sendAndWaitForReply(ctx, requestId, encodeFrame(cmd.Marshal()))
		if err != nil {
			return nil, newError("GetPartitionedTopicMetadata", KindLookupFailed, err)
		}
		if wc == nil {
			return nil, newError("GetPartitionedTopicMetadata", KindTimeout, nil)
		}
		reply, err := wireproto.UnmarshalCommand(wc.frame.Command)
		if err != nil {
			return nil, newError("GetPartitionedTopicMetadata", KindLookupFailed, err)
		}
		if reply.Type == wireproto.CmdError {
			return nil, newError("GetPartitionedTopicMetadata", KindBrokerMetadataError, fmt.Errorf("%s", reply.ErrorMsg))
		}
		return &PartitionedTopicMetadata{Partitions: reply.Partitions}, nil
	})
}

// GetBroker resolves topic to the broker currently owning it,
// following up to maxLookupRedirects authoritative/non-authoritative
// redirects, per §4.4.
func (l *LookupService) GetBroker(ctx context.Context, topic string) (*BrokerAddress, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	return withRetry(ctx, l.timeout, l.log, func(ctx context.Context) (*BrokerAddress, error) {
		addr := l.addr
		for hop := 0; hop < maxLookupRedirects; hop++ {
			conn, err := l.pool.Get(ctx, addr)
			if err != nil {
				return nil, newError("GetBroker", KindLookupFailed, err)
			}
			requestId := l.nextRequestId()
			cmd := &wireproto.Command{Type: wireproto.CmdLookup, RequestId: requestId, Topic: topic}
			wc, err := conn.sendAndWaitForReply(ctx, requestId, encodeFrame(cmd.Marshal()))
			l.pool.Release(addr)
			if err != nil {
				return nil, newError("GetBroker", KindLookupFailed, err)
			}
			if wc == nil {
				return nil, newError("GetBroker", KindTimeout, nil)
			}
			reply, err := wireproto.UnmarshalCommand(wc.frame.Command)
			if err != nil {
				return nil, newError("GetBroker", KindLookupFailed, err)
			}
			if reply.Type == wireproto.CmdError {
				return nil, newError("GetBroker", KindLookupFailed, fmt.Errorf("%s", reply.ErrorMsg))
			}
			if !reply.Authoritative {
				addr = reply.PhysicalAddr
				continue
			}
			return &BrokerAddress{Logical: reply.LogicalAddr, Physical: reply.PhysicalAddr}, nil
		}
		return nil, newError("GetBroker", KindLookupFailed, fmt.Errorf("exceeded %d redirects", maxLookupRedirects))
	})
}

// withRetry runs fn until it succeeds, ctx is done, or the overall
// operation timeout elapses, backing off between attempts.
func withRetry[T any](ctx context.Context, timeout time.Duration, log *Logger, fn func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(timeout)
	b := NewBackoff(100*time.Millisecond, 5*time.Second, timeout)
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, newError("withRetry", KindTimeout, err)
		}
		delay, exhausted := b.Next()
		if exhausted {
			var zero T
			return zero, newError("withRetry", KindTimeout, err)
		}
		log.Debug("lookup: retrying after %v: %v", delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
