// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/destiny/pulsar/internal/pulsartest"
	"github.com/destiny/pulsar/wireproto"
)

func dialingGrab(t *testing.T, broker *pulsartest.FakeBroker) grabCnxFunc {
	return func(ctx context.Context) (*Connection, error) {
		return DialConnection(ctx, broker.Addr(), time.Second, DevNullLogger)
	}
}

func TestProducerSendCompletesOnMatchingReceipt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	p := NewProducer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger, WithBatchingEnabled(false))
	broker.Accept(2 * time.Second)

	go func() {
		cmd, _, _ := broker.ReadCommand()
		broker.SendCommand(&wireproto.Command{
			Type: wireproto.CmdSendReceipt, ProducerId: cmd.ProducerId,
			SequenceId: cmd.SequenceId, LedgerId: 10, EntryId: 20,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := p.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), id.LedgerId)
	assert.Equal(t, uint64(20), id.EntryId)

	require.NoError(t, p.Close(ctx))
}

func TestProducerSendFailsOnBrokerError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	p := NewProducer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger, WithBatchingEnabled(false))
	broker.Accept(2 * time.Second)

	go func() {
		cmd, _, _ := broker.ReadCommand()
		broker.SendCommand(&wireproto.Command{
			Type: wireproto.CmdSendError, ProducerId: cmd.ProducerId,
			SequenceId: cmd.SequenceId, ErrorCode: 5,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Send(ctx, NewMessage([]byte("hello")))
	require.Error(t, err)

	require.NoError(t, p.Close(ctx))
}

func TestProducerQueueFullRejectsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	p := NewProducer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithBatchingEnabled(false), WithMaxPendingMessages(1))
	broker.Accept(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Broker never replies, so the first send stays pending and the
	// second must be rejected with ProducerQueueFull.
	r1 := p.SendAsync(ctx, NewMessage([]byte("one")))
	_, _, _ = broker.ReadCommand()

	time.Sleep(50 * time.Millisecond)
	_, err := p.Send(ctx, NewMessage([]byte("two")))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindProducerQueueFull))

	require.NoError(t, p.Close(ctx))
	<-r1
}

func TestProducerBatchOfTenSharesOneReceipt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	p := NewProducer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithBatchingEnabled(true), WithMaxMessagesPerBatch(10))
	broker.Accept(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	replies := make([]<-chan sendResult, 10)
	for i := 0; i < 10; i++ {
		replies[i] = p.SendAsync(ctx, NewMessage([]byte(fmt.Sprintf("msg-%d", i))))
	}

	cmd, meta, _ := broker.ReadCommand()
	require.Equal(t, wireproto.CmdSend, cmd.Type)
	wireMeta, err := wireproto.UnmarshalMessageMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, int32(10), wireMeta.NumMessagesInBatch)

	broker.SendCommand(&wireproto.Command{
		Type: wireproto.CmdSendReceipt, ProducerId: cmd.ProducerId,
		SequenceId: cmd.SequenceId, LedgerId: 100, EntryId: 200,
	})

	for i, r := range replies {
		res := <-r
		require.NoError(t, res.err)
		assert.Equal(t, uint64(100), res.id.LedgerId)
		assert.Equal(t, uint64(200), res.id.EntryId)
		assert.Equal(t, int32(i), res.id.BatchIndex())
	}

	require.NoError(t, p.Close(ctx))
}

func TestProducerChecksumMismatchSendErrorTriggersRecovery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	p := NewProducer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger, WithBatchingEnabled(false))
	broker.Accept(2 * time.Second)

	go func() {
		cmd, _, _ := broker.ReadCommand()
		// First reply is a checksum-mismatch SendError: the frame is
		// intact locally, so recovery resends it and the broker replies
		// with a receipt the second time around.
		broker.SendCommand(&wireproto.Command{
			Type: wireproto.CmdSendError, ProducerId: cmd.ProducerId,
			SequenceId: cmd.SequenceId, ErrorCode: wireproto.ErrorCodeChecksumMismatch,
		})
		cmd2, _, _ := broker.ReadCommand()
		broker.SendCommand(&wireproto.Command{
			Type: wireproto.CmdSendReceipt, ProducerId: cmd2.ProducerId,
			SequenceId: cmd2.SequenceId, LedgerId: 1, EntryId: 1,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := p.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.LedgerId)

	require.NoError(t, p.Close(ctx))
}
