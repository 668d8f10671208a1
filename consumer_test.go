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

func TestConsumerSubscribeHandshakeSendsSubscribeThenFlow(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(10))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	assert.Equal(t, wireproto.CmdSubscribe, sub.Type)
	assert.Equal(t, "sub", sub.SubscriptionName)

	flow, _, _ := broker.ReadCommand()
	assert.Equal(t, wireproto.CmdFlow, flow.Type)
	assert.Equal(t, uint32(10), flow.MessagePermits)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}

func sendMessage(t *testing.T, broker *pulsartest.FakeBroker, consumerId, ledgerId, entryId uint64, payload []byte) {
	t.Helper()
	meta := &wireproto.MessageMetadata{SequenceId: 1, ProducerName: "p", UncompressedSize: uint32(len(payload))}
	cmd := &wireproto.Command{Type: wireproto.CmdMessage, ConsumerId: consumerId, LedgerId: ledgerId, EntryId: entryId}
	broker.SendDataFrame(cmd, meta.Marshal(), payload)
}

func TestConsumerReceiveAsyncDeliversSingleMessage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(10))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	sendMessage(t, broker, sub.ConsumerId, 1, 1, []byte("hello"))
	broker.ReadCommand() // initial flow

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.ReceiveAsync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.Equal(t, uint64(1), msg.ID.LedgerId)
	assert.Equal(t, uint64(1), msg.ID.EntryId)

	require.NoError(t, c.Acknowledge(ctx, msg.ID))
	require.NoError(t, c.Close(ctx))
}

func TestConsumerReceiveAsyncSuppressesDuplicateDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(10))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	broker.ReadCommand() // initial flow

	sendMessage(t, broker, sub.ConsumerId, 5, 5, []byte("first"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.ReceiveAsync(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Acknowledge(ctx, msg.ID))

	sendMessage(t, broker, sub.ConsumerId, 5, 5, []byte("first"))

	shortCtx, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	_, err = c.ReceiveAsync(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Close(ctx))
}

func TestConsumerHasMessageAvailableReflectsIncomingQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(10))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	broker.ReadCommand() // initial flow

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	has, err := c.HasMessageAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	sendMessage(t, broker, sub.ConsumerId, 2, 2, []byte("x"))
	time.Sleep(50 * time.Millisecond)

	has, err = c.HasMessageAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, c.Close(ctx))
}

func TestConsumerRedeliverAllUnackedSendsBareCommand(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(10), WithSubscriptionType(Exclusive))
	broker.Accept(2 * time.Second)

	broker.ReadCommand() // subscribe
	broker.ReadCommand() // initial flow

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		cmd, _, _ := broker.ReadCommand()
		assert.Equal(t, wireproto.CmdRedeliverUnacknowledged, cmd.Type)
		close(done)
	}()

	require.NoError(t, c.RedeliverUnacknowledged(ctx))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("redeliver command was never sent")
	}

	require.NoError(t, c.Close(ctx))
}

func buildBatchPayload(payloads [][]byte) []byte {
	var buf []byte
	for _, p := range payloads {
		smm := &wireproto.SingleMessageMetadata{SequenceId: 1}
		buf = append(buf, smm.Marshal(p)...)
	}
	return buf
}

func TestConsumerReceiveAsyncExplodesBatchOfTenInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(20))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	broker.ReadCommand() // initial flow

	want := make([][]byte, 10)
	for i := range want {
		want[i] = []byte(fmt.Sprintf("msg-%d", i))
	}
	batch := buildBatchPayload(want)
	meta := &wireproto.MessageMetadata{
		SequenceId: 1, ProducerName: "p", UncompressedSize: uint32(len(batch)), NumMessagesInBatch: int32(len(want)),
	}
	cmd := &wireproto.Command{Type: wireproto.CmdMessage, ConsumerId: sub.ConsumerId, LedgerId: 9, EntryId: 9}
	broker.SendDataFrame(cmd, meta.Marshal(), batch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i, w := range want {
		msg, err := c.ReceiveAsync(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, msg.Payload)
		assert.Equal(t, uint64(9), msg.ID.LedgerId)
		assert.Equal(t, uint64(9), msg.ID.EntryId)
		assert.Equal(t, int32(i), msg.ID.BatchIndex())
		require.NoError(t, c.Acknowledge(ctx, msg.ID))
	}

	require.NoError(t, c.Close(ctx))
}

func TestConsumerCumulativeAckWithinBatchEmitsPreviousBatchAckOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	c := NewConsumer("persistent://public/default/t", dialingGrab(t, broker), DevNullLogger,
		WithSubscriptionName("sub"), WithReceiverQueueSize(20), WithAcknowledgementsGroupTime(0))
	broker.Accept(2 * time.Second)

	sub, _, _ := broker.ReadCommand()
	broker.ReadCommand() // initial flow

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First batch, entry 1, two messages.
	firstBatch := buildBatchPayload([][]byte{[]byte("a"), []byte("b")})
	firstMeta := &wireproto.MessageMetadata{SequenceId: 1, UncompressedSize: uint32(len(firstBatch)), NumMessagesInBatch: 2}
	broker.SendDataFrame(&wireproto.Command{Type: wireproto.CmdMessage, ConsumerId: sub.ConsumerId, LedgerId: 1, EntryId: 1}, firstMeta.Marshal(), firstBatch)
	for i := 0; i < 2; i++ {
		_, err := c.ReceiveAsync(ctx)
		require.NoError(t, err)
	}

	// Second batch, entry 2, three messages.
	secondBatch := buildBatchPayload([][]byte{[]byte("c"), []byte("d"), []byte("e")})
	secondMeta := &wireproto.MessageMetadata{SequenceId: 2, UncompressedSize: uint32(len(secondBatch)), NumMessagesInBatch: 3}
	broker.SendDataFrame(&wireproto.Command{Type: wireproto.CmdMessage, ConsumerId: sub.ConsumerId, LedgerId: 2, EntryId: 2}, secondMeta.Marshal(), secondBatch)
	var middle MessageId
	for i := 0; i < 3; i++ {
		msg, err := c.ReceiveAsync(ctx)
		require.NoError(t, err)
		if i == 1 {
			middle = msg.ID
		}
	}

	// Cumulatively ack the *middle* index of the second batch. That
	// batch isn't fully acked yet, so onAcknowledge must not cumulative-
	// ack entry 2 itself (it would prematurely cover the still-unacked
	// third index). The only ack the broker should see here is the
	// one-time cumulative ack for the previous batch's last id (entry 1),
	// per §4.9.
	require.NoError(t, c.AcknowledgeCumulative(ctx, middle))
	require.NoError(t, c.Close(ctx))

	ack, _, _ := broker.ReadCommand()
	assert.Equal(t, wireproto.CmdAck, ack.Type)
	require.Len(t, ack.MessageIds, 1)
	assert.Equal(t, uint64(1), ack.MessageIds[0].EntryId)
}
