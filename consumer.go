// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/destiny/pulsar/wireproto"
)

type (
	cConnectionOpened struct{ conn *Connection }
	cConnectionClosed struct{ conn *Connection }
	cConnectionFailed struct{ err error }
	cMessageReceived  struct{ cmd *wireproto.Command; frame *frame }
	cReceive          struct{ reply chan receiveResult }
	cAcknowledge      struct {
		id    MessageId
		kind  AckType
		reply chan error
	}
	cRedeliverUnacked    struct{ ids []MessageId; reply chan error }
	cRedeliverAllUnacked struct{ reply chan error }
	cSeek                struct {
		target    *MessageId
		timestamp uint64
		reply     chan error
	}
	cFlushFlow           struct{}
	cReachedEndOfTopic   struct{}
	cHasMessageAvailable struct{ reply chan hasMsgResult }
	cClose               struct{ reply chan error }
	cUnsubscribe         struct{ reply chan error }
)

type receiveResult struct {
	msg Message
	err error
}

type hasMsgResult struct {
	has bool
	err error
}

// Consumer is the flow-controlled receive pipeline described in §4.9.
type Consumer struct {
	topic            string
	consumerName     string
	subscriptionName string
	consumerId       uint64
	partition        int32

	opts *consumerOptions
	log  *Logger

	handler *ConnectionHandler

	cmds chan any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mainLoop-owned state.
	conn               *Connection
	incoming           *list.List // of Message
	waiters            *list.List // of chan receiveResult
	availablePermits   int
	ackTracker         *ackGroupingTracker
	unackedTracker     *unackedMessageTracker
	negAckTracker      *negativeAckTracker
	lastDequeued       MessageId
	lastMessageIdInBroker MessageId
	startMessageId     *MessageId
	startInclusive     bool
	lastBatchTailId    *MessageId
	closed             bool
}

// NewConsumer creates and starts a Consumer subscribed to topic.
func NewConsumer(topic string, grab grabCnxFunc, log *Logger, opts ...ConsumerOption) *Consumer {
	o := defaultConsumerOptions()
	o.topic = topic
	for _, fn := range opts {
		fn(o)
	}
	if o.consumerName == "" {
		o.consumerName = "consumer-" + uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		topic:            o.topic,
		consumerName:     o.consumerName,
		subscriptionName: o.subscriptionName,
		consumerId:       nextGlobalSequenceId(),
		opts:             o,
		log:              log,
		cmds:             make(chan any, 256),
		ctx:              ctx,
		cancel:           cancel,
		incoming:         list.New(),
		waiters:          list.New(),
		lastDequeued:     EarliestMessageId(),
		startMessageId:   o.startMessageId,
		startInclusive:   o.resetIncludeHead,
	}
	c.handler = NewConnectionHandler(grab, NewBackoff(100*time.Millisecond, 60*time.Second, 0), log,
		func(conn *Connection) { c.post(cConnectionOpened{conn: conn}) },
		func(err error) { c.post(cConnectionFailed{err: err}) },
	)
	c.ackTracker = newAckGroupingTracker(o.ackGroupingTime, o.nonPersistentTopic, c.flushAcks)
	c.unackedTracker = newUnackedMessageTracker(o.ackTimeout, o.ackTimeoutTick, c.redeliverExpired)
	c.negAckTracker = newNegativeAckTracker(o.negativeAckDelay, o.negativeAckTick, c.redeliverExpired)

	c.wg.Add(1)
	go c.mainLoop()

	c.handler.GrabCnx()
	return c
}

func (c *Consumer) post(msg any) {
	select {
	case c.cmds <- msg:
	case <-c.ctx.Done():
	}
}

// ReceiveAsync blocks until a message is available or ctx ends.
func (c *Consumer) ReceiveAsync(ctx context.Context) (Message, error) {
	reply := make(chan receiveResult, 1)
	select {
	case c.cmds <- cReceive{reply: reply}:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.msg, r.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Acknowledge acks one message.
func (c *Consumer) Acknowledge(ctx context.Context, id MessageId) error {
	return c.ack(ctx, id, AckIndividual)
}

// AcknowledgeCumulative acks id and every earlier message.
func (c *Consumer) AcknowledgeCumulative(ctx context.Context, id MessageId) error {
	return c.ack(ctx, id, AckCumulative)
}

func (c *Consumer) ack(ctx context.Context, id MessageId, kind AckType) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- cAcknowledge{id: id, kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NegativeAcknowledge defers redelivery of id by NegativeAckRedeliveryDelay.
func (c *Consumer) NegativeAcknowledge(id MessageId) {
	c.post(negAck{id: id})
}

type negAck struct{ id MessageId }

// SeekMessageId seeks to target.
func (c *Consumer) SeekMessageId(ctx context.Context, target MessageId) error {
	return c.seek(ctx, &target, 0)
}

// SeekTimestamp seeks to the first message published at or after ts.
func (c *Consumer) SeekTimestamp(ctx context.Context, ts uint64) error {
	return c.seek(ctx, nil, ts)
}

func (c *Consumer) seek(ctx context.Context, target *MessageId, ts uint64) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- cSeek{target: target, timestamp: ts, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasMessageAvailable implements §4.9's availability check.
func (c *Consumer) HasMessageAvailable(ctx context.Context) (bool, error) {
	reply := make(chan hasMsgResult, 1)
	select {
	case c.cmds <- cHasMessageAvailable{reply: reply}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.has, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RedeliverUnacknowledged requests redelivery of every currently
// unacked message.
func (c *Consumer) RedeliverUnacknowledged(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- cRedeliverAllUnacked{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the consumer down.
func (c *Consumer) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- cClose{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		c.cancel()
		c.wg.Wait()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) mainLoop() {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.cmds:
			c.handle(m)
			if c.closed {
				c.ackTracker.Close()
				c.unackedTracker.Close()
				c.negAckTracker.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) handle(m any) {
	switch msg := m.(type) {
	case cConnectionOpened:
		c.onConnectionOpened(msg.conn)
	case cConnectionClosed:
		if c.conn == msg.conn {
			c.conn = nil
		}
		c.handler.OnConnectionClosed(msg.conn)
	case cConnectionFailed:
		c.failAllWaiters(newError("Consumer", KindNotConnected, msg.err))
	case cMessageReceived:
		c.onMessageReceived(msg.cmd, msg.frame)
	case cReceive:
		c.onReceive(msg.reply)
	case cAcknowledge:
		c.onAcknowledge(msg.id, msg.kind, msg.reply)
	case negAck:
		c.unackedTracker.Remove(msg.id)
		c.negAckTracker.Add(msg.id)
	case cRedeliverUnacked:
		c.onRedeliverUnacked(msg.ids, msg.reply)
	case cRedeliverAllUnacked:
		c.onRedeliverAllUnacked(msg.reply)
	case cSeek:
		c.onSeek(msg.target, msg.timestamp, msg.reply)
	case cFlushFlow:
		c.maybeSendFlow()
	case cReachedEndOfTopic:
		// Surfaced to callers via HasMessageAvailable; nothing to mutate.
	case cHasMessageAvailable:
		c.onHasMessageAvailable(msg.reply)
	case cClose:
		c.onClose(msg.reply)
	case cUnsubscribe:
		c.onUnsubscribe(msg.reply)
	}
}

func (c *Consumer) onConnectionOpened(conn *Connection) {
	c.conn = conn
	conn.addConsumer(c.consumerId, c)

	cmd := &wireproto.Command{
		Type:             wireproto.CmdSubscribe,
		Topic:            c.topic,
		SubscriptionName: c.subscriptionName,
		ConsumerId:       c.consumerId,
		ConsumerName:     c.consumerName,
		SubType:          uint8(c.opts.subType),
		InitialPosition:  uint8(c.opts.initialPosition),
		ReadCompacted:    c.opts.readCompacted,
		Durable:          c.subscriptionName != "",
	}
	if !cmd.Durable && c.startMessageId != nil {
		cmd.StartMessageId = &wireproto.MessageIdData{
			LedgerId: c.startMessageId.LedgerId, EntryId: c.startMessageId.EntryId,
			Partition: c.startMessageId.Partition, BatchIndex: c.startMessageId.BatchIndex(),
		}
	}
	conn.send(encodeFrame(cmd.Marshal()))

	c.availablePermits = 0
	flow := &wireproto.Command{Type: wireproto.CmdFlow, ConsumerId: c.consumerId, MessagePermits: uint32(c.opts.receiverQueueSize)}
	conn.send(encodeFrame(flow.Marshal()))
}

func (c *Consumer) deliver(wc *wireCommand) {
	switch wc.cmd.Type {
	case wireproto.CmdMessage:
		c.post(cMessageReceived{cmd: wc.cmd, frame: wc.frame})
	case wireproto.CmdCloseConsumer:
		c.post(cConnectionFailed{err: ErrNotConnected})
	case wireproto.CmdReachedEndOfTopic:
		c.post(cReachedEndOfTopic{})
	}
}

func (c *Consumer) connectionClosed(conn *Connection) {
	c.post(cConnectionClosed{conn: conn})
}

// onMessageReceived implements §4.9's "Message delivery": explode
// batches, suppress duplicates, filter start-message boundaries, and
// track flow permits.
func (c *Consumer) onMessageReceived(cmd *wireproto.Command, f *frame) {
	wireMeta, err := wireproto.UnmarshalMessageMetadata(f.Metadata)
	if err != nil {
		c.log.Warn("consumer %s: dropping frame with unparsable metadata: %v", c.consumerName, err)
		return
	}
	numMessages := wireMeta.NumMessagesInBatch
	if numMessages == 0 {
		numMessages = 1
	}

	ledgerId, entryId := cmd.LedgerId, cmd.EntryId
	entryMsgId := individualId(ledgerId, entryId, c.partition, c.topic)
	if c.ackTracker.IsDuplicate(entryMsgId) {
		c.releasePermits(int(numMessages))
		return
	}

	compression := CompressionType(wireMeta.Compression)
	codec := compression.codec()
	uncompressed, err := codec.Decode(nil, f.Payload, int(wireMeta.UncompressedSize))
	if err != nil {
		c.log.Warn("consumer %s: decompress failed: %v", c.consumerName, err)
		return
	}

	if wireMeta.NumMessagesInBatch == 0 {
		if c.isPriorEntryIndex(ledgerId, entryId) {
			c.releasePermits(1)
			return
		}
		msg := Message{
			ID:         entryMsgId,
			Payload:    uncompressed,
			Key:        wireMeta.PartitionKey,
			HasKey:     wireMeta.HasPartitionKey,
			Properties: wireMeta.Properties,
			Metadata: MessageMetadata{
				SequenceId: wireMeta.SequenceId, PublishTime: wireMeta.PublishTime,
				ProducerName: wireMeta.ProducerName, Compression: compression,
			},
		}
		c.enqueue(msg)
		c.releasePermits(1)
		return
	}

	metas, payloads, err := explodeBatch(uncompressed)
	if err != nil {
		c.log.Warn("consumer %s: batch explode failed: %v", c.consumerName, err)
		return
	}
	acker := newBatchAcker(ledgerId, entryId, int32(len(metas)), c.lastBatchTailId)
	tail := individualId(ledgerId, entryId, c.partition, c.topic)
	c.lastBatchTailId = &tail
	for i, smm := range metas {
		if c.isPriorBatchIndex(ledgerId, entryId, int32(i)) {
			c.releasePermits(1)
			continue
		}
		msg := Message{
			ID:         cumulativeId(ledgerId, entryId, c.partition, c.topic, int32(i), acker),
			Payload:    payloads[i],
			Key:        smm.PartitionKey,
			HasKey:     smm.HasPartitionKey,
			Properties: smm.Properties,
			Metadata: MessageMetadata{
				SequenceId: smm.SequenceId, NumMessagesInBatch: int32(len(metas)),
			},
		}
		c.enqueue(msg)
		c.releasePermits(1)
	}
}

func (c *Consumer) isPriorEntryIndex(ledgerId, entryId uint64) bool {
	if c.subscriptionName != "" || c.startMessageId == nil {
		return false
	}
	if ledgerId != c.startMessageId.LedgerId || entryId != c.startMessageId.EntryId {
		return false
	}
	if c.opts.resetIncludeHead {
		return entryId < c.startMessageId.EntryId
	}
	return entryId <= c.startMessageId.EntryId
}

func (c *Consumer) isPriorBatchIndex(ledgerId, entryId uint64, i int32) bool {
	if c.subscriptionName != "" || c.startMessageId == nil {
		return false
	}
	if !c.startMessageId.IsBatch() {
		return false
	}
	if ledgerId != c.startMessageId.LedgerId || entryId != c.startMessageId.EntryId {
		return false
	}
	if c.opts.resetIncludeHead {
		return i < c.startMessageId.BatchIndex()
	}
	return i <= c.startMessageId.BatchIndex()
}

func (c *Consumer) enqueue(msg Message) {
	if c.waiters.Len() > 0 {
		front := c.waiters.Front()
		c.waiters.Remove(front)
		front.Value.(chan receiveResult) <- receiveResult{msg: msg}
		c.unackedTracker.Add(msg.ID)
		return
	}
	c.incoming.PushBack(msg)
	c.unackedTracker.Add(msg.ID)
}

func (c *Consumer) releasePermits(n int) {
	c.availablePermits += n
	c.maybeSendFlow()
}

func (c *Consumer) maybeSendFlow() {
	half := c.opts.receiverQueueSize / 2
	if half <= 0 {
		half = 1
	}
	if c.availablePermits < half {
		return
	}
	n := c.availablePermits
	c.availablePermits = 0
	if c.conn == nil {
		return
	}
	cmd := &wireproto.Command{Type: wireproto.CmdFlow, ConsumerId: c.consumerId, MessagePermits: uint32(n)}
	c.conn.send(encodeFrame(cmd.Marshal()))
}

func (c *Consumer) onReceive(reply chan receiveResult) {
	if c.incoming.Len() > 0 {
		front := c.incoming.Front()
		c.incoming.Remove(front)
		msg := front.Value.(Message)
		c.lastDequeued = msg.ID
		reply <- receiveResult{msg: msg}
		return
	}
	c.waiters.PushBack(reply)
}

// onAcknowledge implements §4.9's "Acknowledgment" paragraph.
func (c *Consumer) onAcknowledge(id MessageId, kind AckType, reply chan error) {
	if kind == AckIndividual {
		c.unackedTracker.Remove(id)
		if id.IsBatch() && id.acker != nil {
			allAcked := id.acker.ackIndividual(id.BatchIndex())
			if allAcked {
				c.ackTracker.AddAck(individualId(id.LedgerId, id.EntryId, id.Partition, id.TopicName), AckIndividual)
			}
			reply <- nil
			return
		}
		c.ackTracker.AddAck(id, AckIndividual)
		reply <- nil
		return
	}

	// Cumulative: §9's preserved open-question decision — cumulative
	// acks are handled only by the grouping tracker's periodic flush and
	// never individually touch the unacked tracker.
	if id.IsBatch() && id.acker != nil {
		if !id.acker.isPrevBatchCumulativelyAcked() {
			if prev := id.acker.prevBatchLastID(); prev != nil {
				c.ackTracker.AddAck(*prev, AckCumulative)
			}
			id.acker.markPrevBatchCumulativelyAcked()
		}
		allAcked := id.acker.ackCumulative(id.BatchIndex())
		if allAcked {
			c.ackTracker.AddAck(individualId(id.LedgerId, id.EntryId, id.Partition, id.TopicName), AckCumulative)
		}
		reply <- nil
		return
	}
	c.ackTracker.AddAck(id, AckCumulative)
	reply <- nil
}

func (c *Consumer) flushAcks(individuals []MessageId, cumulative *MessageId) {
	if c.conn == nil {
		return
	}
	if cumulative != nil {
		cmd := &wireproto.Command{
			Type: wireproto.CmdAck, ConsumerId: c.consumerId, AckType: uint8(AckCumulative),
			MessageIds: []wireproto.MessageIdData{{LedgerId: cumulative.LedgerId, EntryId: cumulative.EntryId, Partition: cumulative.Partition}},
		}
		c.conn.send(encodeFrame(cmd.Marshal()))
	}
	if len(individuals) > 0 {
		ids := make([]wireproto.MessageIdData, len(individuals))
		for i, id := range individuals {
			ids[i] = wireproto.MessageIdData{LedgerId: id.LedgerId, EntryId: id.EntryId, Partition: id.Partition}
		}
		cmd := &wireproto.Command{Type: wireproto.CmdAck, ConsumerId: c.consumerId, AckType: uint8(AckIndividual), MessageIds: ids}
		c.conn.send(encodeFrame(cmd.Marshal()))
	}
}

// redeliverExpired is shared by the unacked-message and negative-ack
// trackers: both hand the engine a batch of ids to redeliver.
func (c *Consumer) redeliverExpired(ids []MessageId) {
	c.post(cRedeliverUnacked{ids: ids, reply: make(chan error, 1)})
}

const redeliverChunkSize = 1000

// onRedeliverUnacked implements §4.9's Shared/KeyShared redelivery
// path: chunked REDELIVER_UNACKNOWLEDGED_MESSAGES, removing any
// matching ids still at the head of incoming and releasing permits.
func (c *Consumer) onRedeliverUnacked(ids []MessageId, reply chan error) {
	if c.opts.subType != Shared && c.opts.subType != KeyShared {
		c.onRedeliverAllUnacked(reply)
		return
	}
	if c.conn != nil {
		for i := 0; i < len(ids); i += redeliverChunkSize {
			end := i + redeliverChunkSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[i:end]
			wireIds := make([]wireproto.MessageIdData, len(chunk))
			for j, id := range chunk {
				wireIds[j] = wireproto.MessageIdData{LedgerId: id.LedgerId, EntryId: id.EntryId, Partition: id.Partition}
			}
			cmd := &wireproto.Command{Type: wireproto.CmdRedeliverUnacknowledged, ConsumerId: c.consumerId, RedeliverMessageIds: wireIds}
			c.conn.send(encodeFrame(cmd.Marshal()))
		}
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id.String()] = struct{}{}
	}
	var next *list.Element
	for e := c.incoming.Front(); e != nil; e = next {
		next = e.Next()
		msg := e.Value.(Message)
		if _, ok := idSet[msg.ID.String()]; ok {
			c.incoming.Remove(e)
			c.releasePermits(1)
		}
	}
	reply <- nil
}

// onRedeliverAllUnacked implements the non-Shared/KeyShared redelivery
// fallback described in §4.9.
func (c *Consumer) onRedeliverAllUnacked(reply chan error) {
	c.incoming.Init()
	c.unackedTracker.Close()
	c.unackedTracker = newUnackedMessageTracker(c.opts.ackTimeout, c.opts.ackTimeoutTick, c.redeliverExpired)
	if c.conn != nil {
		cmd := &wireproto.Command{Type: wireproto.CmdRedeliverUnacknowledged, ConsumerId: c.consumerId}
		c.conn.send(encodeFrame(cmd.Marshal()))
	}
	reply <- nil
}

// onSeek implements §4.9's Seek: flush-and-clear ack grouping, clear
// incoming, set lastDequeued to the seek target.
func (c *Consumer) onSeek(target *MessageId, ts uint64, reply chan error) {
	if c.conn == nil {
		reply <- ErrNotConnected
		return
	}
	cmd := &wireproto.Command{Type: wireproto.CmdSeek, ConsumerId: c.consumerId}
	if target != nil {
		cmd.SeekMessageId = &wireproto.MessageIdData{LedgerId: target.LedgerId, EntryId: target.EntryId, Partition: target.Partition}
	} else {
		cmd.SeekTimestamp = ts
	}
	wc, err := c.conn.sendAndWaitForReply(c.ctx, nextGlobalSequenceId(), encodeFrame(cmd.Marshal()))
	if err != nil || wc == nil {
		reply <- newError("Seek", KindTimeout, err)
		return
	}
	c.ackTracker.Flush()
	c.ackTracker.mu.Lock()
	c.ackTracker.seen = make(map[string]struct{})
	c.ackTracker.cumulative = nil
	c.ackTracker.mu.Unlock()
	c.incoming.Init()
	for c.waiters.Len() > 0 {
		front := c.waiters.Front()
		c.waiters.Remove(front)
	}
	if target != nil {
		c.lastDequeued = *target
	}
	reply <- nil
}

// onHasMessageAvailable implements §4.9's availability check.
func (c *Consumer) onHasMessageAvailable(reply chan hasMsgResult) {
	if c.incoming.Len() > 0 {
		reply <- hasMsgResult{has: true}
		return
	}
	if c.lastMessageIdInBroker.EntryId != ^uint64(0) && c.lastDequeued.Less(c.lastMessageIdInBroker) {
		reply <- hasMsgResult{has: true}
		return
	}
	reply <- hasMsgResult{has: false}
}

func (c *Consumer) failAllWaiters(err error) {
	for c.waiters.Len() > 0 {
		front := c.waiters.Front()
		c.waiters.Remove(front)
		front.Value.(chan receiveResult) <- receiveResult{err: err}
	}
}

func (c *Consumer) onClose(reply chan error) {
	// Flush buffered acks while the connection is still open.
	c.ackTracker.Flush()
	c.handler.Close()
	c.failAllWaiters(ErrAlreadyClosed)
	c.closed = true
	reply <- nil
}

func (c *Consumer) onUnsubscribe(reply chan error) {
	if c.conn == nil {
		reply <- ErrNotConnected
		return
	}
	cmd := &wireproto.Command{Type: wireproto.CmdUnsubscribe, ConsumerId: c.consumerId}
	wc, err := c.conn.sendAndWaitForReply(c.ctx, nextGlobalSequenceId(), encodeFrame(cmd.Marshal()))
	if err != nil || wc == nil {
		reply <- newError("Unsubscribe", KindTimeout, err)
		return
	}
	c.onClose(reply)
}

// Unsubscribe removes the durable subscription from the broker.
func (c *Consumer) Unsubscribe(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- cUnsubscribe{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
