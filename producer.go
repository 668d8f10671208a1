// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/destiny/pulsar/wireproto"
)

var globalSequenceId atomic.Uint64

func nextGlobalSequenceId() uint64 { return globalSequenceId.Add(1) }

// producer inbox messages. The engine is a single-threaded actor: one
// goroutine drains cmds and nothing else touches its fields, per §5.
type (
	pConnectionOpened struct{ conn *Connection }
	pConnectionClosed struct{ conn *Connection }
	pConnectionFailed struct{ err error }
	pSendMessage      struct {
		builder *MessageBuilder
		reply   chan sendResult
	}
	pAckReceived struct {
		sequenceId uint64
		ledgerId   uint64
		entryId    uint64
	}
	pSendError struct {
		sequenceId uint64
		errorCode  uint32
	}
	pRecoverChecksumError struct{ sequenceId uint64 }
	pTerminated           struct{}
	pSendBatchTick        struct{}
	pSendTimeoutTick      struct{}
	pClose                struct{ reply chan error }
)

type sendResult struct {
	id  MessageId
	err error
}

// Producer is the ordered send pipeline described in §4.8.
type Producer struct {
	topic        string
	producerName string
	producerId   uint64
	partition    int32

	opts *producerOptions
	log  *Logger

	handler *ConnectionHandler

	cmds chan any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// fields below are only ever touched by mainLoop.
	state         ConnectionState
	conn          *Connection
	pending       *list.List // of *pendingMessage, sorted by sequenceId
	batchItems    []batchItem
	batchTimer    *time.Timer
	sendTimeoutAt time.Time
	closed        bool
}

// NewProducer creates and starts a Producer for topic. grab resolves
// and opens the connection to the owning broker; it is supplied by the
// Client so Producer never imports lookup/pool directly.
func NewProducer(topic string, grab grabCnxFunc, log *Logger, opts ...ProducerOption) *Producer {
	o := defaultProducerOptions()
	o.topic = topic
	for _, fn := range opts {
		fn(o)
	}
	if o.producerName == "" {
		o.producerName = "producer-" + uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		topic:        o.topic,
		producerName: o.producerName,
		producerId:   nextGlobalSequenceId(),
		opts:         o,
		log:          log,
		cmds:         make(chan any, 256),
		ctx:          ctx,
		cancel:       cancel,
		pending:      list.New(),
	}
	p.handler = NewConnectionHandler(grab, NewBackoff(100*time.Millisecond, 60*time.Second, 0), log,
		func(c *Connection) { p.post(pConnectionOpened{conn: c}) },
		func(err error) { p.post(pConnectionFailed{err: err}) },
	)

	p.wg.Add(1)
	go p.mainLoop()

	if o.maxBatchingDelay > 0 {
		p.wg.Add(1)
		go p.batchTickLoop()
	}
	if o.sendTimeout > 0 {
		p.wg.Add(1)
		go p.sendTimeoutLoop()
	}

	p.handler.GrabCnx()
	return p
}

func (p *Producer) post(msg any) {
	select {
	case p.cmds <- msg:
	case <-p.ctx.Done():
	}
}

func (p *Producer) batchTickLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.opts.maxBatchingDelay)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.post(pSendBatchTick{})
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Producer) sendTimeoutLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.opts.sendTimeout / 4)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.post(pSendTimeoutTick{})
		case <-p.ctx.Done():
			return
		}
	}
}

// SendAsync enqueues message for delivery and returns a channel
// receiving its MessageId once acked.
func (p *Producer) SendAsync(ctx context.Context, b *MessageBuilder) <-chan sendResult {
	reply := make(chan sendResult, 1)
	select {
	case p.cmds <- pSendMessage{builder: b, reply: reply}:
	case <-ctx.Done():
		reply <- sendResult{err: ctx.Err()}
	case <-p.ctx.Done():
		reply <- sendResult{err: ErrAlreadyClosed}
	}
	return reply
}

// Send is the synchronous convenience wrapper over SendAsync.
func (p *Producer) Send(ctx context.Context, b *MessageBuilder) (MessageId, error) {
	select {
	case r := <-p.SendAsync(ctx, b):
		return r.id, r.err
	case <-ctx.Done():
		return MessageId{}, ctx.Err()
	}
}

// Close fails every outstanding send, including messages still waiting
// in an unsealed batch, with AlreadyClosed and tears the producer down.
func (p *Producer) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.cmds <- pClose{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		p.cancel()
		p.wg.Wait()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) mainLoop() {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.cmds:
			p.handle(m)
			if p.closed {
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Producer) handle(m any) {
	switch msg := m.(type) {
	case pConnectionOpened:
		p.onConnectionOpened(msg.conn)
	case pConnectionClosed:
		if p.conn == msg.conn {
			p.conn = nil
		}
		p.handler.OnConnectionClosed(msg.conn)
	case pConnectionFailed:
		p.failAllPending(newError("Producer", KindNotConnected, msg.err))
	case pSendMessage:
		p.onSendMessage(msg)
	case pAckReceived:
		p.onAckReceived(msg)
	case pSendError:
		p.onSendError(msg)
	case pRecoverChecksumError:
		p.onRecoverChecksumError(msg.sequenceId)
	case pTerminated:
		p.handler.Terminate()
		p.failAllPending(ErrTopicTerminated)
	case pSendBatchTick:
		p.sealCurrentBatch()
	case pSendTimeoutTick:
		p.checkSendTimeout()
	case pClose:
		p.onClose(msg.reply)
	}
}

func (p *Producer) onConnectionOpened(c *Connection) {
	p.conn = c
	c.addProducer(p.producerId, p)
	// Resend the entire pending queue in order without re-incrementing
	// sequence-ids, per §4.8's "Ordering" paragraph.
	for e := p.pending.Front(); e != nil; e = e.Next() {
		pm := e.Value.(*pendingMessage)
		c.send(pm.frameBytes)
	}
}

// deliver implements the inbox interface; PUSH frames addressed to
// this producer arrive here from the owning Connection's reader task.
func (p *Producer) deliver(wc *wireCommand) {
	if wc.corrupted {
		p.post(pRecoverChecksumError{sequenceId: wc.cmd.SequenceId})
		return
	}
	switch wc.cmd.Type {
	case wireproto.CmdSendReceipt:
		p.post(pAckReceived{sequenceId: wc.cmd.SequenceId, ledgerId: wc.cmd.LedgerId, entryId: wc.cmd.EntryId})
	case wireproto.CmdSendError:
		if wc.cmd.ErrorCode == wireproto.ErrorCodeChecksumMismatch {
			p.post(pRecoverChecksumError{sequenceId: wc.cmd.SequenceId})
			return
		}
		p.post(pSendError{sequenceId: wc.cmd.SequenceId, errorCode: wc.cmd.ErrorCode})
	case wireproto.CmdCloseProducer:
		p.post(pTerminated{})
	}
}

func (p *Producer) connectionClosed(c *Connection) {
	p.post(pConnectionClosed{conn: c})
}

func (p *Producer) onSendMessage(msg pSendMessage) {
	if p.closed {
		msg.reply <- sendResult{err: ErrAlreadyClosed}
		return
	}
	if p.pending.Len() >= p.opts.maxPendingMessages {
		msg.reply <- sendResult{err: ErrProducerQueueFull}
		return
	}

	complete := func(id MessageId, err error) { msg.reply <- sendResult{id: id, err: err} }

	if !p.opts.batchingEnabled {
		p.sealSingle(msg.builder, complete)
		return
	}

	p.batchItems = append(p.batchItems, batchItem{builder: msg.builder, complete: complete})
	if len(p.batchItems) >= p.opts.maxMessagesPerBatch {
		p.sealCurrentBatch()
	}
}

func (p *Producer) sealCurrentBatch() {
	if len(p.batchItems) == 0 {
		return
	}
	items := p.batchItems
	p.batchItems = nil

	seq := nextGlobalSequenceId()
	payload, uncompressedSize, completers := sealBatch(items, seq, p.opts.compressionType)
	meta := MessageMetadata{
		SequenceId:         seq,
		PublishTime:        uint64(time.Now().UnixMilli()),
		ProducerName:       p.producerName,
		UncompressedSize:   uint32(uncompressedSize),
		Compression:        p.opts.compressionType,
		NumMessagesInBatch: int32(len(items)),
	}
	pm := &pendingMessage{sequenceId: seq, metadata: meta, createdAt: time.Now(), batch: completers}
	p.enqueueAndSend(pm, payload)
}

func (p *Producer) sealSingle(b *MessageBuilder, complete func(MessageId, error)) {
	seq := nextGlobalSequenceId()
	codec := p.opts.compressionType.codec()
	payload := codec.Encode(nil, b.Payload)
	meta := MessageMetadata{
		SequenceId:       seq,
		PublishTime:      uint64(time.Now().UnixMilli()),
		ProducerName:     p.producerName,
		UncompressedSize: uint32(len(b.Payload)),
		Compression:      p.opts.compressionType,
		PartitionKey:     b.Key,
		HasPartitionKey:  b.HasKey,
		Properties:       b.Properties,
	}
	pm := &pendingMessage{sequenceId: seq, metadata: meta, createdAt: time.Now(), single: complete}
	p.enqueueAndSend(pm, payload)
}

func (p *Producer) enqueueAndSend(pm *pendingMessage, payload []byte) {
	wireMeta := &wireproto.MessageMetadata{
		SequenceId:         pm.metadata.SequenceId,
		PublishTime:        pm.metadata.PublishTime,
		ProducerName:       pm.metadata.ProducerName,
		UncompressedSize:   pm.metadata.UncompressedSize,
		Compression:        uint8(pm.metadata.Compression),
		PartitionKey:       pm.metadata.PartitionKey,
		HasPartitionKey:    pm.metadata.HasPartitionKey,
		NumMessagesInBatch: pm.metadata.NumMessagesInBatch,
		Properties:         pm.metadata.Properties,
	}
	cmd := &wireproto.Command{
		Type:       wireproto.CmdSend,
		ProducerId: p.producerId,
		SequenceId: pm.sequenceId,
	}
	pm.frameBytes = encodeDataFrame(cmd.Marshal(), wireMeta.Marshal(), payload)

	p.pending.PushBack(pm)
	if p.conn != nil {
		if !p.conn.send(pm.frameBytes) {
			p.log.Warn("producer %s: send failed, awaiting reconnect", p.producerName)
		}
	}
}

func (p *Producer) onAckReceived(msg pAckReceived) {
	front := p.pending.Front()
	if front == nil {
		return
	}
	head := front.Value.(*pendingMessage)
	switch {
	case msg.sequenceId > head.sequenceId:
		p.log.Warn("producer %s: broker skipped ack (want %d got %d), forcing reconnect",
			p.producerName, head.sequenceId, msg.sequenceId)
		if p.conn != nil {
			p.conn.Close()
		}
	case msg.sequenceId < head.sequenceId:
		p.log.Debug("producer %s: ack for already-timed-out message %d", p.producerName, msg.sequenceId)
	default:
		p.pending.Remove(front)
		p.completeHead(head, msg.ledgerId, msg.entryId, nil)
	}
}

func (p *Producer) completeHead(head *pendingMessage, ledgerId, entryId uint64, err error) {
	if head.single != nil {
		id := MessageId{}
		if err == nil {
			id = individualId(ledgerId, entryId, p.partition, p.topic)
		}
		head.single(id, err)
		return
	}
	for _, bc := range head.batch {
		id := MessageId{}
		if err == nil {
			id = cumulativeId(ledgerId, entryId, p.partition, p.topic, bc.batchIndex, nil)
		}
		bc.complete(id, err)
	}
}

func (p *Producer) onSendError(msg pSendError) {
	front := p.pending.Front()
	if front == nil {
		return
	}
	head := front.Value.(*pendingMessage)
	if head.sequenceId != msg.sequenceId {
		return
	}
	p.pending.Remove(front)
	p.completeHead(head, 0, 0, newError("Producer.Send", KindConnectionFailedOnSend, fmt.Errorf("broker error code %d", msg.errorCode)))
}

// onRecoverChecksumError implements §4.8's "Checksum recovery": a
// transient corruption in flight resends every pending frame; local
// corruption fails the head message and drops it.
func (p *Producer) onRecoverChecksumError(sequenceId uint64) {
	front := p.pending.Front()
	if front == nil {
		return
	}
	head := front.Value.(*pendingMessage)
	if head.sequenceId != sequenceId {
		return
	}
	if verifyChecksum(head.frameBytes) {
		for e := p.pending.Front(); e != nil; e = e.Next() {
			pm := e.Value.(*pendingMessage)
			if p.conn != nil {
				p.conn.send(pm.frameBytes)
			}
		}
		return
	}
	p.pending.Remove(front)
	p.completeHead(head, 0, 0, ErrChecksumFailed)
}

func verifyChecksum(frameBytes []byte) bool {
	f, err := readFrame(bytes.NewReader(frameBytes))
	return err == nil && f != nil
}

func (p *Producer) checkSendTimeout() {
	front := p.pending.Front()
	if front == nil {
		return
	}
	head := front.Value.(*pendingMessage)
	if time.Now().Before(head.createdAt.Add(p.opts.sendTimeout)) {
		return
	}
	p.failAllPending(ErrTimeout)
}

func (p *Producer) failAllPending(err error) {
	for e := p.pending.Front(); e != nil; e = e.Next() {
		pm := e.Value.(*pendingMessage)
		p.completeHead(pm, 0, 0, err)
	}
	p.pending.Init()
}

func (p *Producer) onClose(reply chan error) {
	p.handler.Close()
	p.failAllPending(ErrAlreadyClosed)
	for _, it := range p.batchItems {
		it.complete(MessageId{}, ErrAlreadyClosed)
	}
	p.batchItems = nil
	p.closed = true
	reply <- nil
}
