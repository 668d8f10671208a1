// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/destiny/pulsar/wireproto"
)

// inbox handle every producer/consumer registers with its owning
// Connection so incoming PUSH frames can be routed back to it without
// the connection reaching into engine internals.
type inbox interface {
	deliver(cmd *wireCommand)
	connectionClosed(c *Connection)
}

// wireCommand is the decoded form of one frame handed to a registered
// inbox or to a waiting request. corrupted marks a frame whose
// checksum failed verification; only its command section (sequence id
// and producer id) is trustworthy in that case.
type wireCommand struct {
	frame     *frame
	cmd       *wireproto.Command
	corrupted bool
}

type pendingRequest struct {
	requestId uint64
	reply     chan *wireCommand
	deadline  time.Time
}

// Connection owns one bidirectional frame stream to a broker address.
// Its interior tables (pending requests, producers, consumers) are
// guarded by mu and are read and written by whichever goroutine calls
// into the Connection; writes to the socket are serialized by writeMu.
type Connection struct {
	id      string
	addr    string
	log     *Logger
	conn    net.Conn
	timeout time.Duration

	mu        sync.Mutex
	pending   map[uint64]*pendingRequest
	producers map[uint64]inbox
	consumers map[uint64]inbox

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// DialConnection opens a TCP connection to addr and starts its reader
// loop. It does not perform the Pulsar CONNECT handshake, and neither
// does the Connection Handler: the connection is used as soon as the
// dial succeeds.
func DialConnection(ctx context.Context, addr string, timeout time.Duration, log *Logger) (*Connection, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError("DialConnection", KindNotConnected, err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.NewString(),
		addr:      addr,
		log:       log,
		conn:      nc,
		timeout:   timeout,
		pending:   make(map[uint64]*pendingRequest),
		producers: make(map[uint64]inbox),
		consumers: make(map[uint64]inbox),
		closed:    make(chan struct{}),
		ctx:       cctx,
		cancel:    cancel,
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.cleanupLoop()
	return c, nil
}

// Addr returns the broker address this connection was dialed to.
func (c *Connection) Addr() string { return c.addr }

// send writes cmd to the wire and reports whether the write succeeded.
// A false result means the caller should treat the connection as dead.
func (c *Connection) send(cmd []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return false
	}
	if _, err := c.conn.Write(cmd); err != nil {
		c.log.Warn("connection %s: write failed: %v", c.id, err)
		return false
	}
	return true
}

// sendAndWaitForReply sends cmd and blocks until the matching reply
// arrives, ctx is canceled, or the request's deadline passes.
func (c *Connection) sendAndWaitForReply(ctx context.Context, requestId uint64, cmd []byte) (*wireCommand, error) {
	reply := make(chan *wireCommand, 1)
	req := &pendingRequest{requestId: requestId, reply: reply, deadline: time.Now().Add(c.timeout)}

	c.mu.Lock()
	c.pending[requestId] = req
	c.mu.Unlock()

	if !c.send(cmd) {
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
		return nil, newError("sendAndWaitForReply", KindConnectionFailedOnSend, nil)
	}

	select {
	case r := <-reply:
		if r == nil {
			// Close completes waiters with nil after closing c.closed;
			// a nil reply with c.closed still open is a deadline expiry.
			select {
			case <-c.closed:
				return nil, ErrNotConnected
			default:
			}
		}
		return r, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrNotConnected
	}
}

// addProducer registers a producer inbox to receive PUSH frames
// addressed to producerId. Registration is idempotent so the same
// call is safe to repeat across a reconnect.
func (c *Connection) addProducer(producerId uint64, ib inbox) {
	c.mu.Lock()
	c.producers[producerId] = ib
	c.mu.Unlock()
}

func (c *Connection) addConsumer(consumerId uint64, ib inbox) {
	c.mu.Lock()
	c.consumers[consumerId] = ib
	c.mu.Unlock()
}

func (c *Connection) removeProducer(producerId uint64) {
	c.mu.Lock()
	delete(c.producers, producerId)
	c.mu.Unlock()
}

func (c *Connection) removeConsumer(consumerId uint64) {
	c.mu.Lock()
	delete(c.consumers, consumerId)
	c.mu.Unlock()
}

// completeRequest resolves the pending waiter for requestId, if any.
func (c *Connection) completeRequest(requestId uint64, wc *wireCommand) bool {
	c.mu.Lock()
	req, ok := c.pending[requestId]
	if ok {
		delete(c.pending, requestId)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	req.reply <- wc
	return true
}

// dispatchToProducer/Consumer route a PUSH frame to its owner.
func (c *Connection) dispatchToProducer(producerId uint64, wc *wireCommand) {
	c.mu.Lock()
	ib, ok := c.producers[producerId]
	c.mu.Unlock()
	if ok {
		ib.deliver(wc)
	} else {
		c.log.Warn("connection %s: no producer registered for id %d", c.id, producerId)
	}
}

func (c *Connection) dispatchToConsumer(consumerId uint64, wc *wireCommand) {
	c.mu.Lock()
	ib, ok := c.consumers[consumerId]
	c.mu.Unlock()
	if ok {
		ib.deliver(wc)
	} else {
		c.log.Warn("connection %s: no consumer registered for id %d", c.id, consumerId)
	}
}

// readLoop is the Connection's single reader task: every incoming
// frame is decoded and dispatched from here.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			if IsKind(err, KindChecksumFailed) && f != nil {
				c.handleChecksumFailure(f)
				continue
			}
			c.log.Debug("connection %s: read loop exiting: %v", c.id, err)
			c.Close()
			return
		}
		cmd, err := wireproto.UnmarshalCommand(f.Command)
		if err != nil {
			c.log.Warn("connection %s: dropping unparsable frame: %v", c.id, err)
			continue
		}
		wc := &wireCommand{frame: f, cmd: cmd}
		c.route(wc)
	}
}

// handleChecksumFailure implements §4.1's checksum-recovery path: the
// command section of a corrupted frame is still trustworthy, so it is
// decoded and the failure raised toward the originating producer
// instead of killing the connection.
func (c *Connection) handleChecksumFailure(f *frame) {
	cmd, err := wireproto.UnmarshalCommand(f.Command)
	if err != nil {
		c.log.Warn("connection %s: checksum failure on unparsable frame: %v", c.id, err)
		return
	}
	c.mu.Lock()
	ib, ok := c.producers[cmd.ProducerId]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("connection %s: checksum failure for unknown producer %d", c.id, cmd.ProducerId)
		return
	}
	ib.deliver(&wireCommand{cmd: cmd, corrupted: true})
}

// route implements §4.2's incoming dispatch: command-reply frames
// complete their matching waiter; PUSH frames forward to the owning
// producer or consumer inbox.
func (c *Connection) route(wc *wireCommand) {
	switch wc.cmd.Type {
	case wireproto.CmdMessage:
		c.dispatchToConsumer(wc.cmd.ConsumerId, wc)
	case wireproto.CmdSendReceipt, wireproto.CmdSendError, wireproto.CmdCloseProducer:
		c.dispatchToProducer(wc.cmd.ProducerId, wc)
	case wireproto.CmdCloseConsumer, wireproto.CmdReachedEndOfTopic:
		c.dispatchToConsumer(wc.cmd.ConsumerId, wc)
	default:
		if !c.completeRequest(wc.cmd.RequestId, wc) {
			c.log.Warn("connection %s: no waiter for request %d (type %v)", c.id, wc.cmd.RequestId, wc.cmd.Type)
		}
	}
}

func (c *Connection) cleanupLoop() {
	defer c.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			now := time.Now()
			c.mu.Lock()
			for id, req := range c.pending {
				if now.After(req.deadline) {
					delete(c.pending, id)
					req.reply <- nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close tears the connection down, failing every outstanding waiter
// with NotConnected and notifying every registered producer/consumer.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[uint64]*pendingRequest)
		producers := c.producers
		consumers := c.consumers
		c.mu.Unlock()
		for _, req := range pending {
			req.reply <- nil
		}
		for _, ib := range producers {
			ib.connectionClosed(c)
		}
		for _, ib := range consumers {
			ib.connectionClosed(c)
		}
	})
	return err
}

// Wait blocks until both background goroutines have exited, so tests
// can assert no goroutine leak after Close.
func (c *Connection) Wait() { c.wg.Wait() }
