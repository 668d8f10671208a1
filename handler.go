// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"sync"
	"time"
)

// ConnectionState tags the Connection Handler's current phase, per §3.
// Only the handler ever assigns it.
type ConnectionState int

const (
	StateInitializing ConnectionState = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateClosing
	StateClosed
	StateFailed
	StateTerminated
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// grabCnxFunc resolves topic -> broker address and opens (or reuses
// from the pool) a Connection to it. Lookup and pooling live behind
// this seam so ConnectionHandler never imports them directly.
type grabCnxFunc func(ctx context.Context) (*Connection, error)

// ConnectionHandler is the per-engine reconnection state machine
// described in §4.3. One is owned by each Producer/Consumer engine.
type ConnectionHandler struct {
	mu    sync.Mutex
	state ConnectionState
	conn  *Connection

	backoff *Backoff
	grabCnx grabCnxFunc
	log     *Logger

	onOpened func(*Connection)
	onFailed func(error)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionHandler builds a handler starting in Initializing.
func NewConnectionHandler(grab grabCnxFunc, backoff *Backoff, log *Logger, onOpened func(*Connection), onFailed func(error)) *ConnectionHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionHandler{
		state:    StateInitializing,
		grabCnx:  grab,
		backoff:  backoff,
		log:      log,
		onOpened: onOpened,
		onFailed: onFailed,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current state.
func (h *ConnectionHandler) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ConnectionHandler) setState(s ConnectionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// CheckIfActive raises AlreadyClosed on Closing|Closed and
// NotConnected on Connecting|Reconnecting, per §4.3.
func (h *ConnectionHandler) CheckIfActive() error {
	switch h.State() {
	case StateClosing, StateClosed:
		return ErrAlreadyClosed
	case StateConnecting, StateReconnecting:
		return ErrNotConnected
	default:
		return nil
	}
}

// Connection returns the currently Ready connection, or nil.
func (h *ConnectionHandler) Connection() *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateReady {
		return h.conn
	}
	return nil
}

// GrabCnx drives Initializing/Reconnecting -> Connecting -> Ready, per
// the §4.3 state machine, retrying with backoff on retriable failures
// and giving up on fatal ones or an exhausted mandatory-stop budget.
func (h *ConnectionHandler) GrabCnx() {
	h.setState(StateConnecting)
	go h.attemptConnect()
}

func (h *ConnectionHandler) attemptConnect() {
	conn, err := h.grabCnx(h.ctx)
	if err == nil {
		h.backoff.Reset()
		h.mu.Lock()
		if h.state == StateClosing || h.state == StateClosed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.conn = conn
		h.state = StateReady
		h.mu.Unlock()
		h.onOpened(conn)
		return
	}

	if isFatal(err) {
		h.setState(StateFailed)
		h.onFailed(err)
		return
	}

	delay, exhausted := h.backoff.Next()
	if exhausted {
		h.setState(StateFailed)
		h.onFailed(newError("GrabCnx", KindTimeout, err))
		return
	}
	h.log.Debug("connection handler: retrying in %s after %v", delay, err)
	select {
	case <-time.After(delay):
		h.setState(StateConnecting)
		h.attemptConnect()
	case <-h.ctx.Done():
	}
}

// OnConnectionClosed transitions Ready -> Reconnecting -> Connecting,
// per §4.3, unless the handler is already closing/closed/terminated.
func (h *ConnectionHandler) OnConnectionClosed(c *Connection) {
	h.mu.Lock()
	if h.conn != c || h.state == StateClosing || h.state == StateClosed || h.state == StateTerminated {
		h.mu.Unlock()
		return
	}
	h.state = StateReconnecting
	h.conn = nil
	h.mu.Unlock()
	h.GrabCnx()
}

// Terminate transitions Ready -> Terminated on broker-signaled
// end-of-topic-life.
func (h *ConnectionHandler) Terminate() {
	h.setState(StateTerminated)
}

// Close transitions to Closing then Closed and releases the current
// connection, cancelling any in-flight reconnect attempt.
func (h *ConnectionHandler) Close() {
	h.setState(StateClosing)
	h.cancel()
	h.mu.Lock()
	conn := h.conn
	h.conn = nil
	h.state = StateClosed
	h.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func isFatal(err error) bool {
	switch {
	case IsKind(err, KindAuthFailed):
		return true
	case IsKind(err, KindTopicTerminated):
		return true
	case IsKind(err, KindInvalidConfiguration):
		return true
	default:
		return false
	}
}
