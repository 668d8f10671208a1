// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"sync"
	"time"
)

// ConnectionPool shares one Connection per (host,port); it opens one
// lazily on first use and closes it once its last holder unregisters,
// per §2's "Connection Pool" entry.
type ConnectionPool struct {
	mu      sync.Mutex
	conns   map[string]*pooledConn
	timeout time.Duration
	log     *Logger
}

type pooledConn struct {
	conn     *Connection
	refcount int
	dialing  chan struct{} // closed once dial completes; nil once resolved
	dialErr  error
}

// NewConnectionPool builds an empty pool. timeout bounds each dial.
func NewConnectionPool(timeout time.Duration, log *Logger) *ConnectionPool {
	return &ConnectionPool{conns: make(map[string]*pooledConn), timeout: timeout, log: log}
}

// Get returns the shared Connection for addr, dialing it if this is
// the first holder. Every successful Get must be matched by a Release.
func (p *ConnectionPool) Get(ctx context.Context, addr string) (*Connection, error) {
	p.mu.Lock()
	pc, ok := p.conns[addr]
	if ok {
		if pc.dialing != nil {
			waitCh := pc.dialing
			p.mu.Unlock()
			select {
			case <-waitCh:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			p.mu.Lock()
			pc, ok = p.conns[addr]
			if !ok || pc.dialErr != nil {
				p.mu.Unlock()
				if ok {
					return nil, pc.dialErr
				}
				return p.Get(ctx, addr)
			}
		}
		pc.refcount++
		p.mu.Unlock()
		return pc.conn, nil
	}

	pc = &pooledConn{dialing: make(chan struct{})}
	p.conns[addr] = pc
	p.mu.Unlock()

	conn, err := DialConnection(ctx, addr, p.timeout, p.log)

	p.mu.Lock()
	if err != nil {
		pc.dialErr = err
		delete(p.conns, addr)
		close(pc.dialing)
		p.mu.Unlock()
		return nil, err
	}
	pc.conn = conn
	pc.refcount = 1
	dialing := pc.dialing
	pc.dialing = nil
	p.mu.Unlock()
	close(dialing)
	return conn, nil
}

// Release drops one holder's reference to addr's connection, closing
// it once the last holder has released.
func (p *ConnectionPool) Release(addr string) {
	p.mu.Lock()
	pc, ok := p.conns[addr]
	if !ok {
		p.mu.Unlock()
		return
	}
	pc.refcount--
	if pc.refcount > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.conns, addr)
	p.mu.Unlock()
	pc.conn.Close()
}

// CloseAll releases every pooled connection unconditionally; used on
// client shutdown.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*pooledConn)
	p.mu.Unlock()
	for _, pc := range conns {
		if pc.conn != nil {
			pc.conn.Close()
		}
	}
}
