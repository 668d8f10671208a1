// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pulsartest is a minimal fake broker used by the root
// package's tests to exercise Connection/Producer/Consumer over a
// real TCP socket without a real Pulsar broker.
package pulsartest

import (
	"encoding/binary"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/destiny/pulsar/wireproto"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const frameMagic uint16 = 0x0e01

// FakeBroker accepts a single connection and lets test code read the
// commands sent to it and script replies, grounded on the same frame
// layout as the root package's frame.go (duplicated here rather than
// imported, since frame.go's helpers are unexported).
type FakeBroker struct {
	t  testing.TB
	ln net.Listener

	accepted chan net.Conn
	conn     net.Conn
}

// NewFakeBroker starts listening on 127.0.0.1:0 and returns a broker
// ready to Accept a single connection.
func NewFakeBroker(t testing.TB) *FakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pulsartest: listen: %v", err)
	}
	b := &FakeBroker{t: t, ln: ln, accepted: make(chan net.Conn, 1)}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		b.accepted <- c
	}()
	return b
}

// Addr returns the host:port a Connection should dial.
func (b *FakeBroker) Addr() string { return b.ln.Addr().String() }

// Accept blocks until a client has connected.
func (b *FakeBroker) Accept(timeout time.Duration) {
	b.t.Helper()
	select {
	case c := <-b.accepted:
		b.conn = c
	case <-time.After(timeout):
		b.t.Fatalf("pulsartest: no client connected within %s", timeout)
	}
}

// ReadCommand reads the next frame from the client and decodes its
// command section.
func (b *FakeBroker) ReadCommand() (*wireproto.Command, []byte, []byte) {
	b.t.Helper()
	var totalSizeBuf [4]byte
	if _, err := readFull(b.conn, totalSizeBuf[:]); err != nil {
		b.t.Fatalf("pulsartest: read total size: %v", err)
	}
	totalSize := binary.BigEndian.Uint32(totalSizeBuf[:])
	body := make([]byte, totalSize)
	if _, err := readFull(b.conn, body); err != nil {
		b.t.Fatalf("pulsartest: read body: %v", err)
	}

	cmdSize := binary.BigEndian.Uint32(body[:4])
	cmdBytes := body[4 : 4+cmdSize]
	cmd, err := wireproto.UnmarshalCommand(cmdBytes)
	if err != nil {
		b.t.Fatalf("pulsartest: decode command: %v", err)
	}

	rest := body[4+cmdSize:]
	if len(rest) < 2+4+4 {
		return cmd, nil, nil
	}
	rest = rest[2:] // magic
	rest = rest[4:] // checksum
	metaSize := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	metadata := rest[:metaSize]
	payload := rest[metaSize:]
	return cmd, metadata, payload
}

// SendCommand writes a bare command frame (no metadata/payload) to the
// client.
func (b *FakeBroker) SendCommand(cmd *wireproto.Command) {
	b.t.Helper()
	cmdBytes := cmd.Marshal()
	var out []byte
	out = appendUint32(out, uint32(len(cmdBytes))+4)
	out = appendUint32(out, uint32(len(cmdBytes)))
	out = append(out, cmdBytes...)
	if _, err := b.conn.Write(out); err != nil {
		b.t.Fatalf("pulsartest: write: %v", err)
	}
}

// SendDataFrame writes a command+metadata+payload frame, per §4.1. The
// checksum covers [metadataSize][metadata][payload], matching
// encodeDataFrame exactly.
func (b *FakeBroker) SendDataFrame(cmd *wireproto.Command, metadata, payload []byte) {
	b.t.Helper()
	cmdBytes := cmd.Marshal()

	var checksummed []byte
	checksummed = appendUint32(checksummed, uint32(len(metadata)))
	checksummed = append(checksummed, metadata...)
	checksummed = append(checksummed, payload...)
	checksum := crc32.Checksum(checksummed, crc32cTable)

	var body []byte
	body = appendUint32(body, uint32(len(cmdBytes)))
	body = append(body, cmdBytes...)
	body = appendUint16(body, frameMagic)
	body = appendUint32(body, checksum)
	body = append(body, checksummed...)

	var out []byte
	out = appendUint32(out, uint32(len(body)))
	out = append(out, body...)
	if _, err := b.conn.Write(out); err != nil {
		b.t.Fatalf("pulsartest: write: %v", err)
	}
}

// Close shuts the broker down.
func (b *FakeBroker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	b.ln.Close()
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
