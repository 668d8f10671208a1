// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/destiny/pulsar/internal/pulsartest"
	"github.com/destiny/pulsar/wireproto"
)

func TestConnectionSendAndWaitForReply(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := DialConnection(ctx, broker.Addr(), time.Second, DevNullLogger)
	require.NoError(t, err)
	defer conn.Wait()
	defer conn.Close()

	broker.Accept(time.Second)

	go func() {
		cmd, _, _ := broker.ReadCommand()
		broker.SendCommand(&wireproto.Command{Type: wireproto.CmdSuccess, RequestId: cmd.RequestId, Success: true})
	}()

	req := &wireproto.Command{Type: wireproto.CmdLookup, RequestId: 7, Topic: "persistent://public/default/t"}
	wc, err := conn.sendAndWaitForReply(ctx, 7, encodeFrame(req.Marshal()))
	require.NoError(t, err)
	require.NotNil(t, wc)
	assert.True(t, wc.cmd.Success)
}

type fakeInbox struct {
	closedCh chan *Connection
}

func (f *fakeInbox) deliver(*wireCommand) {}
func (f *fakeInbox) connectionClosed(c *Connection) {
	f.closedCh <- c
}

func TestConnectionCloseNotifiesRegisteredInboxes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := pulsartest.NewFakeBroker(t)
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := DialConnection(ctx, broker.Addr(), time.Second, DevNullLogger)
	require.NoError(t, err)
	defer conn.Wait()

	broker.Accept(time.Second)

	fi := &fakeInbox{closedCh: make(chan *Connection, 1)}
	conn.addProducer(1, fi)

	require.NoError(t, conn.Close())

	select {
	case got := <-fi.closedCh:
		assert.Same(t, conn, got)
	case <-time.After(time.Second):
		t.Fatal("connectionClosed was never called")
	}
}
