// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameRoundTrip(t *testing.T) {
	cmd := []byte("hello-command")
	out := encodeFrame(cmd)

	f, err := readFrame(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, cmd, f.Command)
	assert.Empty(t, f.Metadata)
	assert.Empty(t, f.Payload)
}

func TestEncodeDataFrameRoundTrip(t *testing.T) {
	cmd := []byte("send-command")
	metadata := []byte("metadata-bytes")
	payload := []byte("payload-bytes")
	out := encodeDataFrame(cmd, metadata, payload)

	f, err := readFrame(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, cmd, f.Command)
	assert.Equal(t, metadata, f.Metadata)
	assert.Equal(t, payload, f.Payload)
}

func TestReadFrameDetectsChecksumCorruption(t *testing.T) {
	out := encodeDataFrame([]byte("cmd"), []byte("meta"), []byte("payload"))
	// Flip a byte inside the payload region without touching the
	// checksum, so the corruption is detected rather than masked.
	corrupted := append([]byte{}, out...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := readFrame(bytes.NewReader(corrupted))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindChecksumFailed))
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	var out []byte
	out = appendUint32(out, maxFrameSize+1)
	_, err := readFrame(bytes.NewReader(out))
	require.Error(t, err)
}
