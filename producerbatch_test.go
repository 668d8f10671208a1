// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealBatchThenExplodeBatchRoundTrips(t *testing.T) {
	items := []batchItem{
		{builder: &MessageBuilder{Payload: []byte("one")}, complete: func(MessageId, error) {}},
		{builder: &MessageBuilder{Payload: []byte("two"), Key: "k", HasKey: true}, complete: func(MessageId, error) {}},
		{builder: &MessageBuilder{Payload: []byte("three")}, complete: func(MessageId, error) {}},
	}

	payload, _, completers := sealBatch(items, 42, CompressionNone)
	require.Len(t, completers, 3)
	for i, c := range completers {
		assert.Equal(t, int32(i), c.batchIndex)
	}

	metas, payloads, err := explodeBatch(payload)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	require.Len(t, payloads, 3)

	assert.Equal(t, []byte("one"), payloads[0])
	assert.Equal(t, []byte("two"), payloads[1])
	assert.Equal(t, []byte("three"), payloads[2])
	assert.True(t, metas[1].HasPartitionKey)
	assert.Equal(t, "k", metas[1].PartitionKey)
	for _, m := range metas {
		assert.Equal(t, uint64(42), m.SequenceId)
	}
}

func TestSealBatchCompressesPayloadAsOneUnit(t *testing.T) {
	items := []batchItem{
		{builder: &MessageBuilder{Payload: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}, complete: func(MessageId, error) {}},
	}
	raw, _, _ := sealBatch(items, 1, CompressionNone)
	compressed, _, _ := sealBatch(items, 1, CompressionZLib)
	assert.Less(t, len(compressed), len(raw))
}

func TestSealBatchReportsPreCompressionSizeForDecode(t *testing.T) {
	items := []batchItem{
		{builder: &MessageBuilder{Payload: []byte("one")}, complete: func(MessageId, error) {}},
		{builder: &MessageBuilder{Payload: []byte("two")}, complete: func(MessageId, error) {}},
	}
	compressed, uncompressedSize, _ := sealBatch(items, 7, CompressionZLib)

	codec := CompressionZLib.codec()
	decoded, err := codec.Decode(nil, compressed, uncompressedSize)
	require.NoError(t, err)

	metas, payloads, err := explodeBatch(decoded)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, []byte("one"), payloads[0])
	assert.Equal(t, []byte("two"), payloads[1])
}
