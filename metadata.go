// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "github.com/destiny/pulsar/compression"

// CompressionType selects the codec applied to a message's (or
// batch's) payload before it is framed.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionZLib
	CompressionZStd
	CompressionSnappy
)

func (c CompressionType) codec() compression.Codec {
	switch c {
	case CompressionLZ4:
		return compression.LZ4
	case CompressionZLib:
		return compression.ZLib
	case CompressionZStd:
		return compression.ZStd
	case CompressionSnappy:
		return compression.Snappy
	default:
		return compression.None
	}
}

// MessageMetadata is the per-entry metadata carried alongside a
// message's payload, per §3.
type MessageMetadata struct {
	SequenceId         uint64
	PublishTime        uint64
	ProducerName       string
	UncompressedSize   uint32
	Compression        CompressionType
	PartitionKey       string
	HasPartitionKey    bool
	NumMessagesInBatch int32
	Properties         map[string]string
}
