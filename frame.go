// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// frameMagic marks the presence of a checksum ahead of the metadata
// section, per the wire layout.
const frameMagic uint16 = 0x0e01

// maxFrameSize bounds a single frame so a corrupt length prefix can't
// make a reader allocate unboundedly.
const maxFrameSize = 5 * 1024 * 1024

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// frame is a single decoded wire unit: a command plus, for data frames
// (Send/Message), the metadata and payload that follow it.
//
//	[totalSize u32][cmdSize u32][command bytes]
//	[magic u16=0x0e01][checksum u32][metadataSize u32][metadata bytes][payload]
//
// The checksum covers everything from metadataSize onward. Simple
// commands (Connect, Lookup, Ack, Flow, ...) carry only the command
// section; totalSize equals 4+cmdSize in that case.
type frame struct {
	Command  []byte
	Metadata []byte
	Payload  []byte
}

// encodeFrame serializes cmd alone, with no metadata/payload section.
func encodeFrame(cmd []byte) []byte {
	out := make([]byte, 0, 8+len(cmd))
	out = appendUint32(out, uint32(4+len(cmd)))
	out = appendUint32(out, uint32(len(cmd)))
	out = append(out, cmd...)
	return out
}

// encodeDataFrame serializes cmd followed by a checksummed
// metadata+payload section, per §4.1.
func encodeDataFrame(cmd, metadata, payload []byte) []byte {
	checksummed := make([]byte, 0, 4+len(metadata)+len(payload))
	checksummed = appendUint32(checksummed, uint32(len(metadata)))
	checksummed = append(checksummed, metadata...)
	checksummed = append(checksummed, payload...)

	checksum := crc32.Checksum(checksummed, crc32cTable)

	body := make([]byte, 0, 4+len(cmd)+2+4+len(checksummed))
	body = appendUint32(body, uint32(len(cmd)))
	body = append(body, cmd...)
	body = appendUint16(body, frameMagic)
	body = appendUint32(body, checksum)
	body = append(body, checksummed...)

	out := make([]byte, 0, 4+len(body))
	out = appendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// readFrame reads and decodes exactly one frame from r, verifying the
// checksum when a data section is present.
func readFrame(r io.Reader) (*frame, error) {
	totalSize, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if totalSize < 4 || totalSize > maxFrameSize {
		return nil, fmt.Errorf("pulsar: frame: invalid total size %d", totalSize)
	}

	body := make([]byte, totalSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("pulsar: frame: read body: %w", err)
	}

	cmdSize := binary.BigEndian.Uint32(body[0:4])
	if 4+uint64(cmdSize) > uint64(len(body)) {
		return nil, fmt.Errorf("pulsar: frame: command size %d exceeds frame", cmdSize)
	}
	cmd := body[4 : 4+cmdSize]
	rest := body[4+cmdSize:]

	f := &frame{Command: cmd}
	if len(rest) == 0 {
		return f, nil
	}
	if len(rest) < 6 {
		return nil, fmt.Errorf("pulsar: frame: short data section")
	}
	magic := binary.BigEndian.Uint16(rest[0:2])
	if magic != frameMagic {
		return nil, fmt.Errorf("pulsar: frame: bad magic %#x", magic)
	}
	checksum := binary.BigEndian.Uint32(rest[2:6])
	checksummed := rest[6:]
	if got := crc32.Checksum(checksummed, crc32cTable); got != checksum {
		// The checksum covers metadata+payload only; the command section
		// decoded above is still trustworthy, so the caller gets it back
		// alongside the error instead of losing the frame entirely.
		return f, newError("readFrame", KindChecksumFailed,
			fmt.Errorf("want %#x got %#x", checksum, got))
	}
	if len(checksummed) < 4 {
		return nil, fmt.Errorf("pulsar: frame: missing metadata size")
	}
	metaSize := binary.BigEndian.Uint32(checksummed[0:4])
	if 4+uint64(metaSize) > uint64(len(checksummed)) {
		return nil, fmt.Errorf("pulsar: frame: metadata size %d exceeds section", metaSize)
	}
	f.Metadata = checksummed[4 : 4+metaSize]
	f.Payload = checksummed[4+metaSize:]
	return f, nil
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
