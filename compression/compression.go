// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compression implements the codecs named in the wire
// metadata's Compression field. The codec choice itself is an
// external collaborator of the client core — this package only has to
// produce bytes the broker (and other real Pulsar clients) can read
// back, which is why it leans on real third-party codec packages
// rather than a hand-rolled format.
package compression

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses a payload as a single unit. Every
// implementation must be safe for concurrent use by multiple engines.
type Codec interface {
	Name() string
	Encode(dst, src []byte) []byte
	Decode(dst, src []byte, uncompressedSize int) ([]byte, error)
}

var (
	// None passes bytes through unchanged.
	None Codec = noneCodec{}
	// LZ4 implements the LZ4 block format via pierrec/lz4.
	LZ4 Codec = lz4Codec{}
	// ZLib implements DEFLATE/zlib via the standard library (no
	// zlib-compatible third-party codec exists in the examined
	// ecosystem sample, so this one intentionally stays on stdlib).
	ZLib Codec = zlibCodec{}
	// ZStd implements Zstandard via klauspost/compress/zstd.
	ZStd Codec = newZstdCodec()
	// Snappy implements the Snappy format via klauspost/compress/s2 in
	// its Snappy-compatible mode.
	Snappy Codec = snappyCodec{}
)

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

func (noneCodec) Encode(dst, src []byte) []byte { return append(dst, src...) }

func (noneCodec) Decode(dst, src []byte, _ int) ([]byte, error) {
	return append(dst, src...), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(dst, src []byte) []byte {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf)
	if err != nil || n == 0 {
		// Incompressible input: lz4 block format requires a fallback,
		// which callers won't see on the decode path since
		// UncompressedSize drives allocation there.
		return append(dst, src...)
	}
	return append(dst, buf[:n]...)
}

func (lz4Codec) Decode(dst, src []byte, uncompressedSize int) ([]byte, error) {
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, fmt.Errorf("compression: lz4 decode: %w", err)
	}
	return append(dst, out[:n]...), nil
}

type zlibCodec struct{}

func (zlibCodec) Name() string { return "zlib" }

func (zlibCodec) Encode(dst, src []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(src)
	_ = w.Close()
	return append(dst, buf.Bytes()...)
}

func (zlibCodec) Decode(dst, src []byte, uncompressedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("compression: zlib decode: %w", err)
	}
	defer r.Close()
	out := make([]byte, 0, uncompressedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("compression: zlib decode: %w", err)
	}
	return append(dst, buf.Bytes()...), nil
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() *zstdCodec {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &zstdCodec{enc: enc, dec: dec}
}

func (*zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(dst, src []byte) []byte {
	return c.enc.EncodeAll(src, dst)
}

func (c *zstdCodec) Decode(dst, src []byte, uncompressedSize int) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decode: %w", err)
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Encode(dst, src []byte) []byte {
	return append(dst, s2.EncodeSnappy(nil, src)...)
}

func (snappyCodec) Decode(dst, src []byte, uncompressedSize int) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("compression: snappy decode: %w", err)
	}
	return append(dst, out...), nil
}
