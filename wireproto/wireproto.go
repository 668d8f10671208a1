// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wireproto holds the plain Go structs that stand in for the
// broker's protobuf command/message schema. The schema itself is an
// external collaborator of this client (a code-generation artifact we
// don't run here); what the client core actually needs from it is the
// field set named in the spec and big-endian fixed32-prefixed framing
// of each structure, which is what these Marshal/Unmarshal pairs give it.
package wireproto

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a buffer ends before a field it
// promised (via a length prefix) is fully present.
var ErrShortBuffer = errors.New("wireproto: short buffer")

// CommandType enumerates the command kinds this client core sends and
// receives, per spec.md §6.
type CommandType uint8

const (
	CmdConnect CommandType = iota
	CmdConnected
	CmdPartitionedMetadata
	CmdPartitionedMetadataResponse
	CmdLookup
	CmdLookupResponse
	CmdSubscribe
	CmdProducer
	CmdProducerSuccess
	CmdSend
	CmdSendReceipt
	CmdSendError
	CmdAck
	CmdFlow
	CmdMessage
	CmdCloseProducer
	CmdCloseConsumer
	CmdRedeliverUnacknowledged
	CmdSeek
	CmdGetLastMessageId
	CmdGetLastMessageIdResponse
	CmdReachedEndOfTopic
	CmdUnsubscribe
	CmdSuccess
	CmdError
	CmdPing
	CmdPong
)

// ErrorCodeChecksumMismatch is the SendError.ErrorCode a broker uses to
// report that the checksum it verified on a published frame did not
// match, per §4.1/§4.8's checksum-recovery path.
const ErrorCodeChecksumMismatch uint32 = 16

// Command is the envelope every frame's command section decodes into.
// Only the fields relevant to the request/response in flight are set;
// the rest are zero.
type Command struct {
	Type      CommandType
	RequestId uint64

	// Subscribe
	Topic                string
	SubscriptionName     string
	ConsumerId           uint64
	ConsumerName         string
	SubType              uint8
	InitialPosition      uint8
	ReadCompacted        bool
	Durable              bool
	StartMessageId       *MessageIdData
	StartMessageRollback int64

	// Producer
	ProducerId   uint64
	ProducerName string

	// Send / SendReceipt / SendError
	SequenceId uint64
	LedgerId   uint64
	EntryId    uint64
	ErrorCode  uint32
	ErrorMsg   string

	// Ack
	AckType    uint8
	MessageIds []MessageIdData

	// Flow
	MessagePermits uint32

	// Lookup / PartitionedMetadata
	LogicalAddr   string
	PhysicalAddr  string
	Authoritative bool
	Partitions    uint32

	// Seek
	SeekMessageId *MessageIdData
	SeekTimestamp uint64

	// Redeliver
	RedeliverMessageIds []MessageIdData

	// GetLastMessageId response
	LastMessageId *MessageIdData

	// generic success/failure
	Success bool
}

// MessageIdData mirrors the broker's MessageIdData message:
// {LedgerId, EntryId, Partition, BatchIndex}. BatchIndex < 0 means "not
// a batch sub-message".
type MessageIdData struct {
	LedgerId   uint64
	EntryId    uint64
	Partition  int32
	BatchIndex int32
}

// MessageMetadata mirrors the broker's per-entry metadata.
type MessageMetadata struct {
	SequenceId         uint64
	PublishTime        uint64
	ProducerName       string
	UncompressedSize   uint32
	Compression        uint8
	PartitionKey       string
	HasPartitionKey    bool
	NumMessagesInBatch int32
	Properties         map[string]string
}

// SingleMessageMetadata mirrors the per-sub-message metadata embedded
// in a batch payload.
type SingleMessageMetadata struct {
	PayloadSize     int32
	PartitionKey    string
	HasPartitionKey bool
	Properties      map[string]string
	SequenceId      uint64
}

func putString(w *bufWriter, s string) {
	w.putUint32(uint32(len(s)))
	w.putBytes([]byte(s))
}

func getString(r *bufReader) (string, error) {
	n, err := r.getUint32()
	if err != nil {
		return "", err
	}
	b, err := r.getBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func putProperties(w *bufWriter, props map[string]string) {
	w.putUint32(uint32(len(props)))
	for k, v := range props {
		putString(w, k)
		putString(w, v)
	}
}

func getProperties(r *bufReader) (map[string]string, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	props := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := getString(r)
		if err != nil {
			return nil, err
		}
		v, err := getString(r)
		if err != nil {
			return nil, err
		}
		props[k] = v
	}
	return props, nil
}

func putMessageIdData(w *bufWriter, id *MessageIdData) {
	if id == nil {
		w.putUint8(0)
		return
	}
	w.putUint8(1)
	w.putUint64(id.LedgerId)
	w.putUint64(id.EntryId)
	w.putInt32(id.Partition)
	w.putInt32(id.BatchIndex)
}

func getMessageIdData(r *bufReader) (*MessageIdData, error) {
	present, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	id := &MessageIdData{}
	if id.LedgerId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if id.EntryId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if id.Partition, err = r.getInt32(); err != nil {
		return nil, err
	}
	if id.BatchIndex, err = r.getInt32(); err != nil {
		return nil, err
	}
	return id, nil
}

// Marshal encodes a MessageIdData using big-endian fixed32 prefixes.
func (m *MessageIdData) Marshal() []byte {
	w := newBufWriter()
	putMessageIdData(w, m)
	return w.Bytes()
}

// UnmarshalMessageIdData decodes bytes produced by Marshal.
func UnmarshalMessageIdData(data []byte) (*MessageIdData, error) {
	r := newBufReader(data)
	return getMessageIdData(r)
}

// Marshal encodes the metadata into its wire form.
func (m *MessageMetadata) Marshal() []byte {
	w := newBufWriter()
	w.putUint64(m.SequenceId)
	w.putUint64(m.PublishTime)
	putString(w, m.ProducerName)
	w.putUint32(m.UncompressedSize)
	w.putUint8(m.Compression)
	w.putUint8(boolToByte(m.HasPartitionKey))
	if m.HasPartitionKey {
		putString(w, m.PartitionKey)
	}
	w.putInt32(m.NumMessagesInBatch)
	putProperties(w, m.Properties)
	return w.Bytes()
}

// UnmarshalMessageMetadata decodes bytes produced by Marshal.
func UnmarshalMessageMetadata(data []byte) (*MessageMetadata, error) {
	r := newBufReader(data)
	m := &MessageMetadata{}
	var err error
	if m.SequenceId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if m.PublishTime, err = r.getUint64(); err != nil {
		return nil, err
	}
	if m.ProducerName, err = getString(r); err != nil {
		return nil, err
	}
	if m.UncompressedSize, err = r.getUint32(); err != nil {
		return nil, err
	}
	comp, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	m.Compression = comp
	hasKey, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	m.HasPartitionKey = hasKey != 0
	if m.HasPartitionKey {
		if m.PartitionKey, err = getString(r); err != nil {
			return nil, err
		}
	}
	if m.NumMessagesInBatch, err = r.getInt32(); err != nil {
		return nil, err
	}
	if m.Properties, err = getProperties(r); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes a SingleMessageMetadata followed by its payload, as
// used inside a batch: [len(metadata) fixed32][metadata][payload].
func (m *SingleMessageMetadata) Marshal(payload []byte) []byte {
	mw := newBufWriter()
	mw.putInt32(int32(len(payload)))
	mw.putUint8(boolToByte(m.HasPartitionKey))
	if m.HasPartitionKey {
		putString(mw, m.PartitionKey)
	}
	mw.putUint64(m.SequenceId)
	putProperties(mw, m.Properties)
	metaBytes := mw.Bytes()

	out := newBufWriter()
	out.putUint32(uint32(len(metaBytes)))
	out.putBytes(metaBytes)
	out.putBytes(payload)
	return out.Bytes()
}

// ReadSingleMessage reads one length-prefixed SingleMessageMetadata +
// payload pair from data, returning the metadata, the payload slice, and
// the number of bytes consumed.
func ReadSingleMessage(data []byte) (*SingleMessageMetadata, []byte, int, error) {
	r := newBufReader(data)
	metaLen, err := r.getUint32()
	if err != nil {
		return nil, nil, 0, err
	}
	metaBytes, err := r.getBytes(int(metaLen))
	if err != nil {
		return nil, nil, 0, err
	}
	mr := newBufReader(metaBytes)
	m := &SingleMessageMetadata{}
	if m.PayloadSize, err = mr.getInt32(); err != nil {
		return nil, nil, 0, err
	}
	hasKey, err := mr.getUint8()
	if err != nil {
		return nil, nil, 0, err
	}
	m.HasPartitionKey = hasKey != 0
	if m.HasPartitionKey {
		if m.PartitionKey, err = getString(mr); err != nil {
			return nil, nil, 0, err
		}
	}
	if m.SequenceId, err = mr.getUint64(); err != nil {
		return nil, nil, 0, err
	}
	if m.Properties, err = getProperties(mr); err != nil {
		return nil, nil, 0, err
	}
	payload, err := r.getBytes(int(m.PayloadSize))
	if err != nil {
		return nil, nil, 0, err
	}
	return m, payload, 4 + int(metaLen) + int(m.PayloadSize), nil
}

// Marshal encodes a Command in full, field by field, standing in for
// the broker's protobuf Command message. Only the fields relevant to
// cmd.Type carry meaningful values; callers set just those.
func (cmd *Command) Marshal() []byte {
	w := newBufWriter()
	w.putUint8(uint8(cmd.Type))
	w.putUint64(cmd.RequestId)

	putString(w, cmd.Topic)
	putString(w, cmd.SubscriptionName)
	w.putUint64(cmd.ConsumerId)
	putString(w, cmd.ConsumerName)
	w.putUint8(cmd.SubType)
	w.putUint8(cmd.InitialPosition)
	w.putUint8(boolToByte(cmd.ReadCompacted))
	w.putUint8(boolToByte(cmd.Durable))
	putMessageIdData(w, cmd.StartMessageId)
	w.putUint64(uint64(cmd.StartMessageRollback))

	w.putUint64(cmd.ProducerId)
	putString(w, cmd.ProducerName)

	w.putUint64(cmd.SequenceId)
	w.putUint64(cmd.LedgerId)
	w.putUint64(cmd.EntryId)
	w.putUint32(cmd.ErrorCode)
	putString(w, cmd.ErrorMsg)

	w.putUint8(cmd.AckType)
	w.putUint32(uint32(len(cmd.MessageIds)))
	for i := range cmd.MessageIds {
		putMessageIdData(w, &cmd.MessageIds[i])
	}

	w.putUint32(cmd.MessagePermits)

	putString(w, cmd.LogicalAddr)
	putString(w, cmd.PhysicalAddr)
	w.putUint8(boolToByte(cmd.Authoritative))
	w.putUint32(cmd.Partitions)

	putMessageIdData(w, cmd.SeekMessageId)
	w.putUint64(cmd.SeekTimestamp)

	w.putUint32(uint32(len(cmd.RedeliverMessageIds)))
	for i := range cmd.RedeliverMessageIds {
		putMessageIdData(w, &cmd.RedeliverMessageIds[i])
	}

	putMessageIdData(w, cmd.LastMessageId)
	w.putUint8(boolToByte(cmd.Success))

	return w.Bytes()
}

// UnmarshalCommand decodes bytes produced by Command.Marshal.
func UnmarshalCommand(data []byte) (*Command, error) {
	r := newBufReader(data)
	cmd := &Command{}
	var err error

	t, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	cmd.Type = CommandType(t)
	if cmd.RequestId, err = r.getUint64(); err != nil {
		return nil, err
	}

	if cmd.Topic, err = getString(r); err != nil {
		return nil, err
	}
	if cmd.SubscriptionName, err = getString(r); err != nil {
		return nil, err
	}
	if cmd.ConsumerId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if cmd.ConsumerName, err = getString(r); err != nil {
		return nil, err
	}
	if cmd.SubType, err = r.getUint8(); err != nil {
		return nil, err
	}
	if cmd.InitialPosition, err = r.getUint8(); err != nil {
		return nil, err
	}
	readCompacted, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	cmd.ReadCompacted = readCompacted != 0
	durable, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	cmd.Durable = durable != 0
	if cmd.StartMessageId, err = getMessageIdData(r); err != nil {
		return nil, err
	}
	rollback, err := r.getUint64()
	if err != nil {
		return nil, err
	}
	cmd.StartMessageRollback = int64(rollback)

	if cmd.ProducerId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if cmd.ProducerName, err = getString(r); err != nil {
		return nil, err
	}

	if cmd.SequenceId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if cmd.LedgerId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if cmd.EntryId, err = r.getUint64(); err != nil {
		return nil, err
	}
	if cmd.ErrorCode, err = r.getUint32(); err != nil {
		return nil, err
	}
	if cmd.ErrorMsg, err = getString(r); err != nil {
		return nil, err
	}

	if cmd.AckType, err = r.getUint8(); err != nil {
		return nil, err
	}
	nids, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	cmd.MessageIds = make([]MessageIdData, nids)
	for i := range cmd.MessageIds {
		id, err := getMessageIdData(r)
		if err != nil {
			return nil, err
		}
		if id != nil {
			cmd.MessageIds[i] = *id
		}
	}

	if cmd.MessagePermits, err = r.getUint32(); err != nil {
		return nil, err
	}

	if cmd.LogicalAddr, err = getString(r); err != nil {
		return nil, err
	}
	if cmd.PhysicalAddr, err = getString(r); err != nil {
		return nil, err
	}
	authoritative, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	cmd.Authoritative = authoritative != 0
	if cmd.Partitions, err = r.getUint32(); err != nil {
		return nil, err
	}

	if cmd.SeekMessageId, err = getMessageIdData(r); err != nil {
		return nil, err
	}
	if cmd.SeekTimestamp, err = r.getUint64(); err != nil {
		return nil, err
	}

	nredeliver, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	cmd.RedeliverMessageIds = make([]MessageIdData, nredeliver)
	for i := range cmd.RedeliverMessageIds {
		id, err := getMessageIdData(r)
		if err != nil {
			return nil, err
		}
		if id != nil {
			cmd.RedeliverMessageIds[i] = *id
		}
	}

	if cmd.LastMessageId, err = getMessageIdData(r); err != nil {
		return nil, err
	}
	success, err := r.getUint8()
	if err != nil {
		return nil, err
	}
	cmd.Success = success != 0

	return cmd, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// bufWriter/bufReader are tiny big-endian helpers kept local to this
// package rather than pulled in from encoding/binary call sites one at
// a time.

type bufWriter struct {
	buf []byte
}

func newBufWriter() *bufWriter { return &bufWriter{} }

func (w *bufWriter) Bytes() []byte { return w.buf }

func (w *bufWriter) putUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *bufWriter) putUint32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *bufWriter) putUint64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *bufWriter) putInt32(v int32)   { w.putUint32(uint32(v)) }
func (w *bufWriter) putBytes(b []byte)  { w.buf = append(w.buf, b...) }

type bufReader struct {
	buf []byte
	pos int
}

func newBufReader(b []byte) *bufReader { return &bufReader{buf: b} }

func (r *bufReader) getBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *bufReader) getUint8() (uint8, error) {
	b, err := r.getBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *bufReader) getUint32() (uint32, error) {
	b, err := r.getBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *bufReader) getUint64() (uint64, error) {
	b, err := r.getBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *bufReader) getInt32() (int32, error) {
	v, err := r.getUint32()
	return int32(v), err
}
