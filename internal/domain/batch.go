package domain

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const batchEncodingVersion byte = 1

// Batch is an ordered group of messages handed to a client queue as one unit.
// A batch must not be modified after it has been queued.
type Batch struct {
	Messages []Message

	// TotalBytes is the sum of payload lengths.
	TotalBytes int
}

// NewBatch wraps msgs without copying.
func NewBatch(msgs []Message) *Batch {
	b := &Batch{Messages: msgs}
	for _, m := range msgs {
		b.TotalBytes += len(m.Payload)
	}
	return b
}

// Size returns the number of messages in the batch.
func (b *Batch) Size() int {
	return len(b.Messages)
}

// Empty returns true if the batch has no messages.
func (b *Batch) Empty() bool {
	return len(b.Messages) == 0
}

// FirstSeq and LastSeq return the sequence range covered, or 0 when empty.
func (b *Batch) FirstSeq() uint64 {
	if len(b.Messages) == 0 {
		return 0
	}
	return b.Messages[0].Seq
}

func (b *Batch) LastSeq() uint64 {
	if len(b.Messages) == 0 {
		return 0
	}
	return b.Messages[len(b.Messages)-1].Seq
}

// Payloads returns the payload slices in order.
func (b *Batch) Payloads() [][]byte {
	out := make([][]byte, len(b.Messages))
	for i, m := range b.Messages {
		out[i] = m.Payload
	}
	return out
}

// MarshalBinary encodes the batch as
// version | uvarint count | (uvarint seq, uvarint len, payload)* | crc32.
func (b *Batch) MarshalBinary() ([]byte, error) {
	size := 1 + binary.MaxVarintLen64 + 4 + b.TotalBytes + len(b.Messages)*2*binary.MaxVarintLen64
	buf := make([]byte, 0, size)
	buf = append(buf, batchEncodingVersion)
	buf = binary.AppendUvarint(buf, uint64(len(b.Messages)))
	for _, m := range b.Messages {
		buf = binary.AppendUvarint(buf, m.Seq)
		buf = binary.AppendUvarint(buf, uint64(len(m.Payload)))
		buf = append(buf, m.Payload...)
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary. Payloads are copied.
func (b *Batch) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("%w: %d bytes", ErrCorruptBatch, len(data))
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptBatch)
	}
	if body[0] != batchEncodingVersion {
		return fmt.Errorf("%w: unknown version %d", ErrCorruptBatch, body[0])
	}
	rest := body[1:]

	count, n := binary.Uvarint(rest)
	if n <= 0 || count > uint64(len(rest)) {
		return fmt.Errorf("%w: bad message count", ErrCorruptBatch)
	}
	rest = rest[n:]

	msgs := make([]Message, 0, count)
	total := 0
	for i := uint64(0); i < count; i++ {
		seq, n := binary.Uvarint(rest)
		if n <= 0 {
			return fmt.Errorf("%w: bad sequence at message %d", ErrCorruptBatch, i)
		}
		rest = rest[n:]

		l, n := binary.Uvarint(rest)
		if n <= 0 || l > uint64(len(rest)-n) {
			return fmt.Errorf("%w: bad length at message %d", ErrCorruptBatch, i)
		}
		rest = rest[n:]

		payload := make([]byte, l)
		copy(payload, rest[:l])
		rest = rest[l:]

		msgs = append(msgs, Message{Seq: seq, Payload: payload})
		total += int(l)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptBatch, len(rest))
	}

	b.Messages = msgs
	b.TotalBytes = total
	return nil
}
