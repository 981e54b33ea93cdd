package domain

// Message is a single upstream payload. Seq is assigned by the producer and
// strictly increases across the stream. Payload is never modified once the
// message has been published.
type Message struct {
	Seq     uint64
	Payload []byte
}

// NewMessage creates a message that owns a copy of payload.
func NewMessage(seq uint64, payload []byte) Message {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Message{Seq: seq, Payload: p}
}

// Len returns the payload length in bytes.
func (m Message) Len() int {
	return len(m.Payload)
}
