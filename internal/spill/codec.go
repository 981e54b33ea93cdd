package spill

import "github.com/bft-labs/fanrelay/internal/domain"

// Codec converts queue items to and from their stored form.
type Codec[T any] interface {
	Encode(item T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// BatchCodec stores batches in their binary encoding.
type BatchCodec struct{}

func (BatchCodec) Encode(b *domain.Batch) ([]byte, error) {
	return b.MarshalBinary()
}

func (BatchCodec) Decode(data []byte) (*domain.Batch, error) {
	b := &domain.Batch{}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return b, nil
}
