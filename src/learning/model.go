package learning

import (
	"github.com/ugorji/go/codec"
)

// Model is the synthetic model exchanged by DummyLearners.
type Model struct {
	Owner   string
	Round   int
	Merged  int
	Weights []float64
}

// Marshal returns the msgpack encoding of the model.
func (m *Model) Marshal() ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, new(codec.MsgpackHandle))

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b, nil
}

// Unmarshal parses a msgpack encoded model.
func (m *Model) Unmarshal(data []byte) error {
	dec := codec.NewDecoderBytes(data, new(codec.MsgpackHandle))
	return dec.Decode(m)
}
