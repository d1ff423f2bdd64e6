package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder and Encoder are the interface for serialization.
type Decoder interface {
	Decode(v any) error
}

// Encoder and Decoder are the interface for serialization.
type Encoder interface {
	Encode(v any) error
}

// EncoderFunc builds an Encoder writing to w.
type EncoderFunc func(w io.Writer) Encoder

// DecoderFunc builds a Decoder reading from r.
type DecoderFunc func(r io.Reader) Decoder

// Codec pairs the two halves of a serialization format.
type Codec struct {
	Type    string
	Encoder EncoderFunc
	Decoder DecoderFunc
}

// ByType returns the codec for a serialization type name.
func ByType(name string) (Codec, error) {
	switch name {
	case JSONType, "":
		return Codec{Type: JSONType, Encoder: JSONEncoder, Decoder: JSONDecoder}, nil
	case GobType:
		return Codec{Type: GobType, Encoder: GobEncoder, Decoder: GobDecoder}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported serialization type: %s", name)
	}
}

// Marshal encodes v into a byte slice.
func (c Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	return c.Decoder(bytes.NewReader(data)).Decode(v)
}

// Size returns the encoded length of v without keeping the bytes.
func (c Codec) Size(v any) (int64, error) {
	var cw countingWriter
	if err := c.Encoder(&cw).Encode(v); err != nil {
		return 0, err
	}
	return cw.n, nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
