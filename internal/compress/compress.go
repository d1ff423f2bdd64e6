// Package compress implements the codecs used to shrink large string payloads.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const (
	// ZstdType names the zstd codec.
	ZstdType = "zstd"
	// BrotliType names the brotli codec.
	BrotliType = "brotli"
)

// Codec compresses and restores string payloads.
type Codec interface {
	Name() string
	Compress(s string) ([]byte, error)
	Decompress(data []byte) (string, error)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case ZstdType, "":
		return Zstd(), nil
	case BrotliType:
		return Brotli(brotli.DefaultCompression), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %s", name)
	}
}

// Level 3 trades a little ratio for speed.
const zstdLevel = 3

var (
	zstdOnce    sync.Once
	zstdDefault *zstdCodec
)

type zstdCodec struct {
	encoders sync.Pool
	decoders sync.Pool
}

// Zstd returns the shared zstd codec. Encoders and decoders are pooled
// because each one holds sizeable window buffers.
func Zstd() Codec {
	zstdOnce.Do(func() {
		zstdDefault = &zstdCodec{
			encoders: sync.Pool{
				New: func() any {
					enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
					if err != nil {
						panic("failed to create zstd encoder: " + err.Error())
					}
					return enc
				},
			},
			decoders: sync.Pool{
				New: func() any {
					dec, err := zstd.NewReader(nil)
					if err != nil {
						panic("failed to create zstd decoder: " + err.Error())
					}
					return dec
				},
			},
		}
	})
	return zstdDefault
}

func (z *zstdCodec) Name() string { return ZstdType }

func (z *zstdCodec) Compress(s string) ([]byte, error) {
	enc := z.encoders.Get().(*zstd.Encoder)
	defer z.encoders.Put(enc)
	return enc.EncodeAll([]byte(s), make([]byte, 0, len(s)/2)), nil
}

func (z *zstdCodec) Decompress(data []byte) (string, error) {
	dec := z.decoders.Get().(*zstd.Decoder)
	defer z.decoders.Put(dec)
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("zstd decode: %w", err)
	}
	return string(out), nil
}

type brotliCodec struct {
	level int
}

// Brotli returns a brotli codec at the given quality level.
func Brotli(level int) Codec {
	return &brotliCodec{level: level}
}

func (b *brotliCodec) Name() string { return BrotliType }

func (b *brotliCodec) Compress(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, b.level)
	if _, err := io.WriteString(w, s); err != nil {
		return nil, fmt.Errorf("brotli encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *brotliCodec) Decompress(data []byte) (string, error) {
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return "", fmt.Errorf("brotli decode: %w", err)
	}
	return string(out), nil
}
