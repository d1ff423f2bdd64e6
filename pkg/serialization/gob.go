package serialization

import (
	"encoding/gob"
	"io"
)

// manager 選用 gob 時只拿它來估算 entry 大小。

type gobEncoder struct{ *gob.Encoder }

type gobDecoder struct{ *gob.Decoder }

// GobEncoder writes gob values to w. Type information goes out with the
// first value, so sizes measured on a fresh encoder include it.
func GobEncoder(w io.Writer) Encoder {
	return gobEncoder{gob.NewEncoder(w)}
}

// GobDecoder reads gob values from r.
func GobDecoder(r io.Reader) Decoder {
	return gobDecoder{gob.NewDecoder(r)}
}
