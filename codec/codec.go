// Package codec implements the value serialization strategies used by the
// cache (C1 in the design). A Codec turns a logical Go value into the byte
// payload a shard stores, and back. The strategy is chosen once, at
// configuration time, and is recorded in snapshots so a warm-boot load can
// refuse to mix strategies.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/flate"

	jsoniter "github.com/json-iterator/go"
)

// Strategy names a serialization strategy. It is persisted verbatim in
// snapshot headers.
type Strategy string

const (
	// JSON is the default strategy: encoding/json, human-readable, widest
	// compatibility with arbitrary Go values.
	JSON Strategy = "json"
	// Binary is the language-native compact form (encoding/gob).
	Binary Strategy = "binary"
	// FastJSON uses an external, allocation-lean JSON implementation.
	FastJSON Strategy = "fast-json"
)

// Codec serializes and deserializes cache values. Implementations are
// stateless and safe for concurrent use.
type Codec interface {
	// Strategy identifies this codec for snapshot compatibility checks.
	Strategy() Strategy
	// Encode turns a logical value into its wire form.
	Encode(v any) ([]byte, error)
	// Decode turns a wire form back into a logical value.
	Decode(data []byte) (any, error)
}

// New constructs the Codec for the given strategy. An unrecognized strategy
// is a caller error (returned, not panicked, so Config validation can
// surface it uniformly).
func New(s Strategy) (Codec, error) {
	switch s {
	case "", JSON:
		return jsonCodec{}, nil
	case Binary:
		return binaryCodec{}, nil
	case FastJSON:
		return fastJSONCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown strategy %q", s)
	}
}

type jsonCodec struct{}

func (jsonCodec) Strategy() Strategy { return JSON }

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var jsoniterConfig = jsoniter.ConfigCompatibleWithStandardLibrary

type fastJSONCodec struct{}

func (fastJSONCodec) Strategy() Strategy { return FastJSON }

func (fastJSONCodec) Encode(v any) ([]byte, error) { return jsoniterConfig.Marshal(v) }

func (fastJSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := jsoniterConfig.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// binaryCodec uses encoding/gob. gob requires the decoder to know the
// concrete type ahead of time for interface values, so values are carried
// through a small envelope that gob already knows how to round-trip:
// anything JSON-shaped (maps, slices, strings, numbers, bools, nil) decodes
// back to the same shape gob produced on encode. Callers storing custom
// struct types should gob.Register them once at startup.
type binaryCodec struct{}

func (binaryCodec) Strategy() Strategy { return Binary }

func (binaryCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (binaryCodec) Decode(data []byte) (any, error) {
	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, err
	}
	return e.V, nil
}

type envelope struct{ V any }

func init() {
	// Register the JSON-shaped dynamic types that flow through envelope.V
	// so gob can encode/decode them without the caller registering anything
	// for the common case.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Compressor applies a reversible byte-level transform on top of a Codec's
// output, the way tscache's Compressor interface layers gzip/zstd over its
// serializers. mudis layers deflate via klauspost/compress, which is a
// drop-in, faster flate implementation than the standard library's.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewDeflateCompressor returns a Compressor backed by klauspost/compress's
// flate implementation at the default compression level.
func NewDeflateCompressor() Compressor { return deflateCompressor{} }

type deflateCompressor struct{}

func (deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
