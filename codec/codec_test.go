package codec

import (
	"strings"
	"testing"
)

func TestJSONRoundTrip(t *testing.T) {
	c, err := New(JSON)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	enc, err := c.Encode(map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := dec.(map[string]any)
	if !ok || m["name"] != "Alice" {
		t.Fatalf("round-trip mismatch: %#v", dec)
	}
}

func TestFastJSONRoundTrip(t *testing.T) {
	c, err := New(FastJSON)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	enc, err := c.Encode([]any{"a", float64(1), true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	arr, ok := dec.([]any)
	if !ok || len(arr) != 3 || arr[0] != "a" {
		t.Fatalf("round-trip mismatch: %#v", dec)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	c, err := New(Binary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	enc, err := c.Encode(map[string]any{"n": float64(42)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := dec.(map[string]any)
	if !ok || m["n"] != float64(42) {
		t.Fatalf("round-trip mismatch: %#v", dec)
	}
}

func TestUnknownStrategy(t *testing.T) {
	if _, err := New("xml"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestDeflateCompressorRoundTrip(t *testing.T) {
	comp := NewDeflateCompressor()
	// klauspost's flate does no match search on inputs under 128 bytes, so
	// the payload is long enough for its repetition to be found.
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog, repeatedly, ", 16))
	compressed, err := comp.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("expected compression to shrink repetitive payload: %d >= %d", len(compressed), len(payload))
	}
	out, err := comp.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(out) != string(payload) {
		t.Fatalf("round-trip mismatch: %q", out)
	}
}
