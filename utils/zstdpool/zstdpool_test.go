package zstdpool

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tile data "), 1000)

	var buf bytes.Buffer
	enc, err := WrapWriter(&buf)
	if err != nil {
		t.Fatalf("WrapWriter: %v", err)
	}
	if _, err := enc.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() >= len(payload) {
		t.Fatalf("compressed size %d, want smaller than %d", buf.Len(), len(payload))
	}

	rc, err := WrapReader(io.NopCloser(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("WrapReader: %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("reader Close: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip produced %d bytes, want the original %d", len(got), len(payload))
	}
}

// TestPooledEncodersAreReusable runs two full cycles so the second one
// exercises an encoder and decoder taken back out of the pool.
func TestPooledEncodersAreReusable(t *testing.T) {
	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		enc, err := WrapWriter(&buf)
		if err != nil {
			t.Fatalf("cycle %d: WrapWriter: %v", i, err)
		}
		if _, err := enc.Write([]byte("payload")); err != nil {
			t.Fatalf("cycle %d: Write: %v", i, err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("cycle %d: Close: %v", i, err)
		}

		rc, err := WrapReader(io.NopCloser(bytes.NewReader(buf.Bytes())))
		if err != nil {
			t.Fatalf("cycle %d: WrapReader: %v", i, err)
		}
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("cycle %d: ReadAll: %v", i, err)
		}
		rc.Close()
		if string(got) != "payload" {
			t.Fatalf("cycle %d: round trip = %q", i, got)
		}
	}
}
