package record

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

func TestWriteReadSliceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteSlice(0x01, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteU64(0x02, 42); err != nil {
		t.Fatalf("write u64: %v", err)
	}

	r := NewReader(&buf)
	tag, payload, err := r.ReadFieldSlice()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tag != 0x01 || string(payload) != "hello" {
		t.Fatalf("got tag=%x payload=%q", tag, payload)
	}

	tag, value, err := r.ReadFieldUsize()
	if err != nil {
		t.Fatalf("read usize: %v", err)
	}
	if tag != 0x02 || value != 42 {
		t.Fatalf("got tag=%x value=%d", tag, value)
	}

	if _, _, err := r.ReadFieldHeader(); err != io.EOF {
		t.Fatalf("expected clean EOF, got %v", err)
	}
}

func TestReadTruncatedHeader(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x00}))
	_, _, err := r.ReadFieldHeader()
	if !errors.Is(err, errors.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteSlice(0x05, []byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	truncated := buf.Bytes()[:len(buf.Bytes())-2]

	r := NewReader(bytes.NewReader(truncated))
	_, _, err := r.ReadFieldSlice()
	if !errors.Is(err, errors.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestWriteFromFile(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "record-src")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer tmp.Close()
	content := []byte("the quick brown fox")
	if _, err := tmp.Write(content); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteFromFile(w, 0x09, tmp); err != nil {
		t.Fatalf("write from file: %v", err)
	}

	r := NewReader(&buf)
	tag, payload, err := r.ReadFieldSlice()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tag != 0x09 || !bytes.Equal(payload, content) {
		t.Fatalf("got tag=%x payload=%q", tag, payload)
	}
}

func TestZeroLengthRecordIsTruncated(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	_, _, err := r.ReadFieldHeader()
	if !errors.Is(err, errors.ErrTruncated) {
		t.Fatalf("expected ErrTruncated for zero-length record, got %v", err)
	}
}
