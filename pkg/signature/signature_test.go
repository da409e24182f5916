package signature

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildProducesOneChunkPerWindow(t *testing.T) {
	data := strings.Repeat("a", 10) + strings.Repeat("b", 10)
	sig, err := Build(strings.NewReader(data), 10)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	total := 0
	for _, chunks := range sig.Chunks {
		total += len(chunks)
	}
	if total != 2 {
		t.Fatalf("expected 2 chunks, got %d", total)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	sig, err := Build(strings.NewReader("0123456789abcdefghij"), 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if err := Serialize(&buf, sig); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Window != sig.Window {
		t.Fatalf("window mismatch: got %d want %d", got.Window, sig.Window)
	}
	wantTotal, gotTotal := 0, 0
	for _, c := range sig.Chunks {
		wantTotal += len(c)
	}
	for _, c := range got.Chunks {
		gotTotal += len(c)
	}
	if wantTotal != gotTotal {
		t.Fatalf("chunk count mismatch: got %d want %d", gotTotal, wantTotal)
	}
}

func TestRollingChecksumMatchesFreshComputation(t *testing.T) {
	data := []byte("the quick brown fox jumps")
	window := 8

	var rc RollingChecksum
	rc.Reset(data[:window])
	if rc.Value() != WeakChecksum(data[:window]) {
		t.Fatalf("initial rolling value mismatch")
	}

	for i := 1; i+window <= len(data); i++ {
		rc.Roll(data[i-1], data[i+window-1])
		want := WeakChecksum(data[i : i+window])
		if rc.Value() != want {
			t.Fatalf("rolling mismatch at i=%d: got %d want %d", i, rc.Value(), want)
		}
	}
}

func TestDifferentContentLikelyDifferentChecksum(t *testing.T) {
	a := WeakChecksum([]byte("aaaaaaaaaa"))
	b := WeakChecksum([]byte("bbbbbbbbbb"))
	if a == b {
		t.Fatalf("expected different checksums for different content")
	}
}
