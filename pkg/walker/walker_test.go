package walker

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

type collectSink struct {
	items []RelativeFileItem
}

func (c *collectSink) Put(item RelativeFileItem) error {
	c.items = append(c.items, item)
	return nil
}

func writeFile(t *testing.T, root, relative, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWalkEmitsRelativeItems(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b b/b b.txt", "world")

	var sink collectSink
	if err := Walk(root, Options{}, &sink); err != nil {
		t.Fatalf("walk: %v", err)
	}
	sort.Slice(sink.items, func(i, j int) bool { return sink.items[i].Path < sink.items[j].Path })
	if len(sink.items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sink.items))
	}
	if sink.items[0].Path != "a.txt" || sink.items[0].Len != 5 {
		t.Fatalf("got %+v", sink.items[0])
	}
	if sink.items[1].Path != "b b/b b.txt" {
		t.Fatalf("got %+v", sink.items[1])
	}
}

func TestWalkSkipHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	var sink collectSink
	if err := Walk(root, Options{SkipHash: true}, &sink); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if sink.items[0].Sha1 != "" {
		t.Fatalf("expected no hash, got %q", sink.items[0].Sha1)
	}
}

func TestMatcherExcludeWins(t *testing.T) {
	m, err := NewMatcher([]string{"**/*.txt"}, []string{"**/skip/**"})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	if !m.Match("a.txt") {
		t.Fatalf("expected a.txt to match")
	}
	if m.Match("skip/a.txt") {
		t.Fatalf("expected skip/a.txt to be excluded")
	}
}

func TestParseLineDispatch(t *testing.T) {
	line, err := ParseLine(`{"path":"b b/b b.txt","sha1":null,"len":5,"created":1565607566,"modified":1565607566}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if line.Item == nil || line.Item.Len != 5 || line.Item.Path != "b b/b b.txt" {
		t.Fatalf("got %+v", line.Item)
	}

	dirLine, err := ParseLine("/srv/leaf/data")
	if err != nil {
		t.Fatalf("parse dir: %v", err)
	}
	if dirLine.Dir == nil || dirLine.Dir.String() != "/srv/leaf/data" {
		t.Fatalf("got %+v", dirLine.Dir)
	}
}

func TestLineWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLineWriter(&buf)
	if err := lw.Put(RelativeFileItem{Path: "a.txt", Len: 5}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := lw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	line, err := ParseLine(buf.String()[:len(buf.String())-1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if line.Item == nil || line.Item.Path != "a.txt" {
		t.Fatalf("got %+v", line.Item)
	}
}
