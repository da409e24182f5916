package protocol

import (
	"bytes"
	"testing"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

func TestStringMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, TagServerYml, "server.yml contents"); err != nil {
		t.Fatalf("write: %v", err)
	}
	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatalf("read tag: %v", err)
	}
	if tag != TagServerYml {
		t.Fatalf("got tag %s", tag)
	}
	got, err := ReadString(&buf)
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	if got != "server.yml contents" {
		t.Fatalf("got %q", got)
	}
}

func TestU64MessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteU64Message(&buf, TagStartSend, 11); err != nil {
		t.Fatalf("write: %v", err)
	}
	tag, err := ReadTag(&buf)
	if err != nil {
		t.Fatalf("read tag: %v", err)
	}
	if tag != TagStartSend {
		t.Fatalf("got tag %s", tag)
	}
	n, err := ReadU64(&buf)
	if err != nil {
		t.Fatalf("read u64: %v", err)
	}
	if n != 11 {
		t.Fatalf("got %d", n)
	}
}

type fakeSink struct {
	servedYml     string
	changedFiles  map[string]bool
	received      map[string][]byte
	committed     []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{changedFiles: map[string]bool{}, received: map[string][]byte{}}
}

func (f *fakeSink) ServerYml(yml string) error {
	f.servedYml = yml
	return nil
}

func (f *fakeSink) FileItem(path string) (bool, error) {
	return f.changedFiles[path], nil
}

func (f *fakeSink) Receive(path string, data []byte) error {
	f.received[path] = append([]byte{}, data...)
	return nil
}

func (f *fakeSink) Commit(path string) error {
	f.committed = append(f.committed, path)
	return nil
}

// buildScenarioS6 builds: ServerYml, FileItem("a")[changed], StartSend(11)+"hello world",
// FileItem("b")[unchanged], Eof — matching spec.md S6 plus an extra unchanged file to
// also exercise the FileItemUnchanged advance-without-send path.
func buildScenarioS6(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	mustWrite := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("build scenario: %v", err)
		}
	}
	mustWrite(WriteString(&buf, TagServerYml, "server.yml"))
	mustWrite(WriteString(&buf, TagFileItem, "a.txt"))
	mustWrite(WriteU64Message(&buf, TagStartSend, 11))
	mustWrite(WriteRaw(&buf, []byte("hello world")))
	mustWrite(WriteString(&buf, TagFileItem, "b.txt"))
	mustWrite(WriteTag(&buf, TagEof))
	return &buf
}

func TestSessionScenarioS6(t *testing.T) {
	sink := newFakeSink()
	sink.changedFiles["a.txt"] = true

	session := NewSession(buildScenarioS6(t), sink)
	if err := session.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.servedYml != "server.yml" {
		t.Fatalf("got yml %q", sink.servedYml)
	}
	if string(sink.received["a.txt"]) != "hello world" {
		t.Fatalf("got received %q", sink.received["a.txt"])
	}
	if len(sink.committed) != 1 || sink.committed[0] != "a.txt" {
		t.Fatalf("got committed %v", sink.committed)
	}
	if _, ok := sink.received["b.txt"]; ok {
		t.Fatalf("b.txt should never have received content")
	}
}

func TestSessionRejectsStartSendWithoutChangedReply(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, TagServerYml, "server.yml"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteString(&buf, TagFileItem, "a.txt"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteU64Message(&buf, TagStartSend, 4); err != nil {
		t.Fatalf("write: %v", err)
	}

	sink := newFakeSink() // a.txt is NOT marked changed
	session := NewSession(&buf, sink)
	err := session.Run()
	if !errors.Is(err, errors.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestSessionRejectsUnknownTagInReady(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, TagServerYml, "server.yml"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTag(&buf, TagContent); err != nil {
		t.Fatalf("write: %v", err)
	}

	session := NewSession(&buf, newFakeSink())
	err := session.Run()
	if !errors.Is(err, errors.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestSessionTruncatedContentNeverCommits(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, TagServerYml, "server.yml"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteString(&buf, TagFileItem, "a.txt"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteU64Message(&buf, TagStartSend, 100); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf.WriteString("short")

	sink := newFakeSink()
	sink.changedFiles["a.txt"] = true
	session := NewSession(&buf, sink)
	err := session.Run()
	if !errors.Is(err, errors.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if len(sink.committed) != 0 {
		t.Fatalf("expected no commit on truncation, got %v", sink.committed)
	}
}
