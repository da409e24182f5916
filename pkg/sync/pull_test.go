package sync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// fakeFetcher writes a fixed byte payload to stagingPath, ignoring
// remotePath/localOldPath, standing in for either transport under test.
type fakeFetcher struct {
	content map[string][]byte
}

func (f fakeFetcher) Fetch(ctx context.Context, remotePath, localOldPath, stagingPath string) error {
	data, ok := f.content[remotePath]
	if !ok {
		return fmt.Errorf("fakeFetcher: no content for %s", remotePath)
	}
	return os.WriteFile(stagingPath, data, 0o644)
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func inventoryLine(t *testing.T, item walker.RelativeFileItem) string {
	t.Helper()
	var sb strings.Builder
	lw := walker.NewLineWriter(&sb)
	if err := lw.Put(item); err != nil {
		t.Fatalf("encode item: %v", err)
	}
	if err := lw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TestProcessInventoryTwoDirectoriesOneChangedEach reproduces spec.md §8
// scenario S4: two directories, one changed file in each, the rest
// already present and identical, and asserts the exact
// succeeded/skipped/bytes_transferred tally a pull run reports.
func TestProcessInventoryTwoDirectoriesOneChangedEach(t *testing.T) {
	localRootA := t.TempDir()
	localRootB := t.TempDir()
	workingDir := t.TempDir()

	stableA := []byte("stable-a-content")
	stableB := []byte("stable-b-content")
	if err := os.WriteFile(filepath.Join(localRootA, "stable.txt"), stableA, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(localRootB, "stable.txt"), stableB, 0o644); err != nil {
		t.Fatal(err)
	}

	changedAContent := []byte("new-a-payload")
	changedBContent := []byte("new-b-payload")

	dirs := []config.Directory{
		{LocalDir: localRootA, RemoteDir: "/remote/a"},
		{LocalDir: localRootB, RemoteDir: "/remote/b"},
	}

	var lines []string
	lines = append(lines, "/remote/a")
	lines = append(lines, inventoryLine(t, walker.RelativeFileItem{
		Path: "stable.txt", Len: uint64(len(stableA)), Sha1: sha1Hex(stableA),
	}))
	lines = append(lines, inventoryLine(t, walker.RelativeFileItem{
		Path: "changed.txt", Len: uint64(len(changedAContent)), Sha1: sha1Hex(changedAContent),
	}))
	lines = append(lines, "/remote/b")
	lines = append(lines, inventoryLine(t, walker.RelativeFileItem{
		Path: "stable.txt", Len: uint64(len(stableB)), Sha1: sha1Hex(stableB),
	}))
	lines = append(lines, inventoryLine(t, walker.RelativeFileItem{
		Path: "changed.txt", Len: uint64(len(changedBContent)), Sha1: sha1Hex(changedBContent),
	}))

	sftp := fakeFetcher{content: map[string][]byte{
		"/remote/a/changed.txt": changedAContent,
		"/remote/b/changed.txt": changedBContent,
	}}
	delta := fakeFetcher{content: map[string][]byte{}}

	stats, err := ProcessInventory(context.Background(), dirs, strings.NewReader(strings.Join(lines, "\n")),
		workingDir, 1<<30, sftp, delta)
	if err != nil {
		t.Fatalf("ProcessInventory: %v", err)
	}

	if stats.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %d", stats.Succeeded)
	}
	if stats.Skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", stats.Skipped)
	}
	wantBytes := int64(len(changedAContent) + len(changedBContent))
	if stats.BytesTransferred != wantBytes {
		t.Fatalf("expected %d bytes transferred, got %d", wantBytes, stats.BytesTransferred)
	}

	gotA, err := os.ReadFile(filepath.Join(localRootA, "changed.txt"))
	if err != nil || string(gotA) != string(changedAContent) {
		t.Fatalf("changed.txt under A not committed correctly: %v %q", err, gotA)
	}
	gotB, err := os.ReadFile(filepath.Join(localRootB, "changed.txt"))
	if err != nil || string(gotB) != string(changedBContent) {
		t.Fatalf("changed.txt under B not committed correctly: %v %q", err, gotB)
	}
}

func TestProcessInventorySelectsTransportByRsyncValve(t *testing.T) {
	localRoot := t.TempDir()
	workingDir := t.TempDir()
	dirs := []config.Directory{{LocalDir: localRoot, RemoteDir: "/remote"}}

	smallContent := []byte("small")
	bigContent := []byte("0123456789") // len 10, exceeds valve of 7

	lines := []string{
		"/remote",
		inventoryLine(t, walker.RelativeFileItem{Path: "small.txt", Len: uint64(len(smallContent)), Sha1: sha1Hex(smallContent)}),
		inventoryLine(t, walker.RelativeFileItem{Path: "big.txt", Len: uint64(len(bigContent)), Sha1: sha1Hex(bigContent)}),
	}

	sftp := fakeFetcher{content: map[string][]byte{"/remote/small.txt": smallContent}}
	delta := fakeFetcher{content: map[string][]byte{"/remote/big.txt": bigContent}}

	stats, err := ProcessInventory(context.Background(), dirs, strings.NewReader(strings.Join(lines, "\n")),
		workingDir, 7, sftp, delta)
	if err != nil {
		t.Fatalf("ProcessInventory: %v", err)
	}
	if stats.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %+v", stats)
	}
}

func TestProcessInventoryNoCorrespondingDir(t *testing.T) {
	workingDir := t.TempDir()
	lines := []string{
		"/remote/unknown",
		inventoryLine(t, walker.RelativeFileItem{Path: "a.txt", Len: 3, Sha1: sha1Hex([]byte("abc"))}),
	}
	sftp := fakeFetcher{content: map[string][]byte{}}
	delta := fakeFetcher{content: map[string][]byte{}}

	stats, err := ProcessInventory(context.Background(), nil, strings.NewReader(strings.Join(lines, "\n")),
		workingDir, 1<<30, sftp, delta)
	if err != nil {
		t.Fatalf("ProcessInventory: %v", err)
	}
	if stats.NoCorrespondingDir != 1 {
		t.Fatalf("expected 1 NoCorrespondingDir, got %+v", stats)
	}
}
