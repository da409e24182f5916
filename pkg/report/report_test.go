package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProcessStatsRecordTallies(t *testing.T) {
	var stats ProcessStats
	stats.Record(Succeeded, 100)
	stats.Record(Succeeded, 50)
	stats.Record(Skipped, 0)
	stats.Record(Sha1NotMatch, 0)

	snap := stats.snapshot()
	if snap.Succeeded != 2 || snap.BytesTransferred != 150 {
		t.Fatalf("unexpected succeeded/bytes: %+v", snap)
	}
	if snap.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", snap.Skipped)
	}
	if snap.Sha1NotMatch != 1 {
		t.Fatalf("expected 1 sha1 mismatch, got %d", snap.Sha1NotMatch)
	}
}

func TestProcessStatsS4Scenario(t *testing.T) {
	// spec.md S4: two directories, one file changed in each, N files total.
	var stats ProcessStats
	const totalFiles = 6
	stats.Record(Succeeded, 1000)
	stats.Record(Succeeded, 2000)
	for i := 0; i < totalFiles-2; i++ {
		stats.Record(Skipped, 0)
	}

	snap := stats.snapshot()
	if snap.Succeeded != 2 {
		t.Fatalf("expected succeeded=2, got %d", snap.Succeeded)
	}
	if snap.Skipped != totalFiles-2 {
		t.Fatalf("expected skipped=%d, got %d", totalFiles-2, snap.Skipped)
	}
	if snap.BytesTransferred != 3000 {
		t.Fatalf("expected bytes_transferred=3000, got %d", snap.BytesTransferred)
	}
}

func TestWriterAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports", "sync_dir_report.json")
	w := NewWriter(path)

	var stats1 ProcessStats
	stats1.Record(Succeeded, 10)
	if err := w.Append(time.Unix(1000, 0).UTC(), 5*time.Second, &stats1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var stats2 ProcessStats
	stats2.Record(CopyFailed, 0)
	if err := w.Append(time.Unix(2000, 0).UTC(), 7*time.Second, &stats2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []RunReport
	for scanner.Scan() {
		var rr RunReport
		if err := json.Unmarshal(scanner.Bytes(), &rr); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, rr)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 report lines, got %d", len(lines))
	}
	if lines[0].Stats.Succeeded != 1 || lines[0].Stats.BytesTransferred != 10 {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if lines[1].Stats.CopyFailed != 1 {
		t.Fatalf("unexpected second line: %+v", lines[1])
	}
}
