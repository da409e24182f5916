// Package report accumulates one sync run's per-file outcomes into a
// ProcessStats tally and appends a single JSON line describing the whole
// run to the leaf's report file (spec.md §7).
package report

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// Outcome is one file's result within a sync run (spec.md §4.6). Exactly
// one of these is tallied per file; none propagate as a fatal error.
type Outcome int

const (
	Succeeded Outcome = iota
	Skipped
	LengthNotMatch
	Sha1NotMatch
	CopyFailed
	GetLocalPathFailed
	SftpOpenFailed
	NoCorrespondingDir
	DeserializeFailed
)

// ProcessStats tallies every per-file outcome of one sync run, plus the
// total bytes transferred by succeeded files.
type ProcessStats struct {
	Succeeded          int `json:"succeeded"`
	Skipped            int `json:"skipped"`
	LengthNotMatch     int `json:"length_not_match"`
	Sha1NotMatch       int `json:"sha1_not_match"`
	CopyFailed         int `json:"copy_failed"`
	GetLocalPathFailed int `json:"get_local_path_failed"`
	SftpOpenFailed     int `json:"sftp_open_failed"`
	NoCorrespondingDir int `json:"no_corresponding_dir"`
	DeserializeFailed  int `json:"deserialize_failed"`

	BytesTransferred int64 `json:"bytes_transferred"`

	mu sync.Mutex
}

// Record tallies one file's outcome. For Succeeded, length is the file's
// byte length and is added to BytesTransferred; it is ignored otherwise.
func (s *ProcessStats) Record(outcome Outcome, length int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case Succeeded:
		s.Succeeded++
		s.BytesTransferred += length
	case Skipped:
		s.Skipped++
	case LengthNotMatch:
		s.LengthNotMatch++
	case Sha1NotMatch:
		s.Sha1NotMatch++
	case CopyFailed:
		s.CopyFailed++
	case GetLocalPathFailed:
		s.GetLocalPathFailed++
	case SftpOpenFailed:
		s.SftpOpenFailed++
	case NoCorrespondingDir:
		s.NoCorrespondingDir++
	case DeserializeFailed:
		s.DeserializeFailed++
	}
}

// snapshot returns a copy of the counters without the mutex, safe to
// marshal concurrently with further Record calls on the original.
func (s *ProcessStats) snapshot() ProcessStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

// RunReport is the single JSON line appended to the report file on
// completion of one sync run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Stats     ProcessStats  `json:"stats"`
}

// Writer appends JSON-line run reports to a file, creating its parent
// directory if necessary. One Writer is safe for concurrent use.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter builds a Writer appending to path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one RunReport as a single JSON line to the report file.
func (w *Writer) Append(startedAt time.Time, duration time.Duration, stats *ProcessStats) error {
	report := RunReport{
		RunID:     uuid.New().String(),
		StartedAt: startedAt,
		Duration:  duration,
		Stats:     stats.snapshot(),
	}

	line, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal run report")
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return errors.Wrap(err, "create report directory for %s", w.path)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open report file %s", w.path)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.Wrap(err, "append report line to %s", w.path)
	}
	return nil
}

// ReadAll parses every JSON-line RunReport from r, in file order.
func ReadAll(r io.Reader) ([]RunReport, error) {
	var runs []RunReport
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var run RunReport
		if err := json.Unmarshal(line, &run); err != nil {
			return nil, errors.Wrap(err, "parse run report line")
		}
		runs = append(runs, run)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read report file")
	}
	return runs, nil
}
