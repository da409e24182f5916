package walker

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
)

// hashBufferSize is the fixed buffer used to stream file content through
// SHA-1 without loading whole files into memory.
const hashBufferSize = 64 * 1024

// Matcher decides whether a relative path should be included in a walk.
// A zero-value Matcher includes everything.
type Matcher struct {
	includes []glob.Glob
	excludes []glob.Glob
}

// NewMatcher compiles include/exclude glob pattern lists. An empty include
// list means "include everything" subject to excludes.
func NewMatcher(includes, excludes []string) (Matcher, error) {
	m := Matcher{}
	for _, p := range includes {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Matcher{}, errors.Wrap(err, "compile include pattern %q", p)
		}
		m.includes = append(m.includes, g)
	}
	for _, p := range excludes {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Matcher{}, errors.Wrap(err, "compile exclude pattern %q", p)
		}
		m.excludes = append(m.excludes, g)
	}
	return m, nil
}

// Match reports whether relative should be walked.
func (m Matcher) Match(relative string) bool {
	for _, g := range m.excludes {
		if g.Match(relative) {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, g := range m.includes {
		if g.Match(relative) {
			return true
		}
	}
	return false
}

// Options configures a Walk call.
type Options struct {
	Matcher  Matcher
	SkipHash bool
}

// Sink receives one RelativeFileItem per regular file matched by the walk.
// Implementations back either the line-oriented JSON wire writer or the
// inventory store's bulk upsert.
type Sink interface {
	Put(item RelativeFileItem) error
}

// Walk scans root, skipping symlinks, and calls sink.Put for every regular
// file that survives opts.Matcher. Each emitted item's Path is relative to
// root using forward-slash normalization via pkg/slashpath.
func Walk(root string, opts Options, sink Sink) error {
	rootSlash := slashpath.New(root)
	// hashBuf is reused across every file's hashFile call rather than
	// allocated per file, the same fixed-buffer streaming sha1_reader.rs
	// uses (spec.md §12 item 5).
	var hashBuf []byte
	if !opts.SkipHash {
		hashBuf = make([]byte, hashBufferSize)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, "walk %s", path)
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return errors.Wrap(err, "stat %s", path)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		entrySlash := slashpath.New(path)
		relative := entrySlash.StripPrefix(rootSlash)
		if !opts.Matcher.Match(relative) {
			return nil
		}

		item := RelativeFileItem{
			Path:     relative,
			Len:      uint64(info.Size()),
			Modified: info.ModTime().Unix(),
			Created:  createdTime(info),
		}
		if !opts.SkipHash {
			digest, err := hashFile(path, hashBuf)
			if err != nil {
				return err
			}
			item.Sha1 = digest
		}
		return sink.Put(item)
	})
}

func hashFile(path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open %s for hashing", path)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errors.Wrap(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
