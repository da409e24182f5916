package leafops

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
)

// PushSink implements protocol.Sink for the leaf side of a push session
// (spec.md §4.5): every FileItem a hub sends is, by construction, one the
// hub's own store has already decided is changed, so FileItem always
// answers true; Receive buffers into a staging file next to its target
// and Commit renames it into place, never overwriting the target on a
// truncated transfer.
type PushSink struct {
	cfg *config.ServerYml

	current *os.File
}

// NewPushSink builds a PushSink resolving FileItem paths against cfg's
// configured directories.
func NewPushSink(cfg *config.ServerYml) *PushSink {
	return &PushSink{cfg: cfg}
}

func (s *PushSink) ServerYml(yml string) error {
	return nil
}

func (s *PushSink) FileItem(path string) (bool, error) {
	return true, nil
}

func (s *PushSink) Receive(path string, data []byte) error {
	local, err := s.localPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return errors.Wrap(err, "create parent dir for %s", local)
	}
	stagePath := local + ".staging"
	f, err := os.OpenFile(stagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create staging file %s", stagePath)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(stagePath)
		return errors.Wrap(err, "write staging file %s", stagePath)
	}
	s.current = f
	return nil
}

func (s *PushSink) Commit(path string) error {
	if s.current == nil {
		return errors.Internalf("commit %s with no staged content", path)
	}
	stagePath := s.current.Name()
	if err := s.current.Close(); err != nil {
		s.current = nil
		return errors.Wrap(err, "close staging file %s", stagePath)
	}
	s.current = nil

	local, err := s.localPath(path)
	if err != nil {
		return err
	}
	if err := os.Rename(stagePath, local); err != nil {
		return errors.Wrap(err, "commit %s into place", local)
	}
	return nil
}

// localPath resolves a push FileItem's remote-rooted path to this leaf's
// local filesystem path, by matching it against the configured directory
// whose remote_dir is its longest prefix.
func (s *PushSink) localPath(remotePath string) (string, error) {
	var best *config.Directory
	var bestPrefix string
	for i := range s.cfg.Directories {
		dir := &s.cfg.Directories[i]
		if dir.RemoteDir == "" {
			continue
		}
		prefix := dir.RemoteSlashPath().String()
		if remotePath == prefix || strings.HasPrefix(remotePath, prefix+"/") {
			if len(prefix) > len(bestPrefix) {
				best = dir
				bestPrefix = prefix
			}
		}
	}
	if best == nil {
		return "", errors.InvalidInputf("no configured directory matches pushed path %s", remotePath)
	}
	relative := slashpath.New(remotePath).StripPrefix(best.RemoteSlashPath())
	return best.LocalSlashPath().Join(relative).AsOSPath(), nil
}
