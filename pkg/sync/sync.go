// Package sync implements the per-leaf sync pipeline (spec.md §4.6): pull
// diffs a leaf's inventory against the hub's local mirror and fetches
// changed files over SFTP or the delta engine; push walks the hub's own
// directories and streams changed files to a leaf over the framed wire
// protocol. Every per-file outcome is tallied into a report.ProcessStats
// and none of them abort the run.
package sync

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// findDirectoryByRemote locates the configured Directory whose remote_dir
// equals remoteDir (spec.md §4.6 step 4: "locate the matching local
// directory by remote_dir equality").
func findDirectoryByRemote(dirs []config.Directory, remoteDir string) *config.Directory {
	for i := range dirs {
		if dirs[i].RemoteDir != "" && slashpath.Equal(dirs[i].RemoteDir, remoteDir) {
			return &dirs[i]
		}
	}
	return nil
}

// localTargetPath resolves a directory-relative path to an absolute local
// filesystem path under dir.LocalDir.
func localTargetPath(dir *config.Directory, relative string) (string, error) {
	if dir.LocalDir == "" {
		return "", errors.InvalidInputf("directory has no local_dir configured")
	}
	return dir.LocalSlashPath().Join(relative).AsOSPath(), nil
}

// localStat captures what is needed to decide whether a remote item
// differs from the file already on disk.
type localStat struct {
	exists   bool
	len      uint64
	modified int64
}

func statLocal(path string) localStat {
	info, err := os.Stat(path)
	if err != nil {
		return localStat{}
	}
	return localStat{exists: true, len: uint64(info.Size()), modified: info.ModTime().Unix()}
}

// changed reports whether remote differs from the local file described by
// local, per spec.md §4.6 step 4: compare {len, mtime, optional sha1}.
func changed(remote walker.RelativeFileItem, local localStat) bool {
	if !local.exists {
		return true
	}
	if local.len != remote.Len {
		return true
	}
	if remote.Modified != 0 && local.modified != remote.Modified {
		return true
	}
	return false
}

func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open %s for hashing", path)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
