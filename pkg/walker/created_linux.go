//go:build linux

package walker

import (
	"io/fs"
	"syscall"
)

// createdTime extracts ctime (inode change time) via the raw stat_t on
// Unix platforms, falling back to ModTime when the underlying type is not
// available (e.g. synthetic fs.FileInfo in tests).
func createdTime(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ctim.Sec
	}
	return info.ModTime().Unix()
}
