//go:build !linux

package walker

import "io/fs"

// createdTime falls back to ModTime on platforms where this module does
// not decode a platform-specific stat_t for ctime.
func createdTime(info fs.FileInfo) int64 {
	return info.ModTime().Unix()
}
