package config

import "path/filepath"

// Layout resolves the fixed on-disk subdirectories a ServerYml's MyDir owns
// (spec.md §6: "<my_dir>/{archives,reports,working,directories,db.db}").
type Layout struct {
	Root string
}

// NewLayout builds a Layout rooted at myDir.
func NewLayout(myDir string) Layout {
	return Layout{Root: myDir}
}

func (l Layout) ArchivesDir() string   { return filepath.Join(l.Root, "archives") }
func (l Layout) ReportsDir() string    { return filepath.Join(l.Root, "reports") }
func (l Layout) WorkingDir() string    { return filepath.Join(l.Root, "working") }
func (l Layout) DirectoriesDir() string { return filepath.Join(l.Root, "directories") }
func (l Layout) DBPath() string        { return filepath.Join(l.Root, "db.db") }

// ReportPath is the append-only JSON-lines report file a completed sync run
// writes one line to (spec.md §7).
func (l Layout) ReportPath() string {
	return filepath.Join(l.ReportsDir(), "sync_dir_report.json")
}

// Dirs lists every directory Layout owns, in creation order.
func (l Layout) Dirs() []string {
	return []string{l.ArchivesDir(), l.ReportsDir(), l.WorkingDir(), l.DirectoriesDir()}
}
