package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeYml(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadFromFileValid(t *testing.T) {
	dir := t.TempDir()
	path := writeYml(t, dir, "server.yml", `
host: backup.example.com
port: 22
user: backup
private_key_path: /home/backup/.ssh/id_rsa
rsync_valve: 1048576
cron_expr: "0 0 2 * * *"
my_dir: /var/lib/bkoverssh
directories:
  - local_dir: /srv/www
    remote_dir: www
    includes: ["**/*.html"]
    excludes: ["**/*.tmp"]
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected Path to be stamped to %s, got %s", path, cfg.Path)
	}
	if cfg.Host != "backup.example.com" || cfg.Port != 22 {
		t.Fatalf("unexpected host/port: %+v", cfg)
	}
	if len(cfg.Directories) != 1 {
		t.Fatalf("expected 1 directory, got %d", len(cfg.Directories))
	}

	matcher, err := cfg.Directories[0].Matcher()
	if err != nil {
		t.Fatalf("Matcher: %v", err)
	}
	if !matcher.Match("index.html") {
		t.Fatalf("expected index.html to match includes")
	}
	if matcher.Match("index.tmp") {
		t.Fatalf("expected index.tmp to be excluded")
	}
}

func TestLoadFromFileMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := writeYml(t, dir, "bad.yml", `
host: backup.example.com
port: 22
`)
	if _, err := LoadFromFile(path); err == nil {
		t.Fatalf("expected validation error for missing user/auth/directories")
	}
}

func TestDirectoryRequiresLocalOrRemote(t *testing.T) {
	d := Directory{}
	if err := d.Validate(); err == nil {
		t.Fatalf("expected error when neither local_dir nor remote_dir is set")
	}
}

func TestDirectoryMatcherBuiltOnce(t *testing.T) {
	d := Directory{LocalDir: "/srv", Includes: []string{"*.go"}}
	m1, err := d.Matcher()
	if err != nil {
		t.Fatalf("Matcher: %v", err)
	}
	m2, err := d.Matcher()
	if err != nil {
		t.Fatalf("Matcher: %v", err)
	}
	if !m1.Match("main.go") || !m2.Match("main.go") {
		t.Fatalf("expected both calls to return a working matcher")
	}
}

func TestEffectiveConnectTimeoutDefault(t *testing.T) {
	s := &ServerYml{}
	if s.EffectiveConnectTimeout() != DefaultConnectTimeout {
		t.Fatalf("expected default connect timeout")
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/var/lib/bkoverssh")
	if l.DBPath() != "/var/lib/bkoverssh/db.db" {
		t.Fatalf("unexpected db path: %s", l.DBPath())
	}
	if l.ReportPath() != "/var/lib/bkoverssh/reports/sync_dir_report.json" {
		t.Fatalf("unexpected report path: %s", l.ReportPath())
	}
	if len(l.Dirs()) != 4 {
		t.Fatalf("expected 4 owned dirs, got %d", len(l.Dirs()))
	}
}
