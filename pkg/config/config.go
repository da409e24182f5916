// Package config defines the typed configuration structures spec.md's
// data model requires (Directory, and the per-server ServerYml that
// groups them) and loads them from YAML.
package config

import (
	"sync"
	"time"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// Directory is one tracked directory pair (spec.md §3 Directory). At
// least one of LocalDir or RemoteDir must be present; compiled glob
// matchers are built once, lazily, from Includes/Excludes.
type Directory struct {
	LocalDir  string   `yaml:"local_dir"`
	RemoteDir string   `yaml:"remote_dir"`
	Includes  []string `yaml:"includes"`
	Excludes  []string `yaml:"excludes"`

	matcherOnce sync.Once
	matcher     walker.Matcher
	matcherErr  error
}

// Validate checks the Directory invariants from spec.md §3.
func (d *Directory) Validate() error {
	if d.LocalDir == "" && d.RemoteDir == "" {
		return errors.InvalidInputf("directory must specify at least one of local_dir or remote_dir")
	}
	_, err := d.Matcher()
	return err
}

// LocalSlashPath returns LocalDir as a canonical SlashPath.
func (d *Directory) LocalSlashPath() slashpath.SlashPath {
	return slashpath.New(d.LocalDir)
}

// RemoteSlashPath returns RemoteDir as a canonical SlashPath.
func (d *Directory) RemoteSlashPath() slashpath.SlashPath {
	return slashpath.New(d.RemoteDir)
}

// Matcher compiles (exactly once) and returns this directory's include/
// exclude glob matcher. Excludes win; an empty include list matches
// everything.
func (d *Directory) Matcher() (walker.Matcher, error) {
	d.matcherOnce.Do(func() {
		d.matcher, d.matcherErr = walker.NewMatcher(d.Includes, d.Excludes)
	})
	return d.matcher, d.matcherErr
}

// ServerYml is one leaf's configuration as loaded by the hub: connection
// parameters, the directories it mirrors, transport tuning, and archive
// retention.
type ServerYml struct {
	// Path is the filesystem path this ServerYml was loaded from; it is
	// not part of the YAML document itself but is stamped on load since
	// it is the scheduler gate's idempotence key (spec.md §4.8).
	Path string `yaml:"-"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	// PrivateKeyPath, if set, selects key auth; otherwise Password is used.
	PrivateKeyPath string `yaml:"private_key_path"`
	Password       string `yaml:"password"`

	// RsyncValve is the byte-length threshold above which the sync
	// pipeline selects the delta transport instead of plain SFTP
	// (spec.md §4.6: "sync_type = Sftp if remote.len <= rsync_valve else Rsync").
	RsyncValve uint64 `yaml:"rsync_valve"`

	// Window is the signature/delta block size; zero selects
	// signature.DefaultWindow.
	Window uint32 `yaml:"window"`

	Directories []Directory `yaml:"directories"`

	// Mode selects which side of the sync pipeline is authoritative for
	// this leaf: "pull" (default) has the hub pull from the leaf; "push"
	// has the hub push to the leaf (spec.md §2's "push is symmetric with
	// roles swapped").
	Mode string `yaml:"mode"`

	CronExpr string `yaml:"cron_expr"`

	MyDir string `yaml:"my_dir"` // hub-side on-disk layout root (spec.md §6)

	ArchivePrefix          string `yaml:"archive_prefix"`
	ArchivePostfix         string `yaml:"archive_postfix"`
	ArchiveTimestampFormat string `yaml:"archive_timestamp_format"`
	ArchiveKeepLastN       int    `yaml:"archive_keep_last_n"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SQLBatchSize is the number of rows the inventory store buffers into
	// one transaction during a bulk upsert (spec.md §4.4: "bulk mode
	// buffers SQL text in chunks of configurable size and commits each
	// chunk"); zero selects inventory.DefaultBatchSize. A value of 1
	// disables batching and falls back to the per-row path.
	SQLBatchSize int `yaml:"sql_batch_size"`
}

// Validate checks ServerYml's required fields and cascades into each
// configured Directory.
func (s *ServerYml) Validate() error {
	if s.Host == "" {
		return errors.InvalidInputf("server yml %s: host is required", s.Path)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.InvalidInputf("server yml %s: port must be between 1 and 65535", s.Path)
	}
	if s.User == "" {
		return errors.InvalidInputf("server yml %s: user is required", s.Path)
	}
	if s.PrivateKeyPath == "" && s.Password == "" {
		return errors.InvalidInputf("server yml %s: one of private_key_path or password is required", s.Path)
	}
	if len(s.Directories) == 0 {
		return errors.InvalidInputf("server yml %s: at least one directory is required", s.Path)
	}
	for i := range s.Directories {
		if err := s.Directories[i].Validate(); err != nil {
			return errors.Wrap(err, "server yml %s: directory[%d]", s.Path, i)
		}
	}
	if s.CronExpr == "" {
		return errors.InvalidInputf("server yml %s: cron_expr is required", s.Path)
	}
	if s.MyDir == "" {
		return errors.InvalidInputf("server yml %s: my_dir is required", s.Path)
	}
	switch s.Mode {
	case "", "pull", "push":
	default:
		return errors.InvalidInputf("server yml %s: mode must be \"pull\" or \"push\", got %q", s.Path, s.Mode)
	}
	return nil
}

// EffectiveMode returns s.Mode, or "pull" when unset.
func (s *ServerYml) EffectiveMode() string {
	if s.Mode == "" {
		return "pull"
	}
	return s.Mode
}

// EffectiveSQLBatchSize returns s.SQLBatchSize, or inventory.DefaultBatchSize
// when unset (zero). A caller that wants unbatched per-row commits must set
// SQLBatchSize to 1 explicitly.
func (s *ServerYml) EffectiveSQLBatchSize() int {
	if s.SQLBatchSize == 0 {
		return inventory.DefaultBatchSize
	}
	return s.SQLBatchSize
}

// DefaultConnectTimeout is used when a ServerYml leaves ConnectTimeout unset.
const DefaultConnectTimeout = 30 * time.Second

// EffectiveConnectTimeout returns s.ConnectTimeout, or DefaultConnectTimeout
// when unset.
func (s *ServerYml) EffectiveConnectTimeout() time.Duration {
	if s.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return s.ConnectTimeout
}
