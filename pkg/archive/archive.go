// Package archive implements rolling archive creation and retention
// pruning for one Directory's archives directory: stream the directory
// into a compressed container named by a rolling prefix/postfix/copy-trait
// scheme, then prune by a configurable keep strategy.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
)

// Naming describes how rolling archive file names are built and parsed:
// "<Prefix><copy trait><Postfix>". The copy trait is either a formatted
// timestamp (when TimestampFormat is set) or a bare incrementing ordinal.
type Naming struct {
	Prefix           string
	Postfix          string
	TimestampFormat  string // e.g. "20060102-150405"; empty selects ordinal naming
}

// nextCopyTrait returns the copy-trait substring for a newly rolled
// archive, either a formatted timestamp or the next ordinal after the
// highest one currently present in existing.
func (n Naming) nextCopyTrait(now time.Time, existing []string) string {
	if n.TimestampFormat != "" {
		return now.Format(n.TimestampFormat)
	}
	max := 0
	for _, name := range existing {
		trait := n.extractTrait(name)
		if ord, err := strconv.Atoi(trait); err == nil && ord > max {
			max = ord
		}
	}
	return strconv.Itoa(max + 1)
}

// extractTrait pulls the substring between Prefix and Postfix out of a
// file name, or "" if the name doesn't match the prefix/postfix pair.
func (n Naming) extractTrait(name string) string {
	if !strings.HasPrefix(name, n.Prefix) || !strings.HasSuffix(name, n.Postfix) {
		return ""
	}
	return name[len(n.Prefix) : len(name)-len(n.Postfix)]
}

// fileName renders the full archive file name for a given copy trait.
func (n Naming) fileName(trait string) string {
	return n.Prefix + trait + n.Postfix
}

// ExternalCommand, when set, bypasses the internal tar+gzip writer: argv
// is invoked with "{archive_file_name}" and "{files_and_dirs}" substituted.
type ExternalCommand struct {
	Argv []string
}

// Options configures one archive operation.
type Options struct {
	ArchivesDir string
	Naming      Naming
	External    *ExternalCommand
}

// Create streams sourceDir into a new rolling archive under
// opts.ArchivesDir and returns the archive's file name. A nil logger
// disables logging.
func Create(sourceDir string, opts Options, now time.Time, logger log.Logger) (string, error) {
	existing, err := listArchiveNames(opts.ArchivesDir, opts.Naming)
	if err != nil {
		return "", err
	}
	trait := opts.Naming.nextCopyTrait(now, existing)
	finalName := opts.Naming.fileName(trait)
	finalPath := filepath.Join(opts.ArchivesDir, finalName)

	if opts.External != nil {
		if err := runExternal(*opts.External, finalPath, sourceDir); err != nil {
			return "", err
		}
		logLine(logger, finalName, sourceDir, true)
		return finalName, nil
	}

	workingPath := finalPath + ".working"
	if err := writeTarGz(workingPath, sourceDir); err != nil {
		os.Remove(workingPath)
		return "", err
	}
	if err := os.Rename(workingPath, finalPath); err != nil {
		return "", errors.Wrap(err, "rename archive into place %s", finalPath)
	}
	logLine(logger, finalName, sourceDir, false)
	return finalName, nil
}

func logLine(logger log.Logger, archiveName, sourceDir string, external bool) {
	if logger == nil {
		return
	}
	logger.WithField("archive", archiveName).WithField("source", sourceDir).
		WithField("external", external).Info("rolled archive")
}

func writeTarGz(destPath, sourceDir string) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create archive file %s", destPath)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relative)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "archive %s", sourceDir)
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar writer")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return nil
}

func runExternal(cmd ExternalCommand, archiveFileName, filesAndDirs string) error {
	argv := make([]string, len(cmd.Argv))
	for i, a := range cmd.Argv {
		a = strings.ReplaceAll(a, "{archive_file_name}", archiveFileName)
		a = strings.ReplaceAll(a, "{files_and_dirs}", filesAndDirs)
		argv[i] = a
	}
	if len(argv) == 0 {
		return errors.InvalidInputf("external archive command has empty argv")
	}
	c := exec.Command(argv[0], argv[1:]...)
	if out, err := c.CombinedOutput(); err != nil {
		return errors.Wrap(err, "external archive command failed: %s", string(out))
	}
	return nil
}

func listArchiveNames(dir string, naming Naming) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list archives dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if naming.extractTrait(e.Name()) != "" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
