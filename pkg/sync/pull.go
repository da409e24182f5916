package sync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
	"github.com/jianglibo/bkoverssh/pkg/report"
	"github.com/jianglibo/bkoverssh/pkg/transport"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// ProcessInventory drives the pull pipeline's diff-and-transfer loop
// (spec.md §4.6 steps 3-4) over an already-open inventory stream: for
// each row, it locates the matching local directory by remote_dir
// equality, decides whether the file changed, selects a transport by
// length against rsyncValve, and stages+verifies+commits the result.
// Every outcome is tallied in the returned ProcessStats; none abort the
// loop — only a failure to read the stream itself does.
func ProcessInventory(
	ctx context.Context,
	dirs []config.Directory,
	lines io.Reader,
	workingDir string,
	rsyncValve uint64,
	sftpFetcher, deltaFetcher Fetcher,
) (*report.ProcessStats, error) {
	var stats report.ProcessStats
	var currentRemoteDir string
	var currentDir *config.Directory
	var stagingCounter int

	scanner := bufio.NewScanner(lines)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parsed, err := walker.ParseLine(line)
		if err != nil {
			stats.Record(report.DeserializeFailed, 0)
			continue
		}
		if parsed.Dir != nil {
			currentRemoteDir = parsed.Dir.String()
			currentDir = findDirectoryByRemote(dirs, currentRemoteDir)
			continue
		}

		item := *parsed.Item
		if currentDir == nil {
			stats.Record(report.NoCorrespondingDir, 0)
			continue
		}

		localPath, err := localTargetPath(currentDir, item.Path)
		if err != nil {
			stats.Record(report.GetLocalPathFailed, 0)
			continue
		}

		if !changed(item, statLocal(localPath)) {
			stats.Record(report.Skipped, 0)
			continue
		}

		stagingCounter++
		stagingPath := filepath.Join(workingDir, fmt.Sprintf("staging-%d", stagingCounter))

		fetcher := sftpFetcher
		if item.Len > rsyncValve {
			fetcher = deltaFetcher
		}

		remoteFilePath := currentDir.RemoteSlashPath().Join(item.Path).String()
		if err := fetcher.Fetch(ctx, remoteFilePath, localPath, stagingPath); err != nil {
			os.Remove(stagingPath)
			stats.Record(report.CopyFailed, 0)
			continue
		}

		if !verifyAndCommit(&stats, stagingPath, localPath, item) {
			os.Remove(stagingPath)
		}
	}
	if err := scanner.Err(); err != nil {
		return &stats, errors.Wrap(err, "read inventory stream")
	}
	return &stats, nil
}

// verifyAndCommit checks the staged file's length (and sha1, when the
// remote item carried one) and, on success, renames it into place. It
// returns whether the staging file was consumed (renamed away).
func verifyAndCommit(stats *report.ProcessStats, stagingPath, localPath string, item walker.RelativeFileItem) bool {
	info, err := os.Stat(stagingPath)
	if err != nil || uint64(info.Size()) != item.Len {
		stats.Record(report.LengthNotMatch, 0)
		return false
	}
	if item.Sha1 != "" {
		sum, err := sha1File(stagingPath)
		if err != nil || sum != item.Sha1 {
			stats.Record(report.Sha1NotMatch, 0)
			return false
		}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		stats.Record(report.CopyFailed, 0)
		return false
	}
	if err := os.Rename(stagingPath, localPath); err != nil {
		stats.Record(report.CopyFailed, 0)
		return false
	}
	stats.Record(report.Succeeded, int64(item.Len))
	return true
}

// execDeltaExchanger implements DeltaExchanger by invoking a remote
// delta-source command over the SSH exec channel: the locally-built
// signature is written to the command's stdin, and its stdout carries
// back the delta program the leaf computed against its new file.
type execDeltaExchanger struct {
	conn    *transport.Conn
	command func(remotePath string) string
}

func (e execDeltaExchanger) Exchange(ctx context.Context, remotePath string, sig io.Reader) (io.ReadCloser, error) {
	stream, err := e.conn.Exec(e.command(remotePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(stream, sig); err != nil {
		stream.Close()
		return nil, errors.Wrap(err, "send signature for %s", remotePath)
	}
	return stream, nil
}

// RunPull drives one full pull cycle against an already-connected leaf
// (spec.md §4.6 Pull steps 2-6): invoke the remote listing command,
// stream the resulting inventory through ProcessInventory, then invoke
// confirm-local-sync so the leaf's confirmed column flips.
func RunPull(
	ctx context.Context,
	conn *transport.Conn,
	leafBinary, remoteServerYmlPath, workingInventoryPath, workingDir string,
	dirs []config.Directory,
	rsyncValve uint64,
	window uint32,
	logger log.Logger,
) (*report.ProcessStats, error) {
	sftpClient, err := conn.NewSFTP()
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()

	listCmd := fmt.Sprintf("%s list-local-files %s --out %s", leafBinary, remoteServerYmlPath, workingInventoryPath)
	logger.WithField("cmd", listCmd).Debug("invoking remote listing")
	listStream, err := execWithYmlUploadRetry(conn, sftpClient, listCmd, remoteServerYmlPath, remoteServerYmlPath)
	if err != nil {
		return nil, errors.Wrap(err, "invoke remote listing")
	}
	if err := listStream.Close(); err != nil {
		return nil, errors.Wrap(err, "close remote listing session")
	}

	inventoryFile, err := sftpClient.Open(workingInventoryPath)
	if err != nil {
		return nil, errors.Wrap(err, "open remote inventory %s", workingInventoryPath)
	}
	defer inventoryFile.Close()

	sftpFetcher := SftpFetcher{SFTP: sftpClient}
	deltaFetcher := DeltaFetcher{
		Window: window,
		Exchanger: execDeltaExchanger{
			conn: conn,
			command: func(remotePath string) string {
				return fmt.Sprintf("%s delta-source %s", leafBinary, remotePath)
			},
		},
	}

	stats, err := ProcessInventory(ctx, dirs, inventoryFile, workingDir, rsyncValve, sftpFetcher, deltaFetcher)
	if err != nil {
		return stats, err
	}
	logger.WithField("succeeded", stats.Succeeded).WithField("bytes", stats.BytesTransferred).Info("pull inventory processed")

	confirmCmd := fmt.Sprintf("%s confirm-local-sync %s", leafBinary, remoteServerYmlPath)
	confirmStream, err := execWithYmlUploadRetry(conn, sftpClient, confirmCmd, remoteServerYmlPath, remoteServerYmlPath)
	if err != nil {
		return stats, errors.Wrap(err, "invoke confirm-local-sync")
	}
	if err := confirmStream.Close(); err != nil {
		return stats, errors.Wrap(err, "close confirm-local-sync session")
	}

	_ = sftpClient.Remove(workingInventoryPath)
	return stats, nil
}
