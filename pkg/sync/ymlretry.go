package sync

import (
	"io"
	"os"
	"strings"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/transport"
)

// looksLikeMissingYml reports whether a leaf command's stderr matches a
// recognizable "server yml not found" diagnostic (spec.md §6: "the hub
// tolerates an 'unknown yml' stderr by SFTP-uploading its local server
// yml and retrying once").
func looksLikeMissingYml(stderr string) bool {
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "no such file or directory") {
		return true
	}
	if strings.Contains(lower, "server yml") && strings.Contains(lower, "not found") {
		return true
	}
	return false
}

// uploadServerYml copies the hub's local server yml to remotePath over
// the SFTP side channel, for first-contact leaf provisioning or recovery
// from a leaf whose copy went missing.
func uploadServerYml(sftpClient transport.SFTP, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.Wrap(err, "read local server yml %s", localPath)
	}
	w, err := sftpClient.Create(remotePath)
	if err != nil {
		return errors.Wrap(err, "sftp create %s", remotePath)
	}
	defer w.Close()
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "upload server yml to %s", remotePath)
	}
	return nil
}

// execDrained runs command and reads its stdout to completion (for the
// short request/response leaf commands, as opposed to the long-lived
// push-receive session), leaving its stderr available via Stream.Stderr.
func execDrained(conn *transport.Conn, command string) (*transport.Stream, error) {
	stream, err := conn.Exec(command)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, stream); err != nil {
		stream.Close()
		return nil, errors.Wrap(err, "drain output of %q", command)
	}
	return stream, nil
}

// execWithYmlUploadRetry runs command once; if it fails or its stderr
// looks like a missing-server-yml diagnostic, it uploads localServerYmlPath
// to remoteServerYmlPath over sftpClient and retries command exactly once.
func execWithYmlUploadRetry(conn *transport.Conn, sftpClient transport.SFTP, command, localServerYmlPath, remoteServerYmlPath string) (*transport.Stream, error) {
	stream, err := execDrained(conn, command)
	if err == nil && !looksLikeMissingYml(stream.Stderr()) {
		return stream, nil
	}
	if stream != nil {
		stream.Close()
	}
	if uploadErr := uploadServerYml(sftpClient, localServerYmlPath, remoteServerYmlPath); uploadErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, uploadErr
	}
	return execDrained(conn, command)
}
