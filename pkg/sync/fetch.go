package sync

import (
	"context"
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/delta"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/signature"
	"github.com/jianglibo/bkoverssh/pkg/transport"
)

// Fetcher copies one remote file's content into a local staging path,
// using localOldPath (the hub's current mirrored copy, which may not
// exist yet) as the delta engine's source when relevant.
type Fetcher interface {
	Fetch(ctx context.Context, remotePath, localOldPath, stagingPath string) error
}

// SftpFetcher copies a remote file whole over the SFTP side channel.
// Selected when remote.len <= rsync_valve (spec.md §4.6).
type SftpFetcher struct {
	SFTP transport.SFTP
}

// Fetch implements Fetcher.
func (f SftpFetcher) Fetch(ctx context.Context, remotePath, localOldPath, stagingPath string) error {
	src, err := f.SFTP.Open(remotePath)
	if err != nil {
		return errors.Wrap(err, "sftp open %s", remotePath)
	}
	defer src.Close()

	dst, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create staging file %s", stagingPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, "copy %s to staging", remotePath)
	}
	return nil
}

// DeltaExchanger ships a locally-built signature out to the remote side
// and returns the delta program the remote computed against it (spec.md
// §4.6: "the signature is always computed on the side that already has
// the old file").
type DeltaExchanger interface {
	Exchange(ctx context.Context, remotePath string, sig io.Reader) (io.ReadCloser, error)
}

// DeltaFetcher reconstructs a remote file locally via the delta engine.
// Selected when remote.len > rsync_valve.
type DeltaFetcher struct {
	Exchanger DeltaExchanger
	Window    uint32
}

// Fetch implements Fetcher.
func (f DeltaFetcher) Fetch(ctx context.Context, remotePath, localOldPath, stagingPath string) error {
	old, err := os.Open(localOldPath)
	hasOld := err == nil
	if hasOld {
		defer old.Close()
	}

	var sourceReader io.Reader = old
	if !hasOld {
		sourceReader = emptyReader{}
	}
	sig, err := signature.Build(sourceReader, f.Window)
	if err != nil {
		return errors.Wrap(err, "build signature of %s", localOldPath)
	}

	sigR, sigW := io.Pipe()
	go func() {
		sigW.CloseWithError(signature.Serialize(sigW, sig))
	}()

	deltaStream, err := f.Exchanger.Exchange(ctx, remotePath, sigR)
	if err != nil {
		return errors.Wrap(err, "exchange delta for %s", remotePath)
	}
	defer deltaStream.Close()

	var sourceAt io.ReaderAt = emptyReaderAt{}
	var sourceLen int64
	if hasOld {
		if _, err := old.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "rewind %s", localOldPath)
		}
		fi, err := old.Stat()
		if err != nil {
			return errors.Wrap(err, "stat %s", localOldPath)
		}
		sourceLen = fi.Size()
		sourceAt = old
	}

	dst, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create staging file %s", stagingPath)
	}
	defer dst.Close()

	if err := delta.Restore(dst, sourceAt, sourceLen, deltaStream); err != nil {
		return errors.Wrap(err, "restore delta for %s", remotePath)
	}
	return nil
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }

type emptyReaderAt struct{}

func (emptyReaderAt) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
