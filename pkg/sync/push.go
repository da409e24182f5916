package sync

import (
	"context"
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
	"github.com/jianglibo/bkoverssh/pkg/protocol"
	"github.com/jianglibo/bkoverssh/pkg/report"
	"github.com/jianglibo/bkoverssh/pkg/transport"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// PushItem is one local file the hub offers to a leaf during a push run.
// Changed is decided up front from the hub's own inventory store (the
// side that is authoritative in push mode already knows its own diff
// before it writes a single wire byte — spec.md §4.6's "hub walks its
// own directories (store-backed), streams FileItem frames for each
// changed row").
type PushItem struct {
	// RemotePath is where the leaf should place this item, rooted at the
	// directory's remote_dir (spec.md's FullPathFileItem.to_path).
	RemotePath string
	LocalPath  string
	Len        uint64
	Changed    bool
}

// CollectPushItems walks dir's local tree, buffering walked items and
// upserting them into the hub's own inventory store under dirID in
// batchSize-sized chunks (spec.md §4.4's "bulk mode buffers SQL text in
// chunks of configurable size and commits each chunk") so Changed reflects
// the same first-sight/metadata-change/identical-rescan transitions
// spec.md §8 item 5 defines, and builds the ordered PushItem list a push
// run offers. batchSize <= 1 falls back to one transaction per row.
func CollectPushItems(ctx context.Context, dir *config.Directory, store *inventory.Store, dirID int64, skipHash bool, batchSize int) ([]PushItem, error) {
	matcher, err := dir.Matcher()
	if err != nil {
		return nil, err
	}
	var walked []walker.RelativeFileItem
	sink := collectSink{items: &walked}
	if err := walker.Walk(dir.LocalDir, walker.Options{Matcher: matcher, SkipHash: skipHash}, sink); err != nil {
		return nil, err
	}

	results, err := store.UpsertBatch(ctx, dirID, walked, batchSize)
	if err != nil {
		return nil, err
	}

	items := make([]PushItem, len(walked))
	for i, item := range walked {
		items[i] = PushItem{
			RemotePath: dir.RemoteSlashPath().Join(item.Path).String(),
			LocalPath:  dir.LocalSlashPath().Join(item.Path).AsOSPath(),
			Len:        item.Len,
			Changed:    results[i].Row.Changed,
		}
	}
	return items, nil
}

// collectSink buffers every walked item in walk order so CollectPushItems
// can hand the whole directory to Store.UpsertBatch at once instead of
// upserting one row per walker callback.
type collectSink struct {
	items *[]walker.RelativeFileItem
}

func (s collectSink) Put(item walker.RelativeFileItem) error {
	*s.items = append(*s.items, item)
	return nil
}

// RunPush drives the hub side of the push-session state machine (spec.md
// §4.5) over rw: announce the server yml, then stream a FileItem frame
// plus its content for every row the hub's own store already knows is
// changed ("streams FileItem frames for each changed row"); an unchanged
// row is tallied as skipped locally and never touches the wire at all, so
// the leaf's Sink.FileItem is only ever asked about a file that is in
// fact being sent. Unlike pull, an error here is fatal to the whole
// session (the wire protocol has no mid-session recovery), matching
// spec.md §7's transport error category.
func RunPush(ctx context.Context, rw io.ReadWriter, serverYml string, items []PushItem) (*report.ProcessStats, error) {
	var stats report.ProcessStats

	if err := protocol.WriteString(rw, protocol.TagServerYml, serverYml); err != nil {
		return &stats, err
	}

	for _, item := range items {
		if !item.Changed {
			stats.Record(report.Skipped, 0)
			continue
		}
		if err := protocol.WriteString(rw, protocol.TagFileItem, item.RemotePath); err != nil {
			return &stats, err
		}
		if err := sendContent(rw, item, &stats); err != nil {
			return &stats, err
		}
	}

	if err := protocol.WriteTag(rw, protocol.TagRepeatDone); err != nil {
		return &stats, err
	}
	if err := protocol.WriteTag(rw, protocol.TagEof); err != nil {
		return &stats, err
	}
	return &stats, nil
}

// RunPushSession drives one full push cycle against an already-connected
// leaf: for each configured directory, walk and upsert into the hub's own
// store to decide what changed, then invoke the leaf's push-receive
// command and drive RunPush over that exec stream.
func RunPushSession(
	ctx context.Context,
	conn *transport.Conn,
	leafBinary, remoteServerYmlPath, serverYml string,
	store *inventory.Store,
	dirs []config.Directory,
	skipHash bool,
	batchSize int,
	logger log.Logger,
) (*report.ProcessStats, error) {
	var allItems []PushItem
	for i := range dirs {
		dir := &dirs[i]
		row, err := store.EnsureDirectory(ctx, dir.RemoteDir)
		if err != nil {
			return nil, errors.Wrap(err, "ensure directory %s", dir.RemoteDir)
		}
		items, err := CollectPushItems(ctx, dir, store, row.ID, skipHash, batchSize)
		if err != nil {
			return nil, errors.Wrap(err, "collect push items for %s", dir.LocalDir)
		}
		allItems = append(allItems, items...)
	}
	logger.WithField("items", len(allItems)).Debug("collected push items")

	pushCmd := leafBinary + " push-receive " + remoteServerYmlPath
	stream, err := conn.Exec(pushCmd)
	if err != nil {
		return nil, errors.Wrap(err, "invoke remote push-receive")
	}

	stats, err := RunPush(ctx, stream, serverYml, allItems)
	if err == nil {
		if err := stream.Close(); err != nil {
			return stats, errors.Wrap(err, "close push-receive session")
		}
		logger.WithField("succeeded", stats.Succeeded).WithField("bytes", stats.BytesTransferred).Info("push session completed")
		return stats, nil
	}

	// The wire protocol has no mid-session recovery, but a session that
	// never got further than the leaf failing to load its own server yml
	// (spec.md §6's tolerance) is worth exactly one retry after uploading
	// the hub's copy.
	missingYml := looksLikeMissingYml(stream.Stderr())
	stream.Close()
	if !missingYml {
		return stats, err
	}
	logger.WithField("leaf", remoteServerYmlPath).Warn("push-receive failed with a missing server yml, retrying once")

	sftpClient, sftpErr := conn.NewSFTP()
	if sftpErr != nil {
		return stats, err
	}
	defer sftpClient.Close()
	if uploadErr := uploadServerYml(sftpClient, remoteServerYmlPath, remoteServerYmlPath); uploadErr != nil {
		return stats, err
	}

	retryStream, retryErr := conn.Exec(pushCmd)
	if retryErr != nil {
		return stats, errors.Wrap(retryErr, "retry remote push-receive")
	}
	stats, err = RunPush(ctx, retryStream, serverYml, allItems)
	if err != nil {
		retryStream.Close()
		return stats, err
	}
	if err := retryStream.Close(); err != nil {
		return stats, errors.Wrap(err, "close retried push-receive session")
	}
	return stats, nil
}

func sendContent(rw io.ReadWriter, item PushItem, stats *report.ProcessStats) error {
	f, err := os.Open(item.LocalPath)
	if err != nil {
		stats.Record(report.GetLocalPathFailed, 0)
		return errors.Wrap(err, "open local file %s", item.LocalPath)
	}
	defer f.Close()

	if err := protocol.WriteU64Message(rw, protocol.TagStartSend, item.Len); err != nil {
		return err
	}
	written, err := io.CopyN(rw, f, int64(item.Len))
	if err != nil || written != int64(item.Len) {
		stats.Record(report.CopyFailed, 0)
		return errors.Wrap(err, "send content for %s", item.RemotePath)
	}
	stats.Record(report.Succeeded, int64(item.Len))
	return nil
}
