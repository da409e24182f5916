// Package leafops implements the leaf-side operations invoked over SSH
// exec by a hub (spec.md §6's CLI surface): listing local files as an
// inventory stream, confirming a completed sync, initializing the local
// inventory database, answering a delta-source request, and receiving a
// push session.
package leafops

import (
	"context"
	"io"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// ListLocalFiles walks every configured directory's local_dir and writes
// the resulting inventory stream to out: a bare remote_dir anchor line
// followed by one JSON RelativeFileItem line per matched file (spec.md
// §4.6 step 3, §6's inventory stream shape). When store is non-nil, each
// walked item is also upserted so the leaf's own changed/confirmed
// bookkeeping advances (skipped entirely under --no-db).
func ListLocalFiles(ctx context.Context, cfg *config.ServerYml, store *inventory.Store, enableSha1 bool, out io.Writer) error {
	lw := walker.NewLineWriter(out)
	for i := range cfg.Directories {
		dir := &cfg.Directories[i]
		matcher, err := dir.Matcher()
		if err != nil {
			return err
		}
		if err := lw.WriteDir(dir.RemoteSlashPath()); err != nil {
			return err
		}

		var dirID int64
		var dbSink *inventory.StoreSink
		if store != nil {
			row, err := store.EnsureDirectory(ctx, dir.RemoteDir)
			if err != nil {
				return err
			}
			dirID = row.ID
			dbSink = inventory.NewStoreSink(ctx, store, dirID, cfg.EffectiveSQLBatchSize())
		}

		sink := lineAndStoreSink{lw: lw}
		if dbSink != nil {
			sink.db = dbSink
		}
		opts := walker.Options{Matcher: matcher, SkipHash: !enableSha1}
		if err := walker.Walk(dir.LocalDir, opts, sink); err != nil {
			return err
		}
		if dbSink != nil {
			if err := dbSink.Flush(); err != nil {
				return err
			}
		}
	}
	return lw.Flush()
}

type lineAndStoreSink struct {
	lw *walker.LineWriter
	db walker.Sink
}

func (s lineAndStoreSink) Put(item walker.RelativeFileItem) error {
	if err := s.lw.Put(item); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Put(item)
	}
	return nil
}

// ConfirmLocalSync marks every tracked row under each configured
// directory as confirmed (spec.md §4.6 step 6: "invoke remote
// confirm-local-sync so the leaf's confirmed column flips").
func ConfirmLocalSync(ctx context.Context, cfg *config.ServerYml, store *inventory.Store) error {
	for i := range cfg.Directories {
		dir := &cfg.Directories[i]
		row, err := store.EnsureDirectory(ctx, dir.RemoteDir)
		if err != nil {
			return err
		}
		if err := store.ConfirmAll(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}
