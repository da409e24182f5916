// Command leaf implements the leaf-side CLI surface a hub invokes over SSH
// exec (spec.md §6): list-local-files, confirm-local-sync, create-db,
// delta-source, and push-receive.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jianglibo/bkoverssh/pkg/config"
	"github.com/jianglibo/bkoverssh/pkg/delta"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
	"github.com/jianglibo/bkoverssh/pkg/leafops"
	"github.com/jianglibo/bkoverssh/pkg/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaf",
		Short: "Leaf-side CLI for a file-tree backup engine, invoked by a hub over SSH",
	}
	cmd.AddCommand(newListLocalFilesCmd())
	cmd.AddCommand(newConfirmLocalSyncCmd())
	cmd.AddCommand(newCreateDBCmd())
	cmd.AddCommand(newDeltaSourceCmd())
	cmd.AddCommand(newPushReceiveCmd())
	return cmd
}

// defaultDBPath resolves the leaf's local inventory database path next to
// the server yml that names it, absent an explicit --db override.
func defaultDBPath(serverYmlPath string) string {
	return filepath.Join(filepath.Dir(serverYmlPath), "leaf.db")
}

func openStore(dbPath string) (*inventory.Store, error) {
	return inventory.Open(dbPath)
}

func newListLocalFilesCmd() *cobra.Command {
	var out string
	var enableSha1 bool
	var noDB bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "list-local-files <server-yml>",
		Short: "Walk every configured directory and emit the line-oriented inventory stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			var store *inventory.Store
			if !noDB {
				path := dbPath
				if path == "" {
					path = defaultDBPath(args[0])
				}
				store, err = openStore(path)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			return leafops.ListLocalFiles(context.Background(), cfg, store, enableSha1, w)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the inventory stream to this path instead of stdout")
	cmd.Flags().BoolVar(&enableSha1, "enable-sha1", false, "hash each file's content while walking")
	cmd.Flags().BoolVar(&noDB, "no-db", false, "skip persisting the walk to the local inventory store")
	cmd.Flags().StringVar(&dbPath, "db", "", "local inventory database path (default: leaf.db next to the server yml)")
	return cmd
}

func newConfirmLocalSyncCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "confirm-local-sync <server-yml>",
		Short: "Mark every row of every configured directory confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			path := dbPath
			if path == "" {
				path = defaultDBPath(args[0])
			}
			store, err := openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			return leafops.ConfirmLocalSync(context.Background(), cfg, store)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "local inventory database path (default: leaf.db next to the server yml)")
	return cmd
}

func newCreateDBCmd() *cobra.Command {
	var dbType string
	var force bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "create-db",
		Short: "Initialize (or, with --force, rebuild) the leaf's local inventory database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbType != "" && dbType != "sqlite" {
				return fmt.Errorf("unsupported db type %q: only sqlite is supported", dbType)
			}
			store, err := leafops.CreateDB(dbPath, force)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
	cmd.Flags().StringVar(&dbType, "db-type", "sqlite", "inventory database backend")
	cmd.Flags().BoolVar(&force, "force", false, "drop and recreate an existing database")
	cmd.Flags().StringVar(&dbPath, "db", "leaf.db", "local inventory database path")
	return cmd
}

func newDeltaSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta-source <path>",
		Short: "Read a block signature from stdin and emit a delta program against path on stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := delta.Options{SpillThreshold: delta.DefaultSpillThreshold}
			return leafops.DeltaSource(cmd.InOrStdin(), args[0], cmd.OutOrStdout(), opts)
		},
	}
	return cmd
}

func newPushReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push-receive <server-yml>",
		Short: "Drive the leaf side of a push session over stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			sink := leafops.NewPushSink(cfg)
			session := protocol.NewSession(cmd.InOrStdin(), sink)
			return session.Run()
		},
	}
	return cmd
}
