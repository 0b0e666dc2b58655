// Package cli implements damctl, the operator tool for the metadata store and
// for checking what the proxy would do to a component JSON document.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

type options struct {
	store           string
	storeFile       string
	storeSQLite     string
	referencePrefix string
	verbose         bool
}

// NewRootCmd builds the damctl command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "damctl",
		Short:         "Inspect and maintain asset metadata used by the damproxy rewrite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.store, "store", cfg.StoreFile, "metadata store: file|sqlite")
	pf.StringVar(&o.storeFile, "store-file", "metadata.yaml", "YAML metadata document for --store=file")
	pf.StringVar(&o.storeSQLite, "store-sqlite", "damproxy.db", "sqlite database for --store=sqlite")
	pf.StringVar(&o.referencePrefix, "reference-prefix", rewrite.DefaultReferencePrefix, "string values starting with this are asset references")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newResolveCmd(o),
		newRewriteCmd(o),
		newMigrateCmd(o),
		newImportCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs damctl and exits non-zero on error.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commandContext returns the command context carrying a stderr logger.
func (o *options) commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !o.verbose {
		return log.WithContext(ctx, log.Nop())
	}
	L, err := log.New(log.Options{
		App:        "damctl",
		Level:      slog.LevelDebug,
		JsonFormat: false,
		Writer:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return log.WithContext(ctx, log.Nop())
	}
	return log.WithContext(ctx, L)
}

// openStore opens the configured backend. close is never nil.
func (o *options) openStore(ctx context.Context) (metastore.Store, func() error, error) {
	noop := func() error { return nil }
	switch o.store {
	case cfg.StoreFile:
		m, err := metastore.LoadFile(o.storeFile)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case cfg.StoreSQLite:
		db, err := metastore.OpenSQLite(ctx, o.storeSQLite)
		if err != nil {
			return nil, noop, err
		}
		return metastore.NewSQLStore(db), db.Close, nil
	default:
		return nil, noop, xerrors.Newf("unsupported store %q (damctl supports file|sqlite)", o.store)
	}
}

func (o *options) rewriter(store metastore.Store, onResolve func(rewrite.Resolution)) *rewrite.Rewriter {
	return rewrite.NewRewriter(rewrite.NewResolver(store, onResolve), o.referencePrefix)
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", args[0])
	}
	return data, nil
}
