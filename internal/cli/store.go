package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the sqlite metadata schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := o.commandContext(cmd)
			// OpenSQLite migrates as part of opening
			db, err := metastore.OpenSQLite(ctx, o.storeSQLite)
			if err != nil {
				return err
			}
			defer db.Close()
			version, err := metastore.Migrate(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", o.storeSQLite, version)
			return nil
		},
	}
}

func newImportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <metadata.yaml>",
		Short: "Load a YAML metadata document into the sqlite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := o.commandContext(cmd)
			doc, err := metastore.LoadFile(args[0])
			if err != nil {
				return err
			}
			db, err := metastore.OpenSQLite(ctx, o.storeSQLite)
			if err != nil {
				return err
			}
			defer db.Close()
			store := metastore.NewSQLStore(db)

			var n int
			doc.Range(func(key string, rec metastore.Record) bool {
				if err = store.Put(ctx, key, rec); err != nil {
					err = xerrors.Wrapf(err, "import %s", key)
					return false
				}
				n++
				return true
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", n, o.storeSQLite)
			return nil
		},
	}
}
