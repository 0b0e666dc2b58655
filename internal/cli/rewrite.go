package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
)

func newRewriteCmd(o *options) *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "rewrite [file|-]",
		Short: "Rewrite asset references in a component JSON document",
		Long: "Reads a component JSON document from a file or stdin and prints it with asset\n" +
			"references replaced the way the proxy would. Input that is not a JSON object\n" +
			"is printed unchanged.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := o.commandContext(cmd)
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			root, err := rewrite.ParseObject(data)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "not rewritten: %v\n", err)
				_, werr := cmd.OutOrStdout().Write(data)
				return werr
			}

			store, closeStore, err := o.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			st := o.rewriter(store, nil).Rewrite(ctx, root)
			out, err := root.MarshalJSON()
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
				return err
			}
			if stats {
				fmt.Fprintf(cmd.ErrOrStderr(), "candidates=%d replaced=%d\n", st.Candidates, st.Replaced)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "print reference counts to stderr")
	return cmd
}
