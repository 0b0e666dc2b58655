package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/rewrite"
)

func newResolveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <reference>...",
		Short: "Show the delivery URL each asset reference would be rewritten to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := o.commandContext(cmd)
			store, closeStore, err := o.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var last rewrite.Resolution
			resolver := rewrite.NewResolver(store, func(r rewrite.Resolution) { last = r })
			out := cmd.OutOrStdout()
			for _, ref := range args {
				if !strings.HasPrefix(ref, o.referencePrefix) {
					fmt.Fprintf(out, "%s\tunchanged (not a reference under %s)\n", ref, o.referencePrefix)
					continue
				}
				last = ""
				if url, ok := resolver.Resolve(ctx, ref).Value(); ok {
					fmt.Fprintf(out, "%s\t%s\n", ref, url)
					continue
				}
				fmt.Fprintf(out, "%s\tunchanged (%s)\n", ref, last)
			}
			return nil
		},
	}
}
