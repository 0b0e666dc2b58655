package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	v "github.com/keithlinneman/linnemanlabs-damproxy/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "damctl %s (app=%s commit=%s build_date=%s go=%s)\n",
				vi.Version, vi.App, vi.Commit, vi.BuildDate, vi.GoVersion)
		},
	}
}
