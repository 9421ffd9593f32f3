package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/owners-notify/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show owners-notify version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			writer := cmd.OutOrStdout()
			format := FormatText
			if rt, err := getRuntime(cmd); err == nil {
				writer = rt.Writer()
				format = rt.OutputFormat()
			}

			if format == FormatText {
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			}
			return WriteObject(writer, format, info)
		},
	}
}
