package cli

import (
	"encoding/json"
	"fmt"

	"github.com/compozy/tplwriter/pkg/version"
	"github.com/spf13/cobra"
)

// Output format constants
const (
	OutputFormatText = "text"
	OutputFormatJSON = "json"
)

// VersionCmd returns the version command
func VersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}
			info := version.Get()
			out := cmd.OutOrStdout()
			switch format {
			case OutputFormatText:
				_, err = fmt.Fprintln(out, info.String())
				return err
			case OutputFormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				return fmt.Errorf("unknown output format %q, expected %s or %s", format, OutputFormatText, OutputFormatJSON)
			}
		},
	}
	cmd.Flags().String("format", OutputFormatText, "Output format (text, json)")
	return cmd
}
