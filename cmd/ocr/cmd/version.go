package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/ticketocr/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Example: `  ticketocr version
  ticketocr version --format json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "text":
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		case "json":
			b, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		default:
			return fmt.Errorf("unsupported format %q (use text or json)", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
