package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grovetools/cosync/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd returns the command that prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Println(info.String())
			return nil
		},
	}
}
