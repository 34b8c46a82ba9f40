package cmd

import (
	"fmt"
	"os"

	"github.com/grovetools/cosync/cli"
	"github.com/grovetools/cosync/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd returns the config inspection command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cli.ResolveConfigFile(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("(no config file; built-in defaults)")
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cli.ResolveConfigFile(cmd)
			if err != nil {
				return err
			}
			var cfg *config.Config
			if path == "" {
				cfg = config.Default()
			} else if cfg, err = config.Load(path); err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}
