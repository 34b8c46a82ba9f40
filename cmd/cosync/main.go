package main

import (
	"os"

	"github.com/grovetools/cosync/cli"
	"github.com/grovetools/cosync/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"cosync",
		"Same-host editor synchronization over UDP multicast",
	)

	rootCmd.AddCommand(cmd.NewRunCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewPeersCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
