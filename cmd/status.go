package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/grovetools/cosync/internal/engine"
	"github.com/grovetools/cosync/pkg/paths"
	"github.com/grovetools/cosync/tui/statusview"
	"github.com/spf13/cobra"
)

// NewStatusCmd returns the command that reports the running instance's state.
func NewStatusCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running sync engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			socketPath := paths.SocketPath()
			if watch {
				return statusview.Run(socketPath)
			}

			client := &http.Client{
				Timeout: 2 * time.Second,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						return net.Dial("unix", socketPath)
					},
				},
			}

			resp, err := client.Get("http://unix/api/state")
			if err != nil {
				fmt.Println("Stopped")
				os.Exit(1)
			}
			defer resp.Body.Close()

			var snap engine.Snapshot
			if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
				return fmt.Errorf("failed to decode state: %w", err)
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Printf("State:     %s\n", snap.State)
			fmt.Printf("Peer:      %s\n", snap.LocalID)
			fmt.Printf("Port:      %d\n", snap.Port)
			fmt.Printf("Focused:   %t\n", snap.Focused)
			fmt.Printf("Queue:     %d pending, %d dropped\n", snap.QueueDepth, snap.QueueDropped)
			fmt.Printf("Dedup:     %d ids\n", snap.DedupSize)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Live terminal view")
	return cmd
}
