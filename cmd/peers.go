package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/grovetools/cosync/internal/discovery"
	"github.com/spf13/cobra"
)

// NewPeersCmd returns the command that lists other instances on the segment.
func NewPeersCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Discover other sync instances via mDNS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			peers, err := discovery.Browse(ctx, timeout)
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				if peers == nil {
					peers = []discovery.Peer{}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(peers)
			}

			if len(peers) == 0 {
				fmt.Println("No peers found")
				return nil
			}
			for _, p := range peers {
				fmt.Printf("%s\t%s:%d", p.Instance, p.Host, p.Port)
				for _, addr := range p.Addrs {
					fmt.Printf("\t%s", addr)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "How long to browse for peers")
	return cmd
}
