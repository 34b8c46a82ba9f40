package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/cosync/cli"
	"github.com/grovetools/cosync/config"
	"github.com/grovetools/cosync/internal/discovery"
	"github.com/grovetools/cosync/internal/engine"
	"github.com/grovetools/cosync/internal/pidfile"
	"github.com/grovetools/cosync/internal/status"
	"github.com/grovetools/cosync/internal/transport"
	"github.com/grovetools/cosync/logging"
	"github.com/grovetools/cosync/pkg/adapter/nvimadapter"
	"github.com/grovetools/cosync/pkg/paths"
	"github.com/spf13/cobra"
)

// NewRunCmd returns the command that runs the sync engine in the foreground.
func NewRunCmd() *cobra.Command {
	var serverSocket string
	var portOverride int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine against a Neovim instance",
		Long: `Attaches to a running Neovim instance and synchronizes its open files,
cursor and selection with other editors on this host over UDP multicast.

The engine reads cosync.yml from the workspace (walking up from the current
directory) and serves its state on a local unix socket for 'cosync status'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("cosync")

			cfgPath, err := cli.ResolveConfigFile(cmd)
			if err != nil {
				return err
			}
			var cfg *config.Config
			if cfgPath != "" {
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
				logger.WithField("config", cfgPath).Info("Loaded configuration")
			} else {
				cfg = config.Default()
			}
			if portOverride != 0 {
				cfg.Sync.Port = portOverride
			}

			workspaceRoot, err := os.Getwd()
			if err != nil {
				return err
			}

			pidPath := paths.PidFilePath()
			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			editor, err := nvimadapter.Connect(serverSocket, logging.NewLogger("nvim"))
			if err != nil {
				return err
			}
			defer editor.Close()

			tr := transport.New(transport.Options{
				Port:           cfg.Sync.Port,
				ReconnectDelay: cfg.ReconnectDelay(),
			}, logging.NewLogger("transport"))

			eng, err := engine.New(editor, tr, engine.Options{
				WorkspaceRoot: workspaceRoot,
				Config:        cfg,
			})
			if err != nil {
				return err
			}
			eng.Start()
			defer eng.Close()

			if adv, err := discovery.Advertise(eng.LocalID(), cfg.Sync.Port); err != nil {
				logger.WithError(err).Debug("mDNS advertisement unavailable")
			} else {
				defer adv.Shutdown()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if cfgPath != "" {
				watcher, err := config.NewWatcher(cfgPath, 500, logging.NewLogger("config"), func(newCfg *config.Config) {
					eng.SetPort(newCfg.Sync.Port)
				})
				if err != nil {
					logger.WithError(err).Warn("Config hot reload unavailable")
				} else {
					go watcher.Start(ctx)
					defer watcher.Close()
				}
			}

			srv := status.New(eng.Snapshot)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				logger.Info("Received stop signal")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Status server shutdown error: %v", err)
				}
			}()

			logger.WithField("pid", os.Getpid()).Info("Starting cosync")
			if err := srv.ListenAndServe(paths.SocketPath()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverSocket, "server", "", "Neovim server socket (defaults to $NVIM)")
	cmd.Flags().IntVarP(&portOverride, "port", "p", 0, "Override the multicast port")
	return cmd
}

// NewStopCmd returns the command that stops a running instance.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running sync engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()
			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Println("cosync is not running")
				return nil
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}
			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}
