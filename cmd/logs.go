package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// NewLogsCmd returns the command that prints or follows component logs.
func NewLogsCmd() *cobra.Command {
	var follow bool
	var tailN int
	var components []string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show logs from the workspace's sync engine",
		Long: `Reads the component logs under .cosync/logs in the current workspace.

Examples:
  # Last lines from every component
  cosync logs

  # Follow the transport and engine logs
  cosync logs -f --component transport,engine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir := filepath.Join(cwd, ".cosync", "logs")
			files, err := filepath.Glob(filepath.Join(dir, "*.log"))
			if err != nil {
				return err
			}
			files = filterByComponent(files, components)
			if len(files) == 0 {
				fmt.Println("No log files found under .cosync/logs")
				return nil
			}

			if !follow {
				for _, file := range files {
					printLastLines(file, tailN)
				}
				return nil
			}

			lines := make(chan string, 256)
			for _, file := range files {
				go followFile(file, lines)
			}
			for line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVar(&tailN, "tail", 50, "Number of trailing lines to show per file")
	cmd.Flags().StringSliceVar(&components, "component", nil, "Filter by component names (comma-separated)")
	return cmd
}

// filterByComponent keeps files whose name starts with one of the given
// component prefixes. Log files are named <component>-<date>.log.
func filterByComponent(files, components []string) []string {
	if len(components) == 0 {
		return files
	}
	var out []string
	for _, file := range files {
		base := filepath.Base(file)
		for _, comp := range components {
			if strings.HasPrefix(base, comp+"-") {
				out = append(out, file)
				break
			}
		}
	}
	return out
}

func printLastLines(path string, n int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}

func followFile(path string, out chan<- string) {
	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		ReOpen: true,
		Location: &tail.SeekInfo{
			Offset: 0,
			Whence: io.SeekEnd,
		},
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot follow %s: %v\n", path, err)
		return
	}
	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		out <- line.Text
	}
}
