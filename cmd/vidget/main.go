package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/vidget/cmd/vidget/commands"
	"github.com/teranos/vidget/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vidget",
	Short: "vidget - media download service backed by yt-dlp",
	Long: `vidget - media download service backed by yt-dlp.

vidget accepts download requests over HTTP, runs them through yt-dlp in a
bounded worker pool and serves the produced files until they expire.

Available commands:
  server  - Start the HTTP API
  am      - Manage vidget configuration
  deps    - Check or install yt-dlp
  version - Show version information

Examples:
  vidget server -v            # Start the API with info logging
  vidget am show              # Show current configuration
  vidget deps check           # Check yt-dlp and ffmpeg
  vidget deps install         # Fetch the latest yt-dlp release`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am show and version print machine-readable output, keep them quiet
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DepsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
