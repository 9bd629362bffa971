package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/extractor/ytdlp"
	"github.com/teranos/vidget/logger"
)

// DepsCmd groups the external dependency commands
var DepsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Check or install yt-dlp",
	Long: `vidget shells out to yt-dlp for every download and to ffmpeg for merging
separate audio and video streams.

Examples:
  vidget deps check                   # Show what is installed
  vidget deps check --json            # Same, machine readable
  vidget deps install                 # Fetch the latest yt-dlp into ~/.vidget/bin`,
}

var depsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report yt-dlp and ffmpeg availability",
	RunE:  runDepsCheck,
}

var depsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the yt-dlp release binary",
	RunE:  runDepsInstall,
}

var (
	depsJSON       bool
	depsInstallDir string
	depsSource     string
)

func init() {
	depsCheckCmd.Flags().BoolVar(&depsJSON, "json", false, "Output the report as JSON")
	depsInstallCmd.Flags().StringVar(&depsInstallDir, "dir", "", "Install directory (default ~/.vidget/bin)")
	depsInstallCmd.Flags().StringVar(&depsSource, "source", "", "Download URL (overrides extractor.install_url)")

	DepsCmd.AddCommand(depsCheckCmd)
	DepsCmd.AddCommand(depsInstallCmd)
}

func runDepsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	ytCfg, err := ytdlp.ConfigFrom(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid extractor.extra_args")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	report := ytdlp.DependencyStatus(ctx, ytCfg, cfg.Extractor.MinVersion)

	if depsJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal report")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return report.CheckDependencies()
	}

	ytdlpState, ffmpegState := pterm.Red("missing"), pterm.Yellow("missing")
	if report.YTDLPFound {
		ytdlpState = pterm.Green("ok")
		if !report.VersionOK {
			ytdlpState = pterm.Yellow(report.VersionProblem)
		}
	}
	if report.FFmpegFound {
		ffmpegState = pterm.Green("ok")
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Dependency", "Status", "Path", "Version"},
		{"yt-dlp", ytdlpState, report.YTDLPPath, report.YTDLPVersion},
		{"ffmpeg", ffmpegState, report.FFmpegPath, ""},
	}).Render(); err != nil {
		return err
	}
	return report.CheckDependencies()
}

func runDepsInstall(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	dir := depsInstallDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.WithHint(errors.Wrap(err, "no home directory"), "pass --dir")
		}
		dir = filepath.Join(home, ".vidget", "bin")
	}
	src := depsSource
	if src == "" {
		src = cfg.Extractor.InstallURL
	}

	spinner, _ := pterm.DefaultSpinner.Start("Fetching yt-dlp from " + src)
	path, err := ytdlp.Install(cmd.Context(), src, dir, logger.Logger.Named("deps"))
	if err != nil {
		if spinner != nil {
			spinner.Fail("Install failed")
		}
		return err
	}
	if spinner != nil {
		spinner.Success("Installed " + path)
	}

	pterm.Info.Printfln("Set extractor.binary = %q or add %s to PATH", path, dir)
	return nil
}
