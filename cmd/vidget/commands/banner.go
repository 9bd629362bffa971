package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/extractor/ytdlp"
	"github.com/teranos/vidget/logger"
	"github.com/teranos/vidget/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *am.Config, verbosity int, deps ytdlp.DependencyReport, downloadsDir string) {
	info := version.Get()

	pterm.DefaultCenter.Println(pterm.DefaultHeader.
		WithFullWidth(false).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Sprint("  vidget  "))

	ytdlpState := pterm.Red("missing")
	if deps.YTDLPFound {
		ytdlpState = pterm.Green(deps.YTDLPVersion)
		if !deps.VersionOK {
			ytdlpState = pterm.Yellow(fmt.Sprintf("%s (%s)", deps.YTDLPVersion, deps.VersionProblem))
		}
	}
	ffmpegState := pterm.Yellow("missing, merging disabled")
	if deps.FFmpegFound {
		ffmpegState = pterm.Green(deps.FFmpegPath)
	}

	cleanup := "disabled"
	if cfg.Cleanup.Enabled {
		cleanup = fmt.Sprintf("every %s, keep %s", cfg.SweepInterval(), cfg.SweepMaxAge())
	}

	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Version", fmt.Sprintf("%s (commit %s)", info.Version, info.Short())},
		{"Built", info.BuildTime},
		{"Verbosity", logger.LevelName(verbosity)},
		{"Listening", fmt.Sprintf("http://%s:%d (also under /api)", cfg.Server.Host, cfg.Server.Port)},
		{"Downloads", downloadsDir},
		{"Concurrency", fmt.Sprintf("%d", cfg.Downloads.MaxConcurrent)},
		{"Cleanup", cleanup},
		{"yt-dlp", ytdlpState},
		{"ffmpeg", ffmpegState},
	}).Render()

	pterm.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
}
