package ytdlp

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/teranos/vidget/pulse/async"
)

// Stages reported while a job downloads
const (
	StageStarting    = "starting"
	StageExtracting  = "extracting"
	StageDownloading = "downloading"
	StageMerging     = "merging"
	StagePostProcess = "post-processing"
)

var (
	// [download]  42.0% of ~ 10.00MiB at  1.00MiB/s ETA 00:05 (frag 3/10)
	percentLine = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%(?:\s+of\s+~?\s*(\S+))?(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)
	itemLine    = regexp.MustCompile(`^\[download\] Downloading (?:item|video) (\d+) of (\d+)`)
	destLine    = regexp.MustCompile(`^\[(?:download|ExtractAudio)\] Destination: (.+)$`)
	doneLine    = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
	mergeLine   = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	writeLine   = regexp.MustCompile(`^\[info\] Writing video (?:subtitles|metadata as JSON|thumbnail \d+) to: (.+)$`)
	stageTag    = regexp.MustCompile(`^\[(\w+)\]`)
)

var sizeUnits = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
}

// parseSize turns "10.00MiB" into bytes, zero if it cannot be read
func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			n, err := strconv.ParseFloat(s[:i], 64)
			unit, ok := sizeUnits[s[i:]]
			if err != nil || !ok {
				return 0
			}
			return int64(n * unit)
		}
	}
	return 0
}

// progressParser turns yt-dlp --newline output into progress reports and
// collects the names of files it says it wrote.
type progressParser struct {
	current async.Progress
	files   []string
	seen    map[string]bool
}

func newProgressParser() *progressParser {
	return &progressParser{
		current: async.Progress{Stage: StageStarting},
		seen:    make(map[string]bool),
	}
}

// Parse consumes one output line. It returns the updated progress and
// true when the line changed it.
func (p *progressParser) Parse(line string) (async.Progress, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return p.current, false
	}

	if m := percentLine.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return p.current, false
		}
		p.current.Stage = StageDownloading
		p.current.Percent = pct
		if total := parseSize(m[2]); total > 0 {
			p.current.TotalBytes = total
			p.current.DownloadedBytes = int64(float64(total) * pct / 100)
		}
		p.current.Speed = strings.TrimSpace(m[3])
		p.current.ETA = strings.TrimSpace(m[4])
		return p.current, true
	}

	if m := itemLine.FindStringSubmatch(line); m != nil {
		p.current.Item, _ = strconv.Atoi(m[1])
		p.current.ItemCount, _ = strconv.Atoi(m[2])
		p.current.Percent = 0
		p.current.Stage = StageDownloading
		return p.current, true
	}

	for _, re := range []*regexp.Regexp{destLine, doneLine, mergeLine, writeLine} {
		if m := re.FindStringSubmatch(line); m != nil {
			p.record(m[1])
			break
		}
	}

	stage := p.current.Stage
	if m := stageTag.FindStringSubmatch(line); m != nil {
		switch m[1] {
		case "Merger":
			stage = StageMerging
		case "ExtractAudio", "FixupM3u8", "FixupM4a", "EmbedSubtitle", "Metadata", "VideoConvertor", "ThumbnailsConvertor", "MoveFiles":
			stage = StagePostProcess
		case "download":
		default:
			if p.current.Stage == StageStarting {
				stage = StageExtracting
			}
		}
	}
	if stage != p.current.Stage {
		p.current.Stage = stage
		return p.current, true
	}
	return p.current, false
}

func (p *progressParser) record(path string) {
	name := filepath.Base(strings.Trim(strings.TrimSpace(path), `"`))
	if name == "." || name == string(filepath.Separator) || p.seen[name] {
		return
	}
	p.seen[name] = true
	p.files = append(p.files, name)
}

// Files returns the file names seen in output, in order of appearance
func (p *progressParser) Files() []string {
	return append([]string(nil), p.files...)
}
