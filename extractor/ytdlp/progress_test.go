package ytdlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	assert.Equal(t, int64(10<<20), parseSize("10.00MiB"))
	assert.Equal(t, int64(1536), parseSize("1.50KiB"))
	assert.Equal(t, int64(2e9), parseSize("2GB"))
	assert.Equal(t, int64(0), parseSize("Unknown"))
	assert.Equal(t, int64(0), parseSize("12XB"))
	assert.Equal(t, int64(0), parseSize(""))
}

func TestProgressParserPercent(t *testing.T) {
	p := newProgressParser()

	got, changed := p.Parse("[download]  42.0% of ~ 10.00MiB at    1.00MiB/s ETA 00:05 (frag 3/10)")
	require.True(t, changed)
	assert.Equal(t, StageDownloading, got.Stage)
	assert.InDelta(t, 42.0, got.Percent, 0.001)
	assert.Equal(t, int64(10<<20), got.TotalBytes)
	frac := 0.42
	assert.Equal(t, int64(float64(10<<20)*frac), got.DownloadedBytes)
	assert.Equal(t, "1.00MiB/s", got.Speed)
	assert.Equal(t, "00:05", got.ETA)

	got, changed = p.Parse("[download] 100% of   10.00MiB in 00:00:05 at 2.00MiB/s")
	require.True(t, changed)
	assert.InDelta(t, 100.0, got.Percent, 0.001)
}

func TestProgressParserStagesAndFiles(t *testing.T) {
	p := newProgressParser()
	lines := []string{
		"[youtube] Extracting URL: https://www.youtube.com/watch?v=abc",
		"[info] Writing video metadata as JSON to: /d/Clip [abc].info.json",
		"[download] Downloading item 2 of 3",
		"[download] Destination: /d/Clip [abc].f137.mp4",
		"[download] Destination: /d/Clip [abc].f140.m4a",
		`[Merger] Merging formats into "/d/Clip [abc].mp4"`,
		"[download] /d/Clip [abc].mp4 has already been downloaded",
	}

	var stages []string
	for _, line := range lines {
		if got, changed := p.Parse(line); changed {
			stages = append(stages, got.Stage)
		}
	}

	assert.Equal(t, []string{StageExtracting, StageDownloading, StageMerging}, stages)
	assert.Equal(t, 2, p.current.Item)
	assert.Equal(t, 3, p.current.ItemCount)
	assert.Equal(t, []string{
		"Clip [abc].info.json",
		"Clip [abc].f137.mp4",
		"Clip [abc].f140.m4a",
		"Clip [abc].mp4",
	}, p.Files())
}

func TestProgressParserIgnoresNoise(t *testing.T) {
	p := newProgressParser()
	_, changed := p.Parse("")
	assert.False(t, changed)

	p.Parse("[download] 10.0% of 1.00MiB")
	_, changed = p.Parse("[download] Destination: /d/x.mp4")
	assert.False(t, changed)
}
