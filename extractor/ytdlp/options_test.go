package ytdlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidget/pulse/async"
)

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		opts async.Options
		want string
	}{
		{async.Options{Quality: "best"}, "bv*+ba/b"},
		{async.Options{}, "bv*+ba/b"},
		{async.Options{Quality: "720p"}, "bv*[height<=720]+ba/b[height<=720]"},
		{async.Options{Quality: "1080"}, "bv*[height<=1080]+ba/b[height<=1080]"},
		{async.Options{Quality: "worst"}, "wv*+wa/w"},
		{async.Options{Quality: "137+140"}, "137+140"},
		{async.Options{Quality: "1080p", AudioOnly: true}, "bestaudio/best"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, selectFormat(tt.opts), "options %+v", tt.opts)
	}
}

func TestDownloadArgsVideo(t *testing.T) {
	args := downloadArgs(async.ExecuteRequest{
		URL:       "https://example.com/watch?v=1",
		OutputDir: "/data/job",
		Options:   async.Options{Quality: "best", Subtitles: []string{"en", "de"}},
	}, "ffmpeg", []string{"--proxy", "socks5://127.0.0.1:1080"})

	assert.Contains(t, args, "--no-playlist")
	assert.Contains(t, args, "--write-info-json")
	assert.Contains(t, args, "--write-thumbnail")
	assert.Subsequence(t, args, []string{"--merge-output-format", "mp4"})
	assert.Subsequence(t, args, []string{"--write-subs", "--write-auto-subs", "--sub-langs", "en,de"})
	assert.Subsequence(t, args, []string{"-P", "/data/job"})
	assert.NotContains(t, args, "--ffmpeg-location")

	require.GreaterOrEqual(t, len(args), 4)
	assert.Equal(t, []string{"--proxy", "socks5://127.0.0.1:1080", "--", "https://example.com/watch?v=1"}, args[len(args)-4:])
}

func TestDownloadArgsAudioPlaylist(t *testing.T) {
	args := downloadArgs(async.ExecuteRequest{
		URL:       "https://example.com/list",
		OutputDir: "/data/job",
		Options:   async.Options{AudioOnly: true, Playlist: true, MaxDownloads: 5},
	}, "/opt/ffmpeg/bin/ffmpeg", nil)

	assert.Subsequence(t, args, []string{"-f", "bestaudio/best"})
	assert.Subsequence(t, args, []string{"--yes-playlist", "--playlist-end", "5"})
	assert.Subsequence(t, args, []string{"--ffmpeg-location", "/opt/ffmpeg/bin/ffmpeg"})
	assert.NotContains(t, args, "--no-playlist")
	assert.NotContains(t, args, "--merge-output-format")
	assert.NotContains(t, args, "--write-subs")
}

func TestSplitExtraArgs(t *testing.T) {
	args, err := SplitExtraArgs(`--cookies "/home/me/my cookies.txt" --limit-rate 2M`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--cookies", "/home/me/my cookies.txt", "--limit-rate", "2M"}, args)

	args, err = SplitExtraArgs("   ")
	require.NoError(t, err)
	assert.Nil(t, args)

	_, err = SplitExtraArgs(`--cookies "unterminated`)
	assert.Error(t, err)
}
