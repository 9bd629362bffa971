package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/vidget/am"
	"github.com/teranos/vidget/errors"
	"github.com/teranos/vidget/internal/httpclient"
)

const installTimeout = 5 * time.Minute

// Install downloads the yt-dlp release binary from src into dir and marks
// it executable. It returns the installed path.
func Install(ctx context.Context, src, dir string, log *zap.SugaredLogger) (string, error) {
	if src == "" {
		src = am.DefaultInstallURL
	}
	if _, err := httpclient.NewGuard(true).CheckString(src); err != nil {
		return "", errors.Wrap(err, "install source rejected")
	}
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return "", errors.Wrapf(err, "create install dir %s", dir)
	}

	dst := filepath.Join(dir, "yt-dlp")
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"https": installGetter(),
			"http":  installGetter(),
		},
	}

	log.Infow("Fetching yt-dlp", "source", src, "destination", dst)
	if err := client.Get(); err != nil {
		return "", errors.Wrapf(err, "fetch %s", src)
	}
	if err := os.Chmod(dst, am.ExecutablePermissions); err != nil {
		return "", errors.Wrapf(err, "make %s executable", dst)
	}
	log.Infow("yt-dlp installed", "path", dst)
	return dst, nil
}

// installGetter fetches over the guarded client so redirects cannot reach
// private addresses.
func installGetter() *getter.HttpGetter {
	return &getter.HttpGetter{
		Client: httpclient.NewSaferClient(installTimeout).Client,
		Netrc:  false,
	}
}
