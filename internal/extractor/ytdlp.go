package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
)

// YTDLP runs yt-dlp through go-ytdlp, one process per call.
type YTDLP struct {
	binary string
	log    zerolog.Logger
}

// NewYTDLP returns an engine using the given yt-dlp executable, or the one
// on PATH when binary is empty.
func NewYTDLP(binary string, log zerolog.Logger) *YTDLP {
	return &YTDLP{binary: binary, log: log}
}

func (y *YTDLP) Extract(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.ProxyURL == "" {
		return nil, ErrDirectConnection
	}

	dl := ytdlp.New().
		NoPlaylist().
		NoProgress().
		PrintJSON().
		Proxy(opts.ProxyURL)

	if y.binary != "" {
		dl.SetExecutable(y.binary)
	}
	if opts.SocketTimeout > 0 {
		dl.SocketTimeout(opts.SocketTimeout.Seconds())
	}
	if opts.UserAgent != "" {
		dl.AddHeaders("User-Agent:" + opts.UserAgent)
	}
	if opts.CookieFile != "" {
		dl.Cookies(opts.CookieFile)
	}
	if opts.Format != "" {
		dl.Format(opts.Format)
	}
	if opts.SkipDownload {
		dl.SkipDownload()
	} else {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		dl.RestrictFilenames().
			Output(filepath.Join(opts.OutputDir, "%(id)s.%(ext)s"))
	}

	res, err := dl.Run(ctx, url)
	if err != nil {
		// The exit error alone says little; the classifier needs stderr.
		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, lastLine(res.Stderr))
		}
		return nil, err
	}

	info, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse extracted info: %w", err)
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("extractor returned no media for %s", url)
	}

	out := &Result{ID: info[0].ID, URL: url}
	if info[0].Title != nil {
		out.Title = *info[0].Title
	}
	if info[0].Filename != nil {
		out.Filename = *info[0].Filename
	}

	y.log.Debug().Str("url", url).Str("media_id", out.ID).Str("file", out.Filename).Msg("extraction finished")
	return out, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
