// Package extractor wraps the external media extraction engine. Callers only
// ever see a Result or an error whose text can be classified.
package extractor

import (
	"context"
	"errors"
	"time"
)

// ErrDirectConnection is returned when an extraction is attempted without
// an egress proxy. Direct connections would expose the host address.
var ErrDirectConnection = errors.New("extractor: refusing direct connection without proxy")

type Options struct {
	Format        string
	SocketTimeout time.Duration
	ProxyURL      string
	UserAgent     string
	CookieFile    string
	OutputDir     string
	SkipDownload  bool
}

type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url"`
}

type Engine interface {
	Extract(ctx context.Context, url string, opts Options) (*Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, url string, opts Options) (*Result, error)

func (f EngineFunc) Extract(ctx context.Context, url string, opts Options) (*Result, error) {
	return f(ctx, url, opts)
}
