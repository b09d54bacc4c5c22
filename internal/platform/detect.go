// Package platform holds the per-site request handlers the retry scheduler
// wraps.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	YouTube    = "youtube"
	Instagram  = "instagram"
	TikTok     = "tiktok"
	Twitter    = "twitter"
	SoundCloud = "soundcloud"
	Vimeo      = "vimeo"
	Reddit     = "reddit"
	Generic    = "generic"
)

var ErrInvalidURL = errors.New("invalid url")

var hostPlatforms = map[string]string{
	"youtube.com":          YouTube,
	"youtu.be":             YouTube,
	"youtube-nocookie.com": YouTube,
	"instagram.com":        Instagram,
	"tiktok.com":           TikTok,
	"twitter.com":          Twitter,
	"x.com":                Twitter,
	"soundcloud.com":       SoundCloud,
	"vimeo.com":            Vimeo,
	"reddit.com":           Reddit,
	"redd.it":              Reddit,
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Detect maps a link to a platform name. Unknown hosts and unparsable links
// are Generic.
func Detect(raw string) string {
	u, err := ValidateURL(raw)
	if err != nil {
		return Generic
	}
	host := strings.ToLower(u.Hostname())
	for {
		if p, ok := hostPlatforms[host]; ok {
			return p
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return Generic
		}
		host = host[i+1:]
	}
}
