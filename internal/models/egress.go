package models

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

type EgressEndpoint struct {
	ID                  string    `json:"id"`
	Scheme              string    `json:"scheme"`
	Host                string    `json:"host"`
	Port                int       `json:"port"`
	Username            string    `json:"-"`
	Password            string    `json:"-"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DisabledUntil       time.Time `json:"disabled_until"`
}

// Available reports whether the endpoint's cool-down has elapsed at now.
func (e EgressEndpoint) Available(now time.Time) bool {
	return !e.DisabledUntil.After(now)
}

// ProxyURL renders the endpoint as a proxy URL for the extractor.
func (e EgressEndpoint) ProxyURL() string {
	u := url.URL{
		Scheme: e.Scheme,
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u.String()
}
