package binance

import (
	"strings"
	"time"
)

const defaultRESTBaseURL = "https://api.binance.com"

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	PageLimit   int

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.PageLimit <= 0 || out.PageLimit > maxPageLimit {
		out.PageLimit = maxPageLimit
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}
