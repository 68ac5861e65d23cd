package search

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/aluiziolira/go-eurobuch/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// FallbackIP is sent when the public address cannot be determined.
const FallbackIP = "0.0.0.0"

// IPResolver determines the client IP the metasearch API expects with each query.
type IPResolver struct {
	static    string
	lookupURL string
	get       func(string) (*response, error)
	cache     *expirable.LRU[string, string]
}

// NewIPResolver returns a resolver that prefers cfg.ClientIP and otherwise looks the
// address up at cfg.IPLookupURL, caching successes for cfg.IPCacheTTL (0 disables caching).
func NewIPResolver(cfg *config.Config, get func(string) (*response, error)) *IPResolver {
	r := &IPResolver{
		static:    strings.TrimSpace(cfg.ClientIP),
		lookupURL: cfg.IPLookupURL,
		get:       get,
	}
	if cfg.IPCacheTTL > 0 {
		r.cache = expirable.NewLRU[string, string](1, nil, cfg.IPCacheTTL)
	}
	return r
}

// Resolve never fails: lookup errors and garbage answers yield FallbackIP.
func (r *IPResolver) Resolve(ctx context.Context) string {
	if r.static != "" {
		return r.static
	}
	if r.lookupURL == "" || ctx.Err() != nil {
		return FallbackIP
	}
	if r.cache != nil {
		if ip, ok := r.cache.Get(r.lookupURL); ok {
			return ip
		}
	}

	resp, err := r.get(r.lookupURL)
	if err != nil {
		slog.Debug("client ip lookup failed", slog.Any("error", err))
		return FallbackIP
	}
	ip := strings.TrimSpace(string(resp.body))
	if net.ParseIP(ip) == nil {
		slog.Debug("client ip lookup returned no address", slog.String("body", ip))
		return FallbackIP
	}

	if r.cache != nil {
		r.cache.Add(r.lookupURL, ip)
	}
	return ip
}
