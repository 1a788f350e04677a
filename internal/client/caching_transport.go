package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingTransport wraps base with an RFC 7234 cache so GET responses
// carrying Cache-Control headers are served locally. An empty cacheDir keeps
// the cache in memory.
func NewCachingTransport(cacheDir string, base http.RoundTripper) http.RoundTripper {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		// persists across CLI invocations
		cache = diskcache.New(cacheDir)
	}

	return &httpcache.Transport{
		Transport:           base,
		Cache:               cache,
		MarkCachedResponses: true,
	}
}

// IsCached reports whether resp was served from the local cache.
func IsCached(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(httpcache.XFromCache) == "1"
}
