package httputil

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httputil"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachingTransport struct {
	inner http.RoundTripper
	cache *lru.Cache[string, []byte]
}

// NewCachingTransport wraps inner with an LRU response cache keyed by
// method and URL. Meant for lookup-style APIs whose answers are stable
// within a process lifetime, like metadata enrichment.
func NewCachingTransport(inner http.RoundTripper, size int) (http.RoundTripper, error) {
	if inner == nil {
		inner = http.DefaultTransport
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &cachingTransport{inner: inner, cache: cache}, nil
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.inner.RoundTrip(req)
	}
	key := req.Method + " " + req.URL.String()
	if raw, ok := t.cache.Get(key); ok {
		return http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	}
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		raw, dumpErr := httputil.DumpResponse(resp, true)
		if dumpErr == nil {
			t.cache.Add(key, raw)
			return http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
		}
	}
	return resp, nil
}
