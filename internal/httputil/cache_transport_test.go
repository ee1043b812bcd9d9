package httputil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_CachingTransport(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "body")
	}))
	t.Cleanup(server.Close)

	transport, err := NewCachingTransport(nil, 4)
	require.NoError(t, err)
	client := &http.Client{Transport: transport}

	for range 3 {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, "body", string(body))
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestUnit_CachingTransport_SkipsNonGet(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(server.Close)

	transport, err := NewCachingTransport(nil, 4)
	require.NoError(t, err)
	client := &http.Client{Transport: transport}

	for range 2 {
		resp, err := client.Post(server.URL, "text/plain", strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}
	assert.EqualValues(t, 2, hits.Load())
}
