package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req summarizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/a", req.URL)

		_ = json.NewEncoder(w).Encode(summarizeResponse{Summary: "tl;dr: a page"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithThrottle(100, 100))

	got, err := c.Produce(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "tl;dr: a page", got)
}

func TestProduceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, WithThrottle(100, 100))

	_, err := c.Produce(context.Background(), "https://example.com/a")
	assert.ErrorContains(t, err, "status 503")
}

func TestProduceEmptySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"summary":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithThrottle(100, 100))

	_, err := c.Produce(context.Background(), "https://example.com/a")
	assert.ErrorContains(t, err, "empty summary")
}

func TestProduceHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, WithThrottle(100, 100))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Produce(ctx, "https://example.com/a")
	assert.Error(t, err)
}
