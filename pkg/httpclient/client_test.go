package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewRestyClient(time.Second, WithRetryCount(2), WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "ok", string(resp.Body()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetExhaustedRetriesReturnsLastStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRestyClient(time.Second, WithRetryCount(1), WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	statusErr := CheckStatus(srv.URL, resp)
	var se *StatusError
	require.ErrorAs(t, statusErr, &se)
	assert.True(t, se.Transient())
	assert.Equal(t, "transient", Kind(statusErr))
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewRestyClient(time.Second, WithRetryCount(3), WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "permanent", Kind(CheckStatus(srv.URL, resp)))
}

func TestGetSendsHeadersAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "khobor-test", r.Header.Get("User-Agent"))
		assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewRestyClient(time.Second, WithUserAgent("khobor-test"))
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"If-None-Match": `"v1"`})
	require.NoError(t, err)
	assert.True(t, errors.Is(CheckStatus(srv.URL, resp), ErrNotModified))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&StatusError{Code: 500}))
	assert.False(t, IsTransient(&StatusError{Code: 404}))
	assert.False(t, IsTransient(errors.New("stopped after 5 redirects")))
}

func TestSnippetTruncates(t *testing.T) {
	assert.Equal(t, "<empty>", Snippet([]byte("   ")))
	long := make([]byte, snippetLen+10)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, Snippet(long), snippetLen+3)
}
