package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 100, cfg.MaxIdleConns)
	assert.Equal(t, 10, cfg.MaxIdleConnsPerHost)
	assert.Nil(t, cfg.Transport)
	assert.False(t, cfg.FollowRedirects)
}

func TestNewHTTPClient_Options(t *testing.T) {
	custom := &http.Transport{}

	tests := []struct {
		name  string
		opts  []ClientOption
		check func(t *testing.T, c *http.Client)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *http.Client) {
				assert.Equal(t, 30*time.Second, c.Timeout)
				transport, ok := c.Transport.(*http.Transport)
				require.True(t, ok)
				assert.Equal(t, 10, transport.MaxIdleConnsPerHost)
			},
		},
		{
			name: "timeout",
			opts: []ClientOption{WithTimeout(5 * time.Second)},
			check: func(t *testing.T, c *http.Client) {
				assert.Equal(t, 5*time.Second, c.Timeout)
			},
		},
		{
			name: "per host idle conns",
			opts: []ClientOption{WithMaxIdleConnsPerHost(3)},
			check: func(t *testing.T, c *http.Client) {
				assert.Equal(t, 3, c.Transport.(*http.Transport).MaxIdleConnsPerHost)
			},
		},
		{
			name: "custom transport",
			opts: []ClientOption{WithTransport(custom)},
			check: func(t *testing.T, c *http.Client) {
				assert.Same(t, custom, c.Transport)
			},
		},
		{
			name: "nil option ignored and last wins",
			opts: []ClientOption{nil, WithTimeout(time.Second), WithTimeout(2 * time.Second)},
			check: func(t *testing.T, c *http.Client) {
				assert.Equal(t, 2*time.Second, c.Timeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewHTTPClient(tt.opts...))
		})
	}
}

func TestNewHTTPClientWithTimeout(t *testing.T) {
	assert.Equal(t, 7*time.Second, NewHTTPClientWithTimeout(7*time.Second).Timeout)
}

func TestHTTPClient_Redirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	resp, err := NewHTTPClient().Get(redirector.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp, err = NewHTTPClient(WithRedirects()).Get(redirector.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPClient_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	_, err := NewHTTPClientWithTimeout(20 * time.Millisecond).Get(slow.URL)
	assert.Error(t, err)
}
