package ncclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySuccessReturnsUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index.php/apps/notify_push/uid", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "10.0.0.1, 10.0.0.2", r.Header.Get("X-Forwarded-For"))
		_, _ = w.Write([]byte("alice\n"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	user, err := c.Verify(t.Context(), "alice", "secret", []string{"10.0.0.1", "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.String())
}

func TestVerifyUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = c.Verify(t.Context(), "alice", "wrong", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = c.Verify(t.Context(), "alice", "secret", nil)
	assert.ErrorIs(t, err, ErrServer)
}

func TestVerifyClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	_, err = c.Verify(t.Context(), "alice", "secret", nil)
	assert.ErrorIs(t, err, ErrClient)
}

func TestTestCookieParsesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index.php/apps/notify_push/test/cookie", r.URL.Path)
		_, _ = w.Write([]byte("1234"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	cookie, err := c.TestCookie(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), cookie)
}

func TestTestSetRemoteEchoesForwardedFor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "203.0.113.5", r.Header.Get("X-Forwarded-For"))
		_, _ = w.Write([]byte("203.0.113.5"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, false)
	require.NoError(t, err)

	remote, err := c.TestSetRemote(t.Context(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", remote)
}
