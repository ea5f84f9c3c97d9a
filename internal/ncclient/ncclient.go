// Package ncclient talks to the owning Nextcloud server: it verifies
// WebSocket credentials and drives the handful of self-test endpoints the
// notify_push app exposes (C3, §4.3).
package ncclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nextcloud/notify-push/internal/identity"
)

// Sentinel errors returned by Verify, distinguished by HTTP status class
// (§4.3).
var (
	ErrInvalidCredentials = errors.New("ncclient: invalid credentials")
	ErrServer             = errors.New("ncclient: nextcloud server error")
	ErrClient             = errors.New("ncclient: invalid request to nextcloud")
	ErrUnexpectedStatus   = errors.New("ncclient: unexpected status code")
)

// Client issues authenticated requests against a single Nextcloud instance.
type Client struct {
	http    *http.Client
	baseURL *url.URL
}

// New builds a Client targeting baseURL. When allowSelfSigned is true, TLS
// certificate verification is disabled for this client only (§6
// --allow-self-signed).
func New(baseURL string, allowSelfSigned bool) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ncclient: invalid base url: %w", err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if allowSelfSigned {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return &Client{
		http:    &http.Client{Transport: transport},
		baseURL: parsed,
	}, nil
}

// Verify checks username/password against Nextcloud's notify_push/uid
// endpoint and returns the authenticated user's identity. forwardedFor is
// joined with ", " and sent as X-Forwarded-For, mirroring the chain of
// proxies the original request passed through (§4.3).
func (c *Client) Verify(ctx context.Context, username, password string, forwardedFor []string) (identity.UserID, error) {
	req, err := c.newRequest(ctx, "index.php/apps/notify_push/uid")
	if err != nil {
		return identity.UserID{}, err
	}
	req.SetBasicAuth(username, password)
	if len(forwardedFor) > 0 {
		req.Header.Set("X-Forwarded-For", strings.Join(forwardedFor, ", "))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return identity.UserID{}, fmt.Errorf("ncclient: connecting to nextcloud: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return identity.UserID{}, fmt.Errorf("ncclient: reading response: %w", err)
		}
		return identity.New(strings.TrimSpace(string(body))), nil
	case resp.StatusCode == http.StatusUnauthorized:
		return identity.UserID{}, ErrInvalidCredentials
	case resp.StatusCode >= 500:
		return identity.UserID{}, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	case resp.StatusCode >= 400:
		return identity.UserID{}, fmt.Errorf("%w: status %d", ErrClient, resp.StatusCode)
	default:
		return identity.UserID{}, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// TestCookie fetches the current test cookie value, a random number the
// test harness uses to confirm it is talking to the instance it expects
// (§4.10 test routes).
func (c *Client) TestCookie(ctx context.Context) (uint32, error) {
	req, err := c.newRequest(ctx, "index.php/apps/notify_push/test/cookie")
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ncclient: connecting to nextcloud: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("ncclient: reading response: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ncclient: parsing cookie: %w", err)
	}
	return uint32(n), nil
}

// TestSetRemote asks Nextcloud to echo back the remote address it sees
// after the X-Forwarded-For chain is applied, used to confirm the
// forwarded-IP configuration matches reality (§4.10).
func (c *Client) TestSetRemote(ctx context.Context, addr string) (string, error) {
	req, err := c.newRequest(ctx, "index.php/apps/notify_push/test/remote")
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Forwarded-For", addr)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ncclient: connecting to nextcloud: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ncclient: reading response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) newRequest(ctx context.Context, relativePath string) (*http.Request, error) {
	target, err := c.baseURL.Parse(relativePath)
	if err != nil {
		return nil, fmt.Errorf("ncclient: building request url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ncclient: building request: %w", err)
	}
	return req, nil
}
