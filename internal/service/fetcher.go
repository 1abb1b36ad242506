package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// ErrPrivateAddress is returned when a URL resolves to a loopback, private,
// link-local or unspecified address and private fetches are not allowed.
var ErrPrivateAddress = errors.New("address is not publicly routable")

// URLFetcherOptions configures a URLFetcher.
type URLFetcherOptions struct {
	Client       *http.Client  // Optional: defaults to a client with Timeout
	Timeout      time.Duration // Optional: whole-request timeout when Client is nil
	AllowPrivate bool          // Allow the default client to dial non-public addresses
}

// URLFetcher downloads remote model files for URL submissions.
type URLFetcher struct {
	client *http.Client
}

// NewURLFetcher constructs a URLFetcher.
func NewURLFetcher(opts URLFetcherOptions) *URLFetcher {
	client := opts.Client
	if client == nil {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		if !opts.AllowPrivate {
			dialer.Control = publicOnly
		}
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		}
	}
	return &URLFetcher{client: client}
}

// publicOnly runs after name resolution, so redirects and DNS answers that
// point inside the network are refused as well.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("dial %s: %w", address, ErrPrivateAddress)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return fmt.Errorf("dial %s: %w", address, ErrPrivateAddress)
	}
	return nil
}

// Fetch issues a GET for rawURL and returns the body on a 2xx answer.
// The caller must close the returned reader.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, apperrors.ValidationField("url", "url must be an absolute http or https URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.Fetchf(err, "build request for %s", rawURL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.Fetchf(err, "fetch %s", rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, apperrors.Fetchf(nil, "fetch %s: remote answered %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}
