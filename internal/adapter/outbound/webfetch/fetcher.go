// Package webfetch implements the outbound page fetcher. Every
// connection runs the same pipeline: hostname check, DNS resolution,
// blocklist check over every resolved address, then a socket dialed to
// the one vetted IP while TLS keeps the hostname for SNI and
// certificate verification. Redirect targets repeat the pipeline before
// the next hop opens.
package webfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// Resolver resolves hostnames to IP addresses. net.DefaultResolver
// satisfies it; tests inject fixed answers.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Config carries the fetcher knobs.
type Config struct {
	// UserAgent is sent on every outbound request.
	UserAgent string

	// Timeout overrides the end-to-end budget. Zero means fetch.Timeout.
	Timeout time.Duration

	// Resolver overrides DNS resolution. Nil means net.DefaultResolver.
	Resolver Resolver
}

// Client fetches public pages over a pinned-IP dialer.
type Client struct {
	httpClient *http.Client
	resolver   Resolver
	userAgent  string
	blockAddr  func(netip.Addr) bool
}

// New creates a fetcher from cfg.
func New(cfg Config) *Client {
	c := &Client{
		resolver:  cfg.Resolver,
		userAgent: cfg.UserAgent,
		blockAddr: fetch.BlockedAddr,
	}
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = fetch.Timeout
	}
	c.httpClient = &http.Client{
		Transport: &http.Transport{
			// A proxy would route around the pinned dialer.
			Proxy:               nil,
			DialContext:         c.dialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        16,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Timeout: timeout,
	}
	return c
}

// Fetch retrieves u and returns the decoded page. The URL must already
// have passed validation; redirect targets are re-validated here.
func (c *Client) Fetch(ctx context.Context, u *url.URL) (*fetch.Page, error) {
	if fetch.BlockedHostname(u.Hostname()) {
		return nil, fetch.NewError(fetch.CodeBlockedHost, "host is not allowed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fetch.WrapError(fetch.CodeInvalidURL, "URL is not valid", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// CheckRedirect is per-request state, so each fetch gets a shallow
	// client copy sharing the pooled transport.
	state := &hopState{}
	client := *c.httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return checkRedirect(state, req, via)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, mapFetchError(err, state)
	}
	defer resp.Body.Close()

	raw := fetch.IsRawContentURL(u) || fetch.IsRawContentURL(resp.Request.URL)

	header := resp.Header.Get("Content-Type")
	mediaType := ""
	if header != "" {
		if mt, _, perr := mime.ParseMediaType(header); perr == nil {
			mediaType = strings.ToLower(mt)
		}
	}
	if !raw && !fetch.AcceptedContentType(mediaType) {
		if mediaType == "" {
			return nil, fetch.NewError(fetch.CodeUnsupportedMediaType, "response has no usable content type")
		}
		return nil, fetch.NewError(fetch.CodeUnsupportedMediaType,
			fmt.Sprintf("content type %q is not supported", mediaType))
	}

	if resp.ContentLength > fetch.MaxBodyBytes {
		return nil, fetch.NewError(fetch.CodeResponseTooLarge, "response exceeds the 10 MiB limit")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetch.MaxBodyBytes+1))
	if err != nil {
		return nil, mapFetchError(err, state)
	}
	if len(body) > fetch.MaxBodyBytes {
		return nil, fetch.NewError(fetch.CodeResponseTooLarge, "response exceeds the 10 MiB limit")
	}

	decoded, err := decodeBody(body, header)
	if err != nil {
		// Undecodable bytes pass through; the extractor tolerates them.
		decoded = body
	}

	return &fetch.Page{
		Body:        decoded,
		ContentType: mediaType,
		InputURL:    u,
		FinalURL:    resp.Request.URL,
		StatusCode:  resp.StatusCode,
		RawContent:  raw || fetch.PassthroughContentType(mediaType),
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// dialContext runs the resolve-vet-pin pipeline for one connection.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fetch.WrapError(fetch.CodeFetchNetwork, "malformed dial address", err)
	}
	if fetch.BlockedHostname(host) {
		return nil, fetch.NewError(fetch.CodeBlockedHost, "host is not allowed")
	}

	addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fetch.WrapError(fetch.CodeFetchNetwork, "DNS resolution failed", err)
	}
	if len(addrs) == 0 {
		return nil, fetch.NewError(fetch.CodeFetchNetwork, "host did not resolve")
	}

	// Every address must be clean, not just the one dialed. A host that
	// mixes public and internal addresses is rejected outright.
	for _, a := range addrs {
		if c.blockAddr(a) {
			return nil, fetch.NewError(fetch.CodeBlockedHost, "host resolves to a blocked address")
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, net.JoinHostPort(addrs[0].Unmap().String(), port))
	if err != nil {
		return nil, fetch.WrapError(fetch.CodeFetchNetwork, "connection failed", err)
	}
	return conn, nil
}

// hopState marks that at least one redirect was followed, so dial
// failures on later hops report blocked_redirect instead of
// blocked_host.
type hopState struct {
	redirected bool
}

// checkRedirect re-validates every redirect target before the client
// follows it.
func checkRedirect(state *hopState, req *http.Request, via []*http.Request) error {
	if len(via) > fetch.MaxRedirects {
		return fetch.NewError(fetch.CodeBlockedRedirect, "too many redirects")
	}
	if _, err := fetch.ValidateURL(req.URL.String()); err != nil {
		return fetch.WrapError(fetch.CodeBlockedRedirect, "redirect target rejected", err)
	}
	if fetch.BlockedHostname(req.URL.Hostname()) {
		return fetch.NewError(fetch.CodeBlockedRedirect, "redirect target rejected")
	}
	state.redirected = true
	return nil
}

// mapFetchError normalizes client.Do failures into the error taxonomy.
func mapFetchError(err error, state *hopState) error {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		if state.redirected && fe.Code == fetch.CodeBlockedHost {
			return fetch.WrapError(fetch.CodeBlockedRedirect, "redirect target is not allowed", fe)
		}
		return fe
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fetch.WrapError(fetch.CodeFetchTimeout, "fetch timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetch.WrapError(fetch.CodeFetchTimeout, "fetch timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return fetch.WrapError(fetch.CodeCanceled, "fetch canceled", err)
	}
	return fetch.WrapError(fetch.CodeFetchNetwork, "fetch failed", err)
}

// decodeBody transcodes the body to UTF-8 using the charset from the
// Content-Type header, falling back to sniffing.
func decodeBody(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Compile-time interface verification.
var _ outbound.PageFetcher = (*Client)(nil)
