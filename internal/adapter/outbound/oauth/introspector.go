// Package oauth verifies bearer tokens against an OAuth 2.0 token
// introspection endpoint (RFC 7662).
package oauth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/superfetch/superfetch/internal/domain/auth"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// DefaultTimeout bounds a single introspection round trip. It composes
// with the inbound request context, whichever expires first.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps the introspection response body. Introspection
// responses are small JSON objects; anything larger is hostile.
const maxResponseBytes = 1 << 20

// Introspector validates tokens with a remote authorization server.
// It implements the outbound.TokenIntrospector interface.
type Introspector struct {
	endpoint     string
	clientID     string
	clientSecret string
	resource     string
	timeout      time.Duration
	httpClient   *http.Client
}

// Option is a functional option for configuring an Introspector.
type Option func(*Introspector)

// WithClientCredentials enables HTTP Basic authentication toward the
// authorization server.
func WithClientCredentials(id, secret string) Option {
	return func(i *Introspector) {
		i.clientID = id
		i.clientSecret = secret
	}
}

// WithResource sets the resource parameter sent with each request.
// A fragment, if present, is stripped.
func WithResource(resource string) Option {
	return func(i *Introspector) {
		i.resource = stripFragment(resource)
	}
}

// WithTimeout bounds each introspection call.
func WithTimeout(d time.Duration) Option {
	return func(i *Introspector) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Introspector) {
		i.httpClient = client
	}
}

// NewIntrospector creates an Introspector for the given introspection
// endpoint URL.
func NewIntrospector(endpoint string, opts ...Option) *Introspector {
	i := &Introspector{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// introspectionResponse is the subset of RFC 7662 fields the gateway
// consumes.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Sub      string `json:"sub"`
	Exp      int64  `json:"exp"`
}

// Introspect verifies token with the authorization server. Inactive
// tokens return auth.ErrInvalidToken; transport and protocol failures
// return ordinary errors for the caller to classify.
func (i *Introspector) Introspect(ctx context.Context, token string) (*auth.Info, error) {
	if token == "" {
		return nil, auth.ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")
	if i.resource != "" {
		form.Set("resource", i.resource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if i.clientID != "" {
		req.SetBasicAuth(i.clientID, i.clientSecret)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling introspection endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading introspection response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var parsed introspectionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding introspection response: %w", err)
	}
	if !parsed.Active {
		return nil, auth.ErrInvalidToken
	}

	info := &auth.Info{
		Token:    token,
		ClientID: parsed.ClientID,
		Scopes:   strings.Fields(parsed.Scope),
		Resource: i.resource,
	}
	if info.ClientID == "" {
		info.ClientID = parsed.Sub
	}
	if parsed.Exp > 0 {
		info.ExpiresAt = time.Unix(parsed.Exp, 0).UTC()
	}
	return info, nil
}

// stripFragment removes the fragment from a resource URL, leaving
// unparseable values untouched.
func stripFragment(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return resource
	}
	u.Fragment = ""
	return u.String()
}

// Compile-time check that Introspector implements TokenIntrospector.
var _ outbound.TokenIntrospector = (*Introspector)(nil)
