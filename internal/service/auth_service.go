package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/superfetch/superfetch/internal/domain/auth"
	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// AuthMode selects how bearer credentials are verified.
type AuthMode string

const (
	// AuthModeStatic verifies tokens against the set configured at boot.
	AuthModeStatic AuthMode = "static"
	// AuthModeOAuth verifies tokens with a remote introspection endpoint.
	AuthModeOAuth AuthMode = "oauth"
)

// Credentials carries the raw credential material extracted from an
// inbound request. Either field may be empty.
type Credentials struct {
	// Authorization is the Authorization header value as presented.
	Authorization string
	// APIKey is the X-API-Key header value. Honored in static mode only.
	APIKey string
}

// AuthService verifies inbound credentials and derives the fingerprints
// that bind sessions to the credential that created them. One instance
// serves the whole process; which verification path runs is fixed at
// construction.
type AuthService struct {
	mode           AuthMode
	verifier       *auth.StaticVerifier
	introspector   outbound.TokenIntrospector
	fingerprinter  *auth.Fingerprinter
	requiredScopes []string
	logger         *slog.Logger
}

// NewAuthService creates an AuthService for the given mode. Static mode
// requires verifier; oauth mode requires introspector.
func NewAuthService(mode AuthMode, verifier *auth.StaticVerifier, introspector outbound.TokenIntrospector, requiredScopes []string, logger *slog.Logger) (*AuthService, error) {
	switch mode {
	case AuthModeStatic:
		if verifier == nil {
			return nil, errors.New("static auth mode requires a token verifier")
		}
	case AuthModeOAuth:
		if introspector == nil {
			return nil, errors.New("oauth auth mode requires a token introspector")
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}

	fp, err := auth.NewFingerprinter()
	if err != nil {
		return nil, fmt.Errorf("creating fingerprinter: %w", err)
	}

	return &AuthService{
		mode:           mode,
		verifier:       verifier,
		introspector:   introspector,
		fingerprinter:  fp,
		requiredScopes: requiredScopes,
		logger:         logger,
	}, nil
}

// Mode returns the verification mode the service was built with.
func (s *AuthService) Mode() AuthMode {
	return s.mode
}

// Authenticate verifies the credential carried by creds and returns its
// auth info. A Bearer token in Authorization is preferred; X-API-Key is
// accepted as a fallback in static mode only. Failures return errors
// with code invalid_token, or unauthorized when the token is valid but
// lacks a required scope.
func (s *AuthService) Authenticate(ctx context.Context, creds Credentials) (*auth.Info, error) {
	token := bearerToken(creds.Authorization)
	if token == "" && s.mode == AuthModeStatic {
		token = strings.TrimSpace(creds.APIKey)
	}
	if token == "" {
		return nil, fetch.NewError(fetch.CodeInvalidToken, "Missing bearer token")
	}

	var (
		info *auth.Info
		err  error
	)
	switch s.mode {
	case AuthModeStatic:
		info, err = s.verifier.Authenticate(token)
	case AuthModeOAuth:
		info, err = s.introspector.Introspect(ctx, token)
	}
	if err != nil {
		// Introspection transport failures also fail closed as 401;
		// the underlying cause goes to the log, never to the client.
		if !errors.Is(err, auth.ErrInvalidToken) {
			s.logger.Warn("token verification failed", "mode", s.mode, "error", err)
		}
		return nil, fetch.WrapError(fetch.CodeInvalidToken, "Invalid or expired token", err)
	}
	if info.IsExpired() {
		return nil, fetch.NewError(fetch.CodeInvalidToken, "Invalid or expired token")
	}
	if !info.HasAllScopes(s.requiredScopes...) {
		return nil, fetch.NewError(fetch.CodeUnauthorized, "Insufficient scope")
	}
	return info, nil
}

// Fingerprint returns the session-binding fingerprint for info.
func (s *AuthService) Fingerprint(info *auth.Info) string {
	return s.fingerprinter.ForInfo(info)
}

// bearerToken extracts the token from an Authorization header value.
// Returns "" when the header is absent or not a Bearer credential.
func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
