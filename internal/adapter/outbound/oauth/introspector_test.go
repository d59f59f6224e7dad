package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/superfetch/superfetch/internal/domain/auth"
)

func TestIntrospect_ActiveToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("token"); got != "tok-123" {
			t.Errorf("token = %q", got)
		}
		if got := r.PostForm.Get("token_type_hint"); got != "access_token" {
			t.Errorf("token_type_hint = %q", got)
		}
		if got := r.PostForm.Get("resource"); got != "https://gw.example.com/mcp" {
			t.Errorf("resource = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active":true,"scope":"fetch read","client_id":"client-abc"}`))
	}))
	defer srv.Close()

	in := NewIntrospector(srv.URL, WithResource("https://gw.example.com/mcp#frag"))
	info, err := in.Introspect(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if info.ClientID != "client-abc" {
		t.Errorf("ClientID = %q", info.ClientID)
	}
	if len(info.Scopes) != 2 || info.Scopes[0] != "fetch" || info.Scopes[1] != "read" {
		t.Errorf("Scopes = %v", info.Scopes)
	}
	if info.Token != "tok-123" {
		t.Errorf("Token = %q, want the presented token echoed back", info.Token)
	}
	if info.Resource != "https://gw.example.com/mcp" {
		t.Errorf("Resource = %q, want fragment stripped", info.Resource)
	}
}

func TestIntrospect_InactiveToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	_, err := NewIntrospector(srv.URL).Introspect(context.Background(), "revoked")
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want auth.ErrInvalidToken", err)
	}
}

func TestIntrospect_ExpiryParsed(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"active":true,"client_id":"c","exp":%d}`, exp.Unix())
	}))
	defer srv.Close()

	info, err := NewIntrospector(srv.URL).Introspect(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, exp)
	}
}

func TestIntrospect_BasicAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "gateway" || secret != "s3cret" {
			t.Errorf("basic auth = %q/%q ok=%v", id, secret, ok)
		}
		w.Write([]byte(`{"active":true,"client_id":"c"}`))
	}))
	defer srv.Close()

	in := NewIntrospector(srv.URL, WithClientCredentials("gateway", "s3cret"))
	if _, err := in.Introspect(context.Background(), "tok"); err != nil {
		t.Fatalf("Introspect: %v", err)
	}
}

func TestIntrospect_NoBasicAuthByDefault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("unexpected Authorization header %q", h)
		}
		w.Write([]byte(`{"active":true,"client_id":"c"}`))
	}))
	defer srv.Close()

	if _, err := NewIntrospector(srv.URL).Introspect(context.Background(), "tok"); err != nil {
		t.Fatalf("Introspect: %v", err)
	}
}

func TestIntrospect_SubFallsBackForClientID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"active":true,"sub":"user-9"}`))
	}))
	defer srv.Close()

	info, err := NewIntrospector(srv.URL).Introspect(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if info.ClientID != "user-9" {
		t.Errorf("ClientID = %q, want the sub claim", info.ClientID)
	}
}

func TestIntrospect_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewIntrospector(srv.URL).Introspect(context.Background(), "tok")
	if err == nil {
		t.Fatal("want error for 500 response")
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("server failure must not read as an invalid token: %v", err)
	}
}

func TestIntrospect_MalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if _, err := NewIntrospector(srv.URL).Introspect(context.Background(), "tok"); err == nil {
		t.Fatal("want error for malformed response")
	}
}

func TestIntrospect_EmptyToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("introspection endpoint should not be called for an empty token")
	}))
	defer srv.Close()

	_, err := NewIntrospector(srv.URL).Introspect(context.Background(), "")
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want auth.ErrInvalidToken", err)
	}
}

func TestIntrospect_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"active":true}`))
	}))
	defer srv.Close()

	in := NewIntrospector(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := in.Introspect(context.Background(), "tok")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestIntrospect_InheritsCallerCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"active":true}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIntrospector(srv.URL).Introspect(ctx, "tok")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
