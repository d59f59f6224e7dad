package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxURLLength is the longest candidate URL the guard accepts.
const MaxURLLength = 2048

// ValidateURL parses and validates a candidate URL. It returns the parsed
// URL with the fragment removed, or an invalid_url error. Accepted URLs are
// absolute http/https without embedded credentials, with a host that is not
// a .local or .internal name.
func ValidateURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, NewError(CodeInvalidURL, "URL is required")
	}
	if len(raw) > MaxURLLength {
		return nil, NewError(CodeInvalidURL, fmt.Sprintf("URL exceeds %d characters", MaxURLLength))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, WrapError(CodeInvalidURL, "URL is not valid", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, NewError(CodeInvalidURL, "only http and https URLs are supported")
	}
	if u.User != nil {
		return nil, NewError(CodeInvalidURL, "URLs with embedded credentials are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, NewError(CodeInvalidURL, "URL has no host")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return nil, NewError(CodeBlockedHost, "internal hostnames are not allowed")
	}

	u.Scheme = scheme
	u.Fragment = ""
	return u, nil
}

// RewriteRawURL rewrites human-facing repository URLs to their raw-content
// equivalents. URLs that are already raw, or that do not match a known
// pattern, are returned unchanged. The rewrite never fails; the worst case
// is the original URL.
func RewriteRawURL(u *url.URL) *url.URL {
	host := strings.ToLower(u.Hostname())
	segs := splitPath(u.Path)

	switch host {
	case "github.com":
		// /owner/repo/blob/ref/path -> raw.githubusercontent.com/owner/repo/ref/path
		if len(segs) >= 5 && (segs[2] == "blob" || segs[2] == "raw") {
			out := *u
			out.Host = "raw.githubusercontent.com"
			out.Path = "/" + strings.Join(segs[:2], "/") + "/" + strings.Join(segs[3:], "/")
			out.Fragment = ""
			return &out
		}
	case "gist.github.com":
		// /user/id -> gist.githubusercontent.com/user/id/raw
		if len(segs) == 2 {
			out := *u
			out.Host = "gist.githubusercontent.com"
			out.Path = "/" + segs[0] + "/" + segs[1] + "/raw"
			out.Fragment = ""
			return &out
		}
	case "gitlab.com":
		// /owner/repo/-/blob/ref/path -> /owner/repo/-/raw/ref/path
		for i, seg := range segs {
			if seg == "-" && i+1 < len(segs) && segs[i+1] == "blob" {
				out := *u
				segs[i+1] = "raw"
				out.Path = "/" + strings.Join(segs, "/")
				out.Fragment = ""
				return &out
			}
		}
	case "bitbucket.org":
		// /owner/repo/src/ref/path -> /owner/repo/raw/ref/path
		if len(segs) >= 4 && segs[2] == "src" {
			out := *u
			segs[2] = "raw"
			out.Path = "/" + strings.Join(segs, "/")
			out.Fragment = ""
			return &out
		}
	}
	return u
}

// IsRawContentURL reports whether u already points at a raw-content
// endpoint. Raw endpoints relax the Content-Type allowlist because they
// serve source files under generic types like text/plain or
// application/octet-stream.
func IsRawContentURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	switch host {
	case "raw.githubusercontent.com", "gist.githubusercontent.com", "objects.githubusercontent.com":
		return true
	case "gitlab.com":
		return strings.Contains(u.Path, "/-/raw/")
	case "bitbucket.org":
		segs := splitPath(u.Path)
		return len(segs) >= 3 && segs[2] == "raw"
	}
	return false
}

// CanonicalURL returns the normalized form used for cache fingerprints:
// lowercase scheme and host, no fragment.
func CanonicalURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	return c.String()
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
