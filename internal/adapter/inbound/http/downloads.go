package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/superfetch/superfetch/internal/domain/cache"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// downloadsPrefix is the route the downloads handler is mounted on.
const downloadsPrefix = "/mcp/downloads/"

// DownloadsHandler serves cached documents over plain HTTP for clients
// that cannot read MCP resources. Paths mirror the cache key:
// /mcp/downloads/{namespace}/{fingerprint}.
type DownloadsHandler struct {
	cache outbound.ContentCache
}

// NewDownloadsHandler creates a downloads handler over the content
// cache.
func NewDownloadsHandler(contentCache outbound.ContentCache) *DownloadsHandler {
	return &DownloadsHandler{cache: contentCache}
}

func (h *DownloadsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, downloadsPrefix)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}
	namespace, fingerprint, ok := strings.Cut(rest, "/")
	if !ok || namespace == "" || fingerprint == "" || strings.Contains(fingerprint, "/") {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}

	entry, ok := h.cache.Get(cache.Key{Namespace: namespace, Fingerprint: fingerprint})
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Not Found")
		return
	}

	maxAge := int(entry.RemainingTTL(time.Now().UTC()) / time.Second)
	if maxAge < 0 {
		maxAge = 0
	}
	w.Header().Set("Content-Type", entry.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Payload)))
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(maxAge))
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadFilename(entry)+`"`)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Payload)
}

// downloadFilename derives a safe attachment name from the entry title,
// falling back to the fingerprint.
func downloadFilename(entry *cache.Entry) string {
	base := sanitizeFilename(entry.Title)
	if base == "" {
		base = entry.Key.Fingerprint
	}
	if strings.HasPrefix(entry.MIME, "text/markdown") {
		return base + ".md"
	}
	return base + ".txt"
}

// sanitizeFilename keeps letters and digits, mapping separators to
// dashes and capping length.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteByte('-')
		}
		if b.Len() >= 64 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
