// ABOUTME: Credential extraction from HTTP requests and WebSocket handshakes.
// ABOUTME: Authorization header takes precedence over the token query parameter.

package auth

import (
	"net/http"
	"strings"
)

// ExtractCredential pulls the bearer credential from a request. The
// Authorization header wins when both header and query parameter are
// present; a "Bearer " prefix is stripped if present. Returns "" when no
// credential was supplied.
func ExtractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ExtractQueryCredential pulls the credential from the token query parameter
// only. WebSocket handshakes have no custom header phase, so the duplex
// upgrade endpoint uses this narrower extraction.
func ExtractQueryCredential(r *http.Request) string {
	return r.URL.Query().Get("token")
}
