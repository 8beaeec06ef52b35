// internal/handlers/utils.go
package handlers

import (
	"net/http"
	"strings"
)

// authCookieName is the cookie the web client stores its token in.
const authCookieName = "auth_token"

// tokenFromRequest finds the bearer credential of a handshake or HTTP request. The
// Authorization header wins over the token query parameter, which wins over the cookie.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(authCookieName); err == nil {
		return c.Value
	}
	return ""
}
