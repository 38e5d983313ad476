package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Config holds authentication configuration.
// Token grants every route. ReadOnlyToken, when set, grants GET and HEAD
// only, for displays that follow a session without changing it.
type Config struct {
	Enabled       bool
	Token         string
	ReadOnlyToken string
}

type role int

const (
	roleNone role = iota
	roleReader
	roleOperator
)

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/healthz":      true,
	"/readyz":       true,
	"/metrics":      true,
	"/api/v1/sites": true,
}

const snapshotPrefix = "/api/v1/handoff/"

// isPublic reports whether the request may skip auth. A snapshot read is
// public only by its random UUID, the capability handed to the detail view;
// aliases such as "latest" still need a token.
func isPublic(r *http.Request) bool {
	if publicPaths[r.URL.Path] {
		return true
	}
	if !isRead(r.Method) {
		return false
	}
	id, ok := strings.CutPrefix(r.URL.Path, snapshotPrefix)
	if !ok || strings.Contains(id, "/") {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// credential returns the presented token from "Authorization: Bearer" or
// the X-API-Key header.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.Header.Get("X-API-Key")
}

func (c Config) roleFor(token string) role {
	if token == "" {
		return roleNone
	}
	if c.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(c.Token)) == 1 {
		return roleOperator
	}
	if c.ReadOnlyToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(c.ReadOnlyToken)) == 1 {
		return roleReader
	}
	return roleNone
}

// Middleware enforces token auth on non-public requests when auth is enabled.
// A missing or unknown token yields 401; a read-only token on a write yields 403.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			switch cfg.roleFor(credential(r)) {
			case roleOperator:
				next.ServeHTTP(w, r)
			case roleReader:
				if isRead(r.Method) {
					next.ServeHTTP(w, r)
					return
				}
				deny(w, http.StatusForbidden, "read-only token")
			default:
				w.Header().Set("WWW-Authenticate", `Bearer realm="guidestar"`)
				deny(w, http.StatusUnauthorized, "unauthorized")
			}
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
