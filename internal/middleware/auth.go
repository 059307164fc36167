// Package middleware holds the HTTP middleware shared by every module handler.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const userIDKey ctxKey = iota

// Verifier turns a bearer token into the id of the user it was issued to.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// Authenticator resolves the acting user from "Authorization: Bearer <token>".
// Websocket upgrades, which browsers cannot give headers, may pass the token
// as ?access_token= instead. Requests without a token pass through
// anonymously; a malformed or invalid token is rejected with 401.
type Authenticator struct {
	verifier Verifier
	log      logrus.FieldLogger
}

func NewAuthenticator(verifier Verifier, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{verifier: verifier, log: log}
}

func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				unauthorized(w, "invalid Authorization header format")
				return
			}
			token = parts[1]
		} else if isUpgrade(r) {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := a.verifier.Verify(token)
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Warn("token rejected")
			unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID stores the acting user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the acting user id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
