package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
	"dodns/internal/httpx"
)

// Method says how a request was authenticated.
type Method string

const (
	MethodSession Method = "session"
	MethodToken   Method = "token"
)

// TokenUsername is recorded for token-authenticated requests.
const TokenUsername = "api-token"

type Principal struct {
	Username string
	Method   Method
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by the gate, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TokenSource yields the current API access token.
type TokenSource interface {
	APIToken(ctx context.Context) (string, error)
}

// Gate guards API handlers with a session cookie or the API access token.
type Gate struct {
	sessions *SessionManager
	tokens   TokenSource
	log      *logrus.Entry
}

func NewGate(sessions *SessionManager, tokens TokenSource, log *logrus.Entry) *Gate {
	return &Gate{sessions: sessions, tokens: tokens, log: log.WithField("component", "auth")}
}

// RequireSession admits only session-authenticated requests.
func (g *Gate) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return g.require(false, next)
}

// RequireSessionOrToken also admits requests carrying the API access token.
func (g *Gate) RequireSessionOrToken(next http.HandlerFunc) http.HandlerFunc {
	return g.require(true, next)
}

func (g *Gate) require(allowToken bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if presented := presentedToken(r); presented != "" && allowToken {
			if err := g.checkToken(r.Context(), presented); err != nil {
				httpx.WriteError(w, g.log, err)
				return
			}
			next(w, r.WithContext(WithPrincipal(r.Context(), Principal{Username: TokenUsername, Method: MethodToken})))
			return
		}

		s, ok := g.sessions.Lookup(r)
		if !ok {
			httpx.WriteError(w, g.log, apperr.Auth("Authentication required"))
			return
		}
		if isMutating(r.Method) {
			submitted := r.Header.Get("X-CSRF-Token")
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(s.CSRFToken)) != 1 {
				httpx.WriteError(w, g.log, apperr.Forbidden("Invalid CSRF token"))
				return
			}
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), Principal{Username: s.Username, Method: MethodSession})))
	}
}

func (g *Gate) checkToken(ctx context.Context, presented string) error {
	current, err := g.tokens.APIToken(ctx)
	if err != nil {
		return err
	}
	if current == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(current)) != 1 {
		return apperr.Auth("Invalid API token")
	}
	return nil
}

// presentedToken reads "Authorization: Bearer <t>" or "X-API-Token: <t>".
func presentedToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
