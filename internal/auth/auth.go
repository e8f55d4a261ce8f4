package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dodns/internal/model"
)

const cookieName = "dodns_session"

// SessionManager keeps sessions in memory; they do not survive a restart.
// The cookie carries "<id>.<hmac(id)>" signed with a per-process key.
type SessionManager struct {
	key          []byte
	ttl          time.Duration
	secureCookie bool
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]model.Session
}

func NewSessionManager(ttl time.Duration, secureCookie bool) (*SessionManager, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	return &SessionManager{
		key:          key,
		ttl:          ttl,
		secureCookie: secureCookie,
		now:          time.Now,
		sessions:     make(map[string]model.Session),
	}, nil
}

func (sm *SessionManager) CreateSession(w http.ResponseWriter, username string) (model.Session, error) {
	id, err := generateToken()
	if err != nil {
		return model.Session{}, err
	}
	csrfToken, err := generateToken()
	if err != nil {
		return model.Session{}, err
	}

	now := sm.now()
	s := model.Session{
		ID:        id,
		Username:  username,
		CSRFToken: csrfToken,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.ttl),
	}

	sm.mu.Lock()
	sm.sweepLocked(now)
	sm.sessions[id] = s
	sm.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id + "." + sm.sign(id),
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return s, nil
}

func (sm *SessionManager) DestroySession(w http.ResponseWriter, r *http.Request) {
	if id, ok := sm.cookieID(r); ok {
		sm.mu.Lock()
		delete(sm.sessions, id)
		sm.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secureCookie,
		MaxAge:   -1,
	})
}

// Lookup returns the live session for the request's cookie.
func (sm *SessionManager) Lookup(r *http.Request) (model.Session, bool) {
	id, ok := sm.cookieID(r)
	if !ok {
		return model.Session{}, false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	if !sm.now().Before(s.ExpiresAt) {
		delete(sm.sessions, id)
		return model.Session{}, false
	}
	return s, true
}

func (sm *SessionManager) cookieID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	id, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(sm.sign(id))) {
		return "", false
	}
	return id, true
}

// sweepLocked drops expired sessions. mu must be held.
func (sm *SessionManager) sweepLocked(now time.Time) {
	for id, s := range sm.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(sm.sessions, id)
		}
	}
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.key)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
