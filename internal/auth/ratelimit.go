package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	loginBurst    = 5
	loginInterval = time.Minute / loginBurst
	limiterIdle   = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles failed logins per client IP.
type LoginLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time
}

func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{entries: make(map[string]*limiterEntry), now: time.Now}
}

// Blocked reports whether ip has used up its failed attempts.
func (l *LoginLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		return false
	}
	return e.lim.TokensAt(l.now()) < 1
}

// Failure records a failed attempt from ip.
func (l *LoginLimiter) Failure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(loginInterval), loginBurst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	e.lim.AllowN(now, 1)
}

// Success forgets the failures of ip.
func (l *LoginLimiter) Success(ip string) {
	l.mu.Lock()
	delete(l.entries, ip)
	l.mu.Unlock()
}

func (l *LoginLimiter) pruneLocked(now time.Time) {
	for ip, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.entries, ip)
		}
	}
}
