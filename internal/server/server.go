package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"dodns/internal/auth"
	"dodns/internal/config"
	"dodns/internal/database"
	"dodns/internal/handler"
	"dodns/internal/httpx"
	"dodns/internal/service"
	"dodns/internal/store"
	"dodns/internal/util"
	"dodns/web"
)

const shutdownTimeout = 10 * time.Second

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.Open(ctx, cfg.Database.DSN, web.MigrationsFS(), log.WithField("component", "database"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		fs, err := store.OpenFile(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// App is the wired API.
type App struct {
	Credentials *service.Credentials
	Handler     http.Handler
}

// New wires the services and handlers over st. connect builds the
// DigitalOcean client for a token.
func New(cfg *config.Config, st store.Store, connect service.Connector, version string, log *logrus.Entry) (*App, error) {
	sessions, err := auth.NewSessionManager(cfg.Auth.SessionTTL, cfg.Auth.SecureCookie)
	if err != nil {
		return nil, fmt.Errorf("failed to init session manager: %w", err)
	}

	var ldapClient *auth.LDAPClient
	if cfg.LDAP.Enabled {
		ldapClient = auth.NewLDAPClient(cfg.LDAP)
		log.WithFields(logrus.Fields{"url": cfg.LDAP.URL, "group": cfg.LDAP.AllowedGroup}).Info("LDAP authentication enabled")
	}
	authn, err := auth.NewAuthenticator(cfg.Auth, ldapClient, log)
	if err != nil {
		return nil, err
	}

	creds := service.NewCredentials(st, connect, log)
	records := service.NewRecords(creds, log)
	gate := auth.NewGate(sessions, creds, log)
	auditor := handler.NewAuditor(st, cfg.Server.TrustProxy, log)

	healthH := handler.NewHealthHandler(creds, version)
	authH := handler.NewAuthHandler(authn, sessions, auth.NewLoginLimiter(), creds, auditor, log)
	configH := handler.NewConfigHandler(creds, auditor, log)
	recH := handler.NewRecordHandler(records, auditor, log)
	auditH := handler.NewAuditHandler(st, log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", healthH.Health)

	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.HandleFunc("POST /api/auth/logout", gate.RequireSession(authH.Logout))
	mux.HandleFunc("GET /api/auth/status", authH.Status)
	mux.HandleFunc("GET /api/auth/api-token", gate.RequireSession(authH.APIToken))
	mux.HandleFunc("POST /api/auth/api-token/regenerate", gate.RequireSession(authH.RegenerateAPIToken))

	mux.HandleFunc("GET /api/config/status", configH.Status)
	mux.HandleFunc("GET /api/config", gate.RequireSessionOrToken(configH.Get))
	mux.HandleFunc("POST /api/config", gate.RequireSessionOrToken(configH.Save))
	mux.HandleFunc("POST /api/config/test", gate.RequireSessionOrToken(configH.Test))

	mux.HandleFunc("GET /api/records", gate.RequireSessionOrToken(recH.List))
	mux.HandleFunc("POST /api/records", gate.RequireSessionOrToken(recH.Create))
	mux.HandleFunc("PUT /api/records/{type}/{name...}", gate.RequireSessionOrToken(recH.Update))
	mux.HandleFunc("DELETE /api/records/{type}/{name...}", gate.RequireSessionOrToken(recH.Delete))

	mux.HandleFunc("GET /api/audit", gate.RequireSessionOrToken(auditH.List))

	mux.HandleFunc("/", httpx.NotFound)

	return &App{
		Credentials: creds,
		Handler:     logRequests(log.WithField("component", "http"), cfg.Server.TrustProxy, mux),
	}, nil
}

// Run serves h on addr until ctx is cancelled, then drains for up to
// shutdownTimeout.
func Run(ctx context.Context, addr string, h http.Handler, log *logrus.Entry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func logRequests(log *logrus.Entry, trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		entry := log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sr.status,
			"duration": time.Since(start).String(),
			"ip":       util.ClientIP(r, trustProxy),
		})
		if r.URL.Path == "/api/health" {
			entry.Debug("request")
			return
		}
		entry.Info("request")
	})
}
