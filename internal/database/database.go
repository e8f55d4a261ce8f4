package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL Driver
	"github.com/sirupsen/logrus"

	"dodns/internal/model"
	"dodns/internal/store"
)

const (
	keyAPIToken    = "do_api_token"
	keyDNSZone     = "do_dns_zone"
	keyAccessToken = "api_access_token"
)

// DB is the PostgreSQL store backend.
type DB struct {
	conn *sql.DB
}

func Open(ctx context.Context, dsn string, migrationsFS fs.FS, log *logrus.Entry) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single operator never needs a large pool.
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn, migrationsFS); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("Database migrations applied successfully")

	return &DB{conn: conn}, nil
}

func runMigrations(conn *sql.DB, migrationsFS fs.FS) error {
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("an error occurred while syncing the database: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func upsertSetting(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	return err
}

func (db *DB) LoadConfiguration(ctx context.Context) (model.Configuration, error) {
	token, err := db.getSetting(ctx, keyAPIToken)
	if err != nil {
		return model.Configuration{}, fmt.Errorf("loading %s: %w", keyAPIToken, err)
	}
	zone, err := db.getSetting(ctx, keyDNSZone)
	if err != nil {
		return model.Configuration{}, fmt.Errorf("loading %s: %w", keyDNSZone, err)
	}
	return model.Configuration{APIToken: token, DNSZone: zone}, nil
}

// SaveConfiguration writes both settings in one transaction so readers never
// observe a token from one save paired with a zone from another.
func (db *DB) SaveConfiguration(ctx context.Context, cfg model.Configuration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSetting(ctx, tx, keyAPIToken, cfg.APIToken); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("saving %s: %w", keyAPIToken, err)
	}
	if err := upsertSetting(ctx, tx, keyDNSZone, cfg.DNSZone); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("saving %s: %w", keyDNSZone, err)
	}
	return tx.Commit()
}

func (db *DB) APIToken(ctx context.Context) (string, error) {
	return db.getSetting(ctx, keyAccessToken)
}

func (db *DB) SetAPIToken(ctx context.Context, token string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := upsertSetting(ctx, tx, keyAccessToken, token); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("saving %s: %w", keyAccessToken, err)
	}
	return tx.Commit()
}

var _ store.Store = (*DB)(nil)
