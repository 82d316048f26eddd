package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// postgresDSN renders the connection URL for lib/pq. An explicit PostgresURL
// wins; otherwise the URL is assembled from the individual fields so that
// passwords with reserved characters survive.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	var u *url.URL
	if cfg.PostgresURL != "" {
		parsed, err := url.Parse(cfg.PostgresURL)
		if err != nil {
			return "", fmt.Errorf("invalid postgres url: %w", err)
		}
		if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
			return "", fmt.Errorf("invalid postgres url scheme %q", parsed.Scheme)
		}
		u = parsed
	} else {
		host := cfg.PostgresHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		dbname := cfg.PostgresDB
		if dbname == "" {
			dbname = "fraudguard"
		}

		u = &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
			Path:   "/" + dbname,
		}
		if cfg.PostgresUser != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		}
	}

	q := u.Query()
	if cfg.PostgresSSLMode != "" {
		q.Set("sslmode", cfg.PostgresSSLMode)
	} else if !q.Has("sslmode") {
		q.Set("sslmode", "disable")
	}
	if !q.Has("connect_timeout") {
		q.Set("connect_timeout", "5")
	}
	if !q.Has("application_name") {
		q.Set("application_name", "fraudguard")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	// Pool defaults for a scoring node; New applies configured overrides.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
