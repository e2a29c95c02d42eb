// Package providersqlite stores provider configurations in a SQLite
// database. It serves single node deployments and local development where
// running PostgreSQL is not worth it.
package providersqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"modernc.org/sqlite"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
	migrations "github.com/openkcm/oidc-provider-manager/sql"
)

const (
	columns   = `id, name, display_name, client_id, client_secret, openid_config_url, icon_url, scopes, additional_params, created_at, updated_at`
	nowUTC    = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
	timestamp = time.RFC3339Nano
)

type Repository struct {
	db *sql.DB
}

var _ provider.Repository = (*Repository)(nil)

// Open opens the database at dsn and applies the embedded migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases
	// from being split across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configuring sqlite database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Migrate applies the embedded SQLite migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.SQLiteFS, "sqlite")
	if err != nil {
		return fmt.Errorf("opening sqlite migrations: %w", err)
	}

	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Get(ctx context.Context, name string) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oidc_provider_sqlite")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM oidc_provider_config WHERE name = ?;`, name)

	p, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	return p, nil
}

func (r *Repository) List(ctx context.Context) ([]provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "list_oidc_providers_sqlite")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM oidc_provider_config ORDER BY name;`)
	if err != nil {
		span.RecordError(err)
		return nil, mapError(err, "querying providers")
	}
	defer rows.Close()

	providers := make([]provider.Provider, 0)
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		providers = append(providers, p)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return providers, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "count_oidc_providers_sqlite")
	defer span.End()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM oidc_provider_config;`).Scan(&count); err != nil {
		span.RecordError(err)
		return 0, mapError(err, "counting providers")
	}

	return count, nil
}

func (r *Repository) Create(ctx context.Context, p provider.Provider) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "create_oidc_provider_sqlite")
	defer span.End()

	scopes, params, err := marshalJSONColumns(p)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO oidc_provider_config (name, display_name, client_id, client_secret, openid_config_url, icon_url, scopes, additional_params)
			 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
			 RETURNING `+columns+`;`,
		p.Name, p.DisplayName, p.ClientID, p.ClientSecret, p.DiscoveryURL, p.IconURL, scopes, params,
	)

	created, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	return created, nil
}

// Update runs in a transaction on the single connection, so writers of
// this process queue behind it. A writer in another process that commits
// first makes the write fail with SQLITE_BUSY instead of being lost.
func (r *Repository) Update(ctx context.Context, name string, fn provider.UpdateFunc) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "update_oidc_provider_sqlite")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scan(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM oidc_provider_config WHERE name = ?;`, name))
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	p, err := fn(current)
	if err != nil {
		return provider.Provider{}, err
	}

	scopes, params, err := marshalJSONColumns(p)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE oidc_provider_config
			 SET display_name = ?, client_id = ?, client_secret = ?, openid_config_url = ?,
			     icon_url = NULLIF(?, ''), scopes = ?, additional_params = ?, updated_at = `+nowUTC+`
			 WHERE id = ?
			 RETURNING `+columns+`;`,
		p.DisplayName, p.ClientID, p.ClientSecret, p.DiscoveryURL, p.IconURL, scopes, params, current.ID,
	)

	updated, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return provider.Provider{}, mapError(err, "committing transaction")
	}

	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_oidc_provider_sqlite")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The count only deletes when another row survives, so the check and
	// the delete are a single statement.
	res, err := tx.ExecContext(ctx,
		`DELETE FROM oidc_provider_config
			 WHERE name = ? AND (SELECT count(*) FROM oidc_provider_config) > 1;`, name)
	if err != nil {
		span.RecordError(err)
		return mapError(err, "executing sql query")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM oidc_provider_config;`).Scan(&count); err != nil {
			span.RecordError(err)
			return mapError(err, "counting providers")
		}
		if count <= 1 {
			return serviceerr.ErrInvalidState
		}
		return serviceerr.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return mapError(err, "committing transaction")
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (provider.Provider, error) {
	var (
		p                    provider.Provider
		iconURL, paramsJSON  sql.NullString
		scopesJSON           string
		createdAt, updatedAt string
	)

	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.ClientID, &p.ClientSecret, &p.DiscoveryURL,
		&iconURL, &scopesJSON, &paramsJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.Provider{}, serviceerr.ErrNotFound
		}

		return provider.Provider{}, mapError(err, "scanning rows")
	}

	p.IconURL = iconURL.String

	if err := json.Unmarshal([]byte(scopesJSON), &p.Scopes); err != nil {
		return provider.Provider{}, fmt.Errorf("unmarshalling scopes: %w", err)
	}

	p.AdditionalParams = make(map[string]string)
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &p.AdditionalParams); err != nil {
			return provider.Provider{}, fmt.Errorf("unmarshalling additional params: %w", err)
		}
		if p.AdditionalParams == nil {
			p.AdditionalParams = make(map[string]string)
		}
	}

	if p.CreatedAt, err = time.Parse(timestamp, createdAt); err != nil {
		return provider.Provider{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timestamp, updatedAt); err != nil {
		return provider.Provider{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	return p, nil
}

func mapError(err error, msg string) error {
	var sErr *sqlite.Error
	if errors.As(err, &sErr) {
		switch sErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return serviceerr.ErrConflict
		}
	}

	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %s: %w", serviceerr.ErrUnavailable, msg, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func marshalJSONColumns(p provider.Provider) (scopes, params string, _ error) {
	if p.Scopes == nil {
		p.Scopes = []string{}
	}
	b, err := json.Marshal(p.Scopes)
	if err != nil {
		return "", "", fmt.Errorf("marshaling scopes: %w", err)
	}
	scopes = string(b)

	if p.AdditionalParams == nil {
		p.AdditionalParams = map[string]string{}
	}
	b, err = json.Marshal(p.AdditionalParams)
	if err != nil {
		return "", "", fmt.Errorf("marshaling additional params: %w", err)
	}
	params = string(b)

	return scopes, params, nil
}
