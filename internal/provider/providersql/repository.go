package providersql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

const columns = `id, name, display_name, client_id, client_secret, openid_config_url, icon_url, scopes, additional_params, created_at, updated_at`

type Repository struct {
	db *pgxpool.Pool
}

var _ provider.Repository = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Get(ctx context.Context, name string) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_oidc_provider_sql")
	defer span.End()

	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM oidc_provider_config WHERE name = $1;`, name)

	p, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	return p, nil
}

func (r *Repository) List(ctx context.Context) ([]provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "list_oidc_providers_sql")
	defer span.End()

	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM oidc_provider_config ORDER BY name COLLATE "C";`)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return nil, err
		}

		return nil, fmt.Errorf("querying providers: %w", err)
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
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "count_oidc_providers_sql")
	defer span.End()

	var count int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM oidc_provider_config;`).Scan(&count); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("counting providers: %w", err)
	}

	return count, nil
}

func (r *Repository) Create(ctx context.Context, p provider.Provider) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "create_oidc_provider_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	scopes, params, err := marshalJSONColumns(p)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO oidc_provider_config (name, display_name, client_id, client_secret, openid_config_url, icon_url, scopes, additional_params)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
			 RETURNING `+columns+`;`,
		p.Name, p.DisplayName, p.ClientID, p.ClientSecret, p.DiscoveryURL, p.IconURL, scopes, params,
	)

	created, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return provider.Provider{}, fmt.Errorf("committing transaction: %w", err)
	}

	return created, nil
}

func (r *Repository) Update(ctx context.Context, name string, fn provider.UpdateFunc) (provider.Provider, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "update_oidc_provider_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock holds other writers of this provider until commit.
	current, err := scan(tx.QueryRow(ctx, `SELECT `+columns+` FROM oidc_provider_config WHERE name = $1 FOR UPDATE;`, name))
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

	row := tx.QueryRow(ctx,
		`UPDATE oidc_provider_config
			 SET display_name = $2, client_id = $3, client_secret = $4, openid_config_url = $5,
			     icon_url = NULLIF($6, ''), scopes = $7, additional_params = $8, updated_at = now()
			 WHERE id = $1
			 RETURNING `+columns+`;`,
		current.ID, p.DisplayName, p.ClientID, p.ClientSecret, p.DiscoveryURL, p.IconURL, scopes, params,
	)

	updated, err := scan(row)
	if err != nil {
		span.RecordError(err)
		return provider.Provider{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return provider.Provider{}, fmt.Errorf("committing transaction: %w", err)
	}

	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_oidc_provider_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SHARE ROW EXCLUSIVE conflicts with itself and with every writer, so
	// concurrent deletes see each other's count. Readers are not blocked.
	if _, err := tx.Exec(ctx, `LOCK TABLE oidc_provider_config IN SHARE ROW EXCLUSIVE MODE;`); err != nil {
		span.RecordError(err)
		return fmt.Errorf("locking providers: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM oidc_provider_config;`).Scan(&count); err != nil {
		span.RecordError(err)
		return fmt.Errorf("counting providers: %w", err)
	}

	if count <= 1 {
		return serviceerr.ErrInvalidState
	}

	ct, err := tx.Exec(ctx, `DELETE FROM oidc_provider_config WHERE name = $1;`, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing sql query: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func scan(row pgx.Row) (provider.Provider, error) {
	var (
		p                      provider.Provider
		iconURL                *string
		scopesJSON, paramsJSON []byte
	)

	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.ClientID, &p.ClientSecret, &p.DiscoveryURL,
		&iconURL, &scopesJSON, &paramsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return provider.Provider{}, serviceerr.ErrNotFound
		}
		if err, ok := handlePgError(err); ok {
			return provider.Provider{}, err
		}

		return provider.Provider{}, fmt.Errorf("scanning rows: %w", err)
	}

	if iconURL != nil {
		p.IconURL = *iconURL
	}

	if err := json.Unmarshal(scopesJSON, &p.Scopes); err != nil {
		return provider.Provider{}, fmt.Errorf("unmarshalling scopes: %w", err)
	}

	p.AdditionalParams = make(map[string]string)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &p.AdditionalParams); err != nil {
			return provider.Provider{}, fmt.Errorf("unmarshalling additional params: %w", err)
		}
		if p.AdditionalParams == nil {
			p.AdditionalParams = make(map[string]string)
		}
	}

	return p, nil
}

func marshalJSONColumns(p provider.Provider) (scopes, params []byte, _ error) {
	if p.Scopes == nil {
		p.Scopes = []string{}
	}
	scopes, err := json.Marshal(p.Scopes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling scopes: %w", err)
	}

	if p.AdditionalParams == nil {
		p.AdditionalParams = map[string]string{}
	}
	params, err = json.Marshal(p.AdditionalParams)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling additional params: %w", err)
	}

	return scopes, params, nil
}
