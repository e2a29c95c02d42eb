package business

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/oidc-provider-manager/internal/config"
	"github.com/openkcm/oidc-provider-manager/internal/provider/providersqlite"
	migrations "github.com/openkcm/oidc-provider-manager/sql"
)

// MigrateMain starts the database migration
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	driver := cfg.Database.SQLDriver()

	dbSystemName := semconv.DBSystemNamePostgreSQL
	if cfg.Database.Driver == config.DriverSQLite {
		dbSystemName = semconv.DBSystemNameKey.String("sqlite")
	}

	db, err := otelsql.Open(driver, connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}

	defer func() {
		err = reg.Unregister()
		if err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	if cfg.Database.Driver == config.DriverSQLite {
		return providersqlite.Migrate(ctx, db)
	}

	return migratePostgres(ctx, db, driver)
}

func migratePostgres(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations.FS)

	err := goose.SetDialect(dialect)
	if err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	err = goose.UpContext(ctx, db, ".")
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
