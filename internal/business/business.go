package business

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/goccy/go-yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/business/server"
	"github.com/openkcm/oidc-provider-manager/internal/config"
	"github.com/openkcm/oidc-provider-manager/internal/oauthclient"
	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/provider/providersql"
	"github.com/openkcm/oidc-provider-manager/internal/provider/providersqlite"
)

// redirectURLEnv overrides oidc.redirectURL from the config file.
const redirectURLEnv = "OIDC_REDIRECT_URL"

// Main loads the provider registry and serves the HTTP API until ctx is done.
func Main(ctx context.Context, cfg *config.Config) error {
	repo, closeFn, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening the provider store: %w", err)
	}

	defer closeFn()

	registry := provider.NewRegistry()
	loadRegistry(ctx, provider.NewLoader(repo, registry), registry, os.Environ())

	service := provider.NewService(repo, registry)

	httpClient, err := loadHTTPClient(cfg.OIDC)
	if err != nil {
		return fmt.Errorf("loading http client: %w", err)
	}

	factory := oauthclient.NewFactory(registry, redirectTemplate(cfg.OIDC, os.Getenv),
		oauthclient.WithHTTPClient(httpClient),
		oauthclient.WithCacheTTL(cfg.OIDC.ClientCacheTTL),
	)

	// Warm the client cache; providers whose discovery fails are logged
	// and retried on first use.
	for _, c := range factory.BuildAll(ctx) {
		slogctx.Info(ctx, "OIDC provider ready", "provider", c.Name(), "redirect_url", c.RedirectURL())
	}

	adminToken, err := loadAdminToken(ctx, cfg.Admin)
	if err != nil {
		return err
	}

	return server.StartHTTPServer(ctx, cfg, server.Dependencies{
		Admin:      service,
		Registry:   registry,
		Clients:    factory,
		AdminToken: adminToken,
	})
}

// ProvidersListMain prints the stored providers as YAML.
func ProvidersListMain(ctx context.Context, cfg *config.Config) error {
	repo, closeFn, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening the provider store: %w", err)
	}

	defer closeFn()

	return listProviders(ctx, provider.NewService(repo, provider.NewRegistry()), os.Stdout)
}

type providerList struct {
	Providers []provider.View `yaml:"providers"`
}

func listProviders(ctx context.Context, admin server.ProviderAdmin, w io.Writer) error {
	views, err := admin.List(ctx)
	if err != nil {
		return fmt.Errorf("listing providers: %w", err)
	}

	out, err := yaml.Marshal(providerList{Providers: views})
	if err != nil {
		return fmt.Errorf("encoding providers: %w", err)
	}

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("writing providers: %w", err)
	}

	return nil
}

func openRepository(ctx context.Context, db config.Database) (_ provider.Repository, closeFn func(), _ error) {
	switch db.Driver {
	case config.DriverSQLite:
		connStr, err := config.MakeConnStr(db)
		if err != nil {
			return nil, nil, fmt.Errorf("making dsn from config: %w", err)
		}

		repo, err := providersqlite.Open(ctx, connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}

		return repo, func() { _ = repo.Close() }, nil
	case config.DriverPostgres, "":
		connStr, err := config.MakeConnStr(db)
		if err != nil {
			return nil, nil, fmt.Errorf("making dsn from config: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing pgxpool config: %w", err)
		}

		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
		}

		if err := otelpgx.RecordStats(pool); err != nil {
			slogctx.Warn(ctx, "Failed to record pgxpool stats", "error", err)
		}

		return providersql.NewRepository(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

// loadRegistry fills the registry from the store, or from the environment
// when the store fails or holds no providers. It returns the registered
// names.
func loadRegistry(ctx context.Context, loader *provider.Loader, registry *provider.Registry, environ []string) []string {
	res := loader.Load(ctx)
	if res.Failed() {
		slogctx.Warn(ctx, "Provider store not readable, trying the environment", "error", res.Err)
	}

	if len(res.Names) > 0 {
		return res.Names
	}

	names := make([]string, 0, 1)

	fb, err := provider.FallbackFromEnviron(environ)
	if err != nil {
		slogctx.Warn(ctx, "Ignoring the environment provider", "error", err)
	} else if cfg, ok := fb.Config(); ok {
		if err := registry.Register(cfg); err != nil {
			slogctx.Warn(ctx, "Ignoring the environment provider", "error", err)
		} else {
			slogctx.Info(ctx, "Registered OIDC provider from the environment", "provider", cfg.Name)
			names = append(names, cfg.Name)
		}
	}

	if len(names) == 0 {
		slogctx.Warn(ctx, "No OIDC providers registered; login is unavailable until one is created")
	}

	return names
}

func redirectTemplate(cfg config.OIDC, getenv func(string) string) oauthclient.RedirectTemplate {
	override := cfg.RedirectURL
	if v := getenv(redirectURLEnv); v != "" {
		override = v
	}

	return oauthclient.RedirectTemplate{
		WebDomain: cfg.WebDomain,
		Override:  override,
	}
}

func loadHTTPClient(cfg config.OIDC) (*http.Client, error) {
	if cfg.MTLS == nil {
		return http.DefaultClient, nil
	}

	tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
	if err != nil {
		return nil, fmt.Errorf("loading mTLS config: %w", err)
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

// loadAdminToken returns nil when no token is configured, which leaves the
// admin API closed.
func loadAdminToken(ctx context.Context, cfg config.Admin) ([]byte, error) {
	if cfg.Token.Source == "" {
		slogctx.Warn(ctx, "No admin token configured; the admin API rejects every request")
		return nil, nil
	}

	token, err := commoncfg.LoadValueFromSourceRef(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("loading admin token: %w", err)
	}

	return token, nil
}
