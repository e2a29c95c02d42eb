// Package oauthclient builds OAuth relying-party clients for the providers
// held in the registry.
package oauthclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

const (
	providerPlaceholder = "{provider}"
	defaultCacheTTL     = 10 * time.Minute
)

// ConfigSource is the read side of the provider registry.
type ConfigSource interface {
	Get(name string) (provider.Config, bool)
	List() []provider.Config
}

var _ ConfigSource = (*provider.Registry)(nil)

// RedirectTemplate decides the callback URL of each provider.
type RedirectTemplate struct {
	WebDomain string
	Override  string
}

// For returns the callback URL of the named provider. An override with a
// "{provider}" placeholder gets the name substituted; an override without
// one is used as is.
func (t RedirectTemplate) For(name string) string {
	if t.Override != "" {
		return strings.ReplaceAll(t.Override, providerPlaceholder, name)
	}

	return strings.TrimRight(t.WebDomain, "/") + "/auth/oidc/" + name + "/callback"
}

type Option func(*Factory)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// WithCacheTTL sets how long a built client is reused. Zero disables
// expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Factory) { f.cacheTTL = ttl }
}

// Factory turns registry entries into clients. Clients are cached by a
// fingerprint of the configuration they were built from, so a replaced
// registry entry always yields a fresh client.
type Factory struct {
	source     ConfigSource
	redirect   RedirectTemplate
	httpClient *http.Client
	cacheTTL   time.Duration
	cache      *cache.Cache
}

func NewFactory(source ConfigSource, redirect RedirectTemplate, opts ...Option) *Factory {
	f := &Factory{
		source:     source,
		redirect:   redirect,
		httpClient: http.DefaultClient,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	expiry := f.cacheTTL
	if expiry <= 0 {
		expiry = cache.NoExpiration
	}
	f.cache = cache.New(expiry, 2*defaultCacheTTL)

	return f
}

// Build returns the client of the named provider. It fails with
// serviceerr.ErrNotFound when the registry has no such entry.
func (f *Factory) Build(ctx context.Context, name string) (*Client, error) {
	cfg, ok := f.source.Get(name)
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, serviceerr.ErrNotFound)
	}

	return f.build(ctx, cfg)
}

// BuildAll builds a client for every registry entry in name order. A
// provider whose client cannot be built is logged and skipped.
func (f *Factory) BuildAll(ctx context.Context) []*Client {
	configs := f.source.List()

	clients := make([]*Client, 0, len(configs))
	for _, cfg := range configs {
		c, err := f.build(ctx, cfg)
		if err != nil {
			slogctx.Error(ctx, "Skipping OIDC provider", "provider", cfg.Name, "error", err)
			continue
		}
		clients = append(clients, c)
	}

	return clients
}

func (f *Factory) build(ctx context.Context, cfg provider.Config) (*Client, error) {
	if cfg.AdditionalParams == nil {
		cfg.AdditionalParams = map[string]string{}
	}
	redirectURL := f.redirect.For(cfg.Name)

	key, err := fingerprint(cfg, redirectURL)
	if err != nil {
		return nil, err
	}
	if cached, ok := f.cache.Get(key); ok {
		//nolint:forcetypeassert
		return cached.(*Client), nil
	}

	relyingParty, err := f.newRelyingParty(ctx, cfg, redirectURL)
	if err != nil {
		return nil, fmt.Errorf("creating relying party for %q: %w", cfg.Name, err)
	}

	c := &Client{
		name:        cfg.Name,
		redirectURL: redirectURL,
		params:      cfg.AdditionalParams,
		rp:          relyingParty,
	}
	f.cache.Set(key, c, cache.DefaultExpiration)

	slogctx.Debug(ctx, "Built OIDC client", "provider", cfg)

	return c, nil
}

func (f *Factory) newRelyingParty(ctx context.Context, cfg provider.Config, redirectURL string) (rp.RelyingParty, error) {
	newRP := func(issuer string) (rp.RelyingParty, error) {
		return rp.NewRelyingPartyOIDC(ctx,
			issuer,
			cfg.ClientID,
			cfg.ClientSecret,
			redirectURL,
			cfg.Scopes,
			rp.WithHTTPClient(f.httpClient),
			rp.WithCustomDiscoveryUrl(cfg.DiscoveryURL),
		)
	}

	relyingParty, err := newRP(issuerFor(cfg.DiscoveryURL))
	if !errors.Is(err, oidc.ErrIssuerInvalid) {
		return relyingParty, err
	}

	// The derived issuer misses providers that publish a trailing slash or
	// serve discovery behind a query string. The document has the last word.
	issuer, err := f.publishedIssuer(ctx, cfg.DiscoveryURL)
	if err != nil {
		return nil, err
	}

	slogctx.Debug(ctx, "Using the published issuer", "provider", cfg.Name, "issuer", issuer)

	return newRP(issuer)
}

// publishedIssuer reads the issuer from the discovery document at
// discoveryURL.
func (f *Factory) publishedIssuer(ctx context.Context, discoveryURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating discovery request: %w", err)
	}

	var doc oidc.DiscoveryConfiguration
	if err := httphelper.HttpRequest(f.httpClient, req, &doc); err != nil {
		return "", errors.Join(oidc.ErrDiscoveryFailed, err)
	}

	if doc.Issuer == "" {
		return "", oidc.ErrIssuerInvalid
	}

	return doc.Issuer, nil
}

// issuerFor derives the issuer from a discovery URL. Most providers publish
// their metadata right under the issuer.
func issuerFor(discoveryURL string) string {
	return strings.TrimSuffix(discoveryURL, oidc.DiscoveryEndpoint)
}

func fingerprint(cfg provider.Config, redirectURL string) (string, error) {
	b, err := json.Marshal(struct {
		provider.Config
		RedirectURL string
	}{cfg, redirectURL})
	if err != nil {
		return "", fmt.Errorf("fingerprinting provider %q: %w", cfg.Name, err)
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
