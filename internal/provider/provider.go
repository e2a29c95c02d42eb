// Package provider holds the OIDC provider configurations of the login
// system: the durable store contract, the in-memory registry derived from
// it, the startup loader and the admin operations that keep both in step.
package provider

import (
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

// OfflineAccessScope requests a refresh token and must be part of every
// provider's scope set.
const OfflineAccessScope = "offline_access"

var defaultScopes = []string{"openid", "email", "profile", OfflineAccessScope}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,62}$`)

// DefaultScopes returns the scopes used when a provider is created without any.
func DefaultScopes() []string {
	return slices.Clone(defaultScopes)
}

// Provider is a durable provider configuration row.
type Provider struct {
	ID               int64
	Name             string
	DisplayName      string
	ClientID         string
	ClientSecret     string
	DiscoveryURL     string
	IconURL          string
	Scopes           []string
	AdditionalParams map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Config returns the registry projection of the row.
func (p Provider) Config() Config {
	return Config{
		Name:             p.Name,
		ClientID:         p.ClientID,
		ClientSecret:     p.ClientSecret,
		DiscoveryURL:     p.DiscoveryURL,
		Scopes:           slices.Clone(p.Scopes),
		AdditionalParams: maps.Clone(p.AdditionalParams),
	}
}

// View returns the public projection of the row. Credentials are never part of it.
func (p Provider) View() View {
	return View{
		Name:         p.Name,
		DisplayName:  p.DisplayName,
		IconURL:      p.IconURL,
		DiscoveryURL: p.DiscoveryURL,
	}
}

// Config is what the registry keeps per provider: everything needed to
// build an OAuth client and nothing presentational.
type Config struct {
	Name             string
	ClientID         string
	ClientSecret     string
	DiscoveryURL     string
	Scopes           []string
	AdditionalParams map[string]string
}

// LogValue keeps the client secret out of the logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.String("client_id", c.ClientID),
		slog.String("discovery_url", c.DiscoveryURL),
		slog.Any("scopes", c.Scopes),
	)
}

func (c Config) clone() Config {
	c.Scopes = slices.Clone(c.Scopes)
	c.AdditionalParams = maps.Clone(c.AdditionalParams)
	if c.AdditionalParams == nil {
		c.AdditionalParams = map[string]string{}
	}
	return c
}

// View is the public projection returned by the admin operations.
type View struct {
	Name         string `json:"name" yaml:"name"`
	DisplayName  string `json:"display_name" yaml:"displayName"`
	IconURL      string `json:"icon_url,omitempty" yaml:"iconURL,omitempty"`
	DiscoveryURL string `json:"openid_config_url" yaml:"openidConfigURL"`
}

// CreateRequest carries the fields of a new provider. Scopes and
// AdditionalParams are optional.
type CreateRequest struct {
	Name             string            `json:"name"`
	DisplayName      string            `json:"display_name"`
	ClientID         string            `json:"client_id"`
	ClientSecret     string            `json:"client_secret"`
	DiscoveryURL     string            `json:"openid_config_url"`
	IconURL          *string           `json:"icon_url,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
}

// Patch is a partial update. A nil field leaves the stored value unchanged;
// there is no way to clear a field, icon_url included.
type Patch struct {
	DisplayName      *string           `json:"display_name,omitempty"`
	ClientID         *string           `json:"client_id,omitempty"`
	ClientSecret     *string           `json:"client_secret,omitempty"`
	DiscoveryURL     *string           `json:"openid_config_url,omitempty"`
	IconURL          *string           `json:"icon_url,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
}

// apply returns a copy of p with the patch applied and its scopes normalised.
func (pt Patch) apply(p Provider) Provider {
	if pt.DisplayName != nil {
		p.DisplayName = *pt.DisplayName
	}
	if pt.ClientID != nil {
		p.ClientID = *pt.ClientID
	}
	if pt.ClientSecret != nil {
		p.ClientSecret = *pt.ClientSecret
	}
	if pt.DiscoveryURL != nil {
		p.DiscoveryURL = *pt.DiscoveryURL
	}
	// An empty icon URL reads as absent; icons can be replaced, not cleared.
	if pt.IconURL != nil && *pt.IconURL != "" {
		p.IconURL = *pt.IconURL
	}
	if pt.Scopes != nil {
		p.Scopes = EnsureOfflineAccess(pt.Scopes)
	}
	if pt.AdditionalParams != nil {
		p.AdditionalParams = maps.Clone(pt.AdditionalParams)
	}
	return p
}

// EnsureOfflineAccess returns the scopes in their original order with
// blanks and duplicates dropped and offline_access appended when missing.
func EnsureOfflineAccess(scopes []string) []string {
	out := make([]string, 0, len(scopes)+1)
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	if !slices.Contains(out, OfflineAccessScope) {
		out = append(out, OfflineAccessScope)
	}
	return out
}

// NormalizeScopes falls back to the default scopes for an empty set and
// enforces offline_access otherwise.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return DefaultScopes()
	}
	return EnsureOfflineAccess(scopes)
}

func (r CreateRequest) provider() Provider {
	p := Provider{
		Name:             strings.TrimSpace(r.Name),
		DisplayName:      r.DisplayName,
		ClientID:         r.ClientID,
		ClientSecret:     r.ClientSecret,
		DiscoveryURL:     r.DiscoveryURL,
		Scopes:           NormalizeScopes(r.Scopes),
		AdditionalParams: maps.Clone(r.AdditionalParams),
	}
	if r.IconURL != nil {
		p.IconURL = *r.IconURL
	}
	if p.AdditionalParams == nil {
		p.AdditionalParams = map[string]string{}
	}
	return p
}

// validate checks a complete row before it is written.
func validate(p Provider) error {
	if !nameRe.MatchString(p.Name) {
		return fmt.Errorf("%w: name %q must be 1-63 characters of letters, digits, '.', '_' or '-'", serviceerr.ErrValidation, p.Name)
	}

	required := []struct{ field, value string }{
		{"display_name", p.DisplayName},
		{"client_id", p.ClientID},
		{"client_secret", p.ClientSecret},
		{"openid_config_url", p.DiscoveryURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is required", serviceerr.ErrValidation, r.field)
		}
	}

	if err := validateURL("openid_config_url", p.DiscoveryURL); err != nil {
		return err
	}
	if p.IconURL != "" {
		if err := validateURL("icon_url", p.IconURL); err != nil {
			return err
		}
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", serviceerr.ErrValidation, field)
	}
	return nil
}
