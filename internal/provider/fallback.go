package provider

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-viper/mapstructure/v2"
)

// FallbackName is the registry name of the environment derived provider.
const FallbackName = "default"

// baseScopes are the scopes of the fallback provider without an override.
var baseScopes = []string{"openid", "email"}

// Fallback describes the single legacy provider configured through the
// environment. It is only used when the store yields no providers.
type Fallback struct {
	ClientID      string `mapstructure:"OAUTH_CLIENT_ID"`
	ClientSecret  string `mapstructure:"OAUTH_CLIENT_SECRET"`
	DiscoveryURL  string `mapstructure:"OPENID_CONFIG_URL"`
	ScopeOverride string `mapstructure:"OIDC_SCOPE_OVERRIDE"`
}

// FallbackFromEnviron decodes the fallback provider from KEY=value pairs
// as returned by os.Environ.
func FallbackFromEnviron(environ []string) (Fallback, error) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}

	var fb Fallback
	if err := mapstructure.Decode(vars, &fb); err != nil {
		return Fallback{}, fmt.Errorf("decoding fallback provider: %w", err)
	}

	return fb, nil
}

// Config returns the registry configuration of the fallback provider. The
// second value is false unless client id, secret and discovery URL are set.
func (f Fallback) Config() (Config, bool) {
	if f.ClientID == "" || f.ClientSecret == "" || f.DiscoveryURL == "" {
		return Config{}, false
	}

	scopes := baseScopes
	if f.ScopeOverride != "" {
		scopes = strings.Split(f.ScopeOverride, ",")
	}

	return Config{
		Name:             FallbackName,
		ClientID:         f.ClientID,
		ClientSecret:     f.ClientSecret,
		DiscoveryURL:     f.DiscoveryURL,
		Scopes:           EnsureOfflineAccess(scopes),
		AdditionalParams: map[string]string{},
	}, true
}

// DefaultDisplayName is the label shown for a provider without a stored
// display name, such as the fallback provider: the first letter upper-cased
// and the rest lower-cased.
func DefaultDisplayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(name[size:])
}
