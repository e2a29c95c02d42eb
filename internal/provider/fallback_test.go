package provider_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
)

func TestFallbackFromEnviron(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		want    provider.Config
		wantOK  bool
	}{
		{
			name:    "No variables",
			environ: []string{"HOME=/root", "PATH=/usr/bin"},
		},
		{
			name: "Missing secret",
			environ: []string{
				"OAUTH_CLIENT_ID=client",
				"OPENID_CONFIG_URL=https://idp.example.com/.well-known/openid-configuration",
			},
		},
		{
			name: "Base scopes",
			environ: []string{
				"OAUTH_CLIENT_ID=client",
				"OAUTH_CLIENT_SECRET=se=cret",
				"OPENID_CONFIG_URL=https://idp.example.com/.well-known/openid-configuration",
			},
			want: provider.Config{
				Name:             provider.FallbackName,
				ClientID:         "client",
				ClientSecret:     "se=cret",
				DiscoveryURL:     "https://idp.example.com/.well-known/openid-configuration",
				Scopes:           []string{"openid", "email", provider.OfflineAccessScope},
				AdditionalParams: map[string]string{},
			},
			wantOK: true,
		},
		{
			name: "Scope override",
			environ: []string{
				"OAUTH_CLIENT_ID=client",
				"OAUTH_CLIENT_SECRET=secret",
				"OPENID_CONFIG_URL=https://idp.example.com/.well-known/openid-configuration",
				"OIDC_SCOPE_OVERRIDE=openid, groups,,offline_access",
			},
			want: provider.Config{
				Name:             provider.FallbackName,
				ClientID:         "client",
				ClientSecret:     "secret",
				DiscoveryURL:     "https://idp.example.com/.well-known/openid-configuration",
				Scopes:           []string{"openid", "groups", provider.OfflineAccessScope},
				AdditionalParams: map[string]string{},
			},
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, err := provider.FallbackFromEnviron(tt.environ)
			require.NoError(t, err)

			got, ok := fb.Config()
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Unexpected fallback config (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultDisplayName(t *testing.T) {
	assert.Equal(t, "Default", provider.DefaultDisplayName(provider.FallbackName))
	assert.Equal(t, "Okta-eu", provider.DefaultDisplayName("okta-eu"))
	assert.Equal(t, "Azuread", provider.DefaultDisplayName("AzureAD"))
	assert.Equal(t, "", provider.DefaultDisplayName(""))
}
