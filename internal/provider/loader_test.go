package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/provider/providermock"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

func TestLoader_Load(t *testing.T) {
	okta := testRow("okta")
	azure := testRow("azure")
	azure.Scopes = nil
	azure.AdditionalParams = nil

	tests := []struct {
		name      string
		opts      []providermock.RepositoryOption
		wantNames []string
		wantErr   bool
	}{
		{
			name:      "Empty store",
			wantNames: []string{},
		},
		{
			name: "Two rows",
			opts: []providermock.RepositoryOption{
				providermock.WithProvider(okta),
				providermock.WithProvider(azure),
			},
			wantNames: []string{"azure", "okta"},
		},
		{
			name: "Store unavailable",
			opts: []providermock.RepositoryOption{
				providermock.WithListError(errors.New(`relation "oidc_provider_config" does not exist`)),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := provider.NewRegistry()
			loader := provider.NewLoader(providermock.NewInMemRepository(tt.opts...), registry)

			res := loader.Load(t.Context())

			if tt.wantErr {
				assert.True(t, res.Failed())
				assert.ErrorIs(t, res.Err, serviceerr.ErrUnavailable)
				assert.Empty(t, res.Names)
				assert.Zero(t, registry.Len())
				return
			}

			require.False(t, res.Failed())
			assert.Equal(t, tt.wantNames, res.Names)
			for _, name := range tt.wantNames {
				_, ok := registry.Get(name)
				assert.True(t, ok, "provider %q should be registered", name)
			}
		})
	}
}

func TestLoader_LoadNormalizesRows(t *testing.T) {
	noScopes := testRow("no-scopes")
	noScopes.Scopes = nil
	noScopes.AdditionalParams = nil

	missingOffline := testRow("missing-offline")
	missingOffline.Scopes = []string{"openid", "groups"}

	repo := providermock.NewInMemRepository(
		providermock.WithProvider(noScopes),
		providermock.WithProvider(missingOffline),
	)
	registry := provider.NewRegistry()

	res := provider.NewLoader(repo, registry).Load(t.Context())
	require.False(t, res.Failed())

	got, ok := registry.Get("no-scopes")
	require.True(t, ok)
	assert.Equal(t, provider.DefaultScopes(), got.Scopes)
	assert.NotNil(t, got.AdditionalParams)

	got, ok = registry.Get("missing-offline")
	require.True(t, ok)
	assert.Equal(t, []string{"openid", "groups", provider.OfflineAccessScope}, got.Scopes)
}
