package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/openkcm/oidc-provider-manager/internal/config"
	"github.com/openkcm/oidc-provider-manager/internal/oauthclient"
	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/provider/providermock"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

const adminToken = "s3cr3t"

type testEnv struct {
	handler  http.Handler
	repo     *providermock.Repository
	registry *provider.Registry
	idp      *httptest.Server
}

func newTestEnv(t *testing.T, opts ...providermock.RepositoryOption) *testEnv {
	t.Helper()

	var idp *httptest.Server
	idp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != oidc.DiscoveryEndpoint {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(oidc.DiscoveryConfiguration{
			Issuer:                idp.URL,
			AuthorizationEndpoint: idp.URL + "/oauth2/authorize",
			TokenEndpoint:         idp.URL + "/oauth2/token",
			JwksURI:               idp.URL + "/.well-known/jwks.json",
		})
	}))
	t.Cleanup(idp.Close)

	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	repo := providermock.NewInMemRepository(opts...)
	registry := provider.NewRegistry()
	res := provider.NewLoader(repo, registry).Load(t.Context())
	require.False(t, res.Failed())

	factory := oauthclient.NewFactory(registry, oauthclient.RedirectTemplate{WebDomain: "https://app.example.com"},
		oauthclient.WithHTTPClient(idp.Client()))

	srv := createHTTPServer(t.Context(), cfg, Dependencies{
		Admin:      provider.NewService(repo, registry),
		Registry:   registry,
		Clients:    factory,
		AdminToken: []byte(adminToken),
	})

	return &testEnv{handler: srv.Handler, repo: repo, registry: registry, idp: idp}
}

func (e *testEnv) do(t *testing.T, method, target, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) row(name string) provider.Provider {
	return provider.Provider{
		Name:             name,
		DisplayName:      "Display " + name,
		ClientID:         "client-" + name,
		ClientSecret:     "secret-" + name,
		DiscoveryURL:     e.idp.URL + oidc.DiscoveryEndpoint,
		Scopes:           []string{"openid", "offline_access"},
		AdditionalParams: map[string]string{},
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAdminAPI_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"Missing header", ""},
		{"Wrong scheme", "Basic " + adminToken},
		{"Wrong token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/oidc-providers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, string(serviceerr.CodeUnauthorized), decode[errorModel](t, w).Error)
		})
	}
}

func TestAdminAPI_EmptyTokenRejectsEverything(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	srv := createHTTPServer(t.Context(), cfg, Dependencies{
		Admin:    provider.NewService(providermock.NewInMemRepository(), provider.NewRegistry()),
		Registry: provider.NewRegistry(),
	})

	req := httptest.NewRequest(http.MethodGet, "/oidc-providers", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAPI_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   serviceerr.Code
	}{
		{
			name:       "Created",
			body:       `{"name":"okta","display_name":"Okta","client_id":"c","client_secret":"s","openid_config_url":"https://okta.example.com/.well-known/openid-configuration","scopes":["openid"]}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "Duplicate name",
			body:       `{"name":"existing","display_name":"Dup","client_id":"c","client_secret":"s","openid_config_url":"https://dup.example.com/.well-known/openid-configuration"}`,
			wantStatus: http.StatusConflict,
			wantCode:   serviceerr.CodeConflict,
		},
		{
			name:       "Missing field",
			body:       `{"name":"okta","display_name":"Okta","client_id":"c","openid_config_url":"https://okta.example.com/.well-known/openid-configuration"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   serviceerr.CodeInvalidRequest,
		},
		{
			name:       "Malformed JSON",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   serviceerr.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.repo.Create(t.Context(), env.row("existing"))
			require.NoError(t, err)

			w := env.do(t, http.MethodPost, "/oidc-providers", tt.body, true)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantCode != "" {
				assert.Equal(t, string(tt.wantCode), decode[errorModel](t, w).Error)
				return
			}

			assert.NotContains(t, w.Body.String(), "client_secret")
			view := decode[provider.View](t, w)
			assert.Equal(t, "okta", view.Name)

			cfg, ok := env.registry.Get("okta")
			require.True(t, ok)
			assert.Equal(t, []string{"openid", "offline_access"}, cfg.Scopes)
		})
	}
}

func TestAdminAPI_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"okta", "azure"} {
		_, err := env.repo.Create(t.Context(), env.row(name))
		require.NoError(t, err)
	}

	w := env.do(t, http.MethodGet, "/oidc-providers", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-")

	views := decode[[]provider.View](t, w)
	want := []provider.View{
		{Name: "azure", DisplayName: "Display azure", DiscoveryURL: env.idp.URL + oidc.DiscoveryEndpoint},
		{Name: "okta", DisplayName: "Display okta", DiscoveryURL: env.idp.URL + oidc.DiscoveryEndpoint},
	}
	if diff := cmp.Diff(want, views); diff != "" {
		t.Fatalf("Unexpected providers (-want, +got):\n%s", diff)
	}

	w = env.do(t, http.MethodGet, "/oidc-providers/okta", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "okta", decode[provider.View](t, w).Name)

	w = env.do(t, http.MethodGet, "/oidc-providers/ghost", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAPI_UpdateWithPutAndPatch(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.repo.Create(t.Context(), env.row("okta"))
			require.NoError(t, err)

			w := env.do(t, method, "/oidc-providers/okta", `{"scopes":["email"],"display_name":"Okta EU"}`, true)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "Okta EU", decode[provider.View](t, w).DisplayName)

			row, _ := env.repo.TGet("okta")
			assert.Equal(t, []string{"email", "offline_access"}, row.Scopes)
			assert.Equal(t, "client-okta", row.ClientID)

			w = env.do(t, method, "/oidc-providers/ghost", `{"display_name":"Ghost"}`, true)
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestAdminAPI_Delete(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"okta", "azure"} {
		_, err := env.repo.Create(t.Context(), env.row(name))
		require.NoError(t, err)
	}

	w := env.do(t, http.MethodDelete, "/oidc-providers/okta", "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/oidc-providers/azure", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(serviceerr.CodeInvalidState), decode[errorModel](t, w).Error)
	assert.Equal(t, 1, env.repo.TLen())
}

func TestAdminAPI_StoreFailureIsAServerError(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	broken := providermock.NewInMemRepository(providermock.WithListError(context.DeadlineExceeded))
	srv := createHTTPServer(t.Context(), cfg, Dependencies{
		Admin:      provider.NewService(broken, provider.NewRegistry()),
		Registry:   provider.NewRegistry(),
		AdminToken: []byte(adminToken),
	})

	req := httptest.NewRequest(http.MethodGet, "/oidc-providers", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "deadline")
}

func TestLoginAPI_Providers(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.repo.Create(t.Context(), env.row("okta"))
	require.NoError(t, err)

	require.NoError(t, env.registry.Register(env.row("okta").Config()))
	fallback := env.row(provider.FallbackName).Config()
	require.NoError(t, env.registry.Register(fallback))

	w := env.do(t, http.MethodGet, "/auth/oidc/providers", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[[]loginProvider](t, w)
	want := []loginProvider{
		{Name: "default", DisplayName: "Default", AuthorizeURL: "/auth/oidc/default/authorize"},
		{Name: "okta", DisplayName: "Display okta", AuthorizeURL: "/auth/oidc/okta/authorize"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Unexpected login providers (-want, +got):\n%s", diff)
	}
}

func TestLoginAPI_Authorize(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.registry.Register(env.row("okta").Config()))

	broken := env.row("broken").Config()
	broken.DiscoveryURL = env.idp.URL + "/missing" + oidc.DiscoveryEndpoint
	require.NoError(t, env.registry.Register(broken))

	w := env.do(t, http.MethodGet, "/auth/oidc/okta/authorize", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	authURL, err := url.Parse(decode[authorizeResponse](t, w).AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, "client-okta", authURL.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/auth/oidc/okta/callback", authURL.Query().Get("redirect_uri"))
	assert.NotEmpty(t, authURL.Query().Get("state"))

	w = env.do(t, http.MethodGet, "/auth/oidc/ghost/authorize", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/auth/oidc/broken/authorize", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStartHTTPServer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	cfg := &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: 1 * time.Second,
		},
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, cfg, Dependencies{
			Admin:    provider.NewService(providermock.NewInMemRepository(), provider.NewRegistry()),
			Registry: provider.NewRegistry(),
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down within timeout")
	}
}

func TestCreateHTTPServer(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Address = "unix:///tmp/test.sock"

	server := createHTTPServer(t.Context(), cfg, Dependencies{})

	assert.NotNil(t, server)
	assert.Equal(t, "unix:///tmp/test.sock", server.Addr)
	assert.NotNil(t, server.Handler)
}
