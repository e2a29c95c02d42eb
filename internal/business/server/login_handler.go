package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/oauthclient"
	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

// ClientSource is what the login routes need from the client factory.
type ClientSource interface {
	Build(ctx context.Context, name string) (*oauthclient.Client, error)
}

// RegistryReader lists the providers that currently have login routes.
type RegistryReader interface {
	Names() []string
}

var (
	_ ClientSource   = (*oauthclient.Factory)(nil)
	_ RegistryReader = (*provider.Registry)(nil)
)

type loginProvider struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	AuthorizeURL string `json:"authorize_url"`
}

type authorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

type loginHandler struct {
	registry RegistryReader
	clients  ClientSource
	admin    ProviderAdmin
}

// providers lists every registered provider with its authorize route.
// Stored display names are used where the store is readable.
func (h *loginHandler) providers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	displayNames := make(map[string]string)
	views, err := h.admin.List(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Using default display names", "error", err)
	}
	for _, v := range views {
		displayNames[v.Name] = v.DisplayName
	}

	names := h.registry.Names()
	out := make([]loginProvider, 0, len(names))
	for _, name := range names {
		display, ok := displayNames[name]
		if !ok || display == "" {
			display = provider.DefaultDisplayName(name)
		}

		out = append(out, loginProvider{
			Name:         name,
			DisplayName:  display,
			AuthorizeURL: "/auth/oidc/" + name + "/authorize",
		})
	}

	writeJSON(ctx, w, http.StatusOK, out)
}

// authorize returns the provider's authorization URL for a fresh state.
// Verifying the state on callback belongs to the authorization code router.
func (h *loginHandler) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	client, err := h.clients.Build(ctx, name)
	if err != nil {
		if !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Error(ctx, "Failed to build OIDC client", "provider", name, "error", err)
			err = serviceerr.ErrProviderUnavailable
		}
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, authorizeResponse{
		AuthorizationURL: client.AuthURL(uuid.NewString()),
	})
}
