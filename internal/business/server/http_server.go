package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/config"
	"github.com/openkcm/oidc-provider-manager/internal/middleware/responsewriter"
)

// Dependencies are the domain collaborators served over HTTP.
type Dependencies struct {
	Admin      ProviderAdmin
	Registry   RegistryReader
	Clients    ClientSource
	AdminToken []byte
}

// createHTTPServer creates an API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, deps Dependencies) *http.Server {
	admin := &adminHandler{admin: deps.Admin}
	login := &loginHandler{registry: deps.Registry, clients: deps.Clients, admin: deps.Admin}
	auth := requireAdminToken(deps.AdminToken)

	mux := http.NewServeMux()
	route := func(pattern, operationID string, h http.Handler) {
		mux.Handle(pattern, newTraceMiddleware(cfg, operationID)(h))
	}

	route("GET /oidc-providers", "ListProviders", auth(http.HandlerFunc(admin.list)))
	route("POST /oidc-providers", "CreateProvider", auth(http.HandlerFunc(admin.create)))
	route("GET /oidc-providers/{name}", "GetProvider", auth(http.HandlerFunc(admin.get)))
	route("PUT /oidc-providers/{name}", "UpdateProvider", auth(http.HandlerFunc(admin.update)))
	route("PATCH /oidc-providers/{name}", "PatchProvider", auth(http.HandlerFunc(admin.update)))
	route("DELETE /oidc-providers/{name}", "DeleteProvider", auth(http.HandlerFunc(admin.delete)))

	route("GET /auth/oidc/providers", "ListLoginProviders", http.HandlerFunc(login.providers))
	route("GET /auth/oidc/{name}/authorize", "Authorize", http.HandlerFunc(login.authorize))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: responsewriter.ResponseWriterMiddleware(mux),
	}
}

// StartHTTPServer starts the HTTP server using the given config and blocks
// until ctx is cancelled.
func StartHTTPServer(ctx context.Context, cfg *config.Config, deps Dependencies) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, deps)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
