package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/oidc-provider-manager/internal/provider"
	"github.com/openkcm/oidc-provider-manager/internal/serviceerr"
)

const maxBodyBytes = 1 << 20

// ProviderAdmin is the set of admin operations the HTTP API exposes.
type ProviderAdmin interface {
	List(ctx context.Context) ([]provider.View, error)
	Get(ctx context.Context, name string) (provider.View, error)
	Create(ctx context.Context, req provider.CreateRequest) (provider.View, error)
	Update(ctx context.Context, name string, patch provider.Patch) (provider.View, error)
	Delete(ctx context.Context, name string) error
}

var _ ProviderAdmin = (*provider.Service)(nil)

type errorModel struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type adminHandler struct {
	admin ProviderAdmin
}

func (h *adminHandler) list(w http.ResponseWriter, r *http.Request) {
	views, err := h.admin.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, views)
}

func (h *adminHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.admin.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, view)
}

func (h *adminHandler) create(w http.ResponseWriter, r *http.Request) {
	var req provider.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	view, err := h.admin.Create(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusCreated, view)
}

// update serves both PUT and PATCH. Either way only the fields present in
// the body change.
func (h *adminHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch provider.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	view, err := h.admin.Update(r.Context(), r.PathValue("name"), patch)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, view)
}

func (h *adminHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), r.PathValue("name")); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireAdminToken rejects requests without the configured bearer token.
// An empty token rejects everything.
func requireAdminToken(token []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || len(token) == 0 || subtle.ConstantTimeCompare([]byte(got), token) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="oidc-providers"`)
				writeError(r.Context(), w, serviceerr.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding request body: %w", serviceerr.ErrInvalidRequest, err)
	}

	return nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(ctx, "Failed to write response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	status := serviceErr.HTTPStatus()
	model := errorModel{
		Error:            string(serviceErr.Err),
		ErrorDescription: serviceErr.Description,
	}

	if status >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Request failed", "error", err)
	} else {
		// Client errors carry the wrapped detail, such as the offending field.
		model.ErrorDescription = err.Error()
		slogctx.Debug(ctx, "Request rejected", "error", err)
	}

	writeJSON(ctx, w, status, model)
}
