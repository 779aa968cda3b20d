// Package api implements the REST surface of spec §6.1 on top of the Store
// Store and the Provisioning Worker.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/storeplane/internal/httpserver"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// installSubmitter covers the two Worker operations the API layer drives.
type installSubmitter interface {
	SubmitInstall(id string)
	SubmitDelete(id string)
}

// Handler serves the /api/v1 store endpoints.
type Handler struct {
	store  *storerecord.Store
	worker installSubmitter
	logger *slog.Logger
}

// NewHandler builds the store API Handler.
func NewHandler(store *storerecord.Store, worker installSubmitter, logger *slog.Logger) *Handler {
	return &Handler{store: store, worker: worker, logger: logger}
}

// Mount registers the store routes onto r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/stores", h.handleList)
	r.Post("/stores", h.handleCreate)
	r.Get("/stores/{id}", h.handleGet)
	r.Delete("/stores/{id}", h.handleDelete)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing stores", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list stores")
		return
	}

	out := make([]StoreResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toStoreResponse(rec))
	}
	httpserver.Respond(w, http.StatusOK, StoreListResponse{Stores: out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, storerecord.ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "store not found")
		return
	}
	if err != nil {
		h.logger.Error("getting store", "store_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get store")
		return
	}
	httpserver.Respond(w, http.StatusOK, toStoreResponse(rec))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rec, err := h.store.Create(r.Context(), storerecord.CreateParams{
		Name:          req.Name,
		Engine:        storerecord.Engine(req.Engine),
		AdminUsername: req.AdminUsername,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	})
	switch {
	case errors.Is(err, storerecord.ErrInvalid):
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, storerecord.ErrNameConflict):
		httpserver.RespondError(w, http.StatusConflict, "name_conflict", "a store with this name already exists")
		return
	case err != nil:
		h.logger.Error("creating store", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create store")
		return
	}

	h.worker.SubmitInstall(rec.ID)
	httpserver.Respond(w, http.StatusAccepted, toStoreResponse(rec))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, storerecord.ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "store not found")
		return
	}
	if err != nil {
		h.logger.Error("getting store for delete", "store_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get store")
		return
	}

	if rec.Status == storerecord.StatusDeleted {
		httpserver.RespondError(w, http.StatusConflict, "already_deleted", "store is already deleted")
		return
	}

	updated, err := h.store.UpdateStatus(r.Context(), id, storerecord.StatusDeleting)
	if errors.Is(err, storerecord.ErrIllegalTransition) {
		httpserver.RespondError(w, http.StatusConflict, "already_deleted", "store cannot be deleted from its current status")
		return
	}
	if err != nil {
		h.logger.Error("transitioning store to DELETING", "store_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete store")
		return
	}

	h.worker.SubmitDelete(updated.ID)
	httpserver.Respond(w, http.StatusAccepted, DeleteStoreResponse{ID: updated.ID, Status: string(updated.Status)})
}
