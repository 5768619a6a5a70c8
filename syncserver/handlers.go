// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// HTTPHandlers is the HTTP surface of the sync server.
type HTTPHandlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHTTPHandlers creates the handler set.
func NewHTTPHandlers(service *Service, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{service: service, logger: logger}
}

// Register mounts all routes on the mux: POST /sync, GET /events,
// GET /healthz and uniform CRUD per collection.
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sync", h.HandleSync)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	if hub := h.service.Hub(); hub != nil {
		mux.HandleFunc("GET /events", hub.HandleEvents)
	}
	for _, collection := range syncstore.Collections {
		c := collection
		mux.HandleFunc("GET /"+c, func(w http.ResponseWriter, r *http.Request) { h.handleList(w, r, c) })
		mux.HandleFunc("POST /"+c, func(w http.ResponseWriter, r *http.Request) { h.handleCreate(w, r, c) })
		mux.HandleFunc("PATCH /"+c+"/{id}", func(w http.ResponseWriter, r *http.Request) { h.handlePatch(w, r, c) })
		mux.HandleFunc("DELETE /"+c+"/{id}", func(w http.ResponseWriter, r *http.Request) { h.handleDelete(w, r, c) })
	}
}

// HandleSync processes one batch sync round.
func (h *HTTPHandlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to parse sync request")
		return
	}
	if req.ClientID == "" {
		h.writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	resp, err := h.service.ProcessSync(r.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to process sync round", "client_id", req.ClientID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process sync")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports service status.
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "healthy",
		Collections: syncstore.Collections,
		ServerTime:  time.Now().UnixMilli(),
	})
}

func (h *HTTPHandlers) handleList(w http.ResponseWriter, r *http.Request, collection string) {
	filter := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			filter[key] = vals[0]
		}
	}
	recs, err := h.service.ListRecords(r.Context(), collection, filter)
	if err != nil {
		h.logger.Error("List failed", "collection", collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list "+collection)
		return
	}
	if recs == nil {
		recs = []syncstore.Record{}
	}
	h.writeJSON(w, http.StatusOK, recs)
}

func (h *HTTPHandlers) handleCreate(w http.ResponseWriter, r *http.Request, collection string) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rec, err := h.service.CreateRecord(r.Context(), collection, fields)
	if err != nil {
		if errors.Is(err, syncstore.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Create failed", "collection", collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create record")
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *HTTPHandlers) handlePatch(w http.ResponseWriter, r *http.Request, collection string) {
	id := r.PathValue("id")
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rec, err := h.service.PatchRecord(r.Context(), collection, id, fields)
	if err != nil {
		if errors.Is(err, syncstore.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, syncstore.KindName(collection)+" not found")
			return
		}
		h.logger.Error("Patch failed", "collection", collection, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to update record")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandlers) handleDelete(w http.ResponseWriter, r *http.Request, collection string) {
	id := r.PathValue("id")
	found, err := h.service.DeleteRecord(r.Context(), collection, id)
	if err != nil {
		h.logger.Error("Delete failed", "collection", collection, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to delete record")
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, syncstore.KindName(collection)+" not found")
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteResponse{Success: true, ID: id})
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
