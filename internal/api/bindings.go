package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/scada-overlay/internal/entity"
)

// bindingRequest is the body of PUT /bindings/{name}.
type bindingRequest struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
}

func (s *Server) handleListBindings(w http.ResponseWriter, _ *http.Request) {
	if s.bindings == nil {
		writeJSON(w, http.StatusOK, map[string]any{"bindings": []entity.Binding{}, "count": 0})
		return
	}
	bindings := s.bindings.Bindings()
	writeJSON(w, http.StatusOK, map[string]any{
		"bindings": bindings,
		"count":    len(bindings),
	})
}

func (s *Server) handlePutBinding(w http.ResponseWriter, r *http.Request) {
	if s.bindings == nil {
		writeUnavailable(w, "binding store not configured")
		return
	}

	var req bindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	b := entity.Binding{
		Name: chi.URLParam(r, "name"),
		Ref:  entity.Ref{ID: req.EntityID, EntityType: req.EntityType},
	}
	if err := s.bindings.Upsert(r.Context(), b); err != nil {
		if errors.Is(err, entity.ErrInvalidBinding) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("saving binding failed", "name", b.Name, "error", err)
		writeInternalError(w, "saving binding failed")
		return
	}

	s.logger.Info("binding saved", "name", b.Name, "entity_id", req.EntityID)
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	if s.bindings == nil {
		writeUnavailable(w, "binding store not configured")
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.bindings.Delete(r.Context(), name); err != nil {
		if errors.Is(err, entity.ErrBindingNotFound) {
			writeNotFound(w, "binding not found")
			return
		}
		s.logger.Error("deleting binding failed", "name", name, "error", err)
		writeInternalError(w, "deleting binding failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
