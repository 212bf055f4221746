// Funnel management API — CRUD over the persisted funnel definitions. Every
// write re-validates the funnel and atomically refreshes the registry the
// conversation engine reads.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/money"
	"pixfunnel/pkg/store"
)

func (s *Server) handleFunnels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListFunnels(w, r)
	case http.MethodPost:
		s.handleSaveFunnel(w, r, "")
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleFunnelByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/funnels/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "funnel id required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, ok := s.registry.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "funnel not found"})
			return
		}
		writeJSON(w, http.StatusOK, f)
	case http.MethodPut:
		s.handleSaveFunnel(w, r, id)
	case http.MethodDelete:
		s.handleDeleteFunnel(w, r, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleListFunnels(w http.ResponseWriter, r *http.Request) {
	funnels, err := s.db.ListFunnels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"funnels": funnels,
		"count":   len(funnels),
	})
}

func (s *Server) handleSaveFunnel(w http.ResponseWriter, r *http.Request, id string) {
	var f funnel.Funnel
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if id != "" {
		f.ID = id
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	for i := range f.Buttons {
		if f.Buttons[i].ID == "" {
			f.Buttons[i].ID = uuid.New().String()
		}
		if ob := f.Buttons[i].Orderbump; ob != nil && ob.ID == "" {
			ob.ID = uuid.New().String()
		}
	}

	if err := funnel.Validate(&f, money.Cents(s.config.Payment.CeilingCents)); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if err := s.db.SaveFunnel(r.Context(), &f); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.refreshRegistry(r)
	s.wsHub.Broadcast("funnels_updated", map[string]string{"id": f.ID})

	logger.InfoCF("api", "Funnel saved", map[string]interface{}{
		logger.FieldFunnelID: f.ID,
	})
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFunnel(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.db.DeleteFunnel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "funnel not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.refreshRegistry(r)
	s.wsHub.Broadcast("funnels_updated", map[string]string{"id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// refreshRegistry reloads the full funnel set and swaps the registry in one
// step, so in-flight conversations never observe a partial edit.
func (s *Server) refreshRegistry(r *http.Request) {
	funnels, err := s.db.ListFunnels(r.Context())
	if err != nil {
		logger.ErrorCF("api", "Registry refresh failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return
	}
	s.registry.ReplaceAll(funnels)
}
