// Bot management API — CRUD plus lifecycle control over Telegram bot
// sessions. Tokens are stored in full but only ever echoed back masked.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/store"
)

// BotInfo is a bot as the dashboard sees it.
type BotInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	FunnelID  string `json:"funnel_id"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) botInfo(b *store.Bot) BotInfo {
	running := false
	if s.bots != nil {
		running = s.bots.IsRunning(b.ID)
	}
	return BotInfo{
		ID:        b.ID,
		Name:      b.Name,
		Token:     maskToken(b.Token),
		FunnelID:  b.FunnelID,
		Enabled:   b.Enabled,
		Running:   running,
		CreatedAt: b.CreatedAt,
	}
}

func maskToken(token string) string {
	idx := strings.IndexByte(token, ':')
	if idx < 0 || idx+1 >= len(token) {
		return "****"
	}
	return token[:idx+1] + "****"
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBots(w, r)
	case http.MethodPost:
		s.handleCreateBot(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleBotByID dispatches /api/bots/{id} and the /start and /stop actions.
func (s *Server) handleBotByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bots/")
	parts := strings.SplitN(path, "/", 2)
	botID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "start":
			s.handleStartBot(w, r, botID)
		case "stop":
			s.handleStopBot(w, r, botID)
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetBot(w, r, botID)
	case http.MethodPut:
		s.handleUpdateBot(w, r, botID)
	case http.MethodDelete:
		s.handleDeleteBot(w, r, botID)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.db.ListBots(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	infos := make([]BotInfo, 0, len(bots))
	for i := range bots {
		infos = append(infos, s.botInfo(&bots[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bots":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request, botID string) {
	b, err := s.db.GetBot(r.Context(), botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "bot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.botInfo(b))
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Token    string `json:"token"`
		FunnelID string `json:"funnel_id"`
		Enabled  bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "bot name is required"})
		return
	}
	if err := funnel.ValidateBotToken(req.Token); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	b := &store.Bot{
		ID:       uuid.New().String(),
		Name:     req.Name,
		Token:    req.Token,
		FunnelID: req.FunnelID,
		Enabled:  req.Enabled,
	}
	if err := s.db.SaveBot(r.Context(), b); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.wsHub.Broadcast("bots_updated", map[string]string{"id": b.ID})
	logger.InfoCF("api", "Bot created", map[string]interface{}{
		logger.FieldBotID: b.ID,
	})
	writeJSON(w, http.StatusCreated, s.botInfo(b))
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request, botID string) {
	b, err := s.db.GetBot(r.Context(), botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "bot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		Name     *string `json:"name"`
		Token    *string `json:"token"`
		FunnelID *string `json:"funnel_id"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name != nil {
		b.Name = *req.Name
	}
	if req.Token != nil {
		if err := funnel.ValidateBotToken(*req.Token); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		b.Token = *req.Token
	}
	if req.FunnelID != nil {
		b.FunnelID = *req.FunnelID
	}
	if req.Enabled != nil {
		b.Enabled = *req.Enabled
	}

	if err := s.db.SaveBot(r.Context(), b); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.wsHub.Broadcast("bots_updated", map[string]string{"id": b.ID})
	writeJSON(w, http.StatusOK, s.botInfo(b))
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request, botID string) {
	if s.bots != nil && s.bots.IsRunning(botID) {
		_ = s.bots.StopBot(r.Context(), botID)
	}

	if err := s.db.DeleteBot(r.Context(), botID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "bot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.wsHub.Broadcast("bots_updated", map[string]string{"id": botID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request, botID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.bots == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "bot manager not running"})
		return
	}

	b, err := s.db.GetBot(r.Context(), botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "bot not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := s.bots.StartBot(r.Context(), b.ID, b.Token); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	_ = s.db.SetBotEnabled(r.Context(), botID, true)

	s.wsHub.Broadcast("bots_updated", map[string]string{"id": botID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request, botID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.bots == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "bot manager not running"})
		return
	}

	if err := s.bots.StopBot(r.Context(), botID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	_ = s.db.SetBotEnabled(r.Context(), botID, false)

	s.wsHub.Broadcast("bots_updated", map[string]string{"id": botID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
