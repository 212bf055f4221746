// Package api serves the operator dashboard: REST endpoints for funnels,
// bots and payment settings, plus a WebSocket feed of live events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pixfunnel/pkg/config"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/payment"
	"pixfunnel/pkg/store"
	"pixfunnel/pkg/telegram"
)

type Server struct {
	config     *config.Config
	configPath string
	db         *store.DB
	registry   *funnel.Registry
	bots       *telegram.Manager
	payments   *payment.Client
	wsHub      *WSHub
	startTime  time.Time
	server     *http.Server
}

func NewServer(cfg *config.Config, configPath string, db *store.DB, registry *funnel.Registry, bots *telegram.Manager, payments *payment.Client) *Server {
	s := &Server{
		config:     cfg,
		configPath: configPath,
		db:         db,
		registry:   registry,
		bots:       bots,
		payments:   payments,
		startTime:  time.Now(),
	}
	s.wsHub = NewWSHub(s)
	return s
}

// Handler builds the routing table. Split out from Start so tests can drive
// the API without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)

	mux.HandleFunc("/api/funnels", s.handleFunnels)
	mux.HandleFunc("/api/funnels/", s.handleFunnelByID)

	mux.HandleFunc("/api/bots", s.handleBots)
	mux.HandleFunc("/api/bots/", s.handleBotByID)

	mux.HandleFunc("/api/payments", s.handleListPayments)
	mux.HandleFunc("/api/config/payment", s.handlePaymentConfig)

	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	return corsMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Dashboard API server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	runningBots := 0
	if s.bots != nil {
		runningBots = s.bots.RunningCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"bots":           stats.Bots,
		"bots_running":   runningBots,
		"funnels":        stats.Funnels,
		"users":          stats.Users,
		"payments_paid":  stats.PaymentsPaid,
		"revenue_cents":  stats.RevenueCents,
	})
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	payments, err := s.db.ListPayments(r.Context(), r.URL.Query().Get("bot_id"), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

// handlePaymentConfig reads or replaces the PIX gateway credentials. The key
// is never echoed back; PUT persists the config and drops the payment
// client's credential cache so the next charge uses the new values.
func (s *Server) handlePaymentConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		apiBase, apiKey := s.config.PaymentCredentials()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_base":      apiBase,
			"api_key_set":   apiKey != "",
			"ceiling_cents": s.config.Payment.CeilingCents,
		})

	case http.MethodPut:
		var req struct {
			APIBase string `json:"api_base"`
			APIKey  string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		s.config.SetPaymentCredentials(req.APIBase, req.APIKey)
		if err := config.SaveConfig(s.configPath, s.config); err != nil {
			logger.WarnCF("api", "Failed to persist config", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
		if s.payments != nil {
			s.payments.Refresh()
		}
		s.wsHub.Broadcast("payment_config_updated", nil)
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
