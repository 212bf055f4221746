package telegram

import (
	"context"
	"fmt"
	"sync"

	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/store"
)

// Manager owns the bot sessions and routes outbound messages to them. One
// bot failing to connect never stops the others.
type Manager struct {
	sessions  map[string]*Session
	bus       *bus.MessageBus
	users     UserStore
	sendRate  float64
	sendBurst int

	dispatchCancel context.CancelFunc
	outbound       *outboundQueues
	mu             sync.RWMutex
}

func NewManager(mb *bus.MessageBus, users UserStore, sendRate float64, sendBurst int) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		bus:       mb,
		users:     users,
		sendRate:  sendRate,
		sendBurst: sendBurst,
		// At most 32 sends in flight across all chats.
		outbound: newOutboundQueues(32),
	}
}

// StartBot connects one bot. If a session for this id already exists it is
// stopped first, so token edits take effect on restart.
func (m *Manager) StartBot(ctx context.Context, botID, token string) error {
	if err := funnel.ValidateBotToken(token); err != nil {
		return err
	}

	m.mu.Lock()
	if old, ok := m.sessions[botID]; ok {
		_ = old.Stop(ctx)
		delete(m.sessions, botID)
	}
	m.mu.Unlock()

	session, err := NewSession(botID, token, m.bus, m.users, m.sendRate, m.sendBurst)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[botID] = session
	m.mu.Unlock()
	return nil
}

func (m *Manager) StopBot(ctx context.Context, botID string) error {
	m.mu.Lock()
	session, ok := m.sessions[botID]
	if ok {
		delete(m.sessions, botID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("bot %s not running", botID)
	}
	return session.Stop(ctx)
}

// StartAll connects every enabled bot and begins dispatching outbound
// messages. Connection failures are logged per bot and skipped.
func (m *Manager) StartAll(ctx context.Context, bots []store.Bot) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.dispatchCancel = cancel
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	for _, b := range bots {
		if !b.Enabled {
			continue
		}
		if err := m.StartBot(ctx, b.ID, b.Token); err != nil {
			logger.ErrorCF("telegram", "Failed to start bot", map[string]interface{}{
				logger.FieldBotID: b.ID,
				logger.FieldError: err.Error(),
			})
			continue
		}
	}

	logger.InfoCF("telegram", "Bot sessions started", map[string]interface{}{
		"running": m.RunningCount(),
		"total":   len(bots),
	})
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			logger.ErrorCF("telegram", "Error stopping bot session", map[string]interface{}{
				logger.FieldBotID: s.BotID(),
				logger.FieldError: err.Error(),
			})
		}
	}
	logger.InfoC("telegram", "All bot sessions stopped")
}

func (m *Manager) IsRunning(botID string) bool {
	m.mu.RLock()
	session, ok := m.sessions[botID]
	m.mu.RUnlock()
	return ok && session.IsRunning()
}

func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.IsRunning() {
			n++
		}
	}
	return n
}

func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.sessions))
	for id, s := range m.sessions {
		status[id] = s.IsRunning()
	}
	return status
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("telegram", "Outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("telegram", "Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		session, exists := m.sessions[msg.BotID]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("telegram", "Outbound message for unknown bot", map[string]interface{}{
				logger.FieldBotID: msg.BotID,
			})
			continue
		}

		// Per-chat queues keep each conversation's messages in publish
		// order; the PIX intro must land before the confirm control.
		m.outbound.enqueue(ctx, session.Send, msg)
	}
}
