// Package telegram runs one long-polling session per bot and translates
// between raw Telegram updates and the canonical event bus.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/logger"
)

const (
	apiCallTimeout         = 15 * time.Second
	maxConcurrentHandlers  = 32
	stopWaitHandlersPeriod = 5 * time.Second
	pollingRestartDelay    = 5 * time.Second
)

// UserStore records users seen by a bot. Upserts are best effort; failures
// are logged and the conversation continues.
type UserStore interface {
	UpsertTelegramUser(ctx context.Context, botID string, userID, chatID int64, username, firstName string) error
}

// Session is one bot's connection to Telegram. Outbound sends go through a
// per-bot rate limiter so one busy funnel cannot trip Telegram's flood
// control for the whole process.
type Session struct {
	botID   string
	bot     *telego.Bot
	bus     *bus.MessageBus
	users   UserStore
	limiter *rate.Limiter

	mu        sync.RWMutex
	running   bool
	runCancel context.CancelFunc

	handleSem chan struct{}
	handleWG  sync.WaitGroup
}

func NewSession(botID, token string, mb *bus.MessageBus, users UserStore, sendRate float64, sendBurst int) (*Session, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if sendRate <= 0 {
		sendRate = 25
	}
	if sendBurst <= 0 {
		sendBurst = 5
	}
	return &Session{
		botID:     botID,
		bot:       bot,
		bus:       mb,
		users:     users,
		limiter:   rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		handleSem: make(chan struct{}, maxConcurrentHandlers),
	}, nil
}

func (s *Session) BotID() string { return s.botID }

func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Start verifies the token against the API, then begins long polling. A bad
// token fails here and the caller decides what to do with this one bot;
// other sessions are unaffected.
func (s *Session) Start(ctx context.Context) error {
	if s.IsRunning() {
		return nil
	}

	getMeCtx, cancelGetMe := context.WithTimeout(ctx, apiCallTimeout)
	botInfo, err := s.bot.GetMe(getMeCtx)
	cancelGetMe()
	if err != nil {
		return fmt.Errorf("failed to verify bot credentials: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	updates, err := s.bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start updates polling: %w", err)
	}

	s.mu.Lock()
	s.runCancel = cancel
	s.running = true
	s.mu.Unlock()

	logger.InfoCF("telegram", "Bot session connected", map[string]interface{}{
		logger.FieldBotID: s.botID,
		"username":        botInfo.Username,
	})

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.WarnCF("telegram", "Updates channel closed unexpectedly, attempting to restart polling...", map[string]interface{}{
						logger.FieldBotID: s.botID,
					})
					s.setRunning(false)

					select {
					case <-runCtx.Done():
						return
					case <-time.After(pollingRestartDelay):
					}

					newUpdates, err := s.bot.UpdatesViaLongPolling(runCtx, nil)
					if err != nil {
						logger.ErrorCF("telegram", "Failed to restart updates polling", map[string]interface{}{
							logger.FieldBotID: s.botID,
							logger.FieldError: err.Error(),
						})
						continue
					}

					updates = newUpdates
					s.setRunning(true)
					logger.InfoCF("telegram", "Updates polling restarted successfully", map[string]interface{}{
						logger.FieldBotID: s.botID,
					})
					continue
				}
				s.dispatchHandleUpdate(runCtx, update)
			}
		}
	}()

	return nil
}

func (s *Session) Stop(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}
	logger.InfoCF("telegram", "Stopping bot session", map[string]interface{}{
		logger.FieldBotID: s.botID,
	})
	s.setRunning(false)

	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopWaitHandlersPeriod):
		logger.WarnCF("telegram", "Timeout waiting for update handlers to stop", map[string]interface{}{
			logger.FieldBotID: s.botID,
		})
	}

	return nil
}

func (s *Session) dispatchHandleUpdate(runCtx context.Context, update telego.Update) {
	s.handleWG.Add(1)
	go func(update telego.Update) {
		defer s.handleWG.Done()

		select {
		case <-runCtx.Done():
			return
		case s.handleSem <- struct{}{}:
		}
		defer func() { <-s.handleSem }()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCF("telegram", "Recovered panic in update handler", map[string]interface{}{
					logger.FieldBotID: s.botID,
					"panic":           fmt.Sprintf("%v", r),
				})
			}
		}()

		s.handleUpdate(runCtx, update)
	}(update)
}

func (s *Session) handleUpdate(runCtx context.Context, update telego.Update) {
	// Always answer callbacks, even undecodable ones, or the client keeps
	// its loading spinner.
	if update.CallbackQuery != nil {
		ackCtx, cancel := context.WithTimeout(runCtx, apiCallTimeout)
		if err := s.bot.AnswerCallbackQuery(ackCtx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: update.CallbackQuery.ID,
		}); err != nil {
			logger.DebugCF("telegram", "Callback answer failed", map[string]interface{}{
				logger.FieldBotID: s.botID,
				logger.FieldError: err.Error(),
			})
		}
		cancel()
	}

	ev, ok := DecodeUpdate(s.botID, update)
	if !ok {
		return
	}

	if s.users != nil && ev.UserID != 0 {
		upsertCtx, cancel := context.WithTimeout(runCtx, apiCallTimeout)
		if err := s.users.UpsertTelegramUser(upsertCtx, s.botID, ev.UserID, ev.ChatID, ev.Username, ev.FirstName); err != nil {
			logger.WarnCF("telegram", "User upsert failed", map[string]interface{}{
				logger.FieldBotID: s.botID,
				logger.FieldError: err.Error(),
			})
		}
		cancel()
	}

	s.bus.PublishInbound(ev)
}

// Send delivers one outbound message. Photo payloads go out as photos with
// the text as caption; a failed media fetch degrades to plain text rather
// than losing the message.
func (s *Session) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !s.IsRunning() {
		return fmt.Errorf("bot session %s not running", s.botID)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	chatID := telegoutil.ID(msg.ChatID)
	markup := buildKeyboard(msg.Buttons)

	if len(msg.PhotoPNG) > 0 {
		params := telegoutil.Photo(chatID, telegoutil.File(telegoutil.NameReader(bytes.NewReader(msg.PhotoPNG), "pix.png")))
		if msg.Text != "" {
			params = params.WithCaption(msg.Text)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err := s.bot.SendPhoto(ctx, params)
		if err == nil {
			return nil
		}
		logger.WarnCF("telegram", "Photo send failed, falling back to text", map[string]interface{}{
			logger.FieldBotID:  s.botID,
			logger.FieldChatID: msg.ChatID,
			logger.FieldError:  err.Error(),
		})
	} else if msg.MediaURL != "" {
		params := telegoutil.Photo(chatID, telegoutil.FileFromURL(msg.MediaURL))
		if msg.Text != "" {
			params = params.WithCaption(msg.Text)
		}
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		_, err := s.bot.SendPhoto(ctx, params)
		if err == nil {
			return nil
		}
		logger.WarnCF("telegram", "Media send failed, falling back to text", map[string]interface{}{
			logger.FieldBotID:  s.botID,
			logger.FieldChatID: msg.ChatID,
			logger.FieldError:  err.Error(),
		})
	}

	if msg.Text == "" {
		return nil
	}

	params := telegoutil.Message(chatID, msg.Text)
	if markup != nil {
		params = params.WithReplyMarkup(markup)
	}
	_, err := s.bot.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func buildKeyboard(rows [][]bus.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kbRows := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := telegoutil.InlineKeyboardButton(b.Text)
			if b.Link != "" {
				btn = btn.WithURL(b.Link)
			} else {
				btn = btn.WithCallbackData(b.Data)
			}
			btns = append(btns, btn)
		}
		kbRows = append(kbRows, btns)
	}
	return telegoutil.InlineKeyboard(kbRows...)
}
