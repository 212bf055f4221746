// Package engine runs the per-chat sales conversation: welcome screen,
// button choices, orderbump upsell, PIX generation and payment confirmation.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/money"
	"pixfunnel/pkg/payment"
	"pixfunnel/pkg/store"
)

const maxConcurrentChats = 16

// Gateway is the slice of the payment client the engine needs.
type Gateway interface {
	GeneratePix(ctx context.Context, amount money.Cents, description string) (*payment.Charge, error)
	CheckStatus(ctx context.Context, transactionID string) (*payment.Status, error)
	Ceiling() money.Cents
}

// FunnelResolver maps a bot to the funnel it currently serves.
type FunnelResolver interface {
	FunnelForBot(botID string) (*funnel.Funnel, bool)
}

// Auditor records the payment trail. May be nil; auditing is best effort
// and never blocks a conversation.
type Auditor interface {
	RecordPayment(ctx context.Context, p *store.Payment) error
	UpdatePaymentStatus(ctx context.Context, id, status string) error
}

type stateKind int

const (
	stateIdle stateKind = iota
	stateAwaitingChoice
	stateAwaitingOrderbumpChoice
	stateAwaitingPaymentConfirmation
)

// chatState is the conversation position for one chat. Its mutex serializes
// event handling per chat; different chats proceed in parallel.
type chatState struct {
	mu            sync.Mutex
	kind          stateKind
	pendingButton string
}

type Engine struct {
	funnels FunnelResolver
	gateway Gateway
	bus     *bus.MessageBus
	txs     *store.TxStore
	audit   Auditor

	mu     sync.Mutex
	states map[store.ChatKey]*chatState
	wg     sync.WaitGroup
}

func New(funnels FunnelResolver, gateway Gateway, mb *bus.MessageBus, txs *store.TxStore, audit Auditor) *Engine {
	return &Engine{
		funnels: funnels,
		gateway: gateway,
		bus:     mb,
		txs:     txs,
		audit:   audit,
		states:  make(map[store.ChatKey]*chatState),
	}
}

// Run consumes inbound events until the context is cancelled. Events are
// dispatched on worker goroutines behind a semaphore; the per-chat mutex
// keeps each conversation strictly ordered.
func (e *Engine) Run(ctx context.Context) {
	logger.InfoC("engine", "Conversation engine started")
	sem := make(chan struct{}, maxConcurrentChats)

	for {
		ev, ok := e.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		sem <- struct{}{}
		e.wg.Add(1)
		go func(ev bus.InboundEvent) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("engine", "Panic while handling event", map[string]interface{}{
						logger.FieldBotID:  ev.BotID,
						logger.FieldChatID: ev.ChatID,
						"panic":            r,
					})
				}
				<-sem
				e.wg.Done()
			}()
			e.Handle(ctx, ev)
		}(ev)
	}

	e.wg.Wait()
	logger.InfoC("engine", "Conversation engine stopped")
}

// Handle processes one event synchronously. Exported for direct use in
// tests and by callers that manage their own dispatch.
func (e *Engine) Handle(ctx context.Context, ev bus.InboundEvent) {
	key := store.ChatKey{BotID: ev.BotID, ChatID: ev.ChatID}
	st := e.state(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch ev.Type {
	case bus.EventStart:
		e.handleStart(key, st, ev)
	case bus.EventText:
		// Free text never advances or resets the conversation; the session
		// layer already recorded the interaction.
		logger.DebugCF("engine", "Text received", map[string]interface{}{
			logger.FieldBotID:  ev.BotID,
			logger.FieldChatID: ev.ChatID,
		})
	case bus.EventButtonPress:
		e.handleButtonPress(ctx, key, st, ev)
	case bus.EventOrderbumpAccept:
		e.handleOrderbumpChoice(ctx, key, st, ev, true)
	case bus.EventOrderbumpReject:
		e.handleOrderbumpChoice(ctx, key, st, ev, false)
	case bus.EventConfirmPayment:
		e.handleConfirm(ctx, key, st, ev)
	default:
		logger.WarnCF("engine", "Unknown event type", map[string]interface{}{
			logger.FieldBotID: ev.BotID,
			"type":            string(ev.Type),
		})
	}
}

func (e *Engine) state(key store.ChatKey) *chatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[key]
	if !ok {
		st = &chatState{}
		e.states[key] = st
	}
	return st
}

func (e *Engine) send(msg bus.OutboundMessage) {
	e.bus.PublishOutbound(msg)
}

func (e *Engine) handleStart(key store.ChatKey, st *chatState, ev bus.InboundEvent) {
	f, ok := e.funnels.FunnelForBot(ev.BotID)
	if !ok {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgFunnelUnavailable})
		st.kind = stateIdle
		return
	}
	e.sendWelcome(ev, f)
	st.kind = stateAwaitingChoice
	st.pendingButton = ""
}

func (e *Engine) sendWelcome(ev bus.InboundEvent, f *funnel.Funnel) {
	rows := make([][]bus.Button, 0, len(f.Buttons))
	for i := range f.Buttons {
		b := &f.Buttons[i]
		rows = append(rows, []bus.Button{{Text: buttonLabel(b), Data: bus.ButtonToken(b.ID)}})
	}
	e.send(bus.OutboundMessage{
		BotID:    ev.BotID,
		ChatID:   ev.ChatID,
		Text:     f.WelcomeMessage,
		MediaURL: f.MediaURL,
		Buttons:  rows,
	})
}

// buttonLabel renders the menu entry for a button: "Mensal - 29,90 (PIX)".
func buttonLabel(b *funnel.Button) string {
	label := b.Name
	if b.Value != "" {
		label += " - " + b.Value
	}
	if b.GeneratePIX {
		label += " (PIX)"
	}
	return label
}

// handleButtonPress accepts presses from any state: the user may tap an old
// keyboard while a PIX is pending, superseding the previous transaction.
func (e *Engine) handleButtonPress(ctx context.Context, key store.ChatKey, st *chatState, ev bus.InboundEvent) {
	f, ok := e.funnels.FunnelForBot(ev.BotID)
	if !ok {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgFunnelUnavailable})
		st.kind = stateIdle
		return
	}

	b, ok := f.FindButton(ev.ButtonID)
	if !ok {
		// Stale keyboard from a previous funnel version.
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgUnknownButton})
		e.sendWelcome(ev, f)
		st.kind = stateAwaitingChoice
		return
	}

	if b.Orderbump != nil {
		e.sendOrderbumpPrompt(ev, b)
		st.kind = stateAwaitingOrderbumpChoice
		st.pendingButton = b.ID
		return
	}

	e.performButtonAction(ctx, key, st, ev, f, b, false)
}

func (e *Engine) sendOrderbumpPrompt(ev bus.InboundEvent, b *funnel.Button) {
	ob := b.Orderbump
	acceptText := ob.AcceptText
	if acceptText == "" {
		acceptText = "Sim, quero! 🔥"
	}
	rejectText := ob.RejectText
	if rejectText == "" {
		rejectText = "Não, obrigado"
	}
	e.send(bus.OutboundMessage{
		BotID:    ev.BotID,
		ChatID:   ev.ChatID,
		Text:     ob.Title,
		MediaURL: ob.MediaURL,
		Buttons: [][]bus.Button{
			{{Text: acceptText, Data: bus.OrderbumpAcceptToken(b.ID)}},
			{{Text: rejectText, Data: bus.OrderbumpRejectToken(b.ID)}},
		},
	})
}

func (e *Engine) handleOrderbumpChoice(ctx context.Context, key store.ChatKey, st *chatState, ev bus.InboundEvent, accepted bool) {
	f, ok := e.funnels.FunnelForBot(ev.BotID)
	if !ok {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgFunnelUnavailable})
		st.kind = stateIdle
		return
	}

	if st.kind != stateAwaitingOrderbumpChoice || st.pendingButton != ev.ButtonID {
		// Stale accept/reject tap; restart from the menu.
		e.sendWelcome(ev, f)
		st.kind = stateAwaitingChoice
		st.pendingButton = ""
		return
	}

	b, ok := f.FindButton(ev.ButtonID)
	if !ok {
		e.sendWelcome(ev, f)
		st.kind = stateAwaitingChoice
		st.pendingButton = ""
		return
	}

	// Acknowledge the choice before the PIX messages so the confirm button
	// stays the latest message in the chat.
	if accepted {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgBumpAccepted})
	} else {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgBumpRejected})
	}

	e.performButtonAction(ctx, key, st, ev, f, b, accepted)
}

// performButtonAction resolves a button to its effective action, in strict
// priority order: pre-populated PIX code, generated PIX charge, invalid
// value report, external link, unconfigured fallback.
func (e *Engine) performButtonAction(ctx context.Context, key store.ChatKey, st *chatState, ev bus.InboundEvent, f *funnel.Funnel, b *funnel.Button, bumpAccepted bool) {
	st.pendingButton = ""

	if b.GeneratePIX && b.PIXData != "" {
		e.sendPixMessages(ev, b.Name, b.PIXData, "", buttonAmountOrZero(b))
		st.kind = stateAwaitingChoice
		return
	}

	// A parseable value always means a charge; the link is a true fallback,
	// never an alternative to payment.
	if _, err := b.Amount(); err == nil {
		e.generateAndSendPix(ctx, key, st, ev, f, b, bumpAccepted)
		return
	}

	if b.Link != "" {
		e.send(bus.OutboundMessage{
			BotID:  ev.BotID,
			ChatID: ev.ChatID,
			Text:   msgLinkButton(b.Name),
			Buttons: [][]bus.Button{
				{{Text: b.Name, Link: b.Link}},
			},
		})
		st.kind = stateAwaitingChoice
		return
	}

	e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgNotConfigured})
	st.kind = stateAwaitingChoice
}

func buttonAmountOrZero(b *funnel.Button) money.Cents {
	amount, err := b.Amount()
	if err != nil {
		return 0
	}
	return amount
}

func (e *Engine) generateAndSendPix(ctx context.Context, key store.ChatKey, st *chatState, ev bus.InboundEvent, f *funnel.Funnel, b *funnel.Button, bumpAccepted bool) {
	amount, err := b.Amount()

	var bumpAmount money.Cents
	var bumpMessage string
	if bumpAccepted && b.Orderbump != nil {
		ba, berr := b.Orderbump.Amount()
		if berr == nil && ba > 0 {
			bumpAmount = ba
			bumpMessage = b.Orderbump.MessageAfterPayment
		}
	}
	total := amount + bumpAmount

	if err != nil || total <= 0 || total > e.gateway.Ceiling() {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgInvalidValue(e.gateway.Ceiling())})
		st.kind = stateAwaitingChoice
		return
	}

	charge, err := e.gateway.GeneratePix(ctx, total, f.Name+" - "+b.Name)
	if err != nil {
		var tooLarge *payment.ValueTooLargeError
		if errors.As(err, &tooLarge) {
			e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgInvalidValue(tooLarge.Ceiling)})
		} else {
			logger.ErrorCF("engine", "PIX generation failed", map[string]interface{}{
				logger.FieldBotID:  ev.BotID,
				logger.FieldChatID: ev.ChatID,
				logger.FieldError:  err.Error(),
			})
			e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgPixFailed})
		}
		st.kind = stateAwaitingChoice
		return
	}

	// Last write wins: a fresh charge silently replaces whatever was pending.
	e.txs.Set(key, store.PendingTx{
		ID:          charge.ID,
		ButtonID:    b.ID,
		Amount:      amount,
		BumpAmount:  bumpAmount,
		BumpMessage: bumpMessage,
		CreatedAt:   time.Now(),
		ExpiresAt:   charge.ExpiresAt,
	})

	if e.audit != nil {
		if err := e.audit.RecordPayment(ctx, &store.Payment{
			ID:          charge.ID,
			BotID:       ev.BotID,
			ChatID:      ev.ChatID,
			ButtonID:    b.ID,
			AmountCents: int64(total),
			Status:      payment.StatusPending,
		}); err != nil {
			logger.WarnCF("engine", "Payment audit write failed", map[string]interface{}{
				logger.FieldTransactionID: charge.ID,
				logger.FieldError:         err.Error(),
			})
		}
	}

	e.sendPixMessages(ev, b.Name, charge.QRCodeText, charge.ID, total)
	st.kind = stateAwaitingPaymentConfirmation

	logger.InfoCF("engine", "PIX sent to chat", map[string]interface{}{
		logger.FieldBotID:         ev.BotID,
		logger.FieldChatID:        ev.ChatID,
		logger.FieldTransactionID: charge.ID,
		logger.FieldAmount:        total.Format(),
	})
}

// sendPixMessages delivers a charge as two messages: the intro (with a QR
// photo when the code renders), then the bare copy-paste code so mobile
// clients copy it with one tap. transactionID empty means a pre-populated
// code with nothing to confirm.
func (e *Engine) sendPixMessages(ev bus.InboundEvent, productName, pixCode, transactionID string, amount money.Cents) {
	intro := bus.OutboundMessage{
		BotID:  ev.BotID,
		ChatID: ev.ChatID,
		Text:   msgPixIntro(productName, amount),
	}
	if png, err := payment.QRCodePNG(pixCode); err == nil {
		intro.PhotoPNG = png
	}
	e.send(intro)

	code := bus.OutboundMessage{
		BotID:  ev.BotID,
		ChatID: ev.ChatID,
		Text:   pixCode,
	}
	if transactionID != "" {
		code.Buttons = [][]bus.Button{
			{{Text: confirmButtonText, Data: bus.ConfirmToken(transactionID)}},
		}
	}
	e.send(code)
}

// handleConfirm is idempotent: confirming an unknown or already settled
// transaction reports "not found" instead of failing.
func (e *Engine) handleConfirm(ctx context.Context, key store.ChatKey, st *chatState, ev bus.InboundEvent) {
	tx, ok := e.txs.Get(key)
	if !ok || (ev.ButtonID != "" && ev.ButtonID != tx.ID) {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgTransactionNotFound})
		return
	}

	status, err := e.gateway.CheckStatus(ctx, tx.ID)
	if err != nil {
		logger.WarnCF("engine", "Payment status check failed", map[string]interface{}{
			logger.FieldTransactionID: tx.ID,
			logger.FieldError:         err.Error(),
		})
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgPaymentCheckFailed})
		return
	}

	if !status.Paid() {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgPaymentPending(status.Status)})
		return
	}

	e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: msgPaymentConfirmed})

	// Deliver the product link, then the orderbump bonus when the paid
	// amount covers the bumped total.
	if f, ok := e.funnels.FunnelForBot(ev.BotID); ok {
		if b, ok := f.FindButton(tx.ButtonID); ok && b.Link != "" {
			e.send(bus.OutboundMessage{
				BotID:  ev.BotID,
				ChatID: ev.ChatID,
				Text:   msgLinkButton(b.Name),
				Buttons: [][]bus.Button{
					{{Text: b.Name, Link: b.Link}},
				},
			})
		}
	}
	if tx.BumpAmount > 0 && tx.BumpMessage != "" && status.ValueCents >= tx.Amount+tx.BumpAmount {
		e.send(bus.OutboundMessage{BotID: ev.BotID, ChatID: ev.ChatID, Text: tx.BumpMessage})
	}

	e.txs.Delete(key)
	if e.audit != nil {
		if err := e.audit.UpdatePaymentStatus(ctx, tx.ID, payment.StatusPaid); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.WarnCF("engine", "Payment audit update failed", map[string]interface{}{
				logger.FieldTransactionID: tx.ID,
				logger.FieldError:         err.Error(),
			})
		}
	}
	st.kind = stateIdle

	logger.InfoCF("engine", "Payment confirmed", map[string]interface{}{
		logger.FieldBotID:         ev.BotID,
		logger.FieldChatID:        ev.ChatID,
		logger.FieldTransactionID: tx.ID,
	})
}
