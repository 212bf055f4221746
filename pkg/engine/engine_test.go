package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/funnel"
	"pixfunnel/pkg/money"
	"pixfunnel/pkg/payment"
	"pixfunnel/pkg/store"
)

type fakeGateway struct {
	ceiling    money.Cents
	genCalls   int
	lastAmount money.Cents
	genErr     error
	status     payment.Status
	statusErr  error
}

func (g *fakeGateway) GeneratePix(ctx context.Context, amount money.Cents, description string) (*payment.Charge, error) {
	g.genCalls++
	g.lastAmount = amount
	if g.genErr != nil {
		return nil, g.genErr
	}
	if amount <= 0 {
		return nil, payment.ErrInvalidAmount
	}
	if amount > g.ceiling {
		return nil, &payment.ValueTooLargeError{Ceiling: g.ceiling}
	}
	return &payment.Charge{
		ID:         fmt.Sprintf("tx-%d", g.genCalls),
		ValueCents: amount,
		QRCodeText: "00020126fakepixcode",
		Status:     payment.StatusPending,
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}, nil
}

func (g *fakeGateway) CheckStatus(ctx context.Context, transactionID string) (*payment.Status, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	return &g.status, nil
}

func (g *fakeGateway) Ceiling() money.Cents { return g.ceiling }

type fakeResolver map[string]*funnel.Funnel

func (r fakeResolver) FunnelForBot(botID string) (*funnel.Funnel, bool) {
	f, ok := r[botID]
	return f, ok
}

func testFunnel() *funnel.Funnel {
	return &funnel.Funnel{
		ID:             "f1",
		Name:           "VIP Group",
		WelcomeMessage: "Bem-vindo! Escolha um plano:",
		Buttons: []funnel.Button{
			{ID: "b1", Name: "Mensal", Value: "29,90", GeneratePIX: true},
			{ID: "b2", Name: "Vitalício", Link: "https://vip.example"},
			{ID: "b3", Name: "Promo", Value: "19,90", GeneratePIX: true, PIXData: "00020126prepopulated"},
			{ID: "b4", Name: "Caro", Value: "200,00", GeneratePIX: true},
			{ID: "b5", Name: "Quebrado"},
			{
				ID: "b6", Name: "Combo", Value: "29,90", GeneratePIX: true,
				Orderbump: &funnel.Orderbump{
					ID:                  "ob1",
					Title:               "Leve também o bônus por R$ 9,90?",
					Value:               "9,90",
					MessageAfterPayment: "Aqui está o seu bônus: https://bonus.example",
				},
			},
			{ID: "b7", Name: "Acesso", Value: "49,90", Link: "https://area.example"},
		},
	}
}

func newTestEngine(gw *fakeGateway) (*Engine, *bus.MessageBus, *store.TxStore) {
	mb := bus.NewMessageBus()
	txs := store.NewTxStore()
	eng := New(fakeResolver{"bot1": testFunnel()}, gw, mb, txs, nil)
	return eng, mb, txs
}

func drain(t *testing.T, mb *bus.MessageBus, n int) []bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make([]bus.OutboundMessage, 0, n)
	for i := 0; i < n; i++ {
		msg, ok := mb.SubscribeOutbound(ctx)
		if !ok {
			t.Fatalf("expected %d outbound messages, got %d", n, i)
		}
		out = append(out, msg)
	}
	return out
}

func press(buttonID string) bus.InboundEvent {
	return bus.InboundEvent{Type: bus.EventButtonPress, BotID: "bot1", ChatID: 7, ButtonID: buttonID}
}

func TestStartSendsWelcome(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), bus.InboundEvent{Type: bus.EventStart, BotID: "bot1", ChatID: 7})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != "Bem-vindo! Escolha um plano:" {
		t.Errorf("welcome text = %q", msgs[0].Text)
	}
	if len(msgs[0].Buttons) != 7 {
		t.Fatalf("button rows = %d, want 7", len(msgs[0].Buttons))
	}
	if msgs[0].Buttons[0][0].Data != bus.ButtonToken("b1") {
		t.Errorf("first button data = %q", msgs[0].Buttons[0][0].Data)
	}
	if msgs[0].Buttons[0][0].Text != "Mensal - 29,90 (PIX)" {
		t.Errorf("first button label = %q", msgs[0].Buttons[0][0].Text)
	}
	if msgs[0].Buttons[1][0].Text != "Vitalício" {
		t.Errorf("link button label = %q", msgs[0].Buttons[1][0].Text)
	}
}

func TestStartUnknownBot(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), bus.InboundEvent{Type: bus.EventStart, BotID: "ghost", ChatID: 7})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgFunnelUnavailable {
		t.Errorf("text = %q", msgs[0].Text)
	}
}

func TestButtonPressGeneratesPixTwoMessages(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b1"))

	msgs := drain(t, mb, 2)
	if !strings.Contains(msgs[0].Text, "29,90") || !strings.Contains(msgs[0].Text, "Mensal") {
		t.Errorf("intro = %q", msgs[0].Text)
	}
	if len(msgs[0].PhotoPNG) == 0 {
		t.Error("intro should carry a QR photo")
	}
	if msgs[1].Text != "00020126fakepixcode" {
		t.Errorf("second message must be only the code, got %q", msgs[1].Text)
	}
	if len(msgs[1].Buttons) != 1 || msgs[1].Buttons[0][0].Data != bus.ConfirmToken("tx-1") {
		t.Errorf("confirm button = %+v", msgs[1].Buttons)
	}

	tx, ok := txs.Get(store.ChatKey{BotID: "bot1", ChatID: 7})
	if !ok || tx.ID != "tx-1" || tx.Amount != 2990 {
		t.Errorf("pending tx = %+v, ok=%v", tx, ok)
	}
}

func TestButtonPressPrePopulatedPix(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b3"))

	msgs := drain(t, mb, 2)
	if msgs[1].Text != "00020126prepopulated" {
		t.Errorf("code message = %q", msgs[1].Text)
	}
	if len(msgs[1].Buttons) != 0 {
		t.Error("pre-populated code has no transaction to confirm")
	}
	if gw.genCalls != 0 {
		t.Errorf("gateway called %d times, want 0", gw.genCalls)
	}
	if txs.Len() != 0 {
		t.Error("no pending tx expected")
	}
}

func TestButtonValueOverCeiling(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, _ := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b4"))

	msgs := drain(t, mb, 1)
	if !strings.Contains(msgs[0].Text, "R$ 150,00") {
		t.Errorf("invalid value message should name the ceiling, got %q", msgs[0].Text)
	}
	if gw.genCalls != 0 {
		t.Error("out-of-range value must not reach the gateway")
	}
}

func TestButtonLinkFallback(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), press("b2"))

	msgs := drain(t, mb, 1)
	if len(msgs[0].Buttons) != 1 || msgs[0].Buttons[0][0].Link != "https://vip.example" {
		t.Errorf("expected link button, got %+v", msgs[0].Buttons)
	}
}

func TestButtonNotConfigured(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), press("b5"))

	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgNotConfigured {
		t.Errorf("text = %q", msgs[0].Text)
	}
}

func TestStaleButtonResendsWelcome(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), press("removed-button"))

	msgs := drain(t, mb, 2)
	if msgs[0].Text != msgUnknownButton {
		t.Errorf("expected unknown button notice, got %q", msgs[0].Text)
	}
	if msgs[1].Text != "Bem-vindo! Escolha um plano:" {
		t.Errorf("expected welcome on stale button, got %q", msgs[1].Text)
	}
}

func TestFreeTextKeepsOrderbumpOpen(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, _ := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b6"))
	drain(t, mb, 1)

	// Typing while the orderbump offer is open must not reset the chat.
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventText, BotID: "bot1", ChatID: 7, Text: "ok, e como funciona?",
	})

	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventOrderbumpAccept, BotID: "bot1", ChatID: 7, ButtonID: "b6",
	})
	msgs := drain(t, mb, 3)
	if msgs[0].Text != msgBumpAccepted {
		t.Errorf("first message = %q, want accept acknowledgment", msgs[0].Text)
	}
	if gw.genCalls != 1 || gw.lastAmount != 3980 {
		t.Errorf("genCalls=%d lastAmount=%d, want one charge of 3980", gw.genCalls, gw.lastAmount)
	}
}

func TestOrderbumpAcceptAddsValue(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b6"))
	msgs := drain(t, mb, 1)
	if !strings.Contains(msgs[0].Text, "bônus") {
		t.Errorf("expected orderbump prompt, got %q", msgs[0].Text)
	}
	if msgs[0].Buttons[0][0].Data != bus.OrderbumpAcceptToken("b6") {
		t.Errorf("accept data = %q", msgs[0].Buttons[0][0].Data)
	}

	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventOrderbumpAccept, BotID: "bot1", ChatID: 7, ButtonID: "b6",
	})
	out := drain(t, mb, 3)
	if out[0].Text != msgBumpAccepted {
		t.Errorf("first message = %q, want accept acknowledgment", out[0].Text)
	}

	if gw.lastAmount != 3980 {
		t.Errorf("charged %d, want 3980 (29,90 + 9,90)", gw.lastAmount)
	}
	tx, _ := txs.Get(store.ChatKey{BotID: "bot1", ChatID: 7})
	if tx.BumpAmount != 990 || tx.Amount != 2990 {
		t.Errorf("pending tx = %+v", tx)
	}
}

func TestOrderbumpRejectChargesBaseOnly(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, _ := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b6"))
	drain(t, mb, 1)

	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventOrderbumpReject, BotID: "bot1", ChatID: 7, ButtonID: "b6",
	})
	out := drain(t, mb, 3)
	if out[0].Text != msgBumpRejected {
		t.Errorf("first message = %q, want reject acknowledgment", out[0].Text)
	}

	if gw.lastAmount != 2990 {
		t.Errorf("charged %d, want 2990", gw.lastAmount)
	}
}

func TestStaleOrderbumpChoiceRestarts(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	// Accept without a pending orderbump prompt.
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventOrderbumpAccept, BotID: "bot1", ChatID: 7, ButtonID: "b6",
	})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != "Bem-vindo! Escolha um plano:" {
		t.Errorf("expected welcome, got %q", msgs[0].Text)
	}
}

func TestConfirmPaid(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b1"))
	drain(t, mb, 2)

	gw.status = payment.Status{Status: payment.StatusPaid, ValueCents: 2990}
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-1",
	})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgPaymentConfirmed {
		t.Errorf("text = %q", msgs[0].Text)
	}
	if txs.Len() != 0 {
		t.Error("pending tx should be cleared after confirmation")
	}
}

func TestConfirmPaidWithBumpSendsBonus(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, _ := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b6"))
	drain(t, mb, 1)
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventOrderbumpAccept, BotID: "bot1", ChatID: 7, ButtonID: "b6",
	})
	drain(t, mb, 3)

	gw.status = payment.Status{Status: payment.StatusPaid, ValueCents: 3980}
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-1",
	})

	msgs := drain(t, mb, 2)
	if msgs[0].Text != msgPaymentConfirmed {
		t.Errorf("first = %q", msgs[0].Text)
	}
	if !strings.Contains(msgs[1].Text, "bonus.example") {
		t.Errorf("second should be the orderbump delivery, got %q", msgs[1].Text)
	}
}

func TestConfirmPaidDeliversLink(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, _ := newTestEngine(gw)
	defer mb.Close()

	// b7 has both a parseable value and a link: the value wins, the link is
	// only delivered once the payment confirms.
	eng.Handle(context.Background(), press("b7"))
	msgs := drain(t, mb, 2)
	if gw.genCalls != 1 {
		t.Fatalf("genCalls = %d, want 1 (value takes precedence over link)", gw.genCalls)
	}
	if msgs[1].Buttons[0][0].Link != "" {
		t.Error("link must not be sent before payment")
	}

	gw.status = payment.Status{Status: payment.StatusPaid, ValueCents: 4990}
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-1",
	})

	msgs = drain(t, mb, 2)
	if msgs[0].Text != msgPaymentConfirmed {
		t.Errorf("first = %q", msgs[0].Text)
	}
	if len(msgs[1].Buttons) != 1 || msgs[1].Buttons[0][0].Link != "https://area.example" {
		t.Errorf("expected product link after payment, got %+v", msgs[1].Buttons)
	}
}

func TestConfirmStillPending(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b1"))
	drain(t, mb, 2)

	gw.status = payment.Status{Status: payment.StatusPending}
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-1",
	})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgPaymentPending(payment.StatusPending) {
		t.Errorf("text = %q", msgs[0].Text)
	}
	if !strings.Contains(msgs[0].Text, payment.StatusPending) {
		t.Errorf("reply should name the current status, got %q", msgs[0].Text)
	}
	if txs.Len() != 1 {
		t.Error("pending tx must survive an unpaid check")
	}
}

func TestConfirmWithoutPendingTx(t *testing.T) {
	eng, mb, _ := newTestEngine(&fakeGateway{ceiling: 15000})
	defer mb.Close()

	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-ghost",
	})

	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgTransactionNotFound {
		t.Errorf("text = %q", msgs[0].Text)
	}
}

func TestNewChargeSupersedesOld(t *testing.T) {
	gw := &fakeGateway{ceiling: 15000}
	eng, mb, txs := newTestEngine(gw)
	defer mb.Close()

	eng.Handle(context.Background(), press("b1"))
	drain(t, mb, 2)
	eng.Handle(context.Background(), press("b1"))
	drain(t, mb, 2)

	tx, _ := txs.Get(store.ChatKey{BotID: "bot1", ChatID: 7})
	if tx.ID != "tx-2" {
		t.Errorf("pending tx = %q, want tx-2 (last write wins)", tx.ID)
	}

	// Confirming the superseded id reports not found.
	eng.Handle(context.Background(), bus.InboundEvent{
		Type: bus.EventConfirmPayment, BotID: "bot1", ChatID: 7, ButtonID: "tx-1",
	})
	msgs := drain(t, mb, 1)
	if msgs[0].Text != msgTransactionNotFound {
		t.Errorf("text = %q", msgs[0].Text)
	}
}

func TestSweeperDropsExpired(t *testing.T) {
	txs := store.NewTxStore()
	txs.Set(store.ChatKey{BotID: "b", ChatID: 1}, store.PendingTx{
		ID: "tx-old", ExpiresAt: time.Now().Add(-time.Minute),
	})
	txs.Set(store.ChatKey{BotID: "b", ChatID: 2}, store.PendingTx{
		ID: "tx-live", ExpiresAt: time.Now().Add(time.Hour),
	})

	s := NewSweeper(txs, nil)
	s.sweep()

	if txs.Len() != 1 {
		t.Errorf("Len = %d, want 1", txs.Len())
	}
	if _, ok := txs.Get(store.ChatKey{BotID: "b", ChatID: 2}); !ok {
		t.Error("live tx should remain")
	}
}
