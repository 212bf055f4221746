package store

import (
	"sync"
	"time"

	"pixfunnel/pkg/money"
)

// ChatKey addresses one conversation: the same Telegram user talking to two
// bots is two independent conversations.
type ChatKey struct {
	BotID  string
	ChatID int64
}

// PendingTx is the transaction currently awaiting confirmation in a chat.
// At most one exists per chat; generating a new charge overwrites the old
// one and the superseded transaction is simply forgotten.
type PendingTx struct {
	ID          string
	ButtonID    string
	Amount      money.Cents
	BumpAmount  money.Cents
	BumpMessage string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// TxStore holds pending transactions in memory. Pending charges do not
// survive a restart; the gateway remains the source of truth for whether a
// transaction was actually paid.
type TxStore struct {
	mu  sync.Mutex
	txs map[ChatKey]PendingTx
}

func NewTxStore() *TxStore {
	return &TxStore{
		txs: make(map[ChatKey]PendingTx),
	}
}

// Set stores the pending transaction for a chat, replacing any previous one.
func (s *TxStore) Set(key ChatKey, tx PendingTx) {
	s.mu.Lock()
	s.txs[key] = tx
	s.mu.Unlock()
}

func (s *TxStore) Get(key ChatKey) (PendingTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[key]
	return tx, ok
}

func (s *TxStore) Delete(key ChatKey) {
	s.mu.Lock()
	delete(s.txs, key)
	s.mu.Unlock()
}

// DeleteExpired drops transactions whose gateway expiry has passed and
// returns them so callers can log or audit the expiry.
func (s *TxStore) DeleteExpired(now time.Time) []PendingTx {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []PendingTx
	for key, tx := range s.txs {
		if !tx.ExpiresAt.IsZero() && now.After(tx.ExpiresAt) {
			expired = append(expired, tx)
			delete(s.txs, key)
		}
	}
	return expired
}

func (s *TxStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}
