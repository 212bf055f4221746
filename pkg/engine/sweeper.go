package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/payment"
	"pixfunnel/pkg/store"
)

// Sweeper drops pending transactions whose gateway expiry has passed, so a
// chat that abandoned a charge can confirm nothing stale later. Runs every
// minute; the gateway expiry timestamp is the only trigger.
type Sweeper struct {
	cron  *cron.Cron
	txs   *store.TxStore
	audit Auditor
}

func NewSweeper(txs *store.TxStore, audit Auditor) *Sweeper {
	return &Sweeper{
		cron:  cron.New(),
		txs:   txs,
		audit: audit,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	logger.InfoC("engine", "Transaction expiry sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	expired := s.txs.DeleteExpired(time.Now())
	for _, tx := range expired {
		logger.InfoCF("engine", "Pending transaction expired", map[string]interface{}{
			logger.FieldTransactionID: tx.ID,
			logger.FieldAmount:        (tx.Amount + tx.BumpAmount).Format(),
		})
		if s.audit != nil {
			if err := s.audit.UpdatePaymentStatus(context.Background(), tx.ID, payment.StatusExpired); err != nil {
				logger.WarnCF("engine", "Expiry audit update failed", map[string]interface{}{
					logger.FieldTransactionID: tx.ID,
					logger.FieldError:         err.Error(),
				})
			}
		}
	}
}
