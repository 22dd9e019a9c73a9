// Package worker runs the background deposit processor. Deposits that passed
// risk screening sit in Processing until the worker settles them; completion
// goes through the same conditional transition as everything else, so running
// more than one worker is safe.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/models"
	"github.com/averrone/exchange/internal/transactions"
)

// DepositProcessor completes deposits that have aged past the settle delay
type DepositProcessor struct {
	store    transactions.Store
	manager  *transactions.Manager
	logger   *zap.Logger
	interval time.Duration
	delay    time.Duration
}

// NewDepositProcessor wires a deposit processor. interval is the poll period;
// delay is how long a deposit stays in Processing before it settles.
func NewDepositProcessor(store transactions.Store, manager *transactions.Manager, logger *zap.Logger, interval, delay time.Duration) *DepositProcessor {
	return &DepositProcessor{
		store:    store,
		manager:  manager,
		logger:   logger,
		interval: interval,
		delay:    delay,
	}
}

// Run polls for processing deposits until the context is cancelled
func (p *DepositProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.Error("deposit sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep completes every processing deposit that has aged past the delay
func (p *DepositProcessor) Sweep(ctx context.Context) error {
	txs, err := p.store.ListByStatus(ctx, models.TxProcessing)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-p.delay)
	for _, tx := range txs {
		if tx.CreatedAt.After(cutoff) {
			continue
		}
		err := p.manager.CompleteProcessing(ctx, tx.ID)
		if err != nil {
			// another worker got there first
			if errors.Is(err, errs.ErrAlreadyProcessed) {
				continue
			}
			p.logger.Error("failed to complete deposit",
				zap.String("tx_id", tx.ID.String()), zap.Error(err))
			continue
		}
		p.logger.Info("deposit settled",
			zap.String("tx_id", tx.ID.String()),
			zap.Int("user_id", tx.UserID),
			zap.String("asset", tx.Asset),
			zap.String("amount", tx.Amount.String()))
	}
	return nil
}
