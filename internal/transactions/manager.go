// Package transactions drives the deposit/withdrawal state machine. Status
// moves are conditional transitions: the store applies them only when the
// current status still matches, so a concurrent double-approve gets exactly
// one winner and one errs.ErrAlreadyProcessed.
package transactions

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/events"
	"github.com/averrone/exchange/internal/ledger"
	"github.com/averrone/exchange/internal/models"
	"github.com/averrone/exchange/internal/oracle"
	"github.com/averrone/exchange/internal/risk"
)

// Store persists transactions
type Store interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int) ([]models.Transaction, error)
	ListByStatus(ctx context.Context, statuses ...models.TransactionStatus) ([]models.Transaction, error)

	// Transition atomically moves the transaction to status `to` when its
	// current status is one of `from`, applying mutate inside the same
	// critical section. Any other current status yields
	// errs.ErrAlreadyProcessed.
	Transition(ctx context.Context, id uuid.UUID, from []models.TransactionStatus, to models.TransactionStatus, mutate func(*models.Transaction)) (*models.Transaction, error)
}

// UserDirectory exposes the profile flags the manager reads and writes
type UserDirectory interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	MarkDeposited(ctx context.Context, id int) error
}

// Manager creates transactions and applies their ledger effects on state entry
// and exit
type Manager struct {
	store  Store
	ledger ledger.Store
	users  UserDirectory
	oracle oracle.Oracle
	sink   events.Sink
	logger *zap.Logger
}

// NewManager wires a transaction manager
func NewManager(store Store, lg ledger.Store, users UserDirectory, pricer oracle.Oracle, sink events.Sink, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		ledger: lg,
		users:  users,
		oracle: pricer,
		sink:   sink,
		logger: logger,
	}
}

var addressPattern = regexp.MustCompile(`^[0-9a-zA-Z]{26,64}$`)

// usdValue converts an amount to its USD equivalent via the oracle. USDT is
// treated as par; a missing quote falls back to the raw amount.
func (m *Manager) usdValue(asset string, amount decimal.Decimal) decimal.Decimal {
	if asset == "USDT" || asset == "USD" {
		return amount
	}
	quote, err := m.oracle.GetQuote(asset + "/USDT")
	if err != nil {
		m.logger.Debug("no USD quote for asset, scoring raw amount",
			zap.String("asset", asset))
		return amount
	}
	return amount.Mul(quote.Price)
}

func (m *Manager) assess(ctx context.Context, userID int, asset string, amount decimal.Decimal) (risk.Assessment, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return risk.Assess(risk.Input{
		Amount:   amount,
		Asset:    asset,
		USDValue: m.usdValue(asset, amount),
		Profile:  risk.Profile{HasDeposited: user.HasDeposited},
	}), nil
}

// CreateDeposit records an incoming deposit. Low-risk deposits enter
// Processing and are completed by the deposit worker; everything else waits in
// the admin review queue (Pending, or Flagged for high scores).
func (m *Manager) CreateDeposit(ctx context.Context, userID int, asset string, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	assessment, err := m.assess(ctx, userID, asset, amount)
	if err != nil {
		return nil, err
	}

	status := models.TxProcessing
	if assessment.Disposition == risk.DispositionReview {
		status = models.TxPending
		if assessment.HighRisk() {
			status = models.TxFlagged
		}
	}

	tx := &models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.TxDeposit,
		Asset:     asset,
		Amount:    amount,
		Status:    status,
		RiskScore: assessment.Score,
		RiskFlags: assessment.Flags,
		Fee:       decimal.Zero,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create deposit: %w", err)
	}

	if assessment.Disposition == risk.DispositionReview {
		m.sink.Emit(events.Event{
			Type:     events.RiskFlagged,
			UserID:   userID,
			EntityID: tx.ID.String(),
			Asset:    asset,
			Amount:   amount,
			Detail:   fmt.Sprintf("deposit risk score %d", assessment.Score),
		})
	}

	m.logger.Info("deposit created",
		zap.String("tx_id", tx.ID.String()),
		zap.Int("user_id", userID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("status", string(status)),
		zap.Int("risk_score", assessment.Score))
	return tx, nil
}

// CompleteProcessing settles a deposit that entered Processing. Idempotent:
// the first caller wins the transition, later callers get AlreadyProcessed.
// Invoked by the deposit worker, never by an in-process timer.
func (m *Manager) CompleteProcessing(ctx context.Context, txID uuid.UUID) error {
	tx, err := m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxProcessing}, models.TxCompleted, nil)
	if err != nil {
		return err
	}
	return m.finishDeposit(ctx, tx)
}

// ApproveDeposit credits the user and completes a deposit awaiting review
func (m *Manager) ApproveDeposit(ctx context.Context, txID uuid.UUID, adminID int) (*models.Transaction, error) {
	if err := m.requireKind(ctx, txID, models.TxDeposit); err != nil {
		return nil, err
	}
	tx, err := m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxPending, models.TxFlagged},
		models.TxCompleted, reviewStamp(adminID, ""))
	if err != nil {
		return nil, err
	}
	if err := m.finishDeposit(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// finishDeposit applies the credit side effects after a deposit has won its
// transition to Completed.
func (m *Manager) finishDeposit(ctx context.Context, tx *models.Transaction) error {
	if err := m.ledger.Credit(ctx, tx.UserID, tx.Asset, tx.Amount); err != nil {
		m.logger.Error("deposit credit failed after completion",
			zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return err
	}
	if err := m.users.MarkDeposited(ctx, tx.UserID); err != nil {
		m.logger.Warn("failed to mark user as deposited",
			zap.Int("user_id", tx.UserID), zap.Error(err))
	}
	m.sink.Emit(events.Event{
		Type:     events.TransactionCompleted,
		UserID:   tx.UserID,
		EntityID: tx.ID.String(),
		Asset:    tx.Asset,
		Amount:   tx.Amount,
	})
	return nil
}

// RejectDeposit rejects a deposit awaiting review. No ledger effect: the
// funds were never credited.
func (m *Manager) RejectDeposit(ctx context.Context, txID uuid.UUID, adminID int, notes string) (*models.Transaction, error) {
	if err := m.requireKind(ctx, txID, models.TxDeposit); err != nil {
		return nil, err
	}
	return m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxPending, models.TxFlagged},
		models.TxRejected, reviewStamp(adminID, notes))
}

// CreateWithdrawal locks the requested funds and queues the withdrawal for
// admin review. Withdrawals never auto-settle; the risk assessment is
// recorded but does not change the outcome.
func (m *Manager) CreateWithdrawal(ctx context.Context, userID int, asset string, amount decimal.Decimal, address string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	if !addressPattern.MatchString(address) {
		return nil, errs.ErrInvalidAddress
	}

	if err := m.ledger.Lock(ctx, userID, asset, amount); err != nil {
		return nil, err
	}

	assessment, err := m.assess(ctx, userID, asset, amount)
	if err != nil {
		// the lock is already taken; release it before bailing out
		if unlockErr := m.ledger.Unlock(ctx, userID, asset, amount); unlockErr != nil {
			m.logger.Error("failed to release lock after withdrawal setup error",
				zap.Int("user_id", userID), zap.Error(unlockErr))
		}
		return nil, err
	}

	tx := &models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.TxWithdrawal,
		Asset:     asset,
		Amount:    amount,
		Status:    models.TxPending,
		RiskScore: assessment.Score,
		RiskFlags: assessment.Flags,
		Fee:       decimal.Zero,
		Address:   address,
		CreatedAt: time.Now(),
	}
	if err := m.store.Create(ctx, tx); err != nil {
		if unlockErr := m.ledger.Unlock(ctx, userID, asset, amount); unlockErr != nil {
			m.logger.Error("failed to release lock after withdrawal create error",
				zap.Int("user_id", userID), zap.Error(unlockErr))
		}
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	if assessment.HighRisk() {
		m.sink.Emit(events.Event{
			Type:     events.RiskFlagged,
			UserID:   userID,
			EntityID: tx.ID.String(),
			Asset:    asset,
			Amount:   amount,
			Detail:   fmt.Sprintf("withdrawal risk score %d", assessment.Score),
		})
	}

	m.logger.Info("withdrawal created",
		zap.String("tx_id", tx.ID.String()),
		zap.Int("user_id", userID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.Int("risk_score", assessment.Score))
	return tx, nil
}

// ApproveWithdrawal pays out a pending withdrawal: the status claim happens
// first so a concurrent approval cannot debit twice.
func (m *Manager) ApproveWithdrawal(ctx context.Context, txID uuid.UUID, adminID int) (*models.Transaction, error) {
	if err := m.requireKind(ctx, txID, models.TxWithdrawal); err != nil {
		return nil, err
	}
	tx, err := m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxPending},
		models.TxCompleted, reviewStamp(adminID, ""))
	if err != nil {
		return nil, err
	}
	if err := m.ledger.DebitLocked(ctx, tx.UserID, tx.Asset, tx.Amount); err != nil {
		m.logger.Error("withdrawal payout debit failed",
			zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return nil, err
	}
	m.sink.Emit(events.Event{
		Type:     events.TransactionCompleted,
		UserID:   tx.UserID,
		EntityID: tx.ID.String(),
		Asset:    tx.Asset,
		Amount:   tx.Amount,
	})
	return tx, nil
}

// RejectWithdrawal returns the locked funds and records the reason
func (m *Manager) RejectWithdrawal(ctx context.Context, txID uuid.UUID, adminID int, notes string) (*models.Transaction, error) {
	if err := m.requireKind(ctx, txID, models.TxWithdrawal); err != nil {
		return nil, err
	}
	tx, err := m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxPending},
		models.TxRejected, reviewStamp(adminID, notes))
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Unlock(ctx, tx.UserID, tx.Asset, tx.Amount); err != nil {
		m.logger.Error("failed to unlock rejected withdrawal",
			zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return nil, err
	}
	return tx, nil
}

// CancelWithdrawal lets the owner withdraw a still-pending request
func (m *Manager) CancelWithdrawal(ctx context.Context, txID uuid.UUID, userID int) (*models.Transaction, error) {
	existing, err := m.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if existing.Kind != models.TxWithdrawal || existing.UserID != userID {
		return nil, fmt.Errorf("withdrawal not found")
	}
	tx, err := m.store.Transition(ctx, txID,
		[]models.TransactionStatus{models.TxPending}, models.TxCancelled, nil)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Unlock(ctx, tx.UserID, tx.Asset, tx.Amount); err != nil {
		m.logger.Error("failed to unlock cancelled withdrawal",
			zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return nil, err
	}
	return tx, nil
}

// Approve dispatches an admin approval on the transaction's kind
func (m *Manager) Approve(ctx context.Context, txID uuid.UUID, adminID int) (*models.Transaction, error) {
	tx, err := m.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	switch tx.Kind {
	case models.TxDeposit:
		return m.ApproveDeposit(ctx, txID, adminID)
	case models.TxWithdrawal:
		return m.ApproveWithdrawal(ctx, txID, adminID)
	default:
		return nil, fmt.Errorf("transaction kind %s is not reviewable", tx.Kind)
	}
}

// Reject dispatches an admin rejection on the transaction's kind
func (m *Manager) Reject(ctx context.Context, txID uuid.UUID, adminID int, notes string) (*models.Transaction, error) {
	tx, err := m.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	switch tx.Kind {
	case models.TxDeposit:
		return m.RejectDeposit(ctx, txID, adminID, notes)
	case models.TxWithdrawal:
		return m.RejectWithdrawal(ctx, txID, adminID, notes)
	default:
		return nil, fmt.Errorf("transaction kind %s is not reviewable", tx.Kind)
	}
}

func (m *Manager) requireKind(ctx context.Context, txID uuid.UUID, kind models.TransactionKind) error {
	tx, err := m.store.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Kind != kind {
		return fmt.Errorf("transaction %s is a %s, not a %s", txID, tx.Kind, kind)
	}
	return nil
}

func reviewStamp(adminID int, notes string) func(*models.Transaction) {
	return func(tx *models.Transaction) {
		now := time.Now()
		tx.ReviewedBy = &adminID
		tx.ReviewedAt = &now
		if notes != "" {
			tx.Notes = notes
		}
	}
}
