// Package settlement validates orders against custody balances and fills them
// against the platform quote. A fill is all-or-nothing: the order claims its
// terminal status first, ledger effects follow, and any mid-settle failure
// rolls the order back to Rejected with compensating ledger entries.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/events"
	"github.com/averrone/exchange/internal/ledger"
	"github.com/averrone/exchange/internal/models"
	"github.com/averrone/exchange/internal/oracle"
)

// feeRate is the taker fee, charged on the asset received
var feeRate = decimal.NewFromFloat(0.001)

// OrderStore persists orders. Transition is a conditional status move with
// the same contract as the transaction store's.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID int) ([]models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, to models.OrderStatus, mutate func(*models.Order)) (*models.Order, error)
}

// TradeLog records the trade transaction emitted by a fill
type TradeLog interface {
	Create(ctx context.Context, tx *models.Transaction) error
}

// UserFlags marks profile state owned by external collaborators
type UserFlags interface {
	MarkTraded(ctx context.Context, id int) error
}

// Engine is the order settlement engine
type Engine struct {
	orders OrderStore
	ledger ledger.Store
	oracle oracle.Oracle
	trades TradeLog
	users  UserFlags
	sink   events.Sink
	logger *zap.Logger
}

// NewEngine wires a settlement engine
func NewEngine(orders OrderStore, lg ledger.Store, pricer oracle.Oracle, trades TradeLog, users UserFlags, sink events.Sink, logger *zap.Logger) *Engine {
	return &Engine{
		orders: orders,
		ledger: lg,
		oracle: pricer,
		trades: trades,
		users:  users,
		sink:   sink,
		logger: logger,
	}
}

// PlaceOrder validates the order, locks the required funds, and for market
// orders (or limit orders whose price the current quote already crosses)
// settles immediately. Resting limit orders keep their funds locked and never
// auto-fill; they can only be cancelled.
//
// No order record exists if the fund lock fails.
func (e *Engine) PlaceOrder(ctx context.Context, userID int, symbol string, side models.OrderSide, typ models.OrderType, quantity decimal.Decimal, limitPrice *decimal.Decimal) (*models.Order, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if typ == models.TypeLimit && (limitPrice == nil || !limitPrice.IsPositive()) {
		return nil, fmt.Errorf("limit orders require a positive limit price")
	}

	base, quoteAsset, err := models.SplitSymbol(symbol)
	if err != nil {
		return nil, errs.ErrUnknownSymbol
	}

	// single quote snapshot: both the lock requirement and any immediate
	// settlement use this one value
	quote, err := e.oracle.GetQuote(symbol)
	if err != nil {
		if errors.Is(err, errs.ErrUnknownSymbol) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrPriceUnavailable, err)
	}

	var requiredAsset string
	var requiredAmount decimal.Decimal
	switch side {
	case models.SideBuy:
		requiredAsset = quoteAsset
		price := quote.Price
		if typ == models.TypeLimit {
			price = *limitPrice
		}
		requiredAmount = quantity.Mul(price)
	case models.SideSell:
		requiredAsset = base
		requiredAmount = quantity
	default:
		return nil, fmt.Errorf("side must be buy or sell")
	}

	if err := e.ledger.Lock(ctx, userID, requiredAsset, requiredAmount); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             uuid.New(),
		UserID:         userID,
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Quantity:       quantity,
		LimitPrice:     limitPrice,
		FilledQuantity: decimal.Zero,
		Status:         models.OrderPending,
		LockedAsset:    requiredAsset,
		LockedAmount:   requiredAmount,
		CreatedAt:      time.Now(),
	}
	if err := e.orders.Create(ctx, order); err != nil {
		if unlockErr := e.ledger.Unlock(ctx, userID, requiredAsset, requiredAmount); unlockErr != nil {
			e.logger.Error("failed to release lock after order create error",
				zap.Int("user_id", userID), zap.Error(unlockErr))
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if typ == models.TypeMarket || limitCrossed(side, *order, quote.Price) {
		return e.settle(ctx, order, quote.Price)
	}

	e.logger.Info("limit order resting",
		zap.String("order_id", order.ID.String()),
		zap.Int("user_id", userID),
		zap.String("symbol", symbol),
		zap.String("limit_price", limitPrice.String()))
	return order, nil
}

// limitCrossed reports whether the current quote already satisfies the limit
func limitCrossed(side models.OrderSide, order models.Order, price decimal.Decimal) bool {
	if order.Type != models.TypeLimit || order.LimitPrice == nil {
		return false
	}
	if side == models.SideBuy {
		return price.LessThanOrEqual(*order.LimitPrice)
	}
	return price.GreaterThanOrEqual(*order.LimitPrice)
}

// settle fills the whole order at executionPrice. The order claims Filled
// first so a concurrent cancel cannot interleave, then the ledger effects
// apply: debit the locked side, credit the received side net of the 0.1% fee,
// and record the linked trade transaction.
func (e *Engine) settle(ctx context.Context, order *models.Order, executionPrice decimal.Decimal) (*models.Order, error) {
	base, quoteAsset, err := models.SplitSymbol(order.Symbol)
	if err != nil {
		return nil, errs.ErrUnknownSymbol
	}

	now := time.Now()
	filled, err := e.orders.Transition(ctx, order.ID,
		[]models.OrderStatus{models.OrderPending}, models.OrderFilled,
		func(o *models.Order) {
			o.FilledQuantity = o.Quantity
			o.AveragePrice = &executionPrice
			o.FilledAt = &now
		})
	if err != nil {
		return nil, err
	}

	totalValue := order.Quantity.Mul(executionPrice)

	var creditAsset string
	var creditAmount, fee decimal.Decimal
	var debitAmount decimal.Decimal

	switch order.Side {
	case models.SideBuy:
		debitAmount = totalValue
		creditAsset = base
		fee = order.Quantity.Mul(feeRate)
		creditAmount = order.Quantity.Sub(fee)
	case models.SideSell:
		debitAmount = order.Quantity
		creditAsset = quoteAsset
		fee = totalValue.Mul(feeRate)
		creditAmount = totalValue.Sub(fee)
	}

	var fx settleEffects
	if err := e.ledger.DebitLocked(ctx, order.UserID, order.LockedAsset, debitAmount); err != nil {
		e.rollback(ctx, order, fx)
		return nil, err
	}
	fx.debited = debitAmount

	// a limit buy can execute below its limit price; release the excess lock
	if excess := order.LockedAmount.Sub(debitAmount); excess.IsPositive() {
		if err := e.ledger.Unlock(ctx, order.UserID, order.LockedAsset, excess); err != nil {
			e.rollback(ctx, order, fx)
			return nil, err
		}
		fx.excessReleased = excess
	}

	if err := e.ledger.Credit(ctx, order.UserID, creditAsset, creditAmount); err != nil {
		e.rollback(ctx, order, fx)
		return nil, err
	}
	fx.creditAsset = creditAsset
	fx.credited = creditAmount

	trade := &models.Transaction{
		ID:            uuid.New(),
		UserID:        order.UserID,
		Kind:          models.TxTrade,
		Asset:         creditAsset,
		Amount:        creditAmount,
		Status:        models.TxCompleted,
		Fee:           fee,
		LinkedOrderID: &order.ID,
		CreatedAt:     now,
	}
	if err := e.trades.Create(ctx, trade); err != nil {
		// the linked trade record is part of the fill, not best-effort audit
		e.rollback(ctx, order, fx)
		return nil, fmt.Errorf("failed to record trade transaction: %w", err)
	}

	if err := e.users.MarkTraded(ctx, order.UserID); err != nil {
		e.logger.Warn("failed to mark user as traded",
			zap.Int("user_id", order.UserID), zap.Error(err))
	}

	e.sink.Emit(events.Event{
		Type:     events.OrderFilled,
		UserID:   order.UserID,
		EntityID: order.ID.String(),
		Asset:    creditAsset,
		Amount:   creditAmount,
		Detail:   fmt.Sprintf("%s %s %s at %s", order.Side, order.Quantity, order.Symbol, executionPrice),
	})
	e.sink.Emit(events.Event{
		Type:     events.TransactionCompleted,
		UserID:   order.UserID,
		EntityID: trade.ID.String(),
		Asset:    creditAsset,
		Amount:   creditAmount,
	})

	e.logger.Info("order filled",
		zap.String("order_id", order.ID.String()),
		zap.Int("user_id", order.UserID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("price", executionPrice.String()),
		zap.String("fee", fee.String()))
	return filled, nil
}

// settleEffects records which ledger mutations a settle attempt has applied
// so far, so rollback can reverse exactly those.
type settleEffects struct {
	debited        decimal.Decimal
	excessReleased decimal.Decimal
	creditAsset    string
	credited       decimal.Decimal
}

// rollback marks the order Rejected and reverses the applied ledger effects.
// Rejected is terminal, so the reservation is released entirely: the user ends
// with everything back in available, nothing locked against this order.
func (e *Engine) rollback(ctx context.Context, order *models.Order, fx settleEffects) {
	e.logger.Error("settlement failed, rolling back order",
		zap.String("order_id", order.ID.String()))

	if _, err := e.orders.Transition(ctx, order.ID,
		[]models.OrderStatus{models.OrderFilled}, models.OrderRejected,
		func(o *models.Order) {
			o.FilledQuantity = decimal.Zero
			o.AveragePrice = nil
			o.FilledAt = nil
		}); err != nil {
		e.logger.Error("rollback could not mark order rejected",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}

	// pull back the credited proceeds
	if fx.credited.IsPositive() {
		if err := e.ledger.Lock(ctx, order.UserID, fx.creditAsset, fx.credited); err != nil {
			e.logger.Error("rollback could not reclaim credited funds",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		} else if err := e.ledger.DebitLocked(ctx, order.UserID, fx.creditAsset, fx.credited); err != nil {
			e.logger.Error("rollback could not remove credited funds",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}

	// return the consumed part of the reservation to available
	if fx.debited.IsPositive() {
		if err := e.ledger.Credit(ctx, order.UserID, order.LockedAsset, fx.debited); err != nil {
			e.logger.Error("rollback credit failed",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}

	// release whatever is still locked under this order
	remaining := order.LockedAmount.Sub(fx.debited).Sub(fx.excessReleased)
	if remaining.IsPositive() {
		if err := e.ledger.Unlock(ctx, order.UserID, order.LockedAsset, remaining); err != nil {
			e.logger.Error("rollback unlock failed",
				zap.String("order_id", order.ID.String()), zap.Error(err))
		}
	}
}

// CancelOrder releases the unfilled remainder of a resting order. Only the
// owner may cancel, and only while the order is still cancellable.
func (e *Engine) CancelOrder(ctx context.Context, userID int, orderID uuid.UUID) (*models.Order, error) {
	existing, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("order not found")
	}

	cancelled, err := e.orders.Transition(ctx, orderID,
		[]models.OrderStatus{models.OrderPending, models.OrderPartiallyFilled},
		models.OrderCancelled, nil)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyProcessed) {
			return nil, errs.ErrNotCancellable
		}
		return nil, err
	}

	// unfilled share of the original reservation
	remainder := cancelled.LockedAmount
	if cancelled.FilledQuantity.IsPositive() {
		unfilled := cancelled.Quantity.Sub(cancelled.FilledQuantity)
		remainder = cancelled.LockedAmount.Mul(unfilled).Div(cancelled.Quantity)
	}
	if remainder.IsPositive() {
		if err := e.ledger.Unlock(ctx, userID, cancelled.LockedAsset, remainder); err != nil {
			e.logger.Error("failed to unlock cancelled order funds",
				zap.String("order_id", orderID.String()), zap.Error(err))
			return nil, err
		}
	}

	e.logger.Info("order cancelled",
		zap.String("order_id", orderID.String()),
		zap.Int("user_id", userID),
		zap.String("released", remainder.String()))
	return cancelled, nil
}

// ListOrders returns the user's orders, newest first
func (e *Engine) ListOrders(ctx context.Context, userID int) ([]models.Order, error) {
	return e.orders.ListByUser(ctx, userID)
}
