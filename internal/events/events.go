// Package events is the notification/audit sink. Emission is fire-and-forget:
// a full queue drops the event rather than ever blocking settlement, and
// delivery failures are logged, never propagated.
package events

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type identifies an audit event
type Type string

const (
	TransactionCompleted Type = "transaction.completed"
	OrderFilled          Type = "order.filled"
	RiskFlagged          Type = "risk.flagged"
)

// Event is a structured audit record
type Event struct {
	Type     Type            `json:"type"`
	UserID   int             `json:"user_id"`
	EntityID string          `json:"entity_id"`
	Asset    string          `json:"asset,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Detail   string          `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
}

// Sink accepts audit events. Emit must never block the caller.
type Sink interface {
	Emit(Event)
}

// Subscriber receives delivered events; called from the dispatch goroutine
type Subscriber func(Event)

// Dispatcher is an in-process Sink backed by a buffered queue and a single
// dispatch goroutine. Events are logged and fanned out to subscribers.
type Dispatcher struct {
	logger *zap.Logger
	queue  chan Event

	mu   sync.RWMutex
	subs []Subscriber

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher starts a dispatcher with the given queue depth
func NewDispatcher(logger *zap.Logger, depth int) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		queue:  make(chan Event, depth),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Subscribe registers a subscriber for all future events
func (d *Dispatcher) Subscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, sub)
}

// Emit enqueues an event. Drops it with a warning when the queue is full.
func (d *Dispatcher) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("audit queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("entity_id", event.EntityID))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.done:
			// drain what is already queued
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.logger.Info("audit event",
		zap.String("type", string(event.Type)),
		zap.Int("user_id", event.UserID),
		zap.String("entity_id", event.EntityID),
		zap.String("asset", event.Asset),
		zap.String("amount", event.Amount.String()),
		zap.String("detail", event.Detail))

	d.mu.RLock()
	subs := make([]Subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// Close stops dispatching after draining queued events
func (d *Dispatcher) Close() {
	close(d.done)
	d.wg.Wait()
}

// Discard is a Sink that ignores everything; handy in tests
type Discard struct{}

func (Discard) Emit(Event) {}
