package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/averrone/exchange/internal/api"
	"github.com/averrone/exchange/internal/auth"
	"github.com/averrone/exchange/internal/config"
	"github.com/averrone/exchange/internal/db"
	"github.com/averrone/exchange/internal/events"
	"github.com/averrone/exchange/internal/models"
	"github.com/averrone/exchange/internal/oracle"
	"github.com/averrone/exchange/internal/settlement"
	"github.com/averrone/exchange/internal/transactions"
	"github.com/averrone/exchange/internal/worker"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// hub fans messages out to connected websocket clients
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{clients: make(map[*wsClient]bool), logger: logger}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) broadcast(channel string, payload interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"data":    payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.add(client)

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			conn.Close()
			break
		}
	}
}

func broadcastTicker(h *hub, pricer *oracle.Drift) {
	quotes := make([]models.Quote, 0)
	for _, symbol := range pricer.Symbols() {
		quote, err := pricer.GetQuote(symbol)
		if err != nil {
			continue
		}
		quotes = append(quotes, quote)
	}
	h.broadcast("ticker", quotes)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	defer logger.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	// Simulated market feed with opening prices
	pricer := oracle.NewDrift(map[string]decimal.Decimal{
		"BTC/USDT": decimal.NewFromInt(50000),
		"ETH/USDT": decimal.NewFromInt(3000),
		"SOL/USDT": decimal.NewFromInt(150),
	})

	// Audit sink: events are logged and mirrored to websocket clients
	dispatcher := events.NewDispatcher(logger, cfg.EventBufferDepth)
	defer dispatcher.Close()

	wsHub := newHub(logger)
	dispatcher.Subscribe(func(event events.Event) {
		wsHub.broadcast("audit", event)
	})

	txStore := database.Transactions()
	orderStore := database.Orders()

	authService := auth.NewAuthService(database, cfg.JWTSecret)
	manager := transactions.NewManager(txStore, database, database, pricer, dispatcher, logger)
	engine := settlement.NewEngine(orderStore, database, pricer, txStore, database, dispatcher, logger)
	handler := api.NewHandler(authService, manager, engine, database, txStore, pricer, logger)

	// Background deposit settlement
	depositWorker := worker.NewDepositProcessor(txStore, manager, logger,
		cfg.WorkerInterval, cfg.DepositDelay)
	go depositWorker.Run(ctx)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint
	r.Get("/ws", wsHub.handleWebSocket)

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/quotes", handler.GetQuote)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/balances", handler.GetBalances)
		r.Post("/deposits", handler.CreateDeposit)
		r.Post("/withdrawals", handler.CreateWithdrawal)
		r.Delete("/withdrawals/{id}", handler.CancelWithdrawal)
		r.Get("/transactions", handler.GetTransactions)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)

		// Admin review endpoints
		r.Group(func(r chi.Router) {
			r.Use(handler.AdminOnly)
			r.Get("/admin/transactions", handler.GetReviewQueue)
			r.Post("/admin/transactions/{id}/approve", handler.ApproveTransaction)
			r.Post("/admin/transactions/{id}/reject", handler.RejectTransaction)
		})
	})

	// Periodic ticker broadcast
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastTicker(wsHub, pricer)
			}
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", zap.Int("port", cfg.APIPort))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
