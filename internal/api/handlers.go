package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/averrone/exchange/internal/auth"
	"github.com/averrone/exchange/internal/errs"
	"github.com/averrone/exchange/internal/ledger"
	"github.com/averrone/exchange/internal/models"
	"github.com/averrone/exchange/internal/oracle"
	"github.com/averrone/exchange/internal/settlement"
	"github.com/averrone/exchange/internal/transactions"
)

type contextKey string

const claimsKey contextKey = "claims"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	AuthService  *auth.AuthService
	Transactions *transactions.Manager
	Settlement   *settlement.Engine
	Ledger       ledger.Store
	TxStore      transactions.Store
	Oracle       oracle.Oracle
	Logger       *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(authService *auth.AuthService, txManager *transactions.Manager, engine *settlement.Engine, lg ledger.Store, txStore transactions.Store, pricer oracle.Oracle, logger *zap.Logger) *Handler {
	return &Handler{
		AuthService:  authService,
		Transactions: txManager,
		Settlement:   engine,
		Ledger:       lg,
		TxStore:      txStore,
		Oracle:       pricer,
		Logger:       logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// httpStatus maps domain errors onto HTTP status codes. Validation failures
// from the managers arrive as plain errors and map to 400.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrAlreadyProcessed), errors.Is(err, errs.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, errs.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, errs.ErrUnknownSymbol), errors.Is(err, errs.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) domainError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.Error(err))
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// claims extracts the verified identity set by JWTAuthMiddleware
func claims(r *http.Request) (auth.Claims, bool) {
	c, ok := r.Context().Value(claimsKey).(auth.Claims)
	return c, ok
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and stores the claims in the request
// context
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			respondError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		c, err := h.AuthService.VerifyToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects requests whose identity does not carry the admin role
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := claims(r)
		if !ok || !c.IsAdmin() {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetBalances returns all balance records for the authenticated user
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	balances, err := h.Ledger.Balances(r.Context(), c.UserID)
	if err != nil {
		h.Logger.Error("failed to list balances", zap.Int("user_id", c.UserID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve balances")
		return
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	respondJSON(w, http.StatusOK, balances)
}

// CreateDeposit records an incoming deposit for the authenticated user
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Asset  string          `json:"asset"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Asset == "" {
		respondError(w, http.StatusBadRequest, "Asset required")
		return
	}

	tx, err := h.Transactions.CreateDeposit(r.Context(), c.UserID, strings.ToUpper(req.Asset), req.Amount)
	if err != nil {
		h.domainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// CreateWithdrawal locks funds and queues a withdrawal for review
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Asset   string          `json:"asset"`
		Amount  decimal.Decimal `json:"amount"`
		Address string          `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Asset == "" {
		respondError(w, http.StatusBadRequest, "Asset required")
		return
	}

	tx, err := h.Transactions.CreateWithdrawal(r.Context(), c.UserID, strings.ToUpper(req.Asset), req.Amount, req.Address)
	if err != nil {
		h.domainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// CancelWithdrawal cancels a still-pending withdrawal owned by the caller
func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	tx, err := h.Transactions.CancelWithdrawal(r.Context(), txID, c.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyProcessed) {
			respondError(w, http.StatusConflict, "Withdrawal is no longer pending")
			return
		}
		respondError(w, http.StatusNotFound, "Withdrawal not found")
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// GetTransactions returns the caller's transaction history, newest first
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txs, err := h.TxStore.ListByUser(r.Context(), c.UserID)
	if err != nil {
		h.Logger.Error("failed to list transactions", zap.Int("user_id", c.UserID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, txs)
}

// PlaceOrder validates and places an order for the authenticated user
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Symbol     string           `json:"symbol"`
		Side       string           `json:"side"`
		Type       string           `json:"type"`
		Quantity   decimal.Decimal  `json:"quantity"`
		LimitPrice *decimal.Decimal `json:"limit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side := models.OrderSide(req.Side)
	if side != models.SideBuy && side != models.SideSell {
		respondError(w, http.StatusBadRequest, "Side must be 'buy' or 'sell'")
		return
	}
	typ := models.OrderType(req.Type)
	if typ == "" {
		typ = models.TypeMarket
	}
	if typ != models.TypeMarket && typ != models.TypeLimit {
		respondError(w, http.StatusBadRequest, "Type must be 'market' or 'limit'")
		return
	}

	order, err := h.Settlement.PlaceOrder(r.Context(), c.UserID,
		strings.ToUpper(req.Symbol), side, typ, req.Quantity, req.LimitPrice)
	if err != nil {
		h.domainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// GetUserOrders retrieves the caller's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.Settlement.ListOrders(r.Context(), c.UserID)
	if err != nil {
		h.Logger.Error("failed to list orders", zap.Int("user_id", c.UserID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels an open order and releases its unfilled reservation
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := h.Settlement.CancelOrder(r.Context(), c.UserID, orderID)
	if err != nil {
		if errors.Is(err, errs.ErrNotCancellable) {
			respondError(w, http.StatusConflict, "Order can no longer be cancelled")
			return
		}
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GetQuote returns the current platform price for a symbol
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	quote, err := h.Oracle.GetQuote(symbol)
	if err != nil {
		if errors.Is(err, errs.ErrUnknownSymbol) {
			respondError(w, http.StatusNotFound, "Unknown symbol")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "Price unavailable")
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// GetReviewQueue lists transactions awaiting admin review. An optional
// comma-separated status filter narrows the queue.
func (h *Handler) GetReviewQueue(w http.ResponseWriter, r *http.Request) {
	statuses := []models.TransactionStatus{models.TxPending, models.TxFlagged}
	if filter := r.URL.Query().Get("status"); filter != "" {
		statuses = nil
		for _, s := range strings.Split(filter, ",") {
			statuses = append(statuses, models.TransactionStatus(strings.TrimSpace(s)))
		}
	}

	txs, err := h.TxStore.ListByStatus(r.Context(), statuses...)
	if err != nil {
		h.Logger.Error("failed to list review queue", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to retrieve review queue")
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, txs)
}

// ApproveTransaction approves a transaction awaiting review
func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	tx, err := h.Transactions.Approve(r.Context(), txID, c.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// RejectTransaction rejects a transaction awaiting review
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		// notes are optional; an empty body is fine
		json.NewDecoder(r.Body).Decode(&req)
	}

	tx, err := h.Transactions.Reject(r.Context(), txID, c.UserID, req.Notes)
	if err != nil {
		h.domainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}
