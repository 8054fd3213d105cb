package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/auth"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/matches"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/orders"
	"github.com/xtrntr/spotex/internal/store"
)

type ctxKey string

const userIDKey = ctxKey("user_id")

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          store.Store
	Orders      *orders.Service
	Matches     *matches.Store
	AuthService *auth.AuthService
	Hub         *notify.Hub
	Log         logger.Interface
}

// NewHandler creates a new handler
func NewHandler(db store.Store, svc *orders.Service, ms *matches.Store, authService *auth.AuthService, hub *notify.Hub, log logger.Interface) *Handler {
	return &Handler{DB: db, Orders: svc, Matches: ms, AuthService: authService, Hub: hub, Log: log}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperror.CodeOf(err)
	status := apperror.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.Log.ErrorContext(r.Context(), err,
			logger.NewField("method", r.Method),
			logger.NewField("path", r.URL.Path))
	}
	writeJSON(w, status, errorResponse{Error: apperror.Message(err), Code: string(code)})
}

func badRequest(msg string) error {
	return apperror.New(apperror.ValidationError, msg)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func userID(r *http.Request) (int, error) {
	id, ok := r.Context().Value(userIDKey).(int)
	if !ok {
		return 0, apperror.New(apperror.Unauthorized, "unauthorized")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest(name + " must be a non-negative integer")
	}
	return v, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, r, apperror.New(apperror.Unauthorized, "authorization header required"))
			return
		}

		id, err := h.AuthService.GetUserFromToken(token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type placeOrderRequest struct {
	Side   string `json:"side"`
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
}

// PlaceOrder reserves funds and records an order; matching happens asynchronously
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rawSide := req.Side
	if rawSide == "" {
		rawSide = req.Type
	}
	side, err := models.ParseSide(rawSide)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	price, err := models.ParsePrice(req.Price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.Orders.Create(r.Context(), uid, side, amount, price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetUserOrders retrieves the user's open orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.Orders.Active(r.Context(), uid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// GetOrderHistory retrieves all of the user's orders, paginated
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.Orders.History(r.Context(), uid, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// CancelOrder cancels an open order and releases its reservation
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || orderID <= 0 {
		h.writeError(w, r, badRequest("invalid order id"))
		return
	}

	order, err := h.Orders.Cancel(r.Context(), uid, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetOrderBook returns open orders aggregated by price level
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Orders.Book(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetLatestMatches returns the most recent match records
func (h *Handler) GetLatestMatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", matches.DefaultLatest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Matches.LatestN(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// GetMatchBook returns the unresolved legs waiting for a counterparty
func (h *Handler) GetMatchBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Matches.BookSnapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetGlobalStatistics returns the 24 hour market summary
func (h *Handler) GetGlobalStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Matches.MarketStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetMatchStatistics returns recent executions
func (h *Handler) GetMatchStatistics(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", matches.DefaultLatest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	trades, err := h.Matches.Trades(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trades))
}

// GetMe returns the authenticated user with balances
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.DB.GetUser(r.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = apperror.New(apperror.UserNotFound, "user not found")
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserStatistics returns the user's balances and open order count
func (h *Handler) GetUserStatistics(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.Orders.UserStats(r.Context(), uid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ServeWS authenticates the session from ?token= or the Authorization
// header and hands the connection to the hub
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		h.writeError(w, r, apperror.New(apperror.Unauthorized, "token required"))
		return
	}
	uid, err := h.AuthService.GetUserFromToken(token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Hub.ServeWS(w, r, uid)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
