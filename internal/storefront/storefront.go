// internal/storefront/storefront.go
package storefront

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pizzapalace/internal/catalog"
	"pizzapalace/internal/checkout"
	"pizzapalace/internal/logger"
	"pizzapalace/internal/middleware"
	"pizzapalace/internal/payment"
	"pizzapalace/internal/security"
	"pizzapalace/internal/session"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the storefront JSON API.
type Handler struct {
	catalog  *catalog.Service
	sessions *session.Manager
	checkout *checkout.Service
	tokens   *security.TokenStore
	db       Pinger
}

func NewHandler(cat *catalog.Service, sessions *session.Manager, co *checkout.Service, tokens *security.TokenStore, db Pinger) *Handler {
	return &Handler{
		catalog:  cat,
		sessions: sessions,
		checkout: co,
		tokens:   tokens,
		db:       db,
	}
}

// Routes returns the full route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/catalog", h.handleCatalog)
	api.HandleFunc("GET /api/catalog/{id}", h.handleProduct)

	api.HandleFunc("GET /api/cart", h.handleGetCart)
	api.HandleFunc("POST /api/cart/items", h.handleAddItem)
	api.HandleFunc("PATCH /api/cart/items/{id}", h.handleUpdateItem)
	api.HandleFunc("DELETE /api/cart/items/{id}", h.handleRemoveItem)
	api.HandleFunc("DELETE /api/cart", h.handleClearCart)
	api.HandleFunc("GET /api/cart/validation", h.handleValidateCart)
	api.HandleFunc("POST /api/cart/discount", h.handleDiscount)

	api.HandleFunc("GET /api/payment-methods", h.handlePaymentMethods)
	api.HandleFunc("GET /api/csrf-token", h.handleCSRFToken)
	api.Handle("POST /api/checkout", middleware.RequireCSRF(h.tokens, http.HandlerFunc(h.handleStartCheckout)))
	api.HandleFunc("POST /api/checkout/capture", h.handleCaptureCheckout)
	api.HandleFunc("GET /api/orders", h.handleListOrders)
	api.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)

	api.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "No such endpoint", nil)
	})

	mux.Handle("/api/", middleware.APIMiddleware(api))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.LogInfo("404 not found: %s", r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "Page not found"})
	})
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	database := "ok"
	if err := h.db.Ping(ctx); err != nil {
		logger.LogError("Health check database ping failed: %v", err)
		status = http.StatusServiceUnavailable
		database = "unavailable"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":         http.StatusText(status),
		"database":       database,
		"products":       len(h.catalog.Products()),
		"catalogAge":     h.catalog.CacheAge().Round(time.Second).String(),
		"activeSessions": h.sessions.Active(),
	})
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("view") == "grouped" {
		middleware.WriteAPISuccess(w, r, map[string]interface{}{
			"groups":     h.catalog.ByCategory(),
			"categories": catalog.Categories,
		})
		return
	}

	products := h.catalog.Query(q.Get("category"), q.Get("q"), q.Get("sort"))
	if products == nil {
		products = []catalog.Product{}
	}

	middleware.WriteAPISuccess(w, r, map[string]interface{}{
		"products":   products,
		"categories": catalog.Categories,
		"count":      len(products),
	})
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.catalog.Get(r.PathValue("id"))
	if !ok {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "product_not_found", "Product not found", nil)
		return
	}
	middleware.WriteAPISuccess(w, r, p)
}

func (h *Handler) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, payment.Methods())
}

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	token, err := h.tokens.Generate()
	if err != nil {
		logger.LogError("Failed to issue CSRF token: %v", err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "Could not issue token", nil)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"csrf_token": token})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogError("Failed to encode response: %v", err)
	}
}
