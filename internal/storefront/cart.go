package storefront

import (
	"errors"
	"net/http"

	"pizzapalace/internal/cart"
	"pizzapalace/internal/logger"
	"pizzapalace/internal/middleware"
)

var errLineNotFound = errors.New("cart line not found")

type addItemRequest struct {
	ProductID      string               `json:"productId"`
	Customizations *cart.Customizations `json:"customizations,omitempty"`
	Quantity       int                  `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

type discountRequest struct {
	Code string `json:"code"`
}

// cartView is the cart as the client sees it.
type cartView struct {
	cart.Summary
	EstimatedDeliveryMinutes int `json:"estimatedDeliveryMinutes"`
}

type validationView struct {
	Valid      bool             `json:"valid"`
	Violations []cart.Violation `json:"violations"`
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.respondWithCart(w, r, func(*cart.Ledger) error { return nil }, false)
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	product, ok := h.catalog.Get(req.ProductID)
	if !ok {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "product_not_found", "Product not found", nil)
		return
	}

	customizations := product.QuickAddCustomizations()
	if req.Customizations != nil && product.Customizable {
		customizations = *req.Customizations
	}

	h.respondWithCart(w, r, func(l *cart.Ledger) error {
		_, err := l.AddLine(product.CartProduct(), customizations, req.Quantity)
		return err
	}, true)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil || req.Quantity == nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "A quantity is required", nil)
		return
	}

	id := r.PathValue("id")
	h.respondWithCart(w, r, func(l *cart.Ledger) error {
		if _, ok := l.Line(id); !ok {
			return errLineNotFound
		}
		l.SetQuantity(id, *req.Quantity)
		return nil
	}, true)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.respondWithCart(w, r, func(l *cart.Ledger) error {
		if _, ok := l.Line(id); !ok {
			return errLineNotFound
		}
		l.RemoveLine(id)
		return nil
	}, true)
}

// handleClearCart empties the cart and forgets the session, so nothing is
// left in memory or in the store.
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var view cartView
	err := h.sessions.With(ctx, sessionID, func(l *cart.Ledger) error {
		l.Clear()
		view = cartView{Summary: l.Summary(), EstimatedDeliveryMinutes: l.EstimatedDeliveryMinutes()}
		return nil
	})
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	// Discard logs its own failure; the cart is already empty in memory.
	_ = h.sessions.Discard(ctx, sessionID)
	middleware.WriteAPISuccess(w, r, view)
}

func (h *Handler) handleValidateCart(w http.ResponseWriter, r *http.Request) {
	var view validationView
	err := h.sessions.With(r.Context(), middleware.GetSessionID(r.Context()), func(l *cart.Ledger) error {
		view.Violations = l.ValidateForCheckout()
		return nil
	})
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if view.Violations == nil {
		view.Violations = []cart.Violation{}
	}
	view.Valid = len(view.Violations) == 0
	middleware.WriteAPISuccess(w, r, view)
}

func (h *Handler) handleDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	var (
		quote cart.Discount
		found bool
	)
	err := h.sessions.With(r.Context(), middleware.GetSessionID(r.Context()), func(l *cart.Ledger) error {
		quote, found = l.QuoteDiscount(req.Code)
		return nil
	})
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if !found {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "invalid_discount_code", "Invalid discount code", nil)
		return
	}
	middleware.WriteAPISuccess(w, r, quote)
}

// respondWithCart runs fn against the session's ledger and writes the
// resulting cart. Mutations are saved; a failed save is logged only.
func (h *Handler) respondWithCart(w http.ResponseWriter, r *http.Request, fn func(*cart.Ledger) error, mutates bool) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)

	var view cartView
	err := h.sessions.With(ctx, sessionID, func(l *cart.Ledger) error {
		if err := fn(l); err != nil {
			return err
		}
		view = cartView{Summary: l.Summary(), EstimatedDeliveryMinutes: l.EstimatedDeliveryMinutes()}
		return nil
	})
	switch {
	case errors.Is(err, errLineNotFound):
		middleware.WriteAPIError(w, r, http.StatusNotFound, "line_not_found", "Item is not in the cart", nil)
		return
	case errors.Is(err, cart.ErrInvalidItem):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_item", "Invalid cart item", err.Error())
		return
	case err != nil:
		writeInternalError(w, r, err)
		return
	}

	if mutates {
		// Save logs its own failure; the in-memory cart is still correct.
		_ = h.sessions.Save(ctx, sessionID)
	}
	middleware.WriteAPISuccess(w, r, view)
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	logger.LogHTTPError(r, http.StatusInternalServerError, err)
	middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error", "An internal error occurred", nil)
}
