// Package paypaltest provides an in-process PayPal API for tests.
package paypaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"pizzapalace/internal/config"
)

// MockPayPal serves the subset of the PayPal REST API the client uses.
type MockPayPal struct {
	Server *httptest.Server

	mu     sync.Mutex
	orders map[string]*MockOrder
	seq    int

	// Failure simulation
	failAuth       bool
	failCreate     int
	failCapture    int
	captureStatus  string
	networkLatency time.Duration

	// Counters
	AuthAttempts    int
	CreateAttempts  int
	CaptureAttempts int
}

type MockOrder struct {
	ID          string
	Status      string
	Amount      string
	Currency    string
	ReferenceID string
	Created     time.Time
	Captured    *time.Time
}

func NewMockPayPal() *MockPayPal {
	m := &MockPayPal{orders: make(map[string]*MockOrder)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", m.handleToken)
	mux.HandleFunc("/v2/checkout/orders", m.handleCreateOrder)
	mux.HandleFunc("/v2/checkout/orders/", m.handleOrderAction)

	m.Server = httptest.NewServer(mux)
	return m
}

func (m *MockPayPal) Close() {
	m.Server.Close()
}

// Config returns payment settings pointing at the mock.
func (m *MockPayPal) Config() config.PaymentConfig {
	return config.PaymentConfig{
		Mode:         "sandbox",
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		APIBase:      m.Server.URL,
		Currency:     "INR",
		BrandName:    "Pizza Palace",
	}
}

// SetFailAuth makes the token endpoint reject credentials.
func (m *MockPayPal) SetFailAuth(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAuth = fail
}

// FailCreate makes order creation return the given HTTP status (0 disables).
func (m *MockPayPal) FailCreate(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = status
}

// FailCapture makes capture return the given HTTP status (0 disables).
func (m *MockPayPal) FailCapture(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCapture = status
}

// SetCaptureStatus overrides the order status reported by a capture.
func (m *MockPayPal) SetCaptureStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureStatus = status
}

func (m *MockPayPal) SetNetworkLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkLatency = d
}

func (m *MockPayPal) Order(id string) (MockOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return MockOrder{}, false
	}
	return *o, true
}

func (m *MockPayPal) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MockPayPal) Stats() (auth, create, capture int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AuthAttempts, m.CreateAttempts, m.CaptureAttempts
}

func (m *MockPayPal) delay() {
	m.mu.Lock()
	d := m.networkLatency
	m.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

// HTTP Handlers

func (m *MockPayPal) handleToken(w http.ResponseWriter, r *http.Request) {
	m.delay()

	m.mu.Lock()
	m.AuthAttempts++
	fail := m.failAuth
	m.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if fail || !ok || user == "" || pass == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error":             "invalid_client",
			"error_description": "Client Authentication failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": fmt.Sprintf("mock-token-%d", time.Now().UnixNano()),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (m *MockPayPal) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.delay()

	m.mu.Lock()
	m.CreateAttempts++
	failStatus := m.failCreate
	m.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"name": "AUTHENTICATION_FAILURE"})
		return
	}
	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]interface{}{
			"name":     "INTERNAL_SERVER_ERROR",
			"message":  "Order creation failed",
			"debug_id": "mock-debug",
		})
		return
	}

	var req struct {
		Intent        string `json:"intent"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Amount      struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"purchase_units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PurchaseUnits) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"name":    "INVALID_REQUEST",
			"message": "Request is not well-formed",
		})
		return
	}
	unit := req.PurchaseUnits[0]

	m.mu.Lock()
	m.seq++
	order := &MockOrder{
		ID:          fmt.Sprintf("MOCK-ORDER-%d", m.seq),
		Status:      "CREATED",
		Amount:      unit.Amount.Value,
		Currency:    unit.Amount.CurrencyCode,
		ReferenceID: unit.ReferenceID,
		Created:     time.Now(),
	}
	m.orders[order.ID] = order
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     order.ID,
		"status": order.Status,
		"links": []map[string]interface{}{
			{"href": fmt.Sprintf("%s/v2/checkout/orders/%s", m.Server.URL, order.ID), "rel": "self", "method": "GET"},
			{"href": fmt.Sprintf("%s/checkoutnow?token=%s", m.Server.URL, order.ID), "rel": "approve", "method": "GET"},
		},
	})
}

func (m *MockPayPal) handleOrderAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/checkout/orders/")
	parts := strings.Split(path, "/")
	orderID := parts[0]

	if r.Method == http.MethodPost && len(parts) > 1 && parts[1] == "capture" {
		m.handleCapture(w, orderID)
		return
	}
	http.Error(w, "Invalid endpoint", http.StatusNotFound)
}

func (m *MockPayPal) handleCapture(w http.ResponseWriter, orderID string) {
	m.delay()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CaptureAttempts++
	if m.failCapture != 0 {
		writeJSON(w, m.failCapture, map[string]interface{}{
			"name":    "UNPROCESSABLE_ENTITY",
			"message": "The requested action could not be performed",
			"details": []map[string]interface{}{
				{"issue": "INSTRUMENT_DECLINED", "description": "The instrument presented was declined."},
			},
		})
		return
	}

	order, ok := m.orders[orderID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"name":    "RESOURCE_NOT_FOUND",
			"message": "The specified resource does not exist.",
		})
		return
	}

	status := "COMPLETED"
	if m.captureStatus != "" {
		status = m.captureStatus
	}
	order.Status = status
	if status == "COMPLETED" {
		now := time.Now()
		order.Captured = &now
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     order.ID,
		"status": status,
		"purchase_units": []map[string]interface{}{
			{
				"payments": map[string]interface{}{
					"captures": []map[string]interface{}{
						{
							"id":     "CAPTURE-" + order.ID,
							"status": status,
							"amount": map[string]interface{}{
								"currency_code": order.Currency,
								"value":         order.Amount,
							},
						},
					},
				},
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
