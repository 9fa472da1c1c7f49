// internal/payment/paypal.go
package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pizzapalace/internal/config"
	"pizzapalace/internal/logger"
)

type PayPalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	AppID       string `json:"app_id"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// PayPalError represents an error response from the PayPal API
type PayPalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details,omitempty"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalOrderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string       `json:"id"`
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// PayPalClient talks to the PayPal Orders v2 REST API. The OAuth token is
// cached until a minute before it expires. Requests are never retried.
type PayPalClient struct {
	apiBase      string
	clientID     string
	clientSecret string
	brandName    string
	httpClient   *http.Client
	now          func() time.Time

	tokenMu        sync.Mutex
	cachedToken    string
	tokenExpiresAt time.Time
}

func NewPayPalClient(cfg config.PaymentConfig) *PayPalClient {
	return &PayPalClient{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		brandName:    cfg.BrandName,
		now:          time.Now,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		},
	}
}

// AccessToken returns an "Authorization" header value.
func (c *PayPalClient) AccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.cachedToken != "" && c.now().Before(c.tokenExpiresAt) {
		logger.LogDebug("Using cached PayPal access token (expires at %v)", c.tokenExpiresAt)
		return c.cachedToken, nil
	}

	formData := url.Values{}
	formData.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/oauth2/token", strings.NewReader(formData.Encode()))
	if err != nil {
		return "", &Error{Code: CodeGateway, Err: fmt.Errorf("creating PayPal auth request: %w", err)}
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	logger.LogInfo("Requesting new PayPal access token")
	status, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		logger.LogError("PayPal auth error (HTTP %d): %s", status, string(body))
		return "", &Error{Code: CodeGateway, StatusCode: status, Err: fmt.Errorf("PayPal auth returned status %d", status)}
	}

	var result PayPalTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &Error{Code: CodeGateway, Err: fmt.Errorf("parsing PayPal auth response: %w", err)}
	}
	if result.AccessToken == "" {
		return "", &Error{Code: CodeGateway, Err: fmt.Errorf("access token not found in PayPal response")}
	}

	tokenType := result.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	c.cachedToken = tokenType + " " + result.AccessToken
	c.tokenExpiresAt = c.now().Add(time.Duration(result.ExpiresIn-60) * time.Second)

	logger.LogInfo("Fetched and cached new PayPal access token (expires at %v)", c.tokenExpiresAt)
	return c.cachedToken, nil
}

// CreateOrder creates a CAPTURE intent order for the full amount.
func (c *PayPalClient) CreateOrder(ctx context.Context, order OrderRequest) (*ProviderOrder, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	unit := map[string]interface{}{
		"reference_id": order.ReferenceID,
		"invoice_id":   order.ReferenceID,
		"description":  order.Description,
		"amount": paypalAmount{
			CurrencyCode: order.Currency,
			Value:        order.Amount.StringFixed(2),
		},
	}
	orderData := map[string]interface{}{
		"intent":         "CAPTURE",
		"purchase_units": []map[string]interface{}{unit},
		"application_context": map[string]interface{}{
			"brand_name":  c.brandName,
			"user_action": "PAY_NOW",
		},
	}
	if order.Customer.Email != "" {
		orderData["payer"] = map[string]interface{}{"email_address": order.Customer.Email}
	}

	bodyBytes, err := json.Marshal(orderData)
	if err != nil {
		return nil, &Error{Code: CodeBadRequest, Err: fmt.Errorf("marshal order data: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/checkout/orders", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &Error{Code: CodeGateway, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("PayPal-Request-Id", order.ReferenceID)

	logger.LogInfo("Creating PayPal order for %s: %s %s", order.ReferenceID, order.Amount.StringFixed(2), order.Currency)
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, apiError("create order", status, body)
	}

	var resp paypalOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Code: CodeGateway, Err: fmt.Errorf("decode PayPal order response: %w", err)}
	}
	if resp.ID == "" {
		return nil, &Error{Code: CodeGateway, Err: fmt.Errorf("PayPal order response has no id")}
	}

	result := &ProviderOrder{ID: resp.ID, Status: resp.Status}
	for _, link := range resp.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			result.ApproveURL = link.Href
			break
		}
	}

	logger.LogInfo("Successfully created PayPal order %s for %s", resp.ID, order.ReferenceID)
	return result, nil
}

// CaptureOrder captures an approved order. Anything other than a COMPLETED
// capture is a failure.
func (c *PayPalClient) CaptureOrder(ctx context.Context, providerOrderID string) (*Capture, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	captureURL := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.apiBase, url.PathEscape(providerOrderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, captureURL, strings.NewReader("{}"))
	if err != nil {
		return nil, &Error{Code: CodeGateway, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	logger.LogInfo("Capturing PayPal order %s", providerOrderID)
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, apiError("capture order", status, body)
	}

	var resp paypalOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Code: CodeGateway, Err: fmt.Errorf("decode PayPal capture response: %w", err)}
	}

	capture := &Capture{OrderID: resp.ID, Status: resp.Status, Raw: string(body)}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		cap0 := resp.PurchaseUnits[0].Payments.Captures[0]
		capture.CaptureID = cap0.ID
		capture.Currency = cap0.Amount.CurrencyCode
		if amt, err := decimal.NewFromString(cap0.Amount.Value); err == nil {
			capture.Amount = amt
		}
	}

	if resp.Status != "COMPLETED" {
		logger.LogWarn("PayPal capture for %s returned status %s", providerOrderID, resp.Status)
		return capture, &Error{Code: CodePaymentDeclined, StatusCode: status}
	}

	logger.LogInfo("Successfully captured PayPal order %s (capture %s)", providerOrderID, capture.CaptureID)
	return capture, nil
}

// do executes req and reads the body. Transport failures are NETWORK_ERROR.
func (c *PayPalClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.LogError("PayPal request %s %s failed: %v", req.Method, req.URL.Path, err)
		return 0, nil, &Error{Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &Error{Code: CodeNetwork, Err: fmt.Errorf("reading PayPal response body: %w", err)}
	}
	return resp.StatusCode, body, nil
}

func apiError(op string, status int, body []byte) *Error {
	var ppErr PayPalError
	_ = json.Unmarshal(body, &ppErr)

	description := ppErr.Message
	if len(ppErr.Details) > 0 && ppErr.Details[0].Description != "" {
		description = ppErr.Details[0].Description
	}

	code := CodeServer
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = CodeGateway
	case status >= 400 && status < 500:
		code = CodeBadRequest
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		code = CodeGateway
	}

	logger.LogError("PayPal %s error (HTTP %d, debug_id=%s): %s", op, status, ppErr.DebugID, string(body))
	return &Error{
		Code:        code,
		Description: description,
		StatusCode:  status,
		Err:         fmt.Errorf("PayPal %s returned status %d", op, status),
	}
}
