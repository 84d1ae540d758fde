package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"usada-checkout/internal/auth"
	"usada-checkout/internal/logger"

	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

// Gateway talks to the order backend. Creating an order and generating
// its payment invoice are two independent, separately retryable calls;
// nothing here is transactional.
type Gateway interface {
	CreateOrder(ctx context.Context, req *Request) (*Order, error)
	GeneratePaymentInvoice(ctx context.Context, orderID uint) (string, error)
	GetOrderStatus(ctx context.Context, orderID uint) (string, error)
	GetOrderDetails(ctx context.Context, orderID uint) (*Order, error)
	ListOrders(ctx context.Context, page int) ([]*Order, *Pagination, error)
	CancelOrder(ctx context.Context, orderID uint) error
}

type apiGateway struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
}

// ----------------- Constructor -----------------

func NewGateway(baseURL string, tokens auth.TokenSource) Gateway {
	if baseURL == "" {
		logger.L().Warn("order API base URL is empty")
	}

	return &apiGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		tokens: tokens,
	}
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Order   json.RawMessage     `json:"order"`
	Errors  map[string][]string `json:"errors"`
}

// ----------------- CreateOrder -----------------

func (g *apiGateway) CreateOrder(ctx context.Context, req *Request) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", "Order"),
		zap.String("method", "CreateOrder"),
		zap.Int("product_count", len(req.Products)),
		zap.Float64("price", req.Price),
	)

	log.Info("submitting order")

	env, err := g.do(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		log.Error("order submission failed", zap.Error(err))
		return nil, err
	}

	raw := env.Order
	if len(raw) == 0 {
		raw = env.Data
	}

	var ord Order
	if err := json.Unmarshal(raw, &ord); err != nil || ord.ID == 0 {
		log.Error("order missing from response", zap.Error(err))
		return nil, &APIError{Kind: KindServerError, Message: "order data not found in response", Err: err}
	}

	// The backend recomputes the total and is authoritative; a
	// divergence is worth knowing about but never fatal.
	if ord.Price != 0 && ord.Price != req.Price {
		log.Warn("backend total differs from client total",
			zap.Float64("client_total", req.Price),
			zap.Float64("backend_total", ord.Price),
		)
	}

	log.Info("order created",
		zap.Uint("order_id", ord.ID),
		zap.String("status", ord.Status),
	)

	return &ord, nil
}

// ----------------- GeneratePaymentInvoice -----------------

// invoiceResponse tolerates the field spellings the backend has shipped
// over time.
type invoiceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	InvoiceURL  string `json:"invoice_url"`
	InvoiceURL2 string `json:"invoiceUrl"`
	URL         string `json:"url"`
}

func (g *apiGateway) GeneratePaymentInvoice(ctx context.Context, orderID uint) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", "Order"),
		zap.String("method", "GeneratePaymentInvoice"),
		zap.Uint("order_id", orderID),
	)

	if orderID == 0 {
		return "", &APIError{Kind: KindInvoiceUnavailable, Message: "invalid order id"}
	}

	log.Info("requesting payment invoice")

	body, err := g.doRaw(ctx, http.MethodPost, fmt.Sprintf("/orders/%d/pay", orderID), nil)
	if err != nil {
		log.Error("invoice request failed", zap.Error(err))
		return "", err
	}

	var res invoiceResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Error("failed decoding invoice response", zap.Error(err))
		return "", &APIError{Kind: KindInvoiceUnavailable, Message: "unreadable invoice response", Err: err}
	}

	invoiceURL := res.InvoiceURL
	if invoiceURL == "" {
		invoiceURL = res.InvoiceURL2
	}
	if invoiceURL == "" {
		invoiceURL = res.URL
	}

	if !res.Success || invoiceURL == "" {
		log.Error("invoice URL missing from response", zap.String("message", res.Message))
		return "", &APIError{Kind: KindInvoiceUnavailable, Message: "invoice URL not received from server"}
	}

	log.Info("invoice URL received")
	return invoiceURL, nil
}

// ----------------- Status & details -----------------

func (g *apiGateway) GetOrderStatus(ctx context.Context, orderID uint) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", "Order"),
		zap.String("method", "GetOrderStatus"),
		zap.Uint("order_id", orderID),
	)

	env, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d/status", orderID), nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Status == "" {
		log.Warn("status missing from response")
		return "", &APIError{Kind: KindServerError, Message: "status not found in response", Err: err}
	}

	return payload.Status, nil
}

func (g *apiGateway) GetOrderDetails(ctx context.Context, orderID uint) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", "Order"),
		zap.String("method", "GetOrderDetails"),
		zap.Uint("order_id", orderID),
	)

	body, err := g.doRaw(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", orderID), nil)
	if err != nil {
		return nil, err
	}

	// Standard envelope first, then a bare order object; the backend
	// has served both shapes.
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		var ord Order
		if err := json.Unmarshal(env.Data, &ord); err == nil && ord.ID != 0 {
			return &ord, nil
		}
	}

	var ord Order
	if err := json.Unmarshal(body, &ord); err == nil && ord.ID != 0 {
		return &ord, nil
	}

	log.Error("unexpected order details response shape")
	return nil, &APIError{Kind: KindServerError, Message: "unexpected response format from server"}
}

func (g *apiGateway) ListOrders(ctx context.Context, page int) ([]*Order, *Pagination, error) {
	if page < 1 {
		page = 1
	}

	env, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/orders?page=%d", page), nil)
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Data []*Order `json:"data"`
		Pagination
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, nil, &APIError{Kind: KindServerError, Message: "unreadable order list", Err: err}
	}

	return payload.Data, &payload.Pagination, nil
}

// ----------------- CancelOrder -----------------

func (g *apiGateway) CancelOrder(ctx context.Context, orderID uint) error {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", "Order"),
		zap.String("method", "CancelOrder"),
		zap.Uint("order_id", orderID),
	)

	log.Info("cancelling order")

	_, err := g.do(ctx, http.MethodPut, fmt.Sprintf("/orders/%d/cancel", orderID), nil)
	if err != nil {
		// Auth expiry keeps its own kind so the session fails properly;
		// everything else becomes a retryable cancel failure.
		if KindOf(err) == KindAuthExpired {
			return err
		}
		log.Error("cancel failed", zap.Error(err))
		return &APIError{Kind: KindCancelFailed, Message: "failed to cancel order", Err: err}
	}

	log.Info("order cancelled")
	return nil
}

// ----------------- Plumbing -----------------

// do performs a call and decodes the standard envelope, mapping
// unsuccessful envelopes to classified errors.
func (g *apiGateway) do(ctx context.Context, method, path string, payload any) (*envelope, error) {
	body, err := g.doRaw(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{Kind: KindServerError, Message: "unreadable response body", Err: err}
	}

	if !env.Success {
		if len(env.Errors) > 0 {
			return nil, &APIError{Kind: KindValidationFailed, Message: env.Message, Fields: env.Errors}
		}
		return nil, &APIError{Kind: KindServerError, Message: env.Message}
	}

	return &env, nil
}

// doRaw performs a call and returns the body of a 2xx response; non-2xx
// statuses and transport failures come back as classified APIErrors.
func (g *apiGateway) doRaw(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, &APIError{Kind: KindAuthExpired, Message: "authentication token not found", Err: err}
	}
	if err := auth.CheckExpiry(token, time.Now()); err != nil {
		return nil, &APIError{Kind: KindAuthExpired, Message: "authentication token expired", Err: err}
	}

	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	return body, nil
}

func classifyStatus(status int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)

	switch {
	case status == http.StatusUnauthorized:
		return &APIError{Kind: KindAuthExpired, Message: "session expired, please login again"}
	case status == http.StatusUnprocessableEntity:
		msg := env.Message
		if msg == "" {
			msg = "validation failed"
		}
		return &APIError{Kind: KindValidationFailed, Message: msg, Fields: env.Errors}
	case status >= 500:
		return &APIError{Kind: KindServerError, Message: fmt.Sprintf("server error (%d)", status)}
	default:
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", status)
		}
		return &APIError{Kind: KindServerError, Message: msg}
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	return &APIError{Kind: KindNetworkError, Message: "network error, please check your connection", Err: err}
}
