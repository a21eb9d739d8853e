// Package gateway предоставляет клиент REST API платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
	"github.com/mmeshcher/salon-payguard/internal/model"
)

const (
	// DefaultBaseURL задаёт адрес REST API шлюза по умолчанию.
	DefaultBaseURL = "https://api.razorpay.com/v1"
	// DefaultTimeout ограничивает время одного запроса к шлюзу.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
)

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	// RPS ограничивает частоту исходящих запросов. Ноль снимает ограничение.
	RPS float64
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Клиент не повторяет запросы: повтор захвата или возврата может списать деньги дважды.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient создаёт клиент шлюза. Без ключей API возвращается ошибка конфигурации.
func NewClient(cfg Config) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("%w: gateway key id and secret are required", apperr.ErrConfiguration)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Client{
		baseURL:    base,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Error описывает ответ шлюза с кодом, отличным от 2xx.
type Error struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("gateway responded %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway responded %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// Unwrap позволяет сопоставить ошибку шлюза с apperr.ErrUpstream.
func (e *Error) Unwrap() error {
	return apperr.ErrUpstream
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// notes хранит заметки шлюза. Пустые заметки приходят массивом [], а не объектом.
type notes map[string]string

func (n *notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*n = nil
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

type orderEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	Notes      notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

func (o orderEntity) snapshot() *model.OrderSnapshot {
	return &model.OrderSnapshot{
		ID:          o.ID,
		AmountMinor: o.Amount,
		AmountPaid:  o.AmountPaid,
		AmountDue:   o.AmountDue,
		Currency:    o.Currency,
		Status:      model.OrderStatus(o.Status),
		Receipt:     o.Receipt,
		Attempts:    o.Attempts,
		Notes:       o.Notes,
		CreatedAt:   o.CreatedAt,
	}
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder создаёт заказ в шлюзе на сумму в минимальных единицах валюты.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, metadata map[string]string) (*model.OrderHandle, error) {
	req := createOrderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Notes:    metadata,
	}

	var res orderEntity
	if err := c.do(ctx, http.MethodPost, "/orders", req, &res); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return &model.OrderHandle{
		ID:          res.ID,
		AmountMinor: res.Amount,
		Currency:    res.Currency,
		Receipt:     res.Receipt,
		Status:      model.OrderStatus(res.Status),
	}, nil
}

// FetchOrder запрашивает актуальное состояние заказа.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error) {
	var res orderEntity
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &res); err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	return res.snapshot(), nil
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Captured bool   `json:"captured"`
}

type captureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CapturePayment захватывает авторизованный платёж.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amountMinor int64, currency string) (*model.PaymentRecord, error) {
	var res paymentEntity
	path := "/payments/" + url.PathEscape(paymentID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, captureRequest{Amount: amountMinor, Currency: currency}, &res); err != nil {
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	return &model.PaymentRecord{
		ID:          res.ID,
		OrderID:     res.OrderID,
		AmountMinor: res.Amount,
		Currency:    res.Currency,
		Status:      res.Status,
		Captured:    res.Captured,
	}, nil
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type refundRequest struct {
	Amount int64             `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

// RefundPayment возвращает платёж полностью (amountMinor = 0) или частично.
func (c *Client) RefundPayment(ctx context.Context, paymentID string, amountMinor int64, reason string) (*model.RefundRecord, error) {
	req := refundRequest{Amount: amountMinor}
	if reason != "" {
		req.Notes = map[string]string{"reason": reason}
	}

	var res refundEntity
	path := "/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}

	return &model.RefundRecord{
		ID:          res.ID,
		PaymentID:   res.PaymentID,
		AmountMinor: res.Amount,
		Status:      res.Status,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %w", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &Error{StatusCode: resp.StatusCode}
		var er errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&er); err == nil {
			gwErr.Code = er.Error.Code
			gwErr.Description = er.Error.Description
		}
		return gwErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", apperr.ErrUpstream, err)
	}

	return nil
}
