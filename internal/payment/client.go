// Package payment предоставляет клиент внешнего платёжного шлюза.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boosthub/boosthub-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Шлюз опрашивается только ради значения статуса оплаты и никогда
// не управляет переходами статуса заказа.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент платёжного шлюза по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type paymentResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// GetPaymentStatus запрашивает статус оплаты указанного заказа.
func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (model.PaymentStatus, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("payment client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/payments/%s", base, orderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	switch model.PaymentStatus(result.Status) {
	case model.PaymentStatusPending, model.PaymentStatusPaid,
		model.PaymentStatusRefunded, model.PaymentStatusFailed:
		return model.PaymentStatus(result.Status), nil
	}

	return "", fmt.Errorf("unknown payment status: %q", result.Status)
}
