// Package notification предоставляет клиент внешнего сервиса уведомлений.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boosthub/boosthub-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
// Уведомления не являются частью доменной логики: вызывающая сторона
// логирует ошибки клиента и никогда не возвращает их наружу.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент сервиса уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type statusChangedEvent struct {
	OrderID    string `json:"order_id"`
	CustomerID int64  `json:"customer_id"`
	BoosterID  *int64 `json:"booster_id,omitempty"`
	Status     string `json:"status"`
	ActorID    int64  `json:"actor_id"`
}

// NotifyStatusChanged отправляет уведомление о смене статуса заказа.
func (c *Client) NotifyStatusChanged(ctx context.Context, order *model.Order, actorID int64) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	event := statusChangedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		BoosterID:  order.BoosterID,
		Status:     string(order.Status),
		ActorID:    actorID,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	url := base + "/api/notifications/order-status"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
