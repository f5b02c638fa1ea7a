// Package notification delivers best-effort side-channel notifications.
// Delivery failures are logged by callers and never affect movement outcomes.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"securebank/internal/domain"
	"securebank/pkg/logger"
)

// Dispatcher is the contract the core consumes. Implementations must be safe
// for concurrent use.
type Dispatcher interface {
	Notify(ctx context.Context, event domain.NotificationEvent, accountNumber string, clientID uuid.UUID, amount *decimal.Decimal) error
}

type notifyRequest struct {
	Event         string    `json:"event"`
	AccountNumber string    `json:"account_number"`
	ClientID      uuid.UUID `json:"client_id"`
	Amount        *string   `json:"amount,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HTTPDispatcher posts notifications to the notification service.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

func NewHTTPDispatcher(baseURL string, timeout time.Duration, log logger.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

func (d *HTTPDispatcher) Notify(ctx context.Context, event domain.NotificationEvent, accountNumber string, clientID uuid.UUID, amount *decimal.Decimal) error {
	payload := notifyRequest{
		Event:         string(event),
		AccountNumber: accountNumber,
		ClientID:      clientID,
		OccurredAt:    time.Now().UTC(),
	}
	if amount != nil {
		s := amount.StringFixed(domain.MoneyScale)
		payload.Amount = &s
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	d.logger.Debug("Notification dispatched", map[string]interface{}{
		"event":          string(event),
		"account_number": accountNumber,
	})
	return nil
}

// Noop discards notifications. Used in tests and when no notification
// service is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, event domain.NotificationEvent, accountNumber string, clientID uuid.UUID, amount *decimal.Decimal) error {
	return nil
}
