package movement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"securebank/internal/domain"
	"securebank/pkg/errors"
)

// Error codes carried in account service error responses.
const (
	codeNotFound          = "NOT_FOUND"
	codeAccountClosed     = "ACCOUNT_CLOSED"
	codeInsufficientFunds = "INSUFFICIENT_FUNDS"
)

// HTTPAccountClient talks to the account ledger service over HTTP. Transport
// faults and 5xx responses map to ErrLedgerUnavailable so the orchestrator
// can distinguish transient failures from terminal ones.
type HTTPAccountClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPAccountClient(baseURL, token string, timeout time.Duration) *HTTPAccountClient {
	return &HTTPAccountClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type adjustRequest struct {
	Delta          decimal.Decimal `json:"delta"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type adjustResponse struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	Replayed   bool            `json:"replayed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type sufficientResponse struct {
	Sufficient bool `json:"sufficient"`
}

type ownerResponse struct {
	ClientID uuid.UUID `json:"client_id"`
}

func (c *HTTPAccountClient) Exists(ctx context.Context, accountNumber string) (bool, error) {
	var out existsResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/exists", url.PathEscape(accountNumber))
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *HTTPAccountClient) HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	var out sufficientResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/sufficient-balance?amount=%s",
		url.PathEscape(accountNumber), url.QueryEscape(amount.StringFixed(domain.MoneyScale)))
	if err := c.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Sufficient, nil
}

func (c *HTTPAccountClient) AdjustBalance(ctx context.Context, accountNumber string, delta decimal.Decimal, idempotencyKey string) (decimal.Decimal, error) {
	body, err := json.Marshal(adjustRequest{Delta: delta, IdempotencyKey: idempotencyKey})
	if err != nil {
		return decimal.Zero, err
	}

	path := fmt.Sprintf("/api/v1/accounts/%s/adjust", url.PathEscape(accountNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrLedgerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var out adjustResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return decimal.Zero, errors.Wrap(errors.ErrLedgerUnavailable, "malformed adjustment response")
		}
		return out.NewBalance, nil
	}

	return decimal.Zero, c.errorFrom(resp)
}

func (c *HTTPAccountClient) OwnerOf(ctx context.Context, accountNumber string) (uuid.UUID, error) {
	var out ownerResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/owner", url.PathEscape(accountNumber))
	if err := c.get(ctx, path, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ClientID, nil
}

func (c *HTTPAccountClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrLedgerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPAccountClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorFrom maps an account service error response to a sentinel error. The
// structured code wins over the HTTP status; anything unrecognized or 5xx is
// treated as transient.
func (c *HTTPAccountClient) errorFrom(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	if err := json.Unmarshal(payload, &er); err == nil {
		switch er.Code {
		case codeNotFound:
			return errors.ErrAccountNotFound
		case codeAccountClosed:
			return errors.ErrAccountClosed
		case codeInsufficientFunds:
			return errors.ErrInsufficientBalance
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.ErrAccountNotFound
	case http.StatusConflict:
		return errors.ErrAccountClosed
	case http.StatusUnprocessableEntity:
		return errors.ErrInsufficientBalance
	default:
		return errors.Wrap(errors.ErrLedgerUnavailable,
			fmt.Sprintf("account service returned status %d", resp.StatusCode))
	}
}
