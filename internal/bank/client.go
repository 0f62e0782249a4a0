package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/coincross/exchange/internal/model"
)

// Error strings on the wire, distinguished from generic failures.
const (
	wireErrNoUser             = "bank_id not found"
	wireErrCreditInsufficient = "credit is insufficient"
)

// Client talks to the bank API over HTTP+JSON with a bearer credential.
type Client struct {
	endpoint string
	appID    string
	httpc    *http.Client
}

// NewClient creates a bank client for the given endpoint and app credential.
func NewClient(endpoint, appID string) *Client {
	return &Client{
		endpoint: endpoint,
		appID:    appID,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type checkReq struct {
	BankID string `json:"bank_id"`
	Price  int64  `json:"price"`
}

type reserveRes struct {
	ReserveID int64 `json:"reserve_id"`
}

type batchReq struct {
	ReserveIDs []int64 `json:"reserve_ids"`
}

type errorRes struct {
	Error string `json:"error"`
}

func (c *Client) Check(ctx context.Context, bankID string, price int64) error {
	return c.request(ctx, "/check", checkReq{BankID: bankID, Price: price}, nil)
}

func (c *Client) Reserve(ctx context.Context, bankID string, price int64) (int64, error) {
	var res reserveRes
	if err := c.request(ctx, "/reserve", checkReq{BankID: bankID, Price: price}, &res); err != nil {
		return 0, err
	}
	return res.ReserveID, nil
}

func (c *Client) Commit(ctx context.Context, reserveIDs []int64) error {
	return c.request(ctx, "/commit", batchReq{ReserveIDs: reserveIDs}, nil)
}

func (c *Client) Cancel(ctx context.Context, reserveIDs []int64) error {
	return c.request(ctx, "/cancel", batchReq{ReserveIDs: reserveIDs}, nil)
}

// request posts a JSON body and decodes the response into out (when non-nil).
// Non-200 responses are mapped to domain errors by their error string.
func (c *Client) request(ctx context.Context, path string, body, out any) error {
	u, err := url.JoinPath(c.endpoint, path)
	if err != nil {
		return fmt.Errorf("bank %s: %w", path, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bank %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bank %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.appID)
	req.Header.Set("X-Request-Id", uuid.NewString())

	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("bank %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("bank %s: decode: %w", path, err)
		}
		return nil
	}

	var e errorRes
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return fmt.Errorf("bank %s: status=%d", path, res.StatusCode)
	}
	switch e.Error {
	case wireErrNoUser:
		return model.ErrBankUserNotFound
	case wireErrCreditInsufficient:
		return model.ErrCreditInsufficient
	}
	return fmt.Errorf("bank %s: status=%d error=%q", path, res.StatusCode, e.Error)
}
