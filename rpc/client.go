package rpc

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

	"tipvault/core/events"
)

// Client is a typed HTTP client for the ledger surface. It implements
// events.Reader so a remote reconciler can poll the node directly.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Deposit(ctx context.Context, req DepositRequest) (*DepositResponse, error) {
	out := &DepositResponse{}
	if err := c.post(ctx, "/v1/ledger/deposit", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	out := &ClaimResponse{}
	if err := c.post(ctx, "/v1/ledger/claim", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PendingBalance(ctx context.Context, handle string) (*BalanceResponse, error) {
	out := &BalanceResponse{}
	if err := c.get(ctx, "/v1/ledger/balance/"+url.PathEscape(handle), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) HandleInfo(ctx context.Context, handle string) (*HandleInfoResponse, error) {
	out := &HandleInfoResponse{}
	if err := c.get(ctx, "/v1/ledger/handle/"+url.PathEscape(handle), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TipHistory(ctx context.Context, handle string, offset, limit int) (*TipHistoryResponse, error) {
	out := &TipHistoryResponse{}
	path := fmt.Sprintf("/v1/ledger/tips/%s?offset=%d&limit=%d", url.PathEscape(handle), offset, limit)
	if err := c.get(ctx, path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LinkedWallet(ctx context.Context, handle string) (*LinkedWalletResponse, error) {
	out := &LinkedWalletResponse{}
	if err := c.get(ctx, "/v1/ledger/wallet/"+url.PathEscape(handle), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) IsRegistered(ctx context.Context, handle string) (bool, error) {
	out := &RegisteredResponse{}
	if err := c.get(ctx, "/v1/ledger/registered/"+url.PathEscape(handle), out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

// Head implements events.Reader.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	out := &HeadResponse{}
	if err := c.get(ctx, "/v1/events/head", out); err != nil {
		return 0, err
	}
	return out.Head, nil
}

// Range implements events.Reader.
func (c *Client) Range(ctx context.Context, from, to uint64) ([]events.Recorded, error) {
	out := &EventsResponse{}
	if err := c.get(ctx, fmt.Sprintf("/v1/events?from=%d&to=%d", from, to), out); err != nil {
		return nil, err
	}
	recs := make([]events.Recorded, 0, len(out.Events))
	for _, e := range out.Events {
		recs = append(recs, events.Recorded{Sequence: e.Sequence, Type: e.Type, Attributes: e.Attributes})
	}
	return recs, nil
}

var _ events.Reader = (*Client)(nil)

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("rpc: %s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("rpc: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rpc: decode response: %w", err)
	}
	return nil
}
