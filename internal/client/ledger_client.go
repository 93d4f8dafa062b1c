package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/storycanvas/api/internal/config"
)

// CreditLedger defines the interface over the external credit account
// service. The service is the authority: a local Balance read before a
// submission is advisory only and may be stale under parallel fan-out.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	UseCredits(ctx context.Context, userID string, amount int) error
	AddCredits(ctx context.Context, userID string, amount int) error
}

// LedgerClient implements CreditLedger against the account service
type LedgerClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewLedgerClient creates a new credit ledger client
func NewLedgerClient(cfg *config.LedgerConfig) *LedgerClient {
	return &LedgerClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Balance fetches the user's current credit balance
func (c *LedgerClient) Balance(ctx context.Context, userID string) (int, error) {
	endpoint := fmt.Sprintf("/accounts/%s/balance", userID)

	var result struct {
		Balance int `json:"balance"`
	}
	if err := c.get(ctx, endpoint, &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// UseCredits reserves the given amount against the user's account. Called
// only after the remote job API has acknowledged a submission.
func (c *LedgerClient) UseCredits(ctx context.Context, userID string, amount int) error {
	endpoint := fmt.Sprintf("/accounts/%s/use", userID)
	return c.post(ctx, endpoint, map[string]int{"amount": amount}, nil)
}

// AddCredits returns the given amount to the user's account (refund path)
func (c *LedgerClient) AddCredits(ctx context.Context, userID string, amount int) error {
	endpoint := fmt.Sprintf("/accounts/%s/add", userID)
	return c.post(ctx, endpoint, map[string]int{"amount": amount}, nil)
}

// post sends a POST request with JSON body
func (c *LedgerClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *LedgerClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *LedgerClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Ledger] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *LedgerClient) IsConfigured() bool {
	return c.baseURL != ""
}

// LocalLedger is an in-memory CreditLedger used when no account service is
// configured (development and tests). Balances start at a fixed grant.
type LocalLedger struct {
	mu       sync.Mutex
	grant    int
	balances map[string]int
}

// NewLocalLedger creates a local ledger granting each new user initial credits
func NewLocalLedger(initialGrant int) *LocalLedger {
	return &LocalLedger{
		grant:    initialGrant,
		balances: make(map[string]int),
	}
}

func (l *LocalLedger) account(userID string) int {
	if _, ok := l.balances[userID]; !ok {
		l.balances[userID] = l.grant
	}
	return l.balances[userID]
}

// Balance returns the user's current balance
func (l *LocalLedger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(userID), nil
}

// UseCredits deducts from the user's balance, rejecting overdrafts
func (l *LocalLedger) UseCredits(ctx context.Context, userID string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.account(userID) < amount {
		return fmt.Errorf("insufficient credits")
	}
	l.balances[userID] -= amount
	return nil
}

// AddCredits returns credits to the user's balance
func (l *LocalLedger) AddCredits(ctx context.Context, userID string, amount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = l.account(userID) + amount
	return nil
}
