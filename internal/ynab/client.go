// Package ynab talks to the YNAB budget API.
package ynab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

// DefaultBaseURL is the production YNAB API endpoint.
const DefaultBaseURL = "https://api.youneedabudget.com/v1"

const serviceName = "ynab"

// Client is an authenticated YNAB API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a YNAB client for the production API.
func NewClient(token string) (*Client, error) {
	return NewClientWithBaseURL(token, DefaultBaseURL)
}

// NewClientWithBaseURL creates a YNAB client against a custom endpoint.
func NewClientWithBaseURL(token, baseURL string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("YNAB API token is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("YNAB base URL is required")
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Wire types for the YNAB API.
type wireTransaction struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	PayeeName    string `json:"payee_name"`
	Memo         string `json:"memo"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	AccountID    string `json:"account_id"`
	Amount       int64  `json:"amount"`
	Deleted      bool   `json:"deleted"`
}

type transactionsResponse struct {
	Data struct {
		Transactions    []wireTransaction `json:"transactions"`
		ServerKnowledge int64             `json:"server_knowledge"`
	} `json:"data"`
}

type wireCategory struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Hidden  bool   `json:"hidden"`
	Deleted bool   `json:"deleted"`
}

type wireCategoryGroup struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Hidden     bool           `json:"hidden"`
	Deleted    bool           `json:"deleted"`
	Categories []wireCategory `json:"categories"`
}

type categoriesResponse struct {
	Data struct {
		CategoryGroups []wireCategoryGroup `json:"category_groups"`
	} `json:"data"`
}

// FetchTransactions retrieves all transactions in a budget, following the
// server_knowledge cursor until the API stops returning new data. Deleted
// transactions are filtered out.
func (c *Client) FetchTransactions(ctx context.Context, budgetID string, sinceDate *time.Time) ([]model.Transaction, error) {
	if budgetID == "" {
		return nil, fmt.Errorf("budget ID is required")
	}

	var raw []wireTransaction
	var serverKnowledge int64

	for {
		params := url.Values{}
		if sinceDate != nil {
			params.Set("since_date", sinceDate.Format("2006-01-02"))
		}
		if serverKnowledge > 0 {
			params.Set("last_knowledge_of_server", strconv.FormatInt(serverKnowledge, 10))
		}

		var page transactionsResponse
		endpoint := fmt.Sprintf("/budgets/%s/transactions", url.PathEscape(budgetID))
		if err := c.get(ctx, endpoint, params, &page); err != nil {
			return nil, err
		}

		batch := page.Data.Transactions
		newKnowledge := page.Data.ServerKnowledge
		if len(batch) == 0 {
			break
		}
		raw = append(raw, batch...)

		// The cursor must advance between pages. A server that keeps
		// returning the same (or no) knowledge has nothing newer, and
		// paging on would loop forever re-reading the same rows.
		if newKnowledge <= serverKnowledge {
			break
		}
		serverKnowledge = newKnowledge
	}

	transactions := make([]model.Transaction, 0, len(raw))
	for _, wt := range raw {
		if wt.Deleted {
			continue
		}
		date, err := time.Parse("2006-01-02", wt.Date)
		if err != nil {
			slog.Warn("Skipping transaction with unparseable date",
				"transaction_id", wt.ID, "date", wt.Date)
			continue
		}
		transactions = append(transactions, model.Transaction{
			ID:           wt.ID,
			Date:         date,
			PayeeName:    wt.PayeeName,
			Memo:         wt.Memo,
			CategoryID:   wt.CategoryID,
			CategoryName: wt.CategoryName,
			AccountID:    wt.AccountID,
			Amount:       wt.Amount,
		})
	}

	return transactions, nil
}

// FetchCategories retrieves the budget's categories as a flat list. Hidden and
// deleted groups and categories are filtered out.
func (c *Client) FetchCategories(ctx context.Context, budgetID string) ([]model.Category, error) {
	if budgetID == "" {
		return nil, fmt.Errorf("budget ID is required")
	}

	var resp categoriesResponse
	endpoint := fmt.Sprintf("/budgets/%s/categories", url.PathEscape(budgetID))
	if err := c.get(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	var categories []model.Category
	for _, group := range resp.Data.CategoryGroups {
		if group.Hidden || group.Deleted {
			continue
		}
		for _, cat := range group.Categories {
			if cat.Hidden || cat.Deleted {
				continue
			}
			categories = append(categories, model.Category{
				ID:        cat.ID,
				Name:      cat.Name,
				GroupName: group.Name,
			})
		}
	}

	return categories, nil
}

// UpdateCategory sets a transaction's category. Updating the category of a
// split transaction converts it back to a regular transaction on the server.
func (c *Client) UpdateCategory(ctx context.Context, budgetID, transactionID, categoryID string) error {
	if budgetID == "" || transactionID == "" || categoryID == "" {
		return fmt.Errorf("budget ID, transaction ID, and category ID are required")
	}

	payload := map[string]any{
		"transaction": map[string]any{
			"category_id": categoryID,
		},
	}
	endpoint := fmt.Sprintf("/budgets/%s/transactions/%s", url.PathEscape(budgetID), url.PathEscape(transactionID))
	return c.put(ctx, endpoint, transactionID, payload)
}

// ReplaceSubtransactions replaces a transaction's entire subtransaction array.
// The amounts must sum exactly to the expected total in milliunits; a mismatch
// fails before any API call is made.
func (c *Client) ReplaceSubtransactions(ctx context.Context, budgetID, transactionID string, subs []model.Subtransaction, expectedTotal int64) error {
	if budgetID == "" || transactionID == "" {
		return fmt.Errorf("budget ID and transaction ID are required")
	}
	if len(subs) == 0 {
		return common.NewValidationError(transactionID, "subtransactions cannot be empty")
	}

	var sum int64
	for _, sub := range subs {
		sum += sub.Amount
	}
	if sum != expectedTotal {
		return common.NewValidationError(transactionID,
			"subtransaction amounts sum to %d milliunits, expected %d (deviation %d)",
			sum, expectedTotal, sum-expectedTotal)
	}

	payload := map[string]any{
		"transaction": map[string]any{
			"subtransactions": subs,
		},
	}
	endpoint := fmt.Sprintf("/budgets/%s/transactions/%s", url.PathEscape(budgetID), url.PathEscape(transactionID))
	return c.put(ctx, endpoint, transactionID, payload)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindGeneric,
			Err:     fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, endpoint, ""); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindGeneric,
			Err:     fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}

func (c *Client) put(ctx context.Context, endpoint, itemID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindGeneric,
			Err:     fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.checkStatus(resp, endpoint, itemID)
}

// checkStatus maps YNAB HTTP responses onto classified errors.
func (c *Client) checkStatus(resp *http.Response, endpoint, itemID string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindUnauthorized,
			Err:     fmt.Errorf("invalid API token"),
		}
	case resp.StatusCode == http.StatusNotFound:
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindNotFound,
			Err:     fmt.Errorf("resource not found: %s", endpoint),
		}
	case resp.StatusCode == http.StatusConflict:
		return &common.ConflictError{ItemID: itemID}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = seconds
			}
		}
		return &common.ExternalServiceError{
			Service:    serviceName,
			Kind:       common.KindRateLimited,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("rate limit exceeded, retry after %ds", retryAfter),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &common.ExternalServiceError{
			Service: serviceName,
			Kind:    common.KindGeneric,
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}
}
