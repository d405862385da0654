package ynab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClientWithBaseURL("test-token", server.URL)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestFetchTransactions_PaginatesAndFilters(t *testing.T) {
	requests := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/budgets/budget-1/transactions", r.URL.Path)

		cursor := r.URL.Query().Get("last_knowledge_of_server")
		switch cursor {
		case "":
			fmt.Fprint(w, `{"data": {"server_knowledge": 100, "transactions": [
				{"id": "txn-1", "date": "2025-03-01", "payee_name": "Starbucks", "amount": -5000},
				{"id": "txn-gone", "date": "2025-03-02", "payee_name": "Deleted", "amount": -100, "deleted": true},
				{"id": "txn-bad-date", "date": "not-a-date", "payee_name": "Broken", "amount": -200}
			]}}`)
		case "100":
			fmt.Fprint(w, `{"data": {"server_knowledge": 200, "transactions": [
				{"id": "txn-2", "date": "2025-03-05", "payee_name": "Target", "amount": -12000}
			]}}`)
		case "200":
			fmt.Fprint(w, `{"data": {"server_knowledge": 200, "transactions": []}}`)
		default:
			t.Errorf("Unexpected cursor %q", cursor)
		}
	}))

	transactions, err := client.FetchTransactions(context.Background(), "budget-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, requests)

	require.Len(t, transactions, 2, "deleted and unparseable rows are dropped")
	assert.Equal(t, "txn-1", transactions[0].ID)
	assert.Equal(t, "Starbucks", transactions[0].PayeeName)
	assert.Equal(t, int64(-5000), transactions[0].Amount)
	assert.Equal(t, "txn-2", transactions[1].ID)
}

func TestFetchTransactions_StopsWhenCursorDoesNotAdvance(t *testing.T) {
	requests := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Always the same page, never a server_knowledge cursor.
		fmt.Fprint(w, `{"data": {"server_knowledge": 0, "transactions": [
			{"id": "txn-1", "date": "2025-03-01", "payee_name": "Starbucks", "amount": -5000}
		]}}`)
	}))

	transactions, err := client.FetchTransactions(context.Background(), "budget-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, requests, "a non-advancing cursor must stop pagination")
	require.Len(t, transactions, 1)
	assert.Equal(t, "txn-1", transactions[0].ID)
}

func TestFetchTransactions_SinceDate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-01-15", r.URL.Query().Get("since_date"))
		fmt.Fprint(w, `{"data": {"server_knowledge": 1, "transactions": []}}`)
	}))

	since := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	transactions, err := client.FetchTransactions(context.Background(), "budget-1", &since)
	require.NoError(t, err)
	assert.Empty(t, transactions)
}

func TestFetchCategories_FlattensGroups(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/budgets/budget-1/categories", r.URL.Path)
		fmt.Fprint(w, `{"data": {"category_groups": [
			{"id": "g1", "name": "Everyday", "categories": [
				{"id": "cat-groceries", "name": "Groceries"},
				{"id": "cat-hidden", "name": "Old Stuff", "hidden": true}
			]},
			{"id": "g2", "name": "Retired", "hidden": true, "categories": [
				{"id": "cat-legacy", "name": "Legacy"}
			]}
		]}}`)
	}))

	categories, err := client.FetchCategories(context.Background(), "budget-1")
	require.NoError(t, err)

	require.Len(t, categories, 1)
	assert.Equal(t, "cat-groceries", categories[0].ID)
	assert.Equal(t, "Groceries", categories[0].Name)
	assert.Equal(t, "Everyday", categories[0].GroupName)
}

func TestUpdateCategory(t *testing.T) {
	var gotBody map[string]map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/budgets/budget-1/transactions/txn-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"data": {}}`)
	}))

	err := client.UpdateCategory(context.Background(), "budget-1", "txn-1", "cat-coffee")
	require.NoError(t, err)
	assert.Equal(t, "cat-coffee", gotBody["transaction"]["category_id"])
}

func TestUpdateCategory_Conflict(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	err := client.UpdateCategory(context.Background(), "budget-1", "txn-1", "cat-coffee")
	var conflict *common.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "txn-1", conflict.ItemID)
}

func TestReplaceSubtransactions(t *testing.T) {
	var gotBody struct {
		Transaction struct {
			Subtransactions []model.Subtransaction `json:"subtransactions"`
		} `json:"transaction"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"data": {}}`)
	}))

	subs := []model.Subtransaction{
		{CategoryID: "cat-groceries", Memo: "Food", Amount: -10000},
		{CategoryID: "cat-household", Memo: "Paper", Amount: -5000},
	}
	err := client.ReplaceSubtransactions(context.Background(), "budget-1", "txn-1", subs, -15000)
	require.NoError(t, err)
	require.Len(t, gotBody.Transaction.Subtransactions, 2)
	assert.Equal(t, int64(-10000), gotBody.Transaction.Subtransactions[0].Amount)
}

func TestReplaceSubtransactions_RejectsBadSum(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	subs := []model.Subtransaction{
		{CategoryID: "cat-a", Amount: -10000},
		{CategoryID: "cat-b", Amount: -4000},
	}
	err := client.ReplaceSubtransactions(context.Background(), "budget-1", "txn-1", subs, -15000)

	var validationErr *common.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "txn-1", validationErr.ItemID)
	assert.Contains(t, validationErr.Message, "-14000")
	assert.Contains(t, validationErr.Message, "1000", "deviation is reported")
	assert.False(t, called, "validation failures never reach the API")
}

func TestReplaceSubtransactions_RejectsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("API should not be called")
	}))

	err := client.ReplaceSubtransactions(context.Background(), "budget-1", "txn-1", nil, -15000)
	var validationErr *common.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		wantKind   common.ExternalKind
		retryAfter int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: common.KindUnauthorized},
		{name: "not found", status: http.StatusNotFound, wantKind: common.KindNotFound},
		{
			name:       "rate limited with header",
			status:     http.StatusTooManyRequests,
			headers:    map[string]string{"Retry-After": "7"},
			wantKind:   common.KindRateLimited,
			retryAfter: 7,
		},
		{
			name:       "rate limited default",
			status:     http.StatusTooManyRequests,
			wantKind:   common.KindRateLimited,
			retryAfter: 60,
		},
		{name: "server error", status: http.StatusInternalServerError, wantKind: common.KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))

			_, err := client.FetchCategories(context.Background(), "budget-1")
			var svcErr *common.ExternalServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantKind, svcErr.Kind)
			if tt.retryAfter > 0 {
				assert.Equal(t, tt.retryAfter, svcErr.RetryAfter)
				assert.True(t, errors.Is(err, common.ErrRateLimit))
			}
		})
	}
}
