package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptor(t *testing.T) {
	tests := []struct {
		name  string
		payee string
		want  string
	}{
		{"plain", "Starbucks", "Starbucks"},
		{"surrounding whitespace", "  Starbucks  ", "Starbucks"},
		{"interior whitespace collapsed", "Starbucks   Pike\tPlace", "Starbucks Pike Place"},
		{"empty", "", ""},
		{"only whitespace", "   \t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := Transaction{PayeeName: tt.payee}
			assert.Equal(t, tt.want, txn.Descriptor())
		})
	}
}

func TestIsTransfer(t *testing.T) {
	tests := []struct {
		name  string
		payee string
		want  bool
	}{
		{"transfer payee", "Transfer : Savings", true},
		{"leading whitespace", "  Transfer : Checking", true},
		{"regular merchant", "Walmart", false},
		{"transfer mid-string", "Wire Transfer Fee", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := Transaction{PayeeName: tt.payee}
			assert.Equal(t, tt.want, txn.IsTransfer())
		})
	}
}

func TestIsInflow(t *testing.T) {
	assert.True(t, (&Transaction{Amount: 120000}).IsInflow())
	assert.False(t, (&Transaction{Amount: -4500}).IsInflow())
	assert.False(t, (&Transaction{Amount: 0}).IsInflow())
}

func TestRuleCategory(t *testing.T) {
	rule := Rule{
		Actions: []RuleAction{
			{Type: "notify"},
			{Type: "categorize", CategoryID: "cat-1", CategoryName: "Coffee Shops"},
		},
	}
	id, name := rule.Category()
	assert.Equal(t, "cat-1", id)
	assert.Equal(t, "Coffee Shops", name)

	empty := Rule{Actions: []RuleAction{{Type: "notify"}}}
	id, name = empty.Category()
	assert.Empty(t, id)
	assert.Empty(t, name)
}
