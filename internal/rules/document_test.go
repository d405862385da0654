package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
)

const sampleDocument = `# Categorization Rules

## Core Patterns

- **Pattern**: Starbucks*
  **Category**: Coffee Shops
  **Confidence**: High
  **Source**: Historical
  **Date Added**: 2025-11-27

- **Pattern**: *whole foods*
  **Category**: Groceries
  **Confidence**: High
  **Source**: Historical

- **Pattern**: {regex}
  **Category**: {category}

## Split Transaction Patterns

- **Pattern**: Costco*
  **Note**: Bulk runs split between food and household
  **Confidence**: High
  **Default Allocation**:
  * Groceries: 60%
  * Household: 30%
  * Entertainment: 10%

## Learned from User Corrections

- **Payee**: Starbucks Pike Place
  **Correct Category**: Coffee Shops
  **Category ID**: cat-coffee
  **Agent Initially Suggested**: Restaurants
  **Reasoning**: Coffee shop, not restaurant
  **Confidence**: High
  **Date Learned**: 2025-11-27T20:42:00Z

## Web Research Results

- **Unknown Payee**: Blue Bottle
  **Business Type**: Coffee roaster
  **Category**: Coffee Shops
  **Reasoning**: Specialty coffee chain
  **Confidence**: Medium (web-sourced)
  **Date Added**: 2025-11-28T10:00:00Z
`

func writeDocument(t *testing.T, content string) *Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "categorization_rules.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return NewDocument(path)
}

func TestDocument_LoadMissing(t *testing.T) {
	doc := NewDocument(filepath.Join(t.TempDir(), "missing.md"))

	content, parseErrors, err := doc.Load()
	require.NoError(t, err)
	assert.Empty(t, parseErrors)
	assert.Empty(t, content.CorePatterns)
	assert.Empty(t, content.Corrections)
}

func TestDocument_LoadSections(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	content, parseErrors, err := doc.Load()
	require.NoError(t, err)
	assert.Empty(t, parseErrors)

	// Template entries with {placeholder} values are skipped.
	require.Len(t, content.CorePatterns, 2)
	assert.Equal(t, "Starbucks*", content.CorePatterns[0].Pattern)
	assert.Equal(t, model.StrategyPrefix, content.CorePatterns[0].Strategy)
	assert.Equal(t, "Coffee Shops", content.CorePatterns[0].Category)
	assert.Equal(t, model.StrategyContains, content.CorePatterns[1].Strategy)

	require.Len(t, content.SplitPatterns, 1)
	split := content.SplitPatterns[0]
	assert.Equal(t, "Costco*", split.Pattern)
	require.Len(t, split.Allocations, 3)
	assert.Equal(t, PercentAllocation{Category: "Groceries", Percent: 60}, split.Allocations[0])

	require.Len(t, content.Corrections, 1)
	assert.Equal(t, "Starbucks Pike Place", content.Corrections[0].Payee)
	assert.Equal(t, "Coffee Shops", content.Corrections[0].CorrectCategory)
	assert.Equal(t, "cat-coffee", content.Corrections[0].CategoryID)

	require.Len(t, content.WebResearch, 1)
	assert.Equal(t, "Blue Bottle", content.WebResearch[0].Payee)
}

func TestDocument_LoadKeepsDigitLeadingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.md")
	entry := FormatCorrection("Hulu", "Subscriptions", "9f3acafe-2b41-4d55-a6a0-0d8c3f1e7b22", "Entertainment", "Streaming service")
	require.NoError(t, os.WriteFile(path, []byte(entry), 0o600))

	content, parseErrors, err := NewDocument(path).Load()
	require.NoError(t, err)
	assert.Empty(t, parseErrors)
	assert.Empty(t, content.SplitPatterns, "digit-leading values must not parse as allocations")

	require.Len(t, content.Corrections, 1)
	correction := content.Corrections[0]
	assert.Equal(t, "Hulu", correction.Payee)
	assert.Equal(t, "Subscriptions", correction.CorrectCategory)
	assert.Equal(t, "9f3acafe-2b41-4d55-a6a0-0d8c3f1e7b22", correction.CategoryID)
	assert.Equal(t, "Entertainment", correction.WrongSuggestion)
}

func TestDocument_LoadReportsBadEntries(t *testing.T) {
	doc := writeDocument(t, `## Core Patterns

- **Pattern**: Starbucks
  **Category**: Coffee Shops

- **Category**: Orphaned category with no pattern

## Split Transaction Patterns

- **Pattern**: Costco*
  **Default Allocation**:
  * Groceries: 60%
  * Household: 30%
`)

	content, parseErrors, err := doc.Load()
	require.NoError(t, err)

	// The good entry still loads; the incomplete one and the allocation
	// that sums to 90% are reported.
	require.Len(t, content.CorePatterns, 1)
	assert.Empty(t, content.SplitPatterns)
	require.Len(t, parseErrors, 2)
	assert.Contains(t, parseErrors[1].Message, "90%")
}

func TestDocument_AppendInjectsTimestamp(t *testing.T) {
	doc := writeDocument(t, "# Rules\n")

	entry := FormatWebResearch("Blue Bottle", "Coffee roaster", "Coffee Shops", "Specialty coffee chain")
	require.NoError(t, doc.Append(context.Background(), entry))

	data, err := os.ReadFile(doc.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "**Unknown Payee**: Blue Bottle")
	assert.Contains(t, string(data), "**Date Added**: ")
}

func TestDocument_AppendKeepsExistingTimestamp(t *testing.T) {
	doc := writeDocument(t, "# Rules\n")

	entry := "## Web Research Results\n\n- **Unknown Payee**: X\n  **Category**: Y\n  **Date Added**: 2025-01-01T00:00:00Z\n"
	require.NoError(t, doc.Append(context.Background(), entry))

	data, err := os.ReadFile(doc.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "**Date Added**:"))
}

func TestDocument_AppendNormalizesSpacing(t *testing.T) {
	// File without a trailing newline still gets a clean blank-line
	// separator before the new entry.
	doc := writeDocument(t, "# Rules\nno trailing newline")

	entry := FormatCorrection("Starbucks", "Coffee Shops", "cat-coffee", "Restaurants", "user says so")
	require.NoError(t, doc.Append(context.Background(), entry))
	require.NoError(t, doc.Append(context.Background(), entry))

	data, err := os.ReadFile(doc.Path())
	require.NoError(t, err)
	text := string(data)

	assert.NotContains(t, text, "newline##", "entries must be separated from prior content")
	assert.NotContains(t, text, "\n\n\n\n", "appends must not accumulate blank lines")
	assert.True(t, strings.HasSuffix(text, "\n"))

	// Round trip: both appended corrections parse back out.
	content, parseErrors, err := doc.Load()
	require.NoError(t, err)
	assert.Empty(t, parseErrors)
	assert.Len(t, content.Corrections, 2)
}

type blockedLocker struct{}

func (blockedLocker) Acquire(ctx context.Context, _ string) (func() error, error) {
	<-ctx.Done()
	return nil, errors.New("lock contention")
}

func TestDocument_AppendLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.md")
	require.NoError(t, os.WriteFile(path, []byte("# Rules\n"), 0o640))

	doc := NewDocumentWithLocker(path, blockedLocker{}, 50*time.Millisecond)

	err := doc.Append(context.Background(), "## Web Research Results\n- **Unknown Payee**: X\n  **Category**: Y\n")
	var lockErr *common.LockTimeoutError
	require.ErrorAs(t, err, &lockErr)

	// Nothing was written.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "# Rules\n", string(data))
}
