package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgertag/internal/common"
	"ledgertag/internal/model"
	"ledgertag/internal/pattern"
)

// Section headers of the rules document.
const (
	sectionCorePatterns  = "## Core Patterns"
	sectionSplitPatterns = "## Split Transaction Patterns"
	sectionCorrections   = "## Learned from User Corrections"
	sectionWebResearch   = "## Web Research Results"
)

// DefaultLockTimeout bounds the wait for the document's exclusive lock.
const DefaultLockTimeout = 5 * time.Second

var (
	kvLine    = regexp.MustCompile(`^(?:- )?\*\*([^*]+)\*\*:\s*(.+)$`)
	allocLine = regexp.MustCompile(`^\*\s*([^:*][^:]*):\s*(\d+)%?`)
)

// CoreEntry is an explicit pattern rule from the Core Patterns section.
// Strategy is auto-detected from the bare pattern string.
type CoreEntry struct {
	Pattern    string
	Category   string
	Confidence string
	Source     string
	DateAdded  string
	Strategy   model.MatchStrategy
}

// PercentAllocation is one slice of a split pattern's default allocation.
type PercentAllocation struct {
	Category string
	Percent  int
}

// SplitEntry describes a payee whose transactions are divided across
// categories by fixed percentages.
type SplitEntry struct {
	Pattern     string
	Note        string
	Confidence  string
	Source      string
	Allocations []PercentAllocation
	Strategy    model.MatchStrategy
}

// CorrectionEntry is a learned exact-payee correction. Corrections take
// precedence over every other rule source.
type CorrectionEntry struct {
	Payee           string
	CorrectCategory string
	CategoryID      string
	WrongSuggestion string
	Reasoning       string
	Confidence      string
	DateLearned     string
}

// ResearchEntry records a category learned through external research.
type ResearchEntry struct {
	Payee        string
	BusinessType string
	Category     string
	Reasoning    string
	Confidence   string
	DateAdded    string
}

// ParseError describes a document entry that could not be parsed. Bad
// entries never fail the whole load.
type ParseError struct {
	Section string
	Line    int
	Message string
}

func (e ParseError) String() string {
	return fmt.Sprintf("%s (line %d): %s", e.Section, e.Line, e.Message)
}

// DocumentContent is the parsed rules document.
type DocumentContent struct {
	CorePatterns  []CoreEntry
	SplitPatterns []SplitEntry
	Corrections   []CorrectionEntry
	WebResearch   []ResearchEntry
}

// Document is the human-editable plain-text rules log. Reads are lock-free;
// appends take an exclusive advisory lock with a bounded wait so concurrent
// writers never corrupt each other's entries.
type Document struct {
	path        string
	locker      Locker
	lockTimeout time.Duration
}

// NewDocument creates a document handle with the default lock backend.
func NewDocument(path string) *Document {
	return &Document{path: path, locker: NewFlockLocker(), lockTimeout: DefaultLockTimeout}
}

// NewDocumentWithLocker creates a document with a custom lock backend and
// timeout, for tests and platform-specific builds.
func NewDocumentWithLocker(path string, locker Locker, timeout time.Duration) *Document {
	return &Document{path: path, locker: locker, lockTimeout: timeout}
}

// Path returns the backing file path.
func (d *Document) Path() string {
	return d.path
}

// Load parses the document into sections. A missing file yields empty
// content. Entries with unresolved {placeholder} values or missing required
// fields are reported as parse errors and skipped, never raised.
func (d *Document) Load() (*DocumentContent, []ParseError, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("rules document not found", "path", d.path)
			return &DocumentContent{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read rules document: %w", err)
	}

	content := &DocumentContent{}
	var parseErrors []ParseError

	lines := strings.Split(string(data), "\n")
	section := ""
	entry := map[string]string{}
	var allocations []PercentAllocation
	entryLine := 0

	flush := func() {
		if len(entry) == 0 {
			return
		}
		if perr := content.addEntry(section, entry, allocations, entryLine); perr != nil {
			parseErrors = append(parseErrors, *perr)
		}
		entry = map[string]string{}
		allocations = nil
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(raw, sectionCorePatterns):
			flush()
			section = sectionCorePatterns
			continue
		case strings.HasPrefix(raw, sectionSplitPatterns):
			flush()
			section = sectionSplitPatterns
			continue
		case strings.HasPrefix(raw, sectionCorrections):
			flush()
			section = sectionCorrections
			continue
		case strings.HasPrefix(raw, sectionWebResearch):
			flush()
			section = sectionWebResearch
			continue
		}

		if section == "" {
			continue
		}

		// Key/value lines first: a value starting with digits ("**Category
		// ID**: 9f3a...") must not be mistaken for an allocation bullet.
		if m := kvLine.FindStringSubmatch(line); m != nil {
			key := normalizeKey(m[1])
			value := strings.TrimSpace(m[2])

			// Entries carrying template placeholders are skipped wholesale.
			if strings.Contains(value, "{") && strings.Contains(value, "}") {
				entry["_template"] = "true"
				continue
			}

			if len(entry) == 0 {
				entryLine = i + 1
			}
			if key != "default_allocation" {
				entry[key] = value
			}
			continue
		}

		if m := allocLine.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.Atoi(m[2])
			allocations = append(allocations, PercentAllocation{
				Category: strings.TrimSpace(m[1]),
				Percent:  pct,
			})
			continue
		}

		if line == "" {
			flush()
		}
	}
	flush()

	slog.Info("loaded rules document",
		"path", d.path,
		"core_patterns", len(content.CorePatterns),
		"split_patterns", len(content.SplitPatterns),
		"corrections", len(content.Corrections),
		"web_research", len(content.WebResearch),
		"parse_errors", len(parseErrors))

	return content, parseErrors, nil
}

// addEntry routes a completed key/value entry into its section. It returns
// a ParseError for incomplete or template entries.
func (c *DocumentContent) addEntry(section string, entry map[string]string, allocations []PercentAllocation, line int) *ParseError {
	if entry["_template"] == "true" {
		// Unresolved placeholder entries are templates, silently ignored.
		return nil
	}

	switch section {
	case sectionCorePatterns:
		if entry["pattern"] == "" || entry["category"] == "" {
			return &ParseError{Section: section, Line: line, Message: "core pattern entry needs pattern and category"}
		}
		c.CorePatterns = append(c.CorePatterns, CoreEntry{
			Pattern:    entry["pattern"],
			Category:   entry["category"],
			Confidence: entry["confidence"],
			Source:     entry["source"],
			DateAdded:  entry["date_added"],
			Strategy:   pattern.DetectStrategy(entry["pattern"]),
		})

	case sectionSplitPatterns:
		if entry["pattern"] == "" || len(allocations) == 0 {
			return &ParseError{Section: section, Line: line, Message: "split pattern entry needs pattern and allocations"}
		}
		total := 0
		for _, a := range allocations {
			total += a.Percent
		}
		if total != 100 {
			return &ParseError{Section: section, Line: line, Message: fmt.Sprintf("allocations sum to %d%%, want 100%%", total)}
		}
		c.SplitPatterns = append(c.SplitPatterns, SplitEntry{
			Pattern:     entry["pattern"],
			Note:        entry["note"],
			Confidence:  entry["confidence"],
			Source:      entry["source"],
			Allocations: allocations,
			Strategy:    pattern.DetectStrategy(entry["pattern"]),
		})

	case sectionCorrections:
		if entry["payee"] == "" || entry["correct_category"] == "" {
			return &ParseError{Section: section, Line: line, Message: "correction entry needs payee and correct category"}
		}
		c.Corrections = append(c.Corrections, CorrectionEntry{
			Payee:           entry["payee"],
			CorrectCategory: entry["correct_category"],
			CategoryID:      entry["category_id"],
			WrongSuggestion: entry["agent_initially_suggested"],
			Reasoning:       entry["reasoning"],
			Confidence:      entry["confidence"],
			DateLearned:     entry["date_learned"],
		})

	case sectionWebResearch:
		if entry["unknown_payee"] == "" || entry["category"] == "" {
			return &ParseError{Section: section, Line: line, Message: "web research entry needs unknown payee and category"}
		}
		c.WebResearch = append(c.WebResearch, ResearchEntry{
			Payee:        entry["unknown_payee"],
			BusinessType: entry["business_type"],
			Category:     entry["category"],
			Reasoning:    entry["reasoning"],
			Confidence:   entry["confidence"],
			DateAdded:    entry["date_added"],
		})
	}

	return nil
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}

// Append adds a formatted entry (including its section header) under an
// exclusive advisory lock on the backing file. A capture timestamp is
// injected if the entry lacks one, and surrounding blank lines are
// normalized so concurrent appends never collide. On lock timeout a
// LockTimeoutError is returned without writing.
func (d *Document) Append(ctx context.Context, entry string) error {
	entry = injectTimestamp(entry)

	lockCtx, cancel := context.WithTimeout(ctx, d.lockTimeout)
	defer cancel()

	release, err := d.locker.Acquire(lockCtx, d.path+".lock")
	if err != nil {
		slog.Error("failed to lock rules document", "path", d.path, "error", err)
		return &common.LockTimeoutError{Path: d.path, Timeout: d.lockTimeout.String()}
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("failed to release rules document lock", "path", d.path, "error", err)
		}
	}()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open rules document: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Normalize spacing: entries are separated by exactly one blank line.
	sep, err := separatorFor(d.path)
	if err != nil {
		return err
	}

	entry = strings.TrimRight(strings.TrimLeft(entry, "\n"), "\n") + "\n"
	if _, err := f.WriteString(sep + entry); err != nil {
		return fmt.Errorf("failed to append to rules document: %w", err)
	}

	slog.Info("appended rule entry to document", "path", d.path)
	return nil
}

// separatorFor computes the leading separator so the appended entry always
// begins after exactly one blank line.
func separatorFor(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to inspect rules document: %w", err)
	}
	defer func() { _ = f.Close() }()

	tail := make([]byte, 2)
	offset := info.Size() - 2
	if offset < 0 {
		offset = 0
		tail = tail[:info.Size()]
	}
	if _, err := f.ReadAt(tail, offset); err != nil {
		return "", fmt.Errorf("failed to inspect rules document: %w", err)
	}

	switch {
	case strings.HasSuffix(string(tail), "\n\n"):
		return "", nil
	case strings.HasSuffix(string(tail), "\n"):
		return "\n", nil
	default:
		return "\n\n", nil
	}
}

// injectTimestamp adds a capture timestamp when the entry has none.
// Correction entries get Date Learned, everything else Date Added.
func injectTimestamp(entry string) string {
	if strings.Contains(entry, "**Date Learned**:") || strings.Contains(entry, "**Date Added**:") {
		return entry
	}

	field := "Date Added"
	if strings.Contains(entry, "Learned from User Corrections") {
		field = "Date Learned"
	}

	stamp := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	trimmed := strings.TrimRight(entry, "\n")
	return fmt.Sprintf("%s\n  **%s**: %s\n", trimmed, field, stamp)
}

// FormatCorrection renders a learned-correction entry for Append.
func FormatCorrection(payee, correctCategory, categoryID, wrongSuggestion, reasoning string) string {
	return fmt.Sprintf(`%s

- **Payee**: %s
  **Correct Category**: %s
  **Category ID**: %s
  **Agent Initially Suggested**: %s
  **Reasoning**: %s
  **Confidence**: High (user-validated)
`, sectionCorrections, payee, correctCategory, categoryID, wrongSuggestion, reasoning)
}

// FormatWebResearch renders a web-research entry for Append.
func FormatWebResearch(payee, businessType, category, reasoning string) string {
	return fmt.Sprintf(`%s

- **Unknown Payee**: %s
  **Business Type**: %s
  **Category**: %s
  **Reasoning**: %s
  **Confidence**: Medium (web-sourced)
`, sectionWebResearch, payee, businessType, category, reasoning)
}
