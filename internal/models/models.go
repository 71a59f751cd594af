package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the direction of a bank transaction.
type Direction string

const (
	// DirectionCredit represents money entering the account.
	DirectionCredit Direction = "CREDIT"
	// DirectionDebit represents money leaving the account.
	DirectionDebit Direction = "DEBIT"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is valid.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// ResolutionOrigin identifies which tier produced a transaction's account
// assignment. It is never persisted; it exists to split output reports and to
// decide whether a resolution should be cached.
type ResolutionOrigin string

const (
	// OriginMemory means the description was found in association memory.
	OriginMemory ResolutionOrigin = "MEMORY"
	// OriginSimilarity means fuzzy matching against chart names resolved it.
	OriginSimilarity ResolutionOrigin = "SIMILARITY"
	// OriginClassifier means the fallback generative classifier resolved it.
	OriginClassifier ResolutionOrigin = "CLASSIFIER"
	// OriginUnresolved means no tier produced an account.
	OriginUnresolved ResolutionOrigin = "UNRESOLVED"
)

// String returns the string representation of ResolutionOrigin.
func (o ResolutionOrigin) String() string {
	return string(o)
}

// Transaction represents a single bank transaction as produced by an external
// bank-file or text-extraction parser. It is immutable once read; the engine
// only annotates it with a resolved account.
type Transaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`
}

// NewTransaction creates a new Transaction instance.
func NewTransaction(date time.Time, description string, amount decimal.Decimal, direction Direction) *Transaction {
	return &Transaction{
		Date:        date,
		Description: strings.TrimSpace(description),
		Amount:      amount,
		Direction:   direction,
	}
}

// Validate performs basic validation on the Transaction.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("transaction description cannot be empty")
	}

	if !t.Direction.IsValid() {
		return fmt.Errorf("invalid transaction direction: %s", t.Direction)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// String returns a string representation of the Transaction.
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Date: %s, Description: %s, Amount: %s, Direction: %s}",
		t.Date.Format("2006-01-02"), t.Description, t.Amount.String(), t.Direction)
}

// ChartEntry is one row of the chart of accounts: the fixed catalog of valid
// account codes and names transactions can be classified into.
type ChartEntry struct {
	Code       string `json:"code"`
	ExtendedID string `json:"extended_id"`
	Name       string `json:"name"`
}

// NewChartEntry creates a ChartEntry with trimmed fields.
func NewChartEntry(code, extendedID, name string) *ChartEntry {
	return &ChartEntry{
		Code:       strings.TrimSpace(code),
		ExtendedID: strings.TrimSpace(extendedID),
		Name:       strings.TrimSpace(name),
	}
}

// Validate performs basic validation on the ChartEntry.
func (e *ChartEntry) Validate() error {
	if strings.TrimSpace(e.Code) == "" {
		return fmt.Errorf("chart entry code cannot be empty")
	}

	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("chart entry name cannot be empty")
	}

	return nil
}

// String returns a string representation of the ChartEntry.
func (e *ChartEntry) String() string {
	return fmt.Sprintf("ChartEntry{Code: %s, ExtendedID: %s, Name: %s}",
		e.Code, e.ExtendedID, e.Name)
}

// ResolvedTransaction is a Transaction annotated with its account resolution.
// AccountName and AccountCode are empty when the transaction is unresolved.
type ResolvedTransaction struct {
	Transaction *Transaction     `json:"transaction"`
	AccountName string           `json:"account_name,omitempty"`
	AccountCode string           `json:"account_code,omitempty"`
	ExtendedID  string           `json:"extended_id,omitempty"`
	Origin      ResolutionOrigin `json:"origin"`
}

// IsResolved reports whether any tier assigned an account.
func (r *ResolvedTransaction) IsResolved() bool {
	return r.Origin != OriginUnresolved && r.AccountName != ""
}

// NormalizeDescription applies the single normalization used for association
// memory keys and lookups: surrounding whitespace is trimmed, case is
// preserved. Both sides of every memory operation go through this function.
func NormalizeDescription(description string) string {
	return strings.TrimSpace(description)
}

// ParseDirection parses and validates a transaction direction from string.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREDIT", "C", "CR":
		return DirectionCredit, nil
	case "DEBIT", "D", "DR":
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("invalid direction '%s': must be CREDIT or DEBIT", s)
	}
}

// ParseAmount parses a monetary amount from real-world statement text. Both
// comma-decimal ("1.234,56") and point-decimal ("1,234.56") conventions are
// accepted: the rightmost separator is treated as the decimal separator and
// the other one as a thousands separator. Currency symbols and surrounding
// noise are stripped.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := strings.HasPrefix(cleaned, "-") || strings.HasSuffix(cleaned, "-") ||
		(strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")"))

	var digits []rune
	for _, r := range cleaned {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			digits = append(digits, r)
		}
	}
	normalized := string(digits)
	if normalized == "" {
		return decimal.Zero, fmt.Errorf("no numeric content in amount '%s'", s)
	}

	// The rightmost separator is the decimal separator; every separator
	// before it is thousands grouping.
	stripGroups := strings.NewReplacer(".", "", ",", "")
	lastComma := strings.LastIndex(normalized, ",")
	lastPoint := strings.LastIndex(normalized, ".")
	if sep := lastComma; sep > lastPoint {
		normalized = stripGroups.Replace(normalized[:sep]) + "." + normalized[sep+1:]
	} else if lastPoint >= 0 {
		normalized = stripGroups.Replace(normalized[:lastPoint]) + "." + normalized[lastPoint+1:]
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}

	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseDate attempts to parse a transaction date using the formats commonly
// seen in statement extracts, day-first formats before year-first.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"2006-01-02",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// FormatRecordAmount renders an amount for the fixed-field record stream:
// two decimal places, comma decimal separator, no thousands separator.
func FormatRecordAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
