// Package parsers reads transaction batches from pipe-table text, the format
// upstream extraction tools emit: an optional header line, then one
// transaction per line as `date | description | amount`.
package parsers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang-classification-service/internal/models"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"

	"golang.org/x/text/encoding/charmap"
)

const (
	// EncodingUTF8 and EncodingLatin1 are the encodings the probe understands.
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"

	transactionFields = 3
)

// Config holds configuration for the transaction parser.
type Config struct {
	// Encodings is the ordered encoding probe list, first success wins.
	Encodings []string
}

// DefaultConfig returns the default parser configuration.
func DefaultConfig() *Config {
	return &Config{Encodings: []string{EncodingUTF8, EncodingLatin1}}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Encodings) == 0 {
		return fmt.Errorf("at least one encoding is required")
	}
	for _, enc := range c.Encodings {
		switch enc {
		case EncodingUTF8, EncodingLatin1:
		default:
			return fmt.Errorf("unsupported encoding: %s", enc)
		}
	}
	return nil
}

// TransactionParser parses pipe-table transaction input.
type TransactionParser struct {
	config *Config
	logger logger.Logger
}

// NewTransactionParser creates a parser with the given configuration.
func NewTransactionParser(config *Config) (*TransactionParser, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", err.Error())
	}

	return &TransactionParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}, nil
}

// ParseFile reads and parses a transaction file.
func (p *TransactionParser) ParseFile(path string) ([]*models.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	defer file.Close()

	transactions, err := p.Parse(file, path)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logger.Fields{
		"path":         path,
		"transactions": len(transactions),
	}).Info("Loaded transactions")

	return transactions, nil
}

// Parse reads transactions from r. The source name is used in error messages
// only. A header line is recognized and skipped; any other non-blank line that
// does not parse is a format error, never silently dropped.
func (p *TransactionParser) Parse(r io.Reader, source string) ([]*models.Transaction, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, source, err)
	}

	text, err := p.decode(raw, source)
	if err != nil {
		return nil, err
	}

	var transactions []*models.Transaction
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNum := 0
	seenContent := false
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		first := !seenContent
		seenContent = true
		if first && isHeader(line) {
			continue
		}
		if isSeparatorRow(line) {
			continue
		}

		tx, err := parseTransactionLine(line, source, lineNum)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, nil
}

// decode probes the configured encodings in order, accepting the first that
// decodes the whole input.
func (p *TransactionParser) decode(raw []byte, source string) (string, error) {
	for _, enc := range p.config.Encodings {
		switch enc {
		case EncodingUTF8:
			if utf8.Valid(raw) {
				return string(raw), nil
			}
		case EncodingLatin1:
			decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
			if err == nil {
				p.logger.WithField("source", source).Debug("Decoded source as Latin-1")
				return string(decoded), nil
			}
		}
	}
	return "", errors.EncodingError(source, p.config.Encodings, nil)
}

// isHeader reports whether the line is a column-name header rather than data.
func isHeader(line string) bool {
	fields := splitFields(line)
	if len(fields) < transactionFields {
		return false
	}
	first := strings.ToLower(fields[0])
	return first == "date" || first == "data"
}

// isSeparatorRow reports whether the line is a markdown-style rule such as
// |---|---|---| that some extraction tools emit under the header.
func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return strings.Contains(trimmed, "-")
}

func parseTransactionLine(line, source string, lineNum int) (*models.Transaction, error) {
	fields := splitFields(line)
	if len(fields) < transactionFields {
		return nil, errors.FormatError(source, lineNum,
			fmt.Sprintf("expected %d pipe-delimited fields, got %d", transactionFields, len(fields)))
	}

	date, err := models.ParseDate(fields[0])
	if err != nil {
		return nil, errors.FormatError(source, lineNum, err.Error()).
			WithContext("field", "date")
	}

	description := models.NormalizeDescription(fields[1])
	if description == "" {
		return nil, errors.FormatError(source, lineNum, "description cannot be empty").
			WithContext("field", "description")
	}

	amount, err := models.ParseAmount(fields[2])
	if err != nil {
		return nil, errors.FormatError(source, lineNum, err.Error()).
			WithContext("field", "amount")
	}

	// The sign carries the direction; the stored amount is the magnitude.
	direction := models.DirectionCredit
	if amount.IsNegative() {
		direction = models.DirectionDebit
		amount = amount.Neg()
	}

	return models.NewTransaction(date, description, amount, direction), nil
}

// splitFields splits a pipe-table row, tolerating leading and trailing pipes.
func splitFields(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	parts := strings.Split(line, "|")
	fields := make([]string, len(parts))
	for i, part := range parts {
		fields[i] = strings.TrimSpace(part)
	}
	return fields
}
