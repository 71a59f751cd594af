// Package exporter renders a finished pipeline run into its output artifacts:
// a delimited tabular ledger for review, a fixed-field pipe-delimited record
// stream for downstream accounting import, and optionally a companion report
// of classifier-resolved rows for audit.
//
// The exporter never drops a row. Unresolved transactions appear in every
// artifact with empty account fields so nothing silently vanishes from the
// ledger.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang-classification-service/internal/models"
	"golang-classification-service/internal/pipeline"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"
)

const (
	recordDateFormat = "02/01/2006"
	tableDateFormat  = "02/01/2006"
)

// Config holds configuration options for the exporter.
type Config struct {
	// BatchRef is the reference written into the record-stream header.
	BatchRef string

	// CSVDelimiter separates fields in the tabular report.
	CSVDelimiter rune

	// CSVHeaders controls whether the tabular report starts with a
	// column-name row.
	CSVHeaders bool

	// SplitClassifierReport additionally writes classifier-resolved rows
	// to a separate report for audit.
	SplitClassifierReport bool
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() *Config {
	return &Config{
		CSVDelimiter: ',',
		CSVHeaders:   true,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CSVDelimiter == 0 {
		return fmt.Errorf("csv delimiter cannot be empty")
	}
	return nil
}

// LedgerExporter writes pipeline results to their output artifacts.
type LedgerExporter struct {
	config *Config
	logger logger.Logger
}

// New creates an exporter with the given configuration.
func New(config *Config) (*LedgerExporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "exporter", err.Error())
	}

	return &LedgerExporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("exporter"),
	}, nil
}

// ExportTable writes the tabular ledger: one row per transaction, resolved or
// not, columns ordered code, description, account name, amount, direction,
// date.
func (e *LedgerExporter) ExportTable(rows []*models.ResolvedTransaction, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = e.config.CSVDelimiter
	defer csvWriter.Flush()

	if e.config.CSVHeaders {
		headers := []string{"Account_Code", "Description", "Account_Name", "Amount", "Direction", "Date"}
		if err := csvWriter.Write(headers); err != nil {
			return errors.FileError(errors.CodeFileWrite, "table headers", err)
		}
	}

	for _, row := range rows {
		record := []string{
			row.AccountCode,
			row.Transaction.Description,
			row.AccountName,
			row.Transaction.Amount.StringFixed(2),
			row.Transaction.Direction.String(),
			row.Transaction.Date.Format(tableDateFormat),
		}
		if err := csvWriter.Write(record); err != nil {
			return errors.FileError(errors.CodeFileWrite, "table record", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return errors.FileError(errors.CodeFileWrite, "table report", err)
	}

	return nil
}

// ExportRecords writes the fixed-field record stream: one 0000 header
// carrying the batch reference, then per transaction a 6000 block header and
// a 6100 detail record. Amounts use a comma decimal separator and no
// thousands grouping. Unresolved rows keep their code and extended-id fields
// empty.
func (e *LedgerExporter) ExportRecords(rows []*models.ResolvedTransaction, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "|0000|%s|\n", e.config.BatchRef); err != nil {
		return errors.FileError(errors.CodeFileWrite, "record header", err)
	}

	for _, row := range rows {
		if _, err := fmt.Fprint(w, "|6000|X||||\n"); err != nil {
			return errors.FileError(errors.CodeFileWrite, "record block header", err)
		}

		detail := fmt.Sprintf("|6100|%s|%s|%s|%s||%s||||\n",
			row.Transaction.Date.Format(recordDateFormat),
			row.AccountCode,
			row.ExtendedID,
			models.FormatRecordAmount(row.Transaction.Amount),
			row.Transaction.Description,
		)
		if _, err := io.WriteString(w, detail); err != nil {
			return errors.FileError(errors.CodeFileWrite, "record detail", err)
		}
	}

	return nil
}

// ExportClassifierReport writes the audit companion report covering only
// classifier-resolved rows, in the tabular format.
func (e *LedgerExporter) ExportClassifierReport(rows []*models.ResolvedTransaction, w io.Writer) error {
	var classified []*models.ResolvedTransaction
	for _, row := range rows {
		if row.Origin == models.OriginClassifier {
			classified = append(classified, row)
		}
	}
	return e.ExportTable(classified, w)
}

// ExportRun writes every artifact a finished run produces. Paths left empty
// skip the corresponding artifact; the classifier report is written only when
// the configuration asks for the split.
func (e *LedgerExporter) ExportRun(result *pipeline.Result, tablePath, recordsPath, classifierPath string) error {
	if tablePath != "" {
		if err := e.exportToFile(tablePath, func(w io.Writer) error {
			return e.ExportTable(result.Rows, w)
		}); err != nil {
			return err
		}
		e.logger.WithField("path", tablePath).Info("Wrote tabular ledger")
	}

	if recordsPath != "" {
		if err := e.exportToFile(recordsPath, func(w io.Writer) error {
			return e.ExportRecords(result.Rows, w)
		}); err != nil {
			return err
		}
		e.logger.WithField("path", recordsPath).Info("Wrote record stream")
	}

	if e.config.SplitClassifierReport && classifierPath != "" {
		if err := e.exportToFile(classifierPath, func(w io.Writer) error {
			return e.ExportClassifierReport(result.Rows, w)
		}); err != nil {
			return err
		}
		e.logger.WithField("path", classifierPath).Info("Wrote classifier audit report")
	}

	return nil
}

func (e *LedgerExporter) exportToFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	defer file.Close()

	return write(file)
}
