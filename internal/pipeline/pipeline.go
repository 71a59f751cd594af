// Package pipeline orchestrates the three classification tiers over one
// transaction batch: association memory first, then fuzzy similarity against
// the chart of accounts, then one batched call to the fallback classifier.
// Whatever remains is finalized as unresolved, or assigned a generated
// placeholder account when the run is configured to always classify.
//
// The pipeline advances through explicit states in a fixed order and saves the
// association memory exactly once, after finalization. Tier failures are
// recoverable: a similarity miss falls through to the next tier and a
// classifier failure leaves its batch unresolved, but the run still ends with
// a complete ledger.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang-classification-service/internal/chart"
	"golang-classification-service/internal/classifier"
	"golang-classification-service/internal/memory"
	"golang-classification-service/internal/models"
	"golang-classification-service/internal/similarity"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"
)

// State identifies how far a run has advanced. States are strictly ordered;
// Run never skips one, even when a tier has no work.
type State string

const (
	StateLoaded             State = "LOADED"
	StateMemoryResolved     State = "MEMORY_RESOLVED"
	StateSimilarityResolved State = "SIMILARITY_RESOLVED"
	StateClassifierResolved State = "CLASSIFIER_RESOLVED"
	StateFinalized          State = "FINALIZED"
)

// Config holds configuration options for the pipeline.
type Config struct {
	// PersistClassifierResults writes validated tier-3 results into the
	// association memory so future runs resolve them from tier 1.
	PersistClassifierResults bool

	// AlwaysClassify assigns still-unresolved descriptions a generated
	// placeholder account instead of leaving the account empty.
	AlwaysClassify bool

	// ClassifierTimeout bounds the single fallback-classifier call.
	// Zero means no timeout beyond the caller's context.
	ClassifierTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		PersistClassifierResults: false,
		AlwaysClassify:           false,
		ClassifierTimeout:        30 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ClassifierTimeout < 0 {
		return fmt.Errorf("classifier timeout cannot be negative, got %s", c.ClassifierTimeout)
	}
	return nil
}

// Summary aggregates per-tier resolution counts for one run.
type Summary struct {
	Total        int `json:"total"`
	Memory       int `json:"memory"`
	Similarity   int `json:"similarity"`
	Classifier   int `json:"classifier"`
	Unresolved   int `json:"unresolved"`
	Placeholders int `json:"placeholders"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Rows    []*models.ResolvedTransaction `json:"rows"`
	Summary *Summary                      `json:"summary"`
	State   State                         `json:"state"`

	// Placeholders maps still-unresolved descriptions to the chart codes
	// generated for them. Empty unless AlwaysClassify was set.
	Placeholders map[string]string `json:"placeholders,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// Pipeline resolves one transaction batch against a chart of accounts.
type Pipeline struct {
	chart      *chart.Store
	memory     *memory.Memory
	similarity *similarity.Resolver
	classifier *classifier.Classifier
	config     *Config
	logger     logger.Logger
}

// New creates a pipeline over the given components. The classifier may be nil,
// which disables tier 3; chart, memory, and resolver are required.
func New(chartStore *chart.Store, mem *memory.Memory, resolver *similarity.Resolver, cls *classifier.Classifier, config *Config) (*Pipeline, error) {
	if chartStore == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "chart store", nil)
	}
	if mem == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "association memory", nil)
	}
	if resolver == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "similarity resolver", nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "pipeline", err.Error())
	}

	return &Pipeline{
		chart:      chartStore,
		memory:     mem,
		similarity: resolver,
		classifier: cls,
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("pipeline"),
	}, nil
}

// Run resolves the batch through all tiers and finalizes the result. The
// association memory is saved exactly once, after finalization; if the save
// fails the resolved rows are still returned alongside the error.
func (p *Pipeline) Run(ctx context.Context, transactions []*models.Transaction) (*Result, error) {
	rows := make([]*models.ResolvedTransaction, 0, len(transactions))
	for i, tx := range transactions {
		if err := tx.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.CategoryValidation, errors.CodeMissingField,
				fmt.Sprintf("transaction %d is invalid", i+1))
		}
		rows = append(rows, &models.ResolvedTransaction{
			Transaction: tx,
			Origin:      models.OriginUnresolved,
		})
	}

	p.logger.WithFields(logger.Fields{
		"transactions": len(rows),
		"state":        StateLoaded,
	}).Info("Pipeline run started")

	p.resolveFromMemory(rows)
	p.resolveBySimilarity(rows)

	if err := p.resolveByClassifier(ctx, rows); err != nil {
		// Recoverable by contract: the batch stays unresolved.
		p.logger.WithError(err).Warn("Classifier tier degraded")
	}

	result, err := p.finalize(rows)
	if err != nil {
		return nil, err
	}

	if err := p.memory.Save(); err != nil {
		return result, err
	}

	p.logger.WithFields(logger.Fields{
		"state":      result.State,
		"memory":     result.Summary.Memory,
		"similarity": result.Summary.Similarity,
		"classifier": result.Summary.Classifier,
		"unresolved": result.Summary.Unresolved,
	}).Info("Pipeline run finished")

	return result, nil
}

// resolveFromMemory applies tier 1: exact lookups in association memory.
func (p *Pipeline) resolveFromMemory(rows []*models.ResolvedTransaction) {
	hits := 0
	for _, row := range rows {
		desc := models.NormalizeDescription(row.Transaction.Description)
		if name, ok := p.memory.Get(desc); ok {
			p.assign(row, name, models.OriginMemory)
			hits++
		}
	}

	p.logger.WithFields(logger.Fields{
		"hits":  hits,
		"total": len(rows),
		"state": StateMemoryResolved,
	}).Debug("Memory tier complete")
}

// resolveBySimilarity applies tier 2: fuzzy matching against chart account
// names. Hits are written back into memory so the association is sticky for
// the rest of the batch and for future runs.
func (p *Pipeline) resolveBySimilarity(rows []*models.ResolvedTransaction) {
	candidates := p.chart.Names()
	hits := 0
	for _, row := range rows {
		if row.IsResolved() {
			continue
		}
		desc := models.NormalizeDescription(row.Transaction.Description)

		// An earlier row in this batch may have resolved the same
		// description already.
		if name, ok := p.memory.Get(desc); ok {
			p.assign(row, name, models.OriginSimilarity)
			hits++
			continue
		}

		name, ok := p.similarity.Resolve(desc, candidates)
		if !ok {
			continue
		}
		p.memory.Put(desc, name)
		p.assign(row, name, models.OriginSimilarity)
		hits++
	}

	p.logger.WithFields(logger.Fields{
		"hits":   hits,
		"cutoff": p.similarity.Cutoff(),
		"state":  StateSimilarityResolved,
	}).Debug("Similarity tier complete")
}

// resolveByClassifier applies tier 3: one batched call covering the unique
// descriptions no earlier tier resolved. Sentinel answers stay unresolved.
func (p *Pipeline) resolveByClassifier(ctx context.Context, rows []*models.ResolvedTransaction) error {
	if p.classifier == nil {
		p.logger.Debug("Classifier tier disabled, skipping")
		return nil
	}

	unique := uniqueUnresolved(rows)
	if len(unique) == 0 {
		return nil
	}

	if p.config.ClassifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ClassifierTimeout)
		defer cancel()
	}

	assignments, err := p.classifier.Classify(ctx, unique, p.chart.Names())
	if err != nil {
		return err
	}

	hits := 0
	for _, row := range rows {
		if row.IsResolved() {
			continue
		}
		desc := models.NormalizeDescription(row.Transaction.Description)
		name, ok := assignments[desc]
		if !ok || name == classifier.Sentinel {
			continue
		}
		p.assign(row, name, models.OriginClassifier)
		if p.config.PersistClassifierResults {
			p.memory.Put(desc, name)
		}
		hits++
	}

	p.logger.WithFields(logger.Fields{
		"hits":      hits,
		"requested": len(unique),
		"persisted": p.config.PersistClassifierResults,
		"state":     StateClassifierResolved,
	}).Debug("Classifier tier complete")

	return nil
}

// finalize closes the run: still-unresolved rows either keep an empty account
// or, in always-classify mode, receive a generated placeholder code under the
// placeholder group appended to the chart.
func (p *Pipeline) finalize(rows []*models.ResolvedTransaction) (*Result, error) {
	summary := &Summary{Total: len(rows)}
	placeholders := map[string]string{}

	if p.config.AlwaysClassify {
		unique := uniqueUnresolved(rows)
		if len(unique) > 0 {
			assigned, err := p.chart.AppendPlaceholderGroup(unique)
			if err != nil {
				return nil, err
			}
			placeholders = assigned

			for _, row := range rows {
				if row.IsResolved() {
					continue
				}
				desc := models.NormalizeDescription(row.Transaction.Description)
				code, ok := assigned[desc]
				if !ok {
					continue
				}
				entry, found := p.chart.LookupCode(code)
				if !found {
					continue
				}
				row.AccountName = entry.Name
				row.AccountCode = entry.Code
				row.ExtendedID = entry.ExtendedID
				summary.Placeholders++
			}
		}
	}

	for _, row := range rows {
		switch row.Origin {
		case models.OriginMemory:
			summary.Memory++
		case models.OriginSimilarity:
			summary.Similarity++
		case models.OriginClassifier:
			summary.Classifier++
		default:
			summary.Unresolved++
		}
	}

	return &Result{
		Rows:         rows,
		Summary:      summary,
		State:        StateFinalized,
		Placeholders: placeholders,
		ProcessedAt:  time.Now(),
	}, nil
}

// assign stamps a resolution onto a row, joining the account name to its
// chart entry for the code. A name with no chart entry keeps an empty code;
// the row is still considered resolved.
func (p *Pipeline) assign(row *models.ResolvedTransaction, accountName string, origin models.ResolutionOrigin) {
	row.AccountName = accountName
	row.Origin = origin

	if entry, ok := p.chart.Lookup(accountName); ok {
		row.AccountCode = entry.Code
		row.ExtendedID = entry.ExtendedID
	} else {
		p.logger.WithFields(logger.Fields{
			"account": accountName,
			"origin":  origin,
		}).Warn("Resolved account name has no chart entry")
	}
}

// uniqueUnresolved collects the distinct normalized descriptions of rows no
// tier has resolved, in first-seen order.
func uniqueUnresolved(rows []*models.ResolvedTransaction) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, row := range rows {
		if row.IsResolved() {
			continue
		}
		desc := models.NormalizeDescription(row.Transaction.Description)
		if desc == "" || seen[desc] {
			continue
		}
		seen[desc] = true
		unique = append(unique, desc)
	}
	return unique
}
