// Package similarity resolves transaction descriptions to account names by
// fuzzy string matching against the chart of accounts.
package similarity

import (
	"fmt"
	"strings"

	"golang-classification-service/pkg/logger"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DefaultCutoff is the permissive default similarity cutoff.
const DefaultCutoff = 0.20

// Config holds the tunable parameters of the resolver.
type Config struct {
	// Cutoff is the minimum similarity ratio, in [0,1], a candidate must
	// reach to be considered a match. Deployments range from very permissive
	// (0.20) to strict (0.80): a low cutoff trades misclassification risk for
	// fewer fallback-classifier calls.
	Cutoff float64
}

// DefaultConfig returns the permissive default cutoff.
func DefaultConfig() *Config {
	return &Config{Cutoff: DefaultCutoff}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Cutoff < 0.0 || c.Cutoff > 1.0 {
		return fmt.Errorf("cutoff must be between 0.0 and 1.0, got %v", c.Cutoff)
	}
	return nil
}

// Resolver finds the single best fuzzy match for a description among a set of
// candidate account names. Resolution is deterministic: identical inputs
// always produce the same match, with ties broken by the first-encountered
// candidate in the given order.
type Resolver struct {
	config *Config
	logger logger.Logger
}

// NewResolver creates a resolver with the given configuration.
func NewResolver(config *Config) (*Resolver, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid similarity configuration: %w", err)
	}

	return &Resolver{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("similarity"),
	}, nil
}

// Cutoff returns the configured cutoff.
func (r *Resolver) Cutoff() float64 {
	return r.config.Cutoff
}

// Resolve returns the candidate with the highest similarity ratio to the
// description, provided that ratio meets the cutoff. Scoring is
// case-insensitive, but the returned name keeps the candidate's canonical
// spelling.
func (r *Resolver) Resolve(description string, candidates []string) (string, bool) {
	description = strings.TrimSpace(description)
	if description == "" || len(candidates) == 0 {
		return "", false
	}

	best := ""
	bestScore := -1.0
	lowered := strings.ToLower(description)

	for _, candidate := range candidates {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		score := Ratio(lowered, strings.ToLower(trimmed))
		if score > bestScore {
			best = trimmed
			bestScore = score
		}
	}

	if bestScore < r.config.Cutoff {
		return "", false
	}

	r.logger.WithFields(logger.Fields{
		"description": description,
		"account":     best,
		"score":       bestScore,
	}).Debug("Resolved description by similarity")

	return best, true
}

// Ratio computes the levenshtein similarity ratio between two strings,
// in [0,1], where 1 means identical.
func Ratio(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}
