// Package classifier implements the fallback classification tier: descriptions
// that neither association memory nor fuzzy matching could resolve are sent,
// in one batch, to an external generative text model which assigns each to one
// of the known account names or to the UNCLASSIFIED sentinel.
//
// The model's answer is untrusted. Every returned pair is validated: an
// account name outside the allowed set is discarded, and so is a description
// that was not part of the request, which stops the model from inventing or
// echoing descriptions. Transport and parse failures degrade to an empty
// result; the pipeline leaves those descriptions unresolved rather than abort.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"golang-classification-service/internal/models"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"
)

// Sentinel is the account option offered to the model for descriptions with
// no sensible match. It is never a real chart account and is never cached.
const Sentinel = "UNCLASSIFIED"

// TextModel is the transport to an external text-generation service. It is
// injected explicitly so tests can substitute a double and so no global client
// state leaks between runs.
type TextModel interface {
	// Generate sends one prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Classifier batches unresolved descriptions into one model request and
// validates the response.
type Classifier struct {
	model  TextModel
	logger logger.Logger
}

// New creates a classifier backed by the given text model.
func New(model TextModel) (*Classifier, error) {
	if model == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "text model", nil)
	}
	return &Classifier{
		model:  model,
		logger: logger.GetGlobalLogger().WithComponent("classifier"),
	}, nil
}

// Classify asks the model to assign each description to one of the allowed
// account names or the sentinel. The returned mapping contains only validated
// pairs; sentinel answers are included so the caller can distinguish "the
// model looked and found nothing" from "the pair was rejected". Any transport
// or parse failure returns an empty mapping and a recoverable error.
func (c *Classifier) Classify(ctx context.Context, descriptions []string, allowed []string) (map[string]string, error) {
	requested := make(map[string]bool, len(descriptions))
	var batch []string
	for _, desc := range descriptions {
		desc = models.NormalizeDescription(desc)
		if desc == "" || requested[desc] {
			continue
		}
		requested[desc] = true
		batch = append(batch, desc)
	}

	if len(batch) == 0 {
		return map[string]string{}, nil
	}

	// Canonical account lookup, case-insensitive, sentinel included.
	canonical := make(map[string]string, len(allowed)+1)
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			canonical[strings.ToLower(name)] = name
		}
	}
	canonical[strings.ToLower(Sentinel)] = Sentinel

	prompt := buildPrompt(batch, allowed)

	c.logger.WithFields(logger.Fields{
		"descriptions": len(batch),
		"accounts":     len(allowed),
	}).Info("Requesting fallback classification")

	response, err := c.model.Generate(ctx, prompt)
	if err != nil {
		clsErr := errors.ClassificationError(errors.CodeClassifierTransport, "generation request", err)
		c.logger.WithError(err).Warn("Fallback classifier request failed, batch stays unresolved")
		return map[string]string{}, clsErr
	}

	result := c.parseResponse(response, requested, canonical)
	if len(result) == 0 && len(batch) > 0 {
		clsErr := errors.ClassificationError(errors.CodeClassifierResponse,
			"no valid description/account pairs in response", nil)
		c.logger.Warn("Fallback classifier returned no usable pairs")
		return map[string]string{}, clsErr
	}

	return result, nil
}

// buildPrompt constructs the single batched request: the allowed account names
// plus the sentinel, then the descriptions to classify, one per line.
func buildPrompt(descriptions, allowed []string) string {
	var b strings.Builder

	b.WriteString("You are an accounting assistant. ")
	b.WriteString("Assign each bank transaction description below to exactly one account from the chart of accounts.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Answer with exactly one account name from the list, spelled exactly as listed.\n")
	b.WriteString("- Never answer with the description itself.\n")
	b.WriteString(fmt.Sprintf("- If no account logically fits, answer %s.\n", Sentinel))
	b.WriteString("- Respond with one line per description, in the form: description -> account\n")
	b.WriteString("- Do not add any other commentary.\n\n")

	b.WriteString("Available accounts:\n")
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			b.WriteString(name)
			b.WriteString("\n")
		}
	}
	b.WriteString(Sentinel)
	b.WriteString("\n\n")

	b.WriteString("Descriptions to classify:\n")
	for _, desc := range descriptions {
		b.WriteString(desc)
		b.WriteString("\n")
	}

	return b.String()
}

// parseResponse extracts description -> account pairs from the loosely
// structured response text. Lines without the separator are commentary and
// skipped; pairs that fail validation are logged and dropped.
func (c *Classifier) parseResponse(response string, requested map[string]bool, canonical map[string]string) map[string]string {
	result := make(map[string]string)

	for _, line := range strings.Split(response, "\n") {
		if !strings.Contains(line, "->") {
			continue
		}

		parts := strings.SplitN(line, "->", 2)
		desc := cleanToken(parts[0])
		account := cleanToken(parts[1])
		if desc == "" || account == "" {
			continue
		}

		if !requested[desc] {
			c.logger.WithFields(logger.Fields{
				"description": desc,
				"account":     account,
			}).Warn("Discarding classifier pair: description was not in the request")
			continue
		}

		canonicalAccount, ok := canonical[strings.ToLower(account)]
		if !ok {
			c.logger.WithFields(logger.Fields{
				"description": desc,
				"account":     account,
			}).Warn("Discarding classifier pair: account not in allowed set")
			continue
		}

		result[desc] = canonicalAccount
	}

	return result
}

// cleanToken trims whitespace, list bullets, and the square brackets some
// models wrap answers in.
func cleanToken(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*• \t")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.TrimSpace(s)
}
