// Package config translates CLI flag values into the configuration structs
// the engine components consume.
package config

import (
	"time"

	"golang-classification-service/internal/chart"
	"golang-classification-service/internal/exporter"
	"golang-classification-service/internal/parsers"
	"golang-classification-service/internal/pipeline"
	"golang-classification-service/internal/similarity"
)

// CreateChartConfig creates the chart-of-accounts loading configuration.
func CreateChartConfig() *chart.Config {
	return chart.DefaultConfig()
}

// CreateParserConfig creates the transaction parser configuration.
func CreateParserConfig() *parsers.Config {
	return parsers.DefaultConfig()
}

// CreateSimilarityConfig creates the similarity resolver configuration from
// the cutoff flag.
func CreateSimilarityConfig(cutoff float64) *similarity.Config {
	config := similarity.DefaultConfig()
	config.Cutoff = cutoff
	return config
}

// CreatePipelineConfig creates the pipeline configuration from flag values.
func CreatePipelineConfig(persistClassifier, alwaysClassify bool, classifierTimeout time.Duration) *pipeline.Config {
	config := pipeline.DefaultConfig()
	config.PersistClassifierResults = persistClassifier
	config.AlwaysClassify = alwaysClassify
	config.ClassifierTimeout = classifierTimeout
	return config
}

// CreateExporterConfig creates the exporter configuration from flag values.
func CreateExporterConfig(batchRef string, splitClassifierReport bool) *exporter.Config {
	config := exporter.DefaultConfig()
	config.BatchRef = batchRef
	config.SplitClassifierReport = splitClassifierReport
	return config
}
