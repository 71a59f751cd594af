package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang-classification-service/cmd/classifier/config"
	"golang-classification-service/internal/chart"
	"golang-classification-service/internal/classifier"
	"golang-classification-service/internal/exporter"
	"golang-classification-service/internal/memory"
	"golang-classification-service/internal/parsers"
	"golang-classification-service/internal/pipeline"
	"golang-classification-service/internal/similarity"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the classify command
var (
	chartFile        string
	transactionsFile string
	tenant           string
	dataDir          string
	cutoff           float64

	persistClassifier     bool
	alwaysClassify        bool
	splitClassifierReport bool

	outputFile       string
	recordsFile      string
	updatedChartFile string
	batchRef         string

	classifierTimeout time.Duration
	apiKey            string
	modelName         string
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a transaction batch against a chart of accounts",
	Long: `Classify resolves each transaction description to a chart-of-accounts
entry: first from the tenant's association memory, then by fuzzy similarity
against account names, and finally through the generative fallback classifier.

This command requires:
- A chart-of-accounts file (pipe-delimited: code|extended_id|name)
- A transactions file (pipe table: date | description | amount)

Examples:
  # Basic classification
  classifier classify --chart-file chart.txt --transactions-file batch.txt

  # Tenant-scoped memory with a looser similarity cutoff
  classifier classify --chart-file chart.txt --transactions-file batch.txt \
    --tenant acme --data-dir /var/lib/classifier --cutoff 0.35

  # Cache classifier results and force placeholder accounts
  classifier classify --chart-file chart.txt --transactions-file batch.txt \
    --persist-classifier --always-classify --updated-chart-file chart_new.txt

  # Full export set
  classifier classify --chart-file chart.txt --transactions-file batch.txt \
    --output-file ledger.csv --records-file records.txt --batch-ref 32662718000130`,

	PreRunE: validateClassifyFlags,
	RunE:    runClassify,

	// The error handler prints handled failures itself; main maps the exit
	// code after deferred cleanup has run.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	// Required flags
	classifyCmd.Flags().StringVarP(&chartFile, "chart-file", "p", "", "path to chart-of-accounts file (required)")
	classifyCmd.Flags().StringVarP(&transactionsFile, "transactions-file", "t", "", "path to transactions file (required)")

	// Memory flags
	classifyCmd.Flags().StringVar(&tenant, "tenant", "default", "tenant whose association memory is used")
	classifyCmd.Flags().StringVar(&dataDir, "data-dir", ".", "root directory of tenant association memories")

	// Resolution flags
	classifyCmd.Flags().Float64VarP(&cutoff, "cutoff", "c", similarity.DefaultCutoff, "similarity cutoff (0.0-1.0)")
	classifyCmd.Flags().BoolVar(&persistClassifier, "persist-classifier", false, "cache classifier results in association memory")
	classifyCmd.Flags().BoolVar(&alwaysClassify, "always-classify", false, "assign placeholder accounts to unresolved descriptions")

	// Output flags
	classifyCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "tabular ledger output path (default: stdout)")
	classifyCmd.Flags().StringVar(&recordsFile, "records-file", "", "fixed-field record stream output path")
	classifyCmd.Flags().StringVar(&updatedChartFile, "updated-chart-file", "", "path for the chart including generated placeholders")
	classifyCmd.Flags().StringVar(&batchRef, "batch-ref", "", "batch reference written into the record-stream header")
	classifyCmd.Flags().BoolVar(&splitClassifierReport, "split-classifier-report", false, "write classifier-resolved rows to a separate audit report")

	// Classifier flags
	classifyCmd.Flags().DurationVar(&classifierTimeout, "classifier-timeout", 30*time.Second, "timeout for the fallback classifier call")
	classifyCmd.Flags().StringVar(&apiKey, "api-key", "", "generative classifier API key (or CLASSIFIER_API_KEY)")
	classifyCmd.Flags().StringVar(&modelName, "model", "gemini-1.5-flash", "generative model name")

	// Mark required flags
	classifyCmd.MarkFlagRequired("chart-file")
	classifyCmd.MarkFlagRequired("transactions-file")

	// Bind flags to viper
	viper.BindPFlag("chart-file", classifyCmd.Flags().Lookup("chart-file"))
	viper.BindPFlag("transactions-file", classifyCmd.Flags().Lookup("transactions-file"))
	viper.BindPFlag("tenant", classifyCmd.Flags().Lookup("tenant"))
	viper.BindPFlag("data-dir", classifyCmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("cutoff", classifyCmd.Flags().Lookup("cutoff"))
	viper.BindPFlag("persist-classifier", classifyCmd.Flags().Lookup("persist-classifier"))
	viper.BindPFlag("always-classify", classifyCmd.Flags().Lookup("always-classify"))
	viper.BindPFlag("output-file", classifyCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("records-file", classifyCmd.Flags().Lookup("records-file"))
	viper.BindPFlag("updated-chart-file", classifyCmd.Flags().Lookup("updated-chart-file"))
	viper.BindPFlag("batch-ref", classifyCmd.Flags().Lookup("batch-ref"))
	viper.BindPFlag("split-classifier-report", classifyCmd.Flags().Lookup("split-classifier-report"))
	viper.BindPFlag("classifier-timeout", classifyCmd.Flags().Lookup("classifier-timeout"))
	viper.BindPFlag("api-key", classifyCmd.Flags().Lookup("api-key"))
	viper.BindPFlag("model", classifyCmd.Flags().Lookup("model"))
}

func validateClassifyFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file and env)
	chartFile = viper.GetString("chart-file")
	transactionsFile = viper.GetString("transactions-file")
	tenant = viper.GetString("tenant")
	dataDir = viper.GetString("data-dir")
	cutoff = viper.GetFloat64("cutoff")
	persistClassifier = viper.GetBool("persist-classifier")
	alwaysClassify = viper.GetBool("always-classify")
	outputFile = viper.GetString("output-file")
	recordsFile = viper.GetString("records-file")
	updatedChartFile = viper.GetString("updated-chart-file")
	batchRef = viper.GetString("batch-ref")
	splitClassifierReport = viper.GetBool("split-classifier-report")
	classifierTimeout = viper.GetDuration("classifier-timeout")
	apiKey = viper.GetString("api-key")
	modelName = viper.GetString("model")

	// Validate required flags
	if chartFile == "" {
		return fmt.Errorf("chart-file is required")
	}
	if transactionsFile == "" {
		return fmt.Errorf("transactions-file is required")
	}

	// Validate file existence
	if err := validateFileExists(chartFile, "chart-of-accounts file"); err != nil {
		return err
	}
	if err := validateFileExists(transactionsFile, "transactions file"); err != nil {
		return err
	}

	// Validate cutoff
	if cutoff < 0.0 || cutoff > 1.0 {
		return fmt.Errorf("cutoff must be between 0.0 and 1.0, got %g", cutoff)
	}

	// Validate tenant
	if tenant == "" {
		return fmt.Errorf("tenant cannot be empty")
	}

	if classifierTimeout < 0 {
		return fmt.Errorf("classifier timeout cannot be negative")
	}

	// Validate output directories exist if specified
	for _, path := range []string{outputFile, recordsFile, updatedChartFile} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	handler := NewCLIErrorHandler()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting classification...\n")
		fmt.Fprintf(os.Stderr, "Chart file: %s\n", chartFile)
		fmt.Fprintf(os.Stderr, "Transactions file: %s\n", transactionsFile)
		fmt.Fprintf(os.Stderr, "Tenant: %s\n", tenant)
		fmt.Fprintf(os.Stderr, "Cutoff: %g\n", cutoff)
	}

	// Load the chart of accounts
	chartStore, err := chart.Load(chartFile, config.CreateChartConfig())
	if err != nil {
		return exitWith(handler, err)
	}

	// Parse the transaction batch
	parser, err := parsers.NewTransactionParser(config.CreateParserConfig())
	if err != nil {
		return exitWith(handler, err)
	}
	transactions, err := parser.ParseFile(transactionsFile)
	if err != nil {
		return exitWith(handler, err)
	}

	// Open the tenant's association memory and hold the advisory lock for
	// the duration of the run.
	mem, err := memory.Open(dataDir, tenant)
	if err != nil {
		return exitWith(handler, err)
	}
	if err := mem.AcquireLock(); err != nil {
		return exitWith(handler, err)
	}
	defer mem.ReleaseLock()

	if _, err := mem.Load(); err != nil {
		return exitWith(handler, err)
	}

	resolver, err := similarity.NewResolver(config.CreateSimilarityConfig(cutoff))
	if err != nil {
		return exitWith(handler, err)
	}

	// The classifier tier is optional: without an API key the pipeline
	// runs on memory and similarity alone.
	var fallback *classifier.Classifier
	if apiKey != "" {
		model, err := classifier.NewGeminiModel(ctx, apiKey, modelName)
		if err != nil {
			return exitWith(handler, err)
		}
		defer model.Close()

		fallback, err = classifier.New(model)
		if err != nil {
			return exitWith(handler, err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: no API key configured, fallback classifier disabled\n")
	}

	pipelineConfig := config.CreatePipelineConfig(persistClassifier, alwaysClassify, classifierTimeout)
	pipe, err := pipeline.New(chartStore, mem, resolver, fallback, pipelineConfig)
	if err != nil {
		return exitWith(handler, err)
	}

	result, err := pipe.Run(ctx, transactions)
	if err != nil {
		return exitWith(handler, err)
	}

	// Export the run artifacts
	exp, err := exporter.New(config.CreateExporterConfig(batchRef, splitClassifierReport))
	if err != nil {
		return exitWith(handler, err)
	}

	if outputFile == "" {
		if err := exp.ExportTable(result.Rows, os.Stdout); err != nil {
			return exitWith(handler, err)
		}
	}

	auditPath := classifierReportPath(outputFile)
	if err := exp.ExportRun(result, outputFile, recordsFile, auditPath); err != nil {
		return exitWith(handler, err)
	}

	// Emit the updated chart when placeholders were recorded
	if updatedChartFile != "" && len(result.Placeholders) > 0 {
		if err := chartStore.WriteFile(updatedChartFile); err != nil {
			return exitWith(handler, err)
		}
	}

	printSummary(result)
	return nil
}

// classifierReportPath derives the audit-report path from the ledger path.
func classifierReportPath(tablePath string) string {
	if tablePath == "" {
		return "classifier_report.csv"
	}
	ext := filepath.Ext(tablePath)
	return tablePath[:len(tablePath)-len(ext)] + "_classifier" + ext
}

func printSummary(result *pipeline.Result) {
	s := result.Summary
	fmt.Fprintf(os.Stderr, "\nClassification summary:\n")
	fmt.Fprintf(os.Stderr, "  Total:       %d\n", s.Total)
	fmt.Fprintf(os.Stderr, "  Memory:      %d\n", s.Memory)
	fmt.Fprintf(os.Stderr, "  Similarity:  %d\n", s.Similarity)
	fmt.Fprintf(os.Stderr, "  Classifier:  %d\n", s.Classifier)
	fmt.Fprintf(os.Stderr, "  Unresolved:  %d\n", s.Unresolved)
	if s.Placeholders > 0 {
		fmt.Fprintf(os.Stderr, "  Placeholders: %d\n", s.Placeholders)
	}
}

// exitWith reports the error through the CLI handler and returns it tagged
// with the handler's exit code. Returning instead of calling os.Exit lets
// deferred cleanup (tenant lock release, classifier shutdown) run first.
func exitWith(handler *CLIErrorHandler, err error) error {
	return &exitError{err: err, code: handler.HandleError(err)}
}
