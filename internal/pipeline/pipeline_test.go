package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang-classification-service/internal/chart"
	"golang-classification-service/internal/classifier"
	"golang-classification-service/internal/memory"
	"golang-classification-service/internal/models"
	"golang-classification-service/internal/similarity"

	"github.com/shopspring/decimal"
)

const testChart = `101|00000001|FUEL EXPENSES
102|00000002|OFFICE SUPPLIES
103|00000003|BANK FEES
`

// scriptedModel is a scripted classifier text model.
type scriptedModel struct {
	response string
	err      error
	calls    int
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type testEnv struct {
	chart  *chart.Store
	memory *memory.Memory
	model  *scriptedModel
}

func newTestPipeline(t *testing.T, env *testEnv, config *Config) *Pipeline {
	t.Helper()

	if env.chart == nil {
		store, err := chart.Parse(strings.NewReader(testChart), "chart.txt", nil)
		if err != nil {
			t.Fatalf("chart.Parse() error = %v", err)
		}
		env.chart = store
	}
	if env.memory == nil {
		mem, err := memory.Open(t.TempDir(), "default")
		if err != nil {
			t.Fatalf("memory.Open() error = %v", err)
		}
		if _, err := mem.Load(); err != nil {
			t.Fatalf("memory.Load() error = %v", err)
		}
		env.memory = mem
	}

	resolver, err := similarity.NewResolver(&similarity.Config{Cutoff: 0.5})
	if err != nil {
		t.Fatalf("similarity.NewResolver() error = %v", err)
	}

	var fallback *classifier.Classifier
	if env.model != nil {
		fallback, err = classifier.New(env.model)
		if err != nil {
			t.Fatalf("classifier.New() error = %v", err)
		}
	}

	pipe, err := New(env.chart, env.memory, resolver, fallback, config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return pipe
}

func makeTransaction(description string) *models.Transaction {
	return models.NewTransaction(
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		description,
		decimal.NewFromFloat(100.50),
		models.DirectionDebit,
	)
}

func findRow(t *testing.T, rows []*models.ResolvedTransaction, description string) *models.ResolvedTransaction {
	t.Helper()
	for _, row := range rows {
		if row.Transaction.Description == description {
			return row
		}
	}
	t.Fatalf("No row with description %q", description)
	return nil
}

func TestRun_ExactNameResolvesBySimilarity(t *testing.T) {
	env := &testEnv{}
	pipe := newTestPipeline(t, env, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("FUEL EXPENSES"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	row := result.Rows[0]
	if row.Origin != models.OriginSimilarity {
		t.Errorf("Expected SIMILARITY origin, got %s", row.Origin)
	}
	if row.AccountName != "FUEL EXPENSES" || row.AccountCode != "101" {
		t.Errorf("Unexpected resolution: %q / %q", row.AccountName, row.AccountCode)
	}
	if result.State != StateFinalized {
		t.Errorf("Expected FINALIZED, got %s", result.State)
	}
}

func TestRun_MemoryHitPrecedesEverything(t *testing.T) {
	env := &testEnv{model: &scriptedModel{response: "unused"}}
	pipe := newTestPipeline(t, env, nil)

	env.memory.Put("WEIRD DESCRIPTION", "BANK FEES")

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("WEIRD DESCRIPTION"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	row := result.Rows[0]
	if row.Origin != models.OriginMemory {
		t.Errorf("Expected MEMORY origin, got %s", row.Origin)
	}
	if row.AccountName != "BANK FEES" || row.AccountCode != "103" {
		t.Errorf("Unexpected resolution: %q / %q", row.AccountName, row.AccountCode)
	}
	if env.model.calls != 0 {
		t.Errorf("Classifier must not be called on a full memory hit, got %d calls", env.model.calls)
	}
}

func TestRun_SecondRunIsIdempotentFromMemory(t *testing.T) {
	root := t.TempDir()
	transactions := []*models.Transaction{makeTransaction("FUEL EXPENSE")} // near match

	// First run resolves by similarity and persists the association.
	memFirst, err := memory.Open(root, "default")
	if err != nil {
		t.Fatalf("memory.Open() error = %v", err)
	}
	if _, err := memFirst.Load(); err != nil {
		t.Fatalf("memory.Load() error = %v", err)
	}
	first := newTestPipeline(t, &testEnv{memory: memFirst}, nil)
	firstResult, err := first.Run(context.Background(), transactions)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if firstResult.Rows[0].Origin != models.OriginSimilarity {
		t.Fatalf("Expected first run to resolve by similarity, got %s", firstResult.Rows[0].Origin)
	}

	// Second run over a fresh pipeline must answer from memory alone.
	memSecond, err := memory.Open(root, "default")
	if err != nil {
		t.Fatalf("memory.Open() error = %v", err)
	}
	if _, err := memSecond.Load(); err != nil {
		t.Fatalf("memory.Load() error = %v", err)
	}
	model := &scriptedModel{response: "unused"}
	second := newTestPipeline(t, &testEnv{memory: memSecond, model: model}, nil)
	secondResult, err := second.Run(context.Background(), transactions)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	row := secondResult.Rows[0]
	if row.Origin != models.OriginMemory {
		t.Errorf("Expected MEMORY origin on second run, got %s", row.Origin)
	}
	if row.AccountName != firstResult.Rows[0].AccountName {
		t.Errorf("Second run resolved differently: %q != %q", row.AccountName, firstResult.Rows[0].AccountName)
	}
	if model.calls != 0 {
		t.Errorf("Second run must not call the classifier, got %d calls", model.calls)
	}
}

func TestRun_ClassifierResolvesUnknownVendor(t *testing.T) {
	model := &scriptedModel{response: "XYZ UNKNOWN VENDOR -> FUEL EXPENSES"}
	env := &testEnv{model: model}
	pipe := newTestPipeline(t, env, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("XYZ UNKNOWN VENDOR"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	row := result.Rows[0]
	if row.Origin != models.OriginClassifier {
		t.Errorf("Expected CLASSIFIER origin, got %s", row.Origin)
	}
	if row.AccountName != "FUEL EXPENSES" || row.AccountCode != "101" {
		t.Errorf("Unexpected resolution: %q / %q", row.AccountName, row.AccountCode)
	}

	// Not persisted unless asked.
	if _, ok := env.memory.Get("XYZ UNKNOWN VENDOR"); ok {
		t.Error("Classifier result must not be cached without PersistClassifierResults")
	}
}

func TestRun_PersistClassifierResults(t *testing.T) {
	model := &scriptedModel{response: "XYZ UNKNOWN VENDOR -> FUEL EXPENSES"}
	env := &testEnv{model: model}
	config := DefaultConfig()
	config.PersistClassifierResults = true
	pipe := newTestPipeline(t, env, config)

	if _, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("XYZ UNKNOWN VENDOR"),
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if account, ok := env.memory.Get("XYZ UNKNOWN VENDOR"); !ok || account != "FUEL EXPENSES" {
		t.Errorf("Expected cached classifier result, got (%q, %v)", account, ok)
	}
}

func TestRun_InventedDescriptionStaysUnresolved(t *testing.T) {
	// The model answers for a description that was never requested; the
	// real description gets nothing and must end UNRESOLVED.
	model := &scriptedModel{response: "INVENTED BY MODEL -> FUEL EXPENSES"}
	env := &testEnv{model: model}
	pipe := newTestPipeline(t, env, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("MYSTERY CHARGE"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	row := result.Rows[0]
	if row.Origin != models.OriginUnresolved {
		t.Errorf("Expected UNRESOLVED, got %s", row.Origin)
	}
	if row.AccountName != "" || row.AccountCode != "" {
		t.Errorf("Unresolved row must keep empty account fields, got %q / %q", row.AccountName, row.AccountCode)
	}
}

func TestRun_ClassifierFailureDegrades(t *testing.T) {
	model := &scriptedModel{err: fmt.Errorf("connection reset")}
	env := &testEnv{model: model}
	pipe := newTestPipeline(t, env, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("MYSTERY CHARGE"),
		makeTransaction("FUEL EXPENSES"),
	})
	if err != nil {
		t.Fatalf("Run() must complete despite classifier failure, got %v", err)
	}

	if result.State != StateFinalized {
		t.Errorf("Expected FINALIZED, got %s", result.State)
	}
	if findRow(t, result.Rows, "MYSTERY CHARGE").Origin != models.OriginUnresolved {
		t.Error("Failed batch must stay unresolved")
	}
	if findRow(t, result.Rows, "FUEL EXPENSES").Origin != models.OriginSimilarity {
		t.Error("Similarity hits must survive a classifier failure")
	}
	if result.Summary.Unresolved != 1 || result.Summary.Similarity != 1 {
		t.Errorf("Unexpected summary: %+v", result.Summary)
	}
}

func TestRun_NoClassifierConfigured(t *testing.T) {
	pipe := newTestPipeline(t, &testEnv{}, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("MYSTERY CHARGE"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Rows[0].Origin != models.OriginUnresolved {
		t.Errorf("Expected UNRESOLVED without a classifier, got %s", result.Rows[0].Origin)
	}
}

func TestRun_SharedDescriptionResolvedOnce(t *testing.T) {
	model := &scriptedModel{response: "XYZ UNKNOWN VENDOR -> FUEL EXPENSES"}
	env := &testEnv{model: model}
	pipe := newTestPipeline(t, env, nil)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("XYZ UNKNOWN VENDOR"),
		makeTransaction("XYZ UNKNOWN VENDOR"),
		makeTransaction("XYZ UNKNOWN VENDOR"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if model.calls != 1 {
		t.Errorf("Expected one batched classifier call, got %d", model.calls)
	}
	for _, row := range result.Rows {
		if row.AccountName != "FUEL EXPENSES" {
			t.Errorf("Every row sharing the description must resolve, got %q", row.AccountName)
		}
	}
}

func TestRun_AlwaysClassifyAssignsPlaceholders(t *testing.T) {
	model := &scriptedModel{response: "MYSTERY CHARGE -> UNCLASSIFIED\nSECOND MYSTERY -> UNCLASSIFIED"}
	env := &testEnv{model: model}
	config := DefaultConfig()
	config.AlwaysClassify = true
	pipe := newTestPipeline(t, env, config)

	result, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("MYSTERY CHARGE"),
		makeTransaction("SECOND MYSTERY"),
		makeTransaction("MYSTERY CHARGE"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Placeholders) != 2 {
		t.Fatalf("Expected 2 placeholder codes, got %v", result.Placeholders)
	}
	if result.Placeholders["MYSTERY CHARGE"] != "104-1" {
		t.Errorf("Expected MYSTERY CHARGE -> 104-1, got %q", result.Placeholders["MYSTERY CHARGE"])
	}
	if result.Placeholders["SECOND MYSTERY"] != "104-2" {
		t.Errorf("Expected SECOND MYSTERY -> 104-2, got %q", result.Placeholders["SECOND MYSTERY"])
	}

	// Rows sharing a description share a placeholder code.
	var mysteryCodes []string
	for _, row := range result.Rows {
		if row.Transaction.Description == "MYSTERY CHARGE" {
			mysteryCodes = append(mysteryCodes, row.AccountCode)
		}
	}
	if len(mysteryCodes) != 2 || mysteryCodes[0] != mysteryCodes[1] {
		t.Errorf("Repeated descriptions must share a placeholder code, got %v", mysteryCodes)
	}

	// The chart grew by the group entry plus one sub-entry per description.
	if _, ok := env.chart.LookupCode("104"); !ok {
		t.Error("Expected placeholder group 104 in the chart")
	}
	if result.Summary.Placeholders != 3 {
		t.Errorf("Expected 3 placeholder rows, got %d", result.Summary.Placeholders)
	}
}

func TestRun_PlaceholdersNeverEnterMemory(t *testing.T) {
	env := &testEnv{}
	config := DefaultConfig()
	config.AlwaysClassify = true
	pipe := newTestPipeline(t, env, config)

	if _, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("MYSTERY CHARGE"),
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, ok := env.memory.Get("MYSTERY CHARGE"); ok {
		t.Error("Placeholder assignments must not be cached as associations")
	}
}

func TestRun_SavesMemoryOnce(t *testing.T) {
	root := t.TempDir()

	mem, err := memory.Open(root, "default")
	if err != nil {
		t.Fatalf("memory.Open() error = %v", err)
	}
	if _, err := mem.Load(); err != nil {
		t.Fatalf("memory.Load() error = %v", err)
	}
	pipe := newTestPipeline(t, &testEnv{memory: mem}, nil)

	if _, err := pipe.Run(context.Background(), []*models.Transaction{
		makeTransaction("FUEL EXPENSES"),
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The similarity hit must be on disk after the run.
	reopened, err := memory.Open(root, "default")
	if err != nil {
		t.Fatalf("memory.Open() error = %v", err)
	}
	result, err := reopened.Load()
	if err != nil {
		t.Fatalf("memory.Load() error = %v", err)
	}
	if result.Entries != 1 {
		t.Errorf("Expected 1 persisted association, got %d", result.Entries)
	}
}

func TestRun_InvalidTransactionIsFatal(t *testing.T) {
	pipe := newTestPipeline(t, &testEnv{}, nil)

	invalid := &models.Transaction{Description: ""}
	if _, err := pipe.Run(context.Background(), []*models.Transaction{invalid}); err == nil {
		t.Fatal("Expected validation error")
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	pipe := newTestPipeline(t, &testEnv{}, nil)

	result, err := pipe.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateFinalized {
		t.Errorf("Expected FINALIZED, got %s", result.State)
	}
	if result.Summary.Total != 0 {
		t.Errorf("Expected empty summary, got %+v", result.Summary)
	}
}
