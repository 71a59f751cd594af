package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	cerrors "golang-classification-service/pkg/errors"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "chart.txt")
	if err := os.WriteFile(validFile, []byte("101|00000001|FUEL EXPENSES\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{
			name:        "valid file",
			filePath:    validFile,
			expectError: false,
		},
		{
			name:        "empty path",
			filePath:    "",
			expectError: true,
		},
		{
			name:        "non-existent file",
			filePath:    "/non/existent/chart.txt",
			expectError: true,
		},
		{
			name:        "directory instead of file",
			filePath:    tmpDir,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.expectError && err == nil {
				t.Error("expected an error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunClassify_FailureReleasesTenantLock(t *testing.T) {
	tmpDir := t.TempDir()

	chartPath := filepath.Join(tmpDir, "chart.txt")
	if err := os.WriteFile(chartPath, []byte("101|00000001|FUEL EXPENSES\n"), 0644); err != nil {
		t.Fatalf("failed to create chart file: %v", err)
	}
	batchPath := filepath.Join(tmpDir, "batch.txt")
	if err := os.WriteFile(batchPath, []byte("15/03/2024 | FUEL EXPENSES | -150,75\n"), 0644); err != nil {
		t.Fatalf("failed to create transactions file: %v", err)
	}

	chartFile = chartPath
	transactionsFile = batchPath
	tenant = "acme"
	dataDir = tmpDir
	cutoff = 0.5
	persistClassifier = false
	alwaysClassify = false
	splitClassifierReport = false
	// Export into a directory that does not exist so the run fails after
	// the tenant lock has been taken.
	outputFile = filepath.Join(tmpDir, "missing", "ledger.csv")
	recordsFile = ""
	updatedChartFile = ""
	batchRef = ""
	classifierTimeout = time.Second
	apiKey = ""
	modelName = ""

	err := runClassify(classifyCmd, nil)
	if err == nil {
		t.Fatal("Expected export failure")
	}
	if !Reported(err) {
		t.Error("Expected the error to be reported by the CLI handler")
	}
	if got := ExitCode(err); got != 2 {
		t.Errorf("Expected file exit code 2, got %d", got)
	}

	lockPath := filepath.Join(tmpDir, "acme", "associations.lock")
	if _, statErr := os.Stat(lockPath); !os.IsNotExist(statErr) {
		t.Errorf("Expected tenant lock released after failed run, stat err = %v", statErr)
	}
}

func TestExitWith_CarriesExitCode(t *testing.T) {
	handler := NewCLIErrorHandler()

	err := exitWith(handler, cerrors.FileError(cerrors.CodeFileNotFound, "chart.txt", nil))
	if !Reported(err) {
		t.Error("Expected exitWith result to be marked as reported")
	}
	if got := ExitCode(err); got != 2 {
		t.Errorf("Expected exit code 2, got %d", got)
	}

	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(fmt.Errorf("boom")); got != 1 {
		t.Errorf("Expected exit code 1 for unhandled error, got %d", got)
	}
}

func TestClassifierReportPath(t *testing.T) {
	tests := []struct {
		tablePath string
		expected  string
	}{
		{"ledger.csv", "ledger_classifier.csv"},
		{"/out/run1.csv", "/out/run1_classifier.csv"},
		{"report", "report_classifier"},
		{"", "classifier_report.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.tablePath, func(t *testing.T) {
			if got := classifierReportPath(tt.tablePath); got != tt.expected {
				t.Errorf("classifierReportPath(%q) = %q, want %q", tt.tablePath, got, tt.expected)
			}
		})
	}
}
