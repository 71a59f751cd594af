package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang-classification-service/pkg/errors"
)

func openTestMemory(t *testing.T) *Memory {
	t.Helper()
	mem, err := Open(t.TempDir(), "acme")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return mem
}

func TestOpen_ValidatesTenant(t *testing.T) {
	tests := []struct {
		name      string
		tenant    string
		wantError bool
	}{
		{"simple tenant", "acme", false},
		{"trimmed tenant", "  acme  ", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"path traversal", "..", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"dot", ".", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(t.TempDir(), tt.tenant)
			if (err != nil) != tt.wantError {
				t.Errorf("Open(%q) error = %v, wantError %v", tt.tenant, err, tt.wantError)
			}
		})
	}
}

func TestOpen_TenantIsolation(t *testing.T) {
	root := t.TempDir()

	memA, err := Open(root, "tenant-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	memB, err := Open(root, "tenant-b")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	memA.Put("FUEL EXPENSES", "FUEL")
	if err := memA.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	result, err := memB.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StateAbsent {
		t.Errorf("Expected tenant-b store absent, got %s", result.State)
	}
	if _, ok := memB.Get("FUEL EXPENSES"); ok {
		t.Error("tenant-b must not see tenant-a associations")
	}
}

func TestLoad_AbsentStore(t *testing.T) {
	mem := openTestMemory(t)

	result, err := mem.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StateAbsent {
		t.Errorf("Expected StateAbsent, got %s", result.State)
	}
	if mem.Len() != 0 {
		t.Errorf("Expected empty mapping, got %d entries", mem.Len())
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	mem := openTestMemory(t)
	if err := os.WriteFile(mem.Path(), []byte("  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	result, err := mem.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StateAbsent {
		t.Errorf("Expected StateAbsent for empty file, got %s", result.State)
	}
}

func TestLoad_CorruptStoreResetsToEmpty(t *testing.T) {
	mem := openTestMemory(t)
	if err := os.WriteFile(mem.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	result, err := mem.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StateCorrupt {
		t.Fatalf("Expected StateCorrupt, got %s", result.State)
	}
	if result.Warning == nil {
		t.Fatal("Expected a warning for the corrupt store")
	}
	if !errors.HasCode(result.Warning, errors.CodeCorruptState) {
		t.Errorf("Expected CodeCorruptState warning, got %v", result.Warning)
	}

	// The backing file is reset so the next run loads cleanly.
	raw, err := os.ReadFile(mem.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Errorf("Reset store is still unparseable: %v", err)
	}
	if len(parsed) != 0 {
		t.Errorf("Expected reset store to be empty, got %v", parsed)
	}
}

func TestLoad_SkipsBlankEntries(t *testing.T) {
	mem := openTestMemory(t)
	content := `{"FUEL EXPENSES": "FUEL", "  ": "IGNORED", "NO VALUE": "  "}`
	if err := os.WriteFile(mem.Path(), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	result, err := mem.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StatePresent {
		t.Fatalf("Expected StatePresent, got %s", result.State)
	}
	if mem.Len() != 1 {
		t.Errorf("Expected 1 usable entry, got %d", mem.Len())
	}
}

func TestGetPut(t *testing.T) {
	mem := openTestMemory(t)

	mem.Put("  FUEL EXPENSES  ", "FUEL")

	// Lookup goes through the same normalization as Put.
	if account, ok := mem.Get("FUEL EXPENSES"); !ok || account != "FUEL" {
		t.Errorf("Get() = (%q, %v), want (FUEL, true)", account, ok)
	}
	if account, ok := mem.Get("  FUEL EXPENSES "); !ok || account != "FUEL" {
		t.Errorf("Get() with padding = (%q, %v), want (FUEL, true)", account, ok)
	}

	// Case is preserved, not folded.
	if _, ok := mem.Get("fuel expenses"); ok {
		t.Error("Expected lookup to be case-sensitive")
	}

	// Last write wins.
	mem.Put("FUEL EXPENSES", "VEHICLE COSTS")
	if account, _ := mem.Get("FUEL EXPENSES"); account != "VEHICLE COSTS" {
		t.Errorf("Expected last write to win, got %q", account)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	root := t.TempDir()

	mem, err := Open(root, "acme")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mem.Put("FUEL EXPENSES", "FUEL")
	mem.Put("PIX TRANSFER JOHN", "TRANSFERS")
	if err := mem.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := Open(root, "acme")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	result, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.State != StatePresent || result.Entries != 2 {
		t.Fatalf("Expected 2 present entries, got %+v", result)
	}
	if account, _ := reopened.Get("PIX TRANSFER JOHN"); account != "TRANSFERS" {
		t.Errorf("Round trip lost association, got %q", account)
	}
}

func TestSave_NoopWhenClean(t *testing.T) {
	mem := openTestMemory(t)

	if err := mem.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(mem.Path()); !os.IsNotExist(err) {
		t.Error("Expected no store file after clean save")
	}
}

func TestSave_LeavesNoTempFile(t *testing.T) {
	mem := openTestMemory(t)
	mem.Put("FUEL EXPENSES", "FUEL")
	if err := mem.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(mem.Path()))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == tempSuffix {
			t.Errorf("Temp file left behind: %s", entry.Name())
		}
	}
}

func TestAcquireLock(t *testing.T) {
	root := t.TempDir()

	first, err := Open(root, "acme")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := first.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	second, err := Open(root, "acme")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err = second.AcquireLock()
	if err == nil {
		t.Fatal("Expected second lock acquisition to fail")
	}
	if !errors.HasCode(err, errors.CodeTenantLocked) {
		t.Errorf("Expected CodeTenantLocked, got %v", err)
	}

	first.ReleaseLock()
	if err := second.AcquireLock(); err != nil {
		t.Errorf("Expected lock acquisition after release, got %v", err)
	}
	second.ReleaseLock()
}

func TestAcquireLock_OtherTenantUnaffected(t *testing.T) {
	root := t.TempDir()

	memA, err := Open(root, "tenant-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := memA.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer memA.ReleaseLock()

	memB, err := Open(root, "tenant-b")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := memB.AcquireLock(); err != nil {
		t.Errorf("Lock on tenant-a must not block tenant-b, got %v", err)
	}
	memB.ReleaseLock()
}
