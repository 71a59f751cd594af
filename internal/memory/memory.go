// Package memory implements the persistent association memory: the per-tenant
// mapping of normalized transaction description to account name that lets
// repeated descriptions short-circuit classification on later runs.
//
// The backing store is a human-editable JSON document, one per tenant, written
// atomically (temp file then rename) so a crash mid-write never corrupts it.
// A missing or empty file loads as an empty mapping; a corrupt file is reset
// to empty with a warning instead of failing the run.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang-classification-service/internal/models"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"
)

const (
	storeFileName = "associations.json"
	lockFileName  = "associations.lock"
	tempSuffix    = ".tmp"
)

// LoadState describes what was found when loading the backing store.
type LoadState string

const (
	// StatePresent means a parseable store was loaded.
	StatePresent LoadState = "present"
	// StateAbsent means no store existed yet; an empty mapping was returned.
	StateAbsent LoadState = "absent"
	// StateCorrupt means the store existed but could not be parsed; it was
	// reset to empty.
	StateCorrupt LoadState = "corrupt"
)

// LoadResult reports the outcome of loading the backing store.
type LoadResult struct {
	State   LoadState
	Entries int
	Warning error
}

// Memory is the in-process working copy of one tenant's association store.
// A pipeline run exclusively owns it for the run's duration; it is not safe
// for concurrent use.
type Memory struct {
	tenant       string
	dir          string
	associations map[string]string
	dirty        bool
	locked       bool
	logger       logger.Logger
}

// Open prepares the association memory for a tenant under the given data root.
// Each tenant gets its own directory; no state is shared between tenants.
func Open(root, tenant string) (*Memory, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "tenant", tenant)
	}
	if strings.ContainsAny(tenant, `/\`) || tenant == "." || tenant == ".." {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "tenant", tenant)
	}

	dir := filepath.Join(root, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, dir, err)
	}

	return &Memory{
		tenant:       tenant,
		dir:          dir,
		associations: make(map[string]string),
		logger: logger.GetGlobalLogger().
			WithComponent("memory").
			WithField("tenant", tenant),
	}, nil
}

// Tenant returns the tenant identifier this memory is scoped to.
func (m *Memory) Tenant() string {
	return m.tenant
}

// Path returns the location of the backing store file.
func (m *Memory) Path() string {
	return filepath.Join(m.dir, storeFileName)
}

// Load reads the backing store. The result reports whether the store was
// present, absent, or corrupt; corrupt stores are reset to empty and reported
// through a warning rather than an error, so the pipeline always proceeds.
func (m *Memory) Load() (*LoadResult, error) {
	path := m.Path()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.associations = make(map[string]string)
			m.logger.Debug("No association store yet, starting empty")
			return &LoadResult{State: StateAbsent}, nil
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		m.associations = make(map[string]string)
		return &LoadResult{State: StateAbsent}, nil
	}

	var loaded map[string]string
	if err := json.Unmarshal(raw, &loaded); err != nil {
		warning := errors.StateError(errors.CodeCorruptState, path, err)
		m.logger.WithError(err).Warn("Association store is corrupt, resetting to empty")

		m.associations = make(map[string]string)
		m.dirty = true
		if saveErr := m.Save(); saveErr != nil {
			return nil, saveErr
		}
		return &LoadResult{State: StateCorrupt, Warning: warning}, nil
	}

	m.associations = make(map[string]string, len(loaded))
	for desc, account := range loaded {
		key := models.NormalizeDescription(desc)
		value := strings.TrimSpace(account)
		if key == "" || value == "" {
			continue
		}
		m.associations[key] = value
	}

	m.logger.WithField("entries", len(m.associations)).Debug("Loaded association store")
	return &LoadResult{State: StatePresent, Entries: len(m.associations)}, nil
}

// Get looks up the account name for a description. The description is
// normalized the same way Put normalizes keys.
func (m *Memory) Get(description string) (string, bool) {
	account, ok := m.associations[models.NormalizeDescription(description)]
	return account, ok
}

// Put stores a description → account association. Later writes overwrite
// earlier ones: the last classification wins.
func (m *Memory) Put(description, accountName string) {
	key := models.NormalizeDescription(description)
	value := strings.TrimSpace(accountName)
	if key == "" || value == "" {
		return
	}
	if existing, ok := m.associations[key]; ok && existing == value {
		return
	}
	m.associations[key] = value
	m.dirty = true
}

// Len returns the number of stored associations.
func (m *Memory) Len() int {
	return len(m.associations)
}

// Snapshot returns a copy of the current associations.
func (m *Memory) Snapshot() map[string]string {
	out := make(map[string]string, len(m.associations))
	for k, v := range m.associations {
		out[k] = v
	}
	return out
}

// Save persists the full mapping, overwriting the backing store. The write
// goes to a temp file in the same directory and is renamed into place, so a
// crash mid-write leaves the previous store intact. Saving an unchanged store
// is a no-op.
func (m *Memory) Save() error {
	if !m.dirty {
		m.logger.Debug("Association store unchanged, skipping save")
		return nil
	}

	data, err := json.MarshalIndent(m.associations, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
			"failed to encode association store")
	}
	data = append(data, '\n')

	path := m.Path()
	tempPath := path + tempSuffix
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFileWrite, tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.FileError(errors.CodeFileWrite, path, err)
	}

	m.dirty = false
	m.logger.WithField("entries", len(m.associations)).Info("Saved association store")
	return nil
}

// AcquireLock takes the per-tenant advisory lock, failing fast if another run
// holds it. Overlapping runs for one tenant would race on the persisted store;
// the lock turns that lost-update race into an explicit error.
func (m *Memory) AcquireLock() error {
	lockPath := filepath.Join(m.dir, lockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.StateError(errors.CodeTenantLocked, lockPath, err)
		}
		return errors.FileError(errors.CodeFileWrite, lockPath, err)
	}

	fmt.Fprintf(file, "%d\n", os.Getpid())
	file.Close()
	m.locked = true
	return nil
}

// ReleaseLock releases the advisory lock if held.
func (m *Memory) ReleaseLock() {
	if !m.locked {
		return
	}
	lockPath := filepath.Join(m.dir, lockFileName)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).Warn("Failed to remove tenant lock file")
	}
	m.locked = false
}
