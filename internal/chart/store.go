// Package chart loads and maintains the chart of accounts: the catalog of
// account codes and names that transactions are classified into.
//
// The backing format is plain text, one entry per line, pipe-delimited with at
// least three fields (code|extended_id|name). Sources are decoded by probing a
// fixed-priority list of encodings, UTF-8 first and then Latin-1, accepting
// the first that succeeds. The store is append-only within a run: placeholder
// entries for persistently unclassifiable descriptions are added under a
// generated group so the updated chart can be emitted for human review.
package chart

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang-classification-service/internal/models"
	"golang-classification-service/pkg/errors"
	"golang-classification-service/pkg/logger"

	"golang.org/x/text/encoding/charmap"
)

const (
	// EncodingUTF8 and EncodingLatin1 are the encodings the probe understands.
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"

	minFields = 3
)

// Config holds configuration for loading and growing the chart of accounts.
type Config struct {
	// Encodings is the ordered list of encodings probed when decoding a
	// source. The first encoding that decodes the whole source wins.
	Encodings []string

	// PlaceholderGroupName names the group entry appended for descriptions
	// that stayed unclassifiable.
	PlaceholderGroupName string

	// PlaceholderExtendedID is the extended identifier used for generated
	// placeholder entries.
	PlaceholderExtendedID string
}

// DefaultConfig returns the configuration matching the standard chart format.
func DefaultConfig() *Config {
	return &Config{
		Encodings:             []string{EncodingUTF8, EncodingLatin1},
		PlaceholderGroupName:  "TO BE IDENTIFIED",
		PlaceholderExtendedID: "00000000",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Encodings) == 0 {
		return fmt.Errorf("at least one encoding is required")
	}
	for _, enc := range c.Encodings {
		switch enc {
		case EncodingUTF8, EncodingLatin1:
		default:
			return fmt.Errorf("unsupported encoding: %s", enc)
		}
	}
	if strings.TrimSpace(c.PlaceholderGroupName) == "" {
		return fmt.Errorf("placeholder group name cannot be empty")
	}
	return nil
}

// Store holds the chart of accounts for one pipeline run. Entry order is the
// load order; lookups by name and code are index-backed. A Store is owned by a
// single run and is not safe for concurrent mutation.
type Store struct {
	config  *Config
	entries []*models.ChartEntry
	byName  map[string]*models.ChartEntry
	byCode  map[string]*models.ChartEntry
	logger  logger.Logger
}

// NewStore creates an empty store with the given configuration.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "chart", err.Error())
	}

	return &Store{
		config: config,
		byName: make(map[string]*models.ChartEntry),
		byCode: make(map[string]*models.ChartEntry),
		logger: logger.GetGlobalLogger().WithComponent("chart"),
	}, nil
}

// Load reads and parses a chart-of-accounts file.
func Load(path string, config *Config) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	defer file.Close()

	store, err := Parse(file, path, config)
	if err != nil {
		return nil, err
	}

	store.logger.WithFields(logger.Fields{
		"path":    path,
		"entries": store.Len(),
	}).Info("Loaded chart of accounts")

	return store, nil
}

// Parse reads pipe-delimited chart entries from r. The source name is used in
// error messages only.
func Parse(r io.Reader, source string, config *Config) (*Store, error) {
	store, err := NewStore(config)
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, source, err)
	}

	text, err := store.decode(raw, source)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		entry, err := parseLine(scanner.Text(), source, line)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue // blank line
		}
		if err := store.Append(entry); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// decode probes the configured encodings in order and returns the first
// successful decoding of raw.
func (s *Store) decode(raw []byte, source string) (string, error) {
	for _, enc := range s.config.Encodings {
		switch enc {
		case EncodingUTF8:
			if utf8.Valid(raw) {
				return string(raw), nil
			}
		case EncodingLatin1:
			decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
			if err == nil {
				s.logger.WithField("source", source).Debug("Decoded source as Latin-1")
				return string(decoded), nil
			}
		}
	}
	return "", errors.EncodingError(source, s.config.Encodings, nil)
}

func parseLine(line, source string, lineNum int) (*models.ChartEntry, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	parts := strings.Split(line, "|")
	if len(parts) < minFields {
		return nil, errors.FormatError(source, lineNum,
			fmt.Sprintf("expected at least %d pipe-delimited fields, got %d", minFields, len(parts)))
	}

	entry := models.NewChartEntry(parts[0], parts[1], parts[2])
	if err := entry.Validate(); err != nil {
		return nil, errors.FormatError(source, lineNum, err.Error())
	}

	return entry, nil
}

// Append adds an entry, enforcing code uniqueness within the store.
func (s *Store) Append(entry *models.ChartEntry) error {
	if err := entry.Validate(); err != nil {
		return errors.FormatError("chart entry", 0, err.Error())
	}

	if _, exists := s.byCode[entry.Code]; exists {
		return errors.New(errors.CategoryParse, errors.CodeDuplicateCode,
			fmt.Sprintf("duplicate account code: %s", entry.Code)).
			WithContext("code", entry.Code)
	}

	s.entries = append(s.entries, entry)
	s.byCode[entry.Code] = entry
	if _, exists := s.byName[entry.Name]; !exists {
		// First entry wins for duplicate names; lookup stays deterministic.
		s.byName[entry.Name] = entry
	}
	return nil
}

// Entries returns the entries in load order.
func (s *Store) Entries() []*models.ChartEntry {
	return s.entries
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Names returns all account names in stable load order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		names = append(names, entry.Name)
	}
	return names
}

// Lookup joins a resolved account name back to its chart entry.
func (s *Store) Lookup(name string) (*models.ChartEntry, bool) {
	entry, ok := s.byName[strings.TrimSpace(name)]
	return entry, ok
}

// LookupCode returns the entry with the given code.
func (s *Store) LookupCode(code string) (*models.ChartEntry, bool) {
	entry, ok := s.byCode[strings.TrimSpace(code)]
	return entry, ok
}

// NextCode generates the next free account code: the maximum numeric prefix of
// existing codes plus one, zero-padded to the widest numeric code seen.
func (s *Store) NextCode() string {
	maxCode := 0
	width := 3
	for _, entry := range s.entries {
		numeric := numericPrefix(entry.Code)
		if numeric == "" {
			continue
		}
		if n, err := strconv.Atoi(numeric); err == nil && n > maxCode {
			maxCode = n
		}
		if len(numeric) > width {
			width = len(numeric)
		}
	}
	return fmt.Sprintf("%0*d", width, maxCode+1)
}

// numericPrefix returns the leading digit run of a code ("101-2" -> "101").
func numericPrefix(code string) string {
	for i, r := range code {
		if r < '0' || r > '9' {
			return code[:i]
		}
	}
	return code
}

// AppendPlaceholderGroup appends a group header entry followed by one
// sub-entry per description, coded {group}-{n} in first-seen order so repeated
// descriptions share one code within a run. It returns the description → code
// assignment.
func (s *Store) AppendPlaceholderGroup(descriptions []string) (map[string]string, error) {
	assigned := make(map[string]string)
	if len(descriptions) == 0 {
		return assigned, nil
	}

	groupCode := s.NextCode()
	group := models.NewChartEntry(groupCode, s.config.PlaceholderExtendedID, s.config.PlaceholderGroupName)
	if err := s.Append(group); err != nil {
		return nil, err
	}

	n := 0
	for _, desc := range descriptions {
		desc = models.NormalizeDescription(desc)
		if desc == "" {
			continue
		}
		if _, seen := assigned[desc]; seen {
			continue
		}
		n++
		subCode := fmt.Sprintf("%s-%d", groupCode, n)
		entry := models.NewChartEntry(subCode, s.config.PlaceholderExtendedID, desc)
		if err := s.Append(entry); err != nil {
			return nil, err
		}
		assigned[desc] = subCode
	}

	s.logger.WithFields(logger.Fields{
		"group_code": groupCode,
		"entries":    n,
	}).Info("Appended placeholder group to chart of accounts")

	return assigned, nil
}

// Write re-emits the store in the original pipe-delimited format, UTF-8
// encoded, for human review and re-import.
func (s *Store) Write(w io.Writer) error {
	var buf bytes.Buffer
	for _, entry := range s.entries {
		fmt.Fprintf(&buf, "%s|%s|%s\n", entry.Code, entry.ExtendedID, entry.Name)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.FileError(errors.CodeFileWrite, "chart output", err)
	}
	return nil
}

// WriteFile writes the store to path in the original format.
func (s *Store) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	defer file.Close()

	if err := s.Write(file); err != nil {
		return err
	}

	s.logger.WithFields(logger.Fields{
		"path":    path,
		"entries": s.Len(),
	}).Info("Wrote updated chart of accounts")

	return nil
}
