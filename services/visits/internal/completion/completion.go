// Package completion decides whether a visitor's identity fields hold real values
// or only the blanks and stand-ins left behind by auto-created records.
package completion

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"gopkg.in/yaml.v3"
)

// Field names reported in Result.Missing.
const (
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldGender    = "gender"
)

// Table is the data the validator matches against.
type Table struct {
	Sentinels        []string `yaml:"sentinels"`
	PlaceholderNames []string `yaml:"placeholder_names"`
}

func DefaultTable() Table {
	return Table{
		Sentinels: []string{
			"not provided", "not specified", "n/a", "na", "none", "unknown", "null", "undefined",
		},
		PlaceholderNames: []string{
			"visitor", "walk-in visitor", "group leader", "group visitor", "additional visitor",
		},
	}
}

// LoadTable reads a YAML rules document. Empty lists fall back to the defaults.
func LoadTable(r io.Reader) (Table, error) {
	var t Table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil && err != io.EOF {
		return Table{}, fmt.Errorf("decode completion rules: %w", err)
	}
	def := DefaultTable()
	if len(t.Sentinels) == 0 {
		t.Sentinels = def.Sentinels
	}
	if len(t.PlaceholderNames) == 0 {
		t.PlaceholderNames = def.PlaceholderNames
	}
	return t, nil
}

// LoadTableFile reads rules from path; an empty path yields the defaults.
func LoadTableFile(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open completion rules: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// Result is either complete or names every missing field, in a stable order.
type Result struct {
	Complete bool     `json:"complete"`
	Missing  []string `json:"missingFields,omitempty"`
}

// Err converts an incomplete result into *domain.IncompleteError.
func (r Result) Err() error {
	if r.Complete {
		return nil
	}
	return &domain.IncompleteError{MissingFields: append([]string(nil), r.Missing...)}
}

type Validator struct {
	sentinels    map[string]struct{}
	placeholders map[string]struct{}
}

func NewValidator(t Table) *Validator {
	v := &Validator{
		sentinels:    make(map[string]struct{}, len(t.Sentinels)),
		placeholders: make(map[string]struct{}, len(t.PlaceholderNames)),
	}
	for _, s := range t.Sentinels {
		v.sentinels[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, p := range t.PlaceholderNames {
		v.placeholders[foldName(p)] = struct{}{}
	}
	return v
}

// Check evaluates the fields required for check-in.
func (v *Validator) Check(id domain.Identity) Result {
	first := utils.NormalizeString(id.FirstName)
	last := utils.NormalizeString(id.LastName)
	gender := utils.NormalizeString(id.Gender)

	firstMissing := v.isBlank(first) || v.isPlaceholderName(first)
	lastMissing := v.isBlank(last) || v.isPlaceholderName(last)
	if v.isPlaceholderName(first + " " + last) {
		firstMissing, lastMissing = true, true
	}

	var missing []string
	if firstMissing {
		missing = append(missing, FieldFirstName)
	}
	if lastMissing {
		missing = append(missing, FieldLastName)
	}
	if v.isBlank(gender) {
		missing = append(missing, FieldGender)
	}
	return Result{Complete: len(missing) == 0, Missing: missing}
}

// IsBlank reports whether a single value is empty or a sentinel.
func (v *Validator) IsBlank(value string) bool {
	return v.isBlank(utils.NormalizeString(value))
}

func (v *Validator) isBlank(value string) bool {
	if value == "" {
		return true
	}
	_, ok := v.sentinels[strings.ToLower(value)]
	return ok
}

func (v *Validator) isPlaceholderName(name string) bool {
	_, ok := v.placeholders[foldName(name)]
	return ok
}

// foldName lowercases and treats hyphens, underscores and repeated spaces as one space.
func foldName(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return utils.CollapseSpaces(s)
}
