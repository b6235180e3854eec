package completion

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
)

func TestValidatorCheck(t *testing.T) {
	v := NewValidator(DefaultTable())

	cases := []struct {
		name    string
		id      domain.Identity
		missing []string
	}{
		{"complete", domain.Identity{FirstName: "Ana", LastName: "Reyes", Gender: "female"}, nil},
		{"trimmed", domain.Identity{FirstName: "  Ana ", LastName: " Reyes", Gender: " male "}, nil},
		{"empty first", domain.Identity{FirstName: "", LastName: "Reyes", Gender: "female"}, []string{FieldFirstName}},
		{"all empty", domain.Identity{}, []string{FieldFirstName, FieldLastName, FieldGender}},
		{"walk-in placeholder first name", domain.Identity{FirstName: "Walk-in Visitor", LastName: "", Gender: "male"}, []string{FieldFirstName, FieldLastName}},
		{"combined placeholder", domain.Identity{FirstName: "Group", LastName: "Leader", Gender: "male"}, []string{FieldFirstName, FieldLastName}},
		{"combined placeholder walk in", domain.Identity{FirstName: "walk-in", LastName: "VISITOR", Gender: "male"}, []string{FieldFirstName, FieldLastName}},
		{"individual placeholder last", domain.Identity{FirstName: "Ana", LastName: "Visitor", Gender: "female"}, []string{FieldLastName}},
		{"sentinel gender", domain.Identity{FirstName: "Ana", LastName: "Reyes", Gender: "Not Specified"}, []string{FieldGender}},
		{"sentinel n/a", domain.Identity{FirstName: "N/A", LastName: "Reyes", Gender: "female"}, []string{FieldFirstName}},
		{"sentinel null last", domain.Identity{FirstName: "Ana", LastName: "null", Gender: "female"}, []string{FieldLastName}},
		{"real name containing placeholder word", domain.Identity{FirstName: "Visitacion", LastName: "Cruz", Gender: "female"}, nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Check(tt.id)
			if got.Complete != (len(tt.missing) == 0) {
				t.Fatalf("Complete=%v, want %v (missing %v)", got.Complete, len(tt.missing) == 0, got.Missing)
			}
			if !reflect.DeepEqual(got.Missing, tt.missing) {
				t.Fatalf("Missing=%v, want %v", got.Missing, tt.missing)
			}
		})
	}
}

func TestResultErr(t *testing.T) {
	v := NewValidator(DefaultTable())
	res := v.Check(domain.Identity{FirstName: "Ana"})

	var incomplete *domain.IncompleteError
	if !errors.As(res.Err(), &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", res.Err())
	}
	if !reflect.DeepEqual(incomplete.MissingFields, []string{FieldLastName, FieldGender}) {
		t.Fatalf("MissingFields=%v", incomplete.MissingFields)
	}

	ok := v.Check(domain.Identity{FirstName: "Ana", LastName: "Reyes", Gender: "female"})
	if ok.Err() != nil {
		t.Fatalf("expected nil error for complete identity, got %v", ok.Err())
	}
}

func TestLoadTable(t *testing.T) {
	doc := `
sentinels:
  - "tbd"
placeholder_names:
  - "guest"
`
	table, err := LoadTable(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	v := NewValidator(table)

	if got := v.Check(domain.Identity{FirstName: "Guest", LastName: "Reyes", Gender: "TBD"}); !reflect.DeepEqual(got.Missing, []string{FieldFirstName, FieldGender}) {
		t.Fatalf("Missing=%v", got.Missing)
	}
	// defaults are replaced, not merged
	if got := v.Check(domain.Identity{FirstName: "Visitor", LastName: "Reyes", Gender: "female"}); !got.Complete {
		t.Fatalf("expected default placeholder to be replaced, got %v", got.Missing)
	}
}

func TestLoadTableEmptyFallsBackToDefaults(t *testing.T) {
	table, err := LoadTable(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if !reflect.DeepEqual(table, DefaultTable()) {
		t.Fatalf("table=%+v, want defaults", table)
	}
}
