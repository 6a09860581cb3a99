package resolver

import (
	"reflect"
	"testing"
	"time"

	"attendance-bot/internal/models"
)

func directory() *Directory {
	return NewDirectory([]models.DirectoryEmployee{
		{FirstName: "Sarah", LastName: "Connor", Status: "active"},
		{FirstName: "John", LastName: "Henry Smith", Status: "active"},
		{FirstName: "José", LastName: "Álvarez", Status: "active"},
		{FirstName: "Mike", LastName: "Brown", Status: "active"},
		{FirstName: "Mike", LastName: "Green", Status: "active"},
		{FirstName: "Tom", LastName: "Old", Status: "terminated"},
		{FirstName: "Tom", LastName: "Lee", Status: "active"},
		{FirstName: "Dana", LastName: "Gone", Status: "terminated"},
	})
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Sarah   CONNOR ": "sarah connor",
		"José Álvarez":      "jose alvarez",
		"\tbob\n":           "bob",
		"":                  "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	dir := directory()

	tests := []struct {
		name           string
		raw            string
		wantResolved   string
		wantCandidates []string
	}{
		{name: "exact", raw: "sarah connor", wantResolved: "Sarah Connor"},
		{name: "exact with diacritics", raw: "Jose Alvarez", wantResolved: "José Álvarez"},
		{name: "first and last ignoring middle", raw: "John Smith", wantResolved: "John Henry Smith"},
		{name: "unique first name", raw: "Sarah", wantResolved: "Sarah Connor"},
		{name: "unique last name", raw: "connor", wantResolved: "Sarah Connor"},
		{name: "ambiguous first name", raw: "Mike", wantCandidates: []string{"Mike Brown", "Mike Green"}},
		{name: "inactive skipped for partial match", raw: "Tom", wantResolved: "Tom Lee"},
		{name: "inactive exact still matches", raw: "Dana Gone", wantResolved: "Dana Gone"},
		{name: "inactive partial not matched", raw: "Dana", wantCandidates: nil},
		{name: "no match", raw: "Zed Unknown", wantCandidates: nil},
		{name: "empty", raw: "   ", wantCandidates: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []models.ParsedAttendanceEvent{{RawName: tt.raw, EventType: models.EventAbsent, Date: time.Now()}}
			out := Resolve(in, dir)

			if in[0].ResolvedName != nil {
				t.Fatal("input must not be mutated")
			}

			got := out[0]
			if tt.wantResolved != "" {
				if got.ResolvedName == nil || *got.ResolvedName != tt.wantResolved {
					t.Fatalf("ResolvedName = %v, want %q", got.ResolvedName, tt.wantResolved)
				}
				if got.Ambiguous {
					t.Error("resolved event flagged ambiguous")
				}
				return
			}

			if got.ResolvedName != nil {
				t.Fatalf("ResolvedName = %q, want nil", *got.ResolvedName)
			}
			if !got.Ambiguous {
				t.Error("unresolved event must be flagged ambiguous")
			}
			if !reflect.DeepEqual(got.Candidates, tt.wantCandidates) {
				t.Errorf("Candidates = %v, want %v", got.Candidates, tt.wantCandidates)
			}
		})
	}
}

func TestResolvePreservesOrderAndFields(t *testing.T) {
	minutes := 10
	in := []models.ParsedAttendanceEvent{
		{RawName: "Mike", EventType: models.EventLate, Minutes: &minutes},
		{RawName: "Sarah", EventType: models.EventAbsent},
	}

	out := Resolve(in, directory())

	if len(out) != 2 || out[0].RawName != "Mike" || out[1].RawName != "Sarah" {
		t.Fatalf("order not preserved: %+v", out)
	}
	if out[0].Minutes == nil || *out[0].Minutes != 10 {
		t.Error("minutes lost")
	}
}

func TestResolveNilDirectory(t *testing.T) {
	out := Resolve([]models.ParsedAttendanceEvent{{RawName: "Sarah"}}, nil)
	if out[0].ResolvedName != nil || !out[0].Ambiguous {
		t.Fatalf("expected unresolved, got %+v", out[0])
	}
}
