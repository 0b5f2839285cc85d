package validation

import (
	"errors"
	"testing"

	"foodbridge/internal/models"
	"foodbridge/internal/store"
)

func TestStructReportsJSONFieldNames(t *testing.T) {
	lat := 123.0
	err := Struct(models.HotelProfile{Phone: "12345", Latitude: &lat})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *store.ValidationError, got %T", err)
	}
	cases := map[string]string{
		"name":     "required",
		"area":     "required",
		"city":     "required",
		"latitude": "out_of_range",
	}
	for field, want := range cases {
		if got := verr.Violations[field]; got != want {
			t.Fatalf("violation %s=%q, want %q", field, got, want)
		}
	}
	if _, ok := verr.Violations["phone"]; ok {
		t.Fatalf("phone should be valid")
	}
}

func TestStructAcceptsValidProfile(t *testing.T) {
	agent := models.AgentProfile{Name: "Ravi", Phone: "9000000000", Area: "Indiranagar"}
	if err := Struct(agent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
