package arena

import (
	"encoding/json"
	"testing"
)

func TestNewFieldSet_SkipsDuplicatesAndBlank(t *testing.T) {
	fs := NewFieldSet(Category{GUID: "C1", Name: "Resistor"}, []Attribute{
		{GUID: "A1", Name: "Tolerance"},
		{GUID: "A1", Name: "Tolerance again"},
		{GUID: "", Name: "No id"},
		{GUID: "A2", Name: "  "},
		{GUID: "A3", Name: "Power"},
	})

	want := len(StandardFieldNames()) + 2
	if len(fs.Fields) != want {
		t.Fatalf("len(Fields) = %d, want %d", len(fs.Fields), want)
	}
	if f, ok := fs.Lookup("POWER"); !ok || f.AttributeID != "A3" {
		t.Errorf("Lookup(POWER) = %+v, %v", f, ok)
	}
	if f, ok := fs.Lookup("lifecycle phase"); !ok || f.Type != FieldStandard {
		t.Errorf("Lookup(lifecycle phase) = %+v, %v", f, ok)
	}
}

func TestItemResolveField(t *testing.T) {
	it := &Item{
		Number:            "RES-001",
		Name:              "10k",
		RevisionNumber:    "C",
		Category:          Ref{Name: "Resistor"},
		LifecyclePhase:    Ref{Name: "Production"},
		Owner:             &Person{FullName: "Pat Lee"},
		CreationDateTime:  "2024-01-15T10:00:00Z",
		EffectiveDateTime: "",
		AdditionalAttributes: []AttributeValue{
			{GUID: "A1", Name: "Tolerance", Value: json.RawMessage(`"5%"`)},
			{GUID: "A2", Name: "Power", Value: json.RawMessage(`0.25`)},
			{GUID: "A3", Name: "Grades", Value: json.RawMessage(`["X7R","C0G"]`)},
			{GUID: "A4", Name: "Vendor", Value: json.RawMessage(`{"name":"Acme"}`)},
			{GUID: "A5", Name: "Blank", Value: json.RawMessage(`null`)},
		},
	}

	tests := []struct {
		name  string
		typ   FieldType
		id    string
		want  string
		found bool
	}{
		{"Number", FieldStandard, "", "RES-001", true},
		{"revision", FieldStandard, "", "C", true},
		{"Category", FieldStandard, "", "Resistor", true},
		{"Lifecycle Phase", FieldStandard, "", "Production", true},
		{"Owner", FieldStandard, "", "Pat Lee", true},
		{"Creation Date", FieldStandard, "", "2024-01-15", true},
		{"Effectivity Date", FieldStandard, "", "", true},
		{"Tolerance", FieldCustom, "A1", "5%", true},
		{"Renamed", FieldCustom, "A2", "0.25", true},
		{"grades", FieldCustom, "", "X7R, C0G", true},
		{"Vendor", FieldCustom, "", "Acme", true},
		{"Blank", FieldCustom, "", "", true},
		{"Missing", FieldCustom, "A9", "", false},
	}
	for _, tt := range tests {
		got, ok := it.ResolveField(tt.name, tt.typ, tt.id)
		if got != tt.want || ok != tt.found {
			t.Errorf("ResolveField(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.found)
		}
	}
}
