package models

import (
	"testing"
)

func TestParseDistance(t *testing.T) {
	tests := []struct {
		in      string
		want    Distance
		wantErr bool
	}{
		{"cosine", DistanceCosine, false},
		{"", DistanceCosine, false},
		{"Dot", DistanceDot, false},
		{"euclidean", DistanceEuclid, false},
		{"L2", DistanceEuclid, false},
		{"manhattan", DistanceManhattan, false},
		{"hamming", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDistance(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDistance(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDistance(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollectionSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		schema  CollectionSchema
		wantErr bool
	}{
		{"valid", CollectionSchema{Name: "c", Dimension: 384, Distance: DistanceCosine}, false},
		{"empty name", CollectionSchema{Dimension: 3, Distance: DistanceDot}, true},
		{"zero dimension", CollectionSchema{Name: "c", Distance: DistanceDot}, true},
		{"bad distance", CollectionSchema{Name: "c", Dimension: 3, Distance: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.schema.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatch_Document(t *testing.T) {
	m := Match{Payload: map[string]any{PayloadKeyDocument: "Some text"}}
	if m.Document() != "Some text" {
		t.Errorf("Document() = %q", m.Document())
	}
	if (Match{}).Document() != "" {
		t.Error("empty payload should yield empty document")
	}
}

func TestHigherIsBetter(t *testing.T) {
	if !DistanceCosine.HigherIsBetter() || !DistanceDot.HigherIsBetter() {
		t.Error("cosine and dot rank by descending score")
	}
	if DistanceEuclid.HigherIsBetter() || DistanceManhattan.HigherIsBetter() {
		t.Error("euclid and manhattan rank by ascending distance")
	}
}
