package index

import (
	"math"
	"testing"

	"github.com/hyperjump/vecpipe/internal/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		d    models.Distance
		a, b []float32
		want float64
	}{
		{"cosine identical", models.DistanceCosine, []float32{2, 0}, []float32{1, 0}, 1},
		{"cosine orthogonal", models.DistanceCosine, []float32{1, 0}, []float32{0, 1}, 0},
		{"cosine opposite", models.DistanceCosine, []float32{1, 0}, []float32{-1, 0}, -1},
		{"cosine zero", models.DistanceCosine, []float32{0, 0}, []float32{1, 0}, 0},
		{"dot", models.DistanceDot, []float32{1, 2}, []float32{3, 4}, 11},
		{"euclid", models.DistanceEuclid, []float32{0, 0}, []float32{3, 4}, 5},
		{"manhattan", models.DistanceManhattan, []float32{0, 0}, []float32{3, -4}, 7},
		{"length mismatch", models.DistanceDot, []float32{1}, []float32{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.d, tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRank(t *testing.T) {
	matches := []models.Match{{ID: "b", Score: 0.5}, {ID: "a", Score: 0.5}, {ID: "c", Score: 0.9}}
	Rank(models.DistanceCosine, matches)
	if matches[0].ID != "c" || matches[1].ID != "a" || matches[2].ID != "b" {
		t.Errorf("cosine rank = %v", matches)
	}
	Rank(models.DistanceEuclid, matches)
	if matches[0].ID != "a" || matches[1].ID != "b" || matches[2].ID != "c" {
		t.Errorf("euclid rank = %v", matches)
	}
}
