package index

import (
	"math"
	"sort"

	"github.com/hyperjump/vecpipe/internal/models"
)

// Score returns the similarity (Cosine, Dot) or distance (Euclid, Manhattan) between a and b.
// Vectors of different lengths score 0.
func Score(d models.Distance, a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	switch d {
	case models.DistanceDot:
		return innerProduct(a, b)
	case models.DistanceEuclid:
		var sum float64
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			sum += diff * diff
		}
		return math.Sqrt(sum)
	case models.DistanceManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return innerProduct(a, b) / (na * nb)
	}
}

// Rank orders matches best first for d: descending score for similarities,
// ascending for distances. Ties are broken by ID so results are reproducible.
func Rank(d models.Distance, matches []models.Match) {
	higher := d.HigherIsBetter()
	sort.SliceStable(matches, func(i, j int) bool {
		si, sj := matches[i].Score, matches[j].Score
		if si != sj {
			if higher {
				return si > sj
			}
			return si < sj
		}
		return matches[i].ID < matches[j].ID
	})
}

func innerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func norm(x []float32) float64 {
	return math.Sqrt(innerProduct(x, x))
}
