package models

import (
	"fmt"
	"strings"
)

// Distance is the metric a collection uses to rank vectors.
type Distance string

const (
	DistanceCosine    Distance = "Cosine"
	DistanceDot       Distance = "Dot"
	DistanceEuclid    Distance = "Euclid"
	DistanceManhattan Distance = "Manhattan"
)

// ParseDistance maps a case-insensitive name to a Distance. "euclidean" and "l2" are accepted for Euclid.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid", "euclidean", "l2":
		return DistanceEuclid, nil
	case "manhattan", "l1":
		return DistanceManhattan, nil
	default:
		return "", fmt.Errorf("unknown distance metric: %s (supported: cosine, dot, euclid, manhattan)", s)
	}
}

// HigherIsBetter reports whether larger scores mean closer vectors for this metric.
func (d Distance) HigherIsBetter() bool {
	return d == DistanceCosine || d == DistanceDot
}

// CollectionSchema is the fixed vector schema of a collection.
type CollectionSchema struct {
	Name      string   `json:"name"`
	Dimension int      `json:"dimension"`
	Distance  Distance `json:"distance"`
}

// Validate checks that the schema can be created.
func (s CollectionSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("collection dimension must be positive, got %d", s.Dimension)
	}
	if _, err := ParseDistance(string(s.Distance)); err != nil {
		return err
	}
	return nil
}

// CollectionInfo describes an existing collection as reported by the index service.
type CollectionInfo struct {
	CollectionSchema
	PointsCount uint64 `json:"points_count"`
}
