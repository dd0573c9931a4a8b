package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBeamWidth is returned for a beam width below 1.
	ErrInvalidBeamWidth = errors.New("decoder: beam width must be at least 1")
	// ErrNotIncremental is returned when the scorer cannot take explicit state.
	ErrNotIncremental = errors.New("decoder: scorer does not support incremental prediction")
)

// Config holds the search parameters.
type Config struct {
	// BeamWidth is the number of hypotheses kept after every step.
	BeamWidth int `json:"beam_width"`
	// Clustering merges hypotheses that end in the same byte with nearly
	// identical recurrent state, keeping the cheaper one. The merge is
	// greedy and depends on insertion order, so it is approximate.
	Clustering bool `json:"clustering"`
	// ClusterDistance is the per-layer Euclidean distance below which two
	// states count as identical.
	ClusterDistance float64 `json:"cluster_distance"`
	// MaxAlternativeLength caps the bytes consumed from any one alternative.
	MaxAlternativeLength int `json:"max_alternative_length"`
}

func DefaultConfig() Config {
	return Config{
		BeamWidth:            100,
		Clustering:           true,
		ClusterDistance:      5,
		MaxAlternativeLength: 500,
	}
}

func (c Config) Validate() error {
	if c.BeamWidth < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBeamWidth, c.BeamWidth)
	}
	if c.ClusterDistance < 0 {
		return fmt.Errorf("decoder: cluster distance must not be negative (got %g)", c.ClusterDistance)
	}
	if c.MaxAlternativeLength < 1 {
		return fmt.Errorf("decoder: max alternative length must be at least 1 (got %d)", c.MaxAlternativeLength)
	}
	return nil
}
