package step

import (
	"log/slog"
	"math"
)

// StallConfig defines when a chain counts as stuck
type StallConfig struct {
	// MaxNoImprove is the number of steps without improvement before a stall is reported
	MaxNoImprove int `json:"max_no_improve" yaml:"max_no_improve"`

	// Accuracy is the minimum energy decrease that counts as an improvement
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// DefaultStallConfig returns the stall-detection defaults
func DefaultStallConfig() StallConfig {
	return StallConfig{
		MaxNoImprove: 100,
		Accuracy:     1e-4,
	}
}

// StallTracker counts steps since the lowest energy last improved
type StallTracker struct {
	config     StallConfig
	lowest     float64
	staleCount int
}

// NewStallTracker creates a stall tracker
func NewStallTracker(config StallConfig) *StallTracker {
	return &StallTracker{
		config: config,
		lowest: math.Inf(1),
	}
}

// Update records the energy after a step and returns true once the chain has stalled
func (s *StallTracker) Update(energy float64) bool {
	if math.IsInf(s.lowest, 1) {
		s.lowest = energy
		return false
	}

	if energy < s.lowest-s.config.Accuracy {
		s.lowest = energy
		s.staleCount = 0
		slog.Debug("Lowest energy improved", "energy", energy)
		return false
	}

	s.staleCount++
	if s.staleCount >= s.config.MaxNoImprove {
		slog.Info("No improvement - reseeding",
			"stale_count", s.staleCount,
			"max_no_improve", s.config.MaxNoImprove,
			"lowest", s.lowest,
		)
		return true
	}
	return false
}

// Lowest returns the lowest energy since the last reset
func (s *StallTracker) Lowest() float64 {
	return s.lowest
}

// StaleCount returns the number of steps without improvement
func (s *StallTracker) StaleCount() int {
	return s.staleCount
}

// Reset clears the tracker's state
func (s *StallTracker) Reset() {
	s.lowest = math.Inf(1)
	s.staleCount = 0
}
