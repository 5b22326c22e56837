package store

import (
	"math"
	"sort"
	"sync"
	"time"
)

// SaveN keeps the N lowest distinct minima in memory. Minima within Accuracy of an
// existing entry are considered duplicates. It is safe for concurrent use.
type SaveN struct {
	mu       sync.Mutex
	n        int
	accuracy float64
	minima   []Minimum
	nextID   int64

	// OnAdded and OnRemoved are called with the lock held
	OnAdded   func(Minimum)
	OnRemoved func(Minimum)
}

// NewSaveN keeps up to n minima; n <= 0 keeps none
func NewSaveN(n int, accuracy float64) *SaveN {
	return &SaveN{n: n, accuracy: accuracy}
}

// Insert offers a minimum
func (s *SaveN) Insert(energy float64, x []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n <= 0 {
		return nil
	}
	for _, m := range s.minima {
		if math.Abs(m.Energy-energy) <= s.accuracy {
			return nil
		}
	}
	if len(s.minima) >= s.n && energy >= s.minima[len(s.minima)-1].Energy {
		return nil
	}

	s.nextID++
	m := Minimum{
		ID:        s.nextID,
		Energy:    energy,
		Coords:    append([]float64(nil), x...),
		CreatedAt: time.Now(),
	}
	i := sort.Search(len(s.minima), func(i int) bool { return s.minima[i].Energy > energy })
	s.minima = append(s.minima, Minimum{})
	copy(s.minima[i+1:], s.minima[i:])
	s.minima[i] = m
	if s.OnAdded != nil {
		s.OnAdded(m)
	}

	if len(s.minima) > s.n {
		removed := s.minima[len(s.minima)-1]
		s.minima = s.minima[:len(s.minima)-1]
		if s.OnRemoved != nil {
			s.OnRemoved(removed)
		}
	}
	return nil
}

// Minima returns a copy of the kept minima in order of increasing energy
func (s *SaveN) Minima() []Minimum {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Minimum, len(s.minima))
	for i, m := range s.minima {
		m.Coords = append([]float64(nil), m.Coords...)
		out[i] = m
	}
	return out
}

// Lowest returns the lowest minimum kept so far
func (s *SaveN) Lowest() (Minimum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.minima) == 0 {
		return Minimum{}, false
	}
	m := s.minima[0]
	m.Coords = append([]float64(nil), m.Coords...)
	return m, true
}
