package store

import (
	"errors"
	"sync"
)

// Inserter receives (energy, coordinates) pairs
type Inserter interface {
	Insert(energy float64, x []float64) error
}

// SyncSink serializes Insert calls to a sink that is not safe for concurrent use
type SyncSink struct {
	mu   sync.Mutex
	sink Inserter
}

// NewSyncSink wraps sink
func NewSyncSink(sink Inserter) *SyncSink {
	return &SyncSink{sink: sink}
}

// Insert forwards to the wrapped sink under a lock
func (s *SyncSink) Insert(energy float64, x []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Insert(energy, x)
}

// MultiSink forwards every insert to each sink in order
type MultiSink []Inserter

// Insert forwards to all sinks and joins their errors
func (m MultiSink) Insert(energy float64, x []float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Insert(energy, x); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
