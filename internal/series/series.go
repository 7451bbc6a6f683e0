// Package series holds the growing (label, value) history behind one chart.
package series

import "sync"

// Series is an append-only sequence of labelled values. Labels and values
// always have the same length. When Capacity is positive the oldest pair is
// dropped once the series is full.
//
// A Series has a single writer (the delivery goroutine of the live
// connection); the lock exists so HTTP handlers can take snapshots.
type Series struct {
	mu       sync.RWMutex
	name     string
	capacity int
	labels   []string
	values   []float64
	appended uint64
}

// Snapshot is a copy of a series at one point in time.
type Snapshot struct {
	Name   string    `json:"name"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Len returns the number of points in the snapshot.
func (s Snapshot) Len() int { return len(s.Values) }

// Latest returns the newest point, if any.
func (s Snapshot) Latest() (label string, value float64, ok bool) {
	n := len(s.Values)
	if n == 0 {
		return "", 0, false
	}
	return s.Labels[n-1], s.Values[n-1], true
}

// New creates an empty series. capacity <= 0 means unbounded.
func New(name string, capacity int) *Series {
	if capacity < 0 {
		capacity = 0
	}
	return &Series{
		name:     name,
		capacity: capacity,
		labels:   []string{},
		values:   []float64{},
	}
}

func (s *Series) Name() string { return s.name }

// Append adds one point at the end, evicting the oldest when bounded and full.
func (s *Series) Append(label string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && len(s.values) >= s.capacity {
		// Shift in place so the backing arrays do not grow without bound.
		n := copy(s.labels, s.labels[1:])
		s.labels = s.labels[:n]
		n = copy(s.values, s.values[1:])
		s.values = s.values[:n]
	}
	s.labels = append(s.labels, label)
	s.values = append(s.values, value)
	s.appended++
}

// Len returns the number of points currently held.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Appended returns how many points were ever appended, including evicted ones.
func (s *Series) Appended() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appended
}

// Snapshot returns a copy that is safe to use after further appends.
func (s *Series) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := make([]string, len(s.labels))
	copy(labels, s.labels)
	values := make([]float64, len(s.values))
	copy(values, s.values)
	return Snapshot{Name: s.name, Labels: labels, Values: values}
}
