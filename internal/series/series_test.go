package series

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestSeries_appendUnbounded(t *testing.T) {
	s := New("temperature", 0)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d; want 0", s.Len())
	}

	for i := 0; i < 100; i++ {
		s.Append(fmt.Sprintf("10:0:%d", i), float64(i))
		snap := s.Snapshot()
		if len(snap.Labels) != len(snap.Values) {
			t.Fatalf("after %d appends: len(labels) = %d, len(values) = %d", i+1, len(snap.Labels), len(snap.Values))
		}
		if snap.Len() != i+1 {
			t.Fatalf("after %d appends: Len() = %d", i+1, snap.Len())
		}
	}

	label, value, ok := s.Snapshot().Latest()
	if !ok || label != "10:0:99" || value != 99 {
		t.Errorf("Latest() = %q, %v, %v; want 10:0:99, 99, true", label, value, ok)
	}
	if s.Appended() != 100 {
		t.Errorf("Appended() = %d; want 100", s.Appended())
	}
}

func TestSeries_capacityEvictsOldestPair(t *testing.T) {
	s := New("pressure", 3)
	for i := 1; i <= 5; i++ {
		s.Append(fmt.Sprintf("l%d", i), float64(i))
	}

	snap := s.Snapshot()
	if want := []string{"l3", "l4", "l5"}; !reflect.DeepEqual(snap.Labels, want) {
		t.Errorf("Labels = %v; want %v", snap.Labels, want)
	}
	if want := []float64{3, 4, 5}; !reflect.DeepEqual(snap.Values, want) {
		t.Errorf("Values = %v; want %v", snap.Values, want)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d; want 3", s.Len())
	}
	if s.Appended() != 5 {
		t.Errorf("Appended() = %d; want 5", s.Appended())
	}
}

func TestSeries_negativeCapacityIsUnbounded(t *testing.T) {
	s := New("humidity", -5)
	for i := 0; i < 10; i++ {
		s.Append("x", float64(i))
	}
	if s.Len() != 10 {
		t.Errorf("Len() = %d; want 10", s.Len())
	}
}

func TestSeries_snapshotIsACopy(t *testing.T) {
	s := New("temperature", 0)
	s.Append("1:0:0", 1)

	snap := s.Snapshot()
	snap.Labels[0] = "mutated"
	snap.Values[0] = -1
	s.Append("1:0:1", 2)

	again := s.Snapshot()
	if again.Labels[0] != "1:0:0" || again.Values[0] != 1 {
		t.Errorf("series changed through snapshot: %+v", again)
	}
	if snap.Len() != 1 {
		t.Errorf("old snapshot grew to %d points", snap.Len())
	}
	if again.Name != "temperature" {
		t.Errorf("Name = %q; want temperature", again.Name)
	}
}

func TestSnapshot_latestEmpty(t *testing.T) {
	if _, _, ok := New("x", 0).Snapshot().Latest(); ok {
		t.Error("Latest() on empty snapshot ok = true; want false")
	}
}

func TestSeries_concurrentReadersWithOneWriter(t *testing.T) {
	s := New("temperature", 50)
	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				if len(snap.Labels) != len(snap.Values) {
					t.Errorf("torn snapshot: %d labels, %d values", len(snap.Labels), len(snap.Values))
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		s.Append("t", float64(i))
	}
	close(done)
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Len() = %d; want 50", s.Len())
	}
}
