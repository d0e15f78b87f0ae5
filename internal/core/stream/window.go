package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	apperrors "github.com/frostdev-ops/pma-alerting-go/pkg/errors"
)

// ErrPointExpired is returned for a point older than the series' retention,
// measured from the newest point already held for that series.
var ErrPointExpired = errors.New("metric point is older than the retention window")

type sample struct {
	at    time.Time
	value float64
}

type series struct {
	selector Selector
	samples  []sample // ascending by timestamp
}

func (s *series) insert(p sample) {
	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].at.After(p.at) })
	s.samples = append(s.samples, sample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = p
}

// evictBefore drops every sample older than cutoff.
func (s *series) evictBefore(cutoff time.Time) int {
	i := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].at.Before(cutoff) })
	if i == 0 {
		return 0
	}
	s.samples = append(s.samples[:0], s.samples[i:]...)
	return i
}

// Window is the in-memory rolling store behind the aggregator. It keeps only
// as much history as the widest rule needs.
type Window struct {
	mu        sync.RWMutex
	series    map[string]*series
	retention time.Duration
	closed    bool
}

// NewWindow creates a window keeping points for retention. A zero retention
// keeps everything.
func NewWindow(retention time.Duration) *Window {
	return &Window{
		series:    make(map[string]*series),
		retention: retention,
	}
}

// Record appends a point to its series.
func (w *Window) Record(p MetricPoint) error {
	if p.Namespace == "" || p.MetricName == "" {
		return fmt.Errorf("metric point requires namespace and metric name")
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return fmt.Errorf("metric point %s/%s has non-finite value", p.Namespace, p.MetricName)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	dims := p.Dimensions.Normalize()
	key := seriesKey(p.Namespace, p.MetricName, dims)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return apperrors.ErrIngestionUnavailable
	}

	s, ok := w.series[key]
	if !ok {
		s = &series{selector: Selector{Namespace: p.Namespace, MetricName: p.MetricName, Dimensions: dims}}
		w.series[key] = s
	}
	if w.retention > 0 && len(s.samples) > 0 {
		newest := s.samples[len(s.samples)-1].at
		if p.Timestamp.Before(newest.Add(-w.retention)) {
			return fmt.Errorf("%w: %s at %s, newest %s", ErrPointExpired, key,
				p.Timestamp.Format(time.RFC3339), newest.Format(time.RFC3339))
		}
	}
	s.insert(sample{at: p.Timestamp, value: p.Value})
	if w.retention > 0 {
		s.evictBefore(s.samples[len(s.samples)-1].at.Add(-w.retention))
	}
	return nil
}

// Aggregate reduces the points of the selected series whose timestamps fall in
// [asOf-period, asOf). ok is false when no point falls in that interval.
func (w *Window) Aggregate(ctx context.Context, sel Selector, period time.Duration, stat Statistic, asOf time.Time) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, apperrors.IngestionUnavailable("", err)
	}
	if period <= 0 {
		return 0, false, fmt.Errorf("period must be positive, got %s", period)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, false, apperrors.ErrIngestionUnavailable
	}

	s, ok := w.series[sel.Key()]
	if !ok {
		return 0, false, nil
	}

	keep := w.retention
	if keep < period {
		keep = period
	}
	s.evictBefore(asOf.Add(-keep))

	start := asOf.Add(-period)
	lo := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].at.Before(start) })
	hi := sort.Search(len(s.samples), func(i int) bool { return !s.samples[i].at.Before(asOf) })
	if lo >= hi {
		return 0, false, nil
	}

	values := make([]float64, 0, hi-lo)
	for _, smp := range s.samples[lo:hi] {
		values = append(values, smp.value)
	}
	v, ok := Reduce(stat, values)
	return v, ok, nil
}

// Close makes every later call fail with ErrIngestionUnavailable.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.series = make(map[string]*series)
}

// Stats describes the window contents.
type Stats struct {
	Series    int           `json:"series"`
	Points    int           `json:"points"`
	Retention time.Duration `json:"retention"`
}

// Stats returns point and series counts.
func (w *Window) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Stats{Series: len(w.series), Retention: w.retention}
	for _, s := range w.series {
		st.Points += len(s.samples)
	}
	return st
}

// Latest returns the newest point of every series, for diagnostics.
func (w *Window) Latest() []MetricPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]MetricPoint, 0, len(w.series))
	for _, s := range w.series {
		if len(s.samples) == 0 {
			continue
		}
		last := s.samples[len(s.samples)-1]
		out = append(out, MetricPoint{
			Namespace:  s.selector.Namespace,
			MetricName: s.selector.MetricName,
			Dimensions: s.selector.Dimensions,
			Value:      last.value,
			Timestamp:  last.at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesKey() < out[j].SeriesKey() })
	return out
}
