package stream

import (
	"sort"
	"strings"
	"time"
)

// Dimension is one key/value pair qualifying a metric.
type Dimension struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Dimensions is an ordered set of dimensions, sorted by name with unique names.
type Dimensions []Dimension

// NewDimensions builds a normalised dimension set from a map.
func NewDimensions(m map[string]string) Dimensions {
	dims := make(Dimensions, 0, len(m))
	for k, v := range m {
		dims = append(dims, Dimension{Name: k, Value: v})
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Name < dims[j].Name })
	return dims
}

// Map returns the dimensions as a map.
func (d Dimensions) Map() map[string]string {
	m := make(map[string]string, len(d))
	for _, dim := range d {
		m[dim.Name] = dim.Value
	}
	return m
}

// Normalize sorts the set by name; later duplicates replace earlier ones.
func (d Dimensions) Normalize() Dimensions {
	m := make(map[string]string, len(d))
	for _, dim := range d {
		m[dim.Name] = dim.Value
	}
	return NewDimensions(m)
}

// Equal reports whether both sets hold the same pairs.
func (d Dimensions) Equal(other Dimensions) bool {
	a, b := d.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d Dimensions) String() string {
	parts := make([]string, 0, len(d))
	for _, dim := range d.Normalize() {
		parts = append(parts, dim.Name+"="+dim.Value)
	}
	return strings.Join(parts, ",")
}

// MetricPoint is one ingested datapoint. Points are immutable once recorded.
type MetricPoint struct {
	Namespace  string     `json:"namespace"`
	MetricName string     `json:"metric_name"`
	Dimensions Dimensions `json:"dimensions,omitempty"`
	Value      float64    `json:"value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// SeriesKey identifies the series the point belongs to.
func (p MetricPoint) SeriesKey() string {
	return seriesKey(p.Namespace, p.MetricName, p.Dimensions)
}

func seriesKey(namespace, name string, dims Dimensions) string {
	return namespace + "|" + name + "|" + dims.String()
}

// Selector picks the series an alarm rule watches.
// Dimension filters match exactly: a series with extra dimensions is a different series.
type Selector struct {
	Namespace  string     `json:"namespace" yaml:"namespace"`
	MetricName string     `json:"metric_name" yaml:"metric_name"`
	Dimensions Dimensions `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// Matches reports whether p belongs to the selected series.
func (s Selector) Matches(p MetricPoint) bool {
	return s.Namespace == p.Namespace &&
		s.MetricName == p.MetricName &&
		s.Dimensions.Equal(p.Dimensions)
}

// Key returns the series key the selector resolves to.
func (s Selector) Key() string {
	return seriesKey(s.Namespace, s.MetricName, s.Dimensions.Normalize())
}

func (s Selector) String() string {
	if len(s.Dimensions) == 0 {
		return s.Namespace + "/" + s.MetricName
	}
	return s.Namespace + "/" + s.MetricName + "{" + s.Dimensions.String() + "}"
}
