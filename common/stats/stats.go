// This package provides a small set of interfaces over go-metrics so that a
// StatsReceiver can be passed down a call tree and scoped to each level.
// The whole registry is rendered as JSON once a scheduler tick or worker run ends.
package stats

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Provides an event counter.
type Counter interface {
	Inc(int64)
	Count() int64
}

// Holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency records the wall time between Time() and Stop().
//
//   defer stat.Latency(TickLatency_ms).Time().Stop()
type Latency interface {
	Time() Latency
	Stop()
	Count() int64
}

// A registry wrapper for metrics collected about a process run.
//
// Hierarchical names are stored using a '/' path separator. '/' characters in
// variadic name elements are replaced by "_SLASH_" before they are used internally.
type StatsReceiver interface {
	// Return a stats receiver that will automatically namespace elements with
	// the given scope args.
	//
	//   statsReceiver.Scope("foo", "bar").Counter("baz")  // is equivalent to
	//   statsReceiver.Counter("foo", "bar", "baz")
	//
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) Counter

	// Latencies are rendered in milliseconds.
	Latency(name ...string) Latency

	Gauge(name ...string) Gauge

	// Construct a JSON string by marshaling the registry.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver is backed by a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	return metrics.GetOrRegisterCounter(s.scopedName(name...), s.registry)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	return metrics.GetOrRegisterGauge(s.scopedName(name...), s.registry)
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	return &latency{timer: metrics.GetOrRegisterTimer(s.scopedName(name...), s.registry)}
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	out := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		case metrics.Timer:
			snap := m.Snapshot()
			ps := snap.Percentiles([]float64{0.5, 0.99})
			out[name] = map[string]interface{}{
				"count": snap.Count(),
				"avg":   toMillis(snap.Mean()),
				"max":   toMillis(float64(snap.Max())),
				"p50":   toMillis(ps[0]),
				"p99":   toMillis(ps[1]),
			}
		}
	})
	var bytes []byte
	if pretty {
		bytes, _ = json.MarshalIndent(out, "", "  ")
	} else {
		bytes, _ = json.Marshal(out)
	}
	return bytes
}

// Names lists every registered instrument, sorted.
func Names(stat StatsReceiver) []string {
	s, ok := stat.(*defaultStatsReceiver)
	if !ok {
		return nil
	}
	var names []string
	s.registry.Each(func(name string, _ interface{}) { names = append(names, name) })
	sort.Strings(names)
	return names
}

func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	cleaned := append([]string{}, s.scope...)
	for _, sc := range scope {
		cleaned = append(cleaned, strings.Replace(sc, "/", "_SLASH_", -1))
	}
	return cleaned
}

func (s *defaultStatsReceiver) scopedName(scope ...string) string {
	return strings.Join(s.scoped(scope...), "/")
}

type latency struct {
	timer metrics.Timer
	start time.Time
}

func (l *latency) Time() Latency {
	return &latency{timer: l.timer, start: time.Now()}
}

func (l *latency) Stop() {
	if l.start.IsZero() {
		return
	}
	l.timer.UpdateSince(l.start)
}

func (l *latency) Count() int64 { return l.timer.Count() }

func toMillis(nanos float64) float64 {
	return nanos / float64(time.Millisecond)
}
