// Package metrics is a small in-process counter/gauge registry with a
// Prometheus text-format exposition handler. It avoids pulling in the full
// prometheus client for a handful of series.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

// Registry aggregates named counters and gauges.
type Registry struct {
	counters  sync.Map // name -> *int64
	gauges    sync.Map // name -> *int64
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

// Inc increments the named counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments the named counter by delta.
func (r *Registry) Add(name string, delta int64) {
	v, _ := r.counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// SetGauge sets the named gauge to val.
func (r *Registry) SetGauge(name string, val int64) {
	v, _ := r.gauges.LoadOrStore(name, new(int64))
	atomic.StoreInt64(v.(*int64), val)
}

// Value returns the current value of a counter (0 if never touched).
func (r *Registry) Value(name string) int64 {
	if v, ok := r.counters.Load(name); ok {
		return atomic.LoadInt64(v.(*int64))
	}
	return 0
}

// Handler serves the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		type series struct {
			name  string
			kind  string
			value int64
		}
		var all []series

		r.counters.Range(func(key, value any) bool {
			all = append(all, series{key.(string), "counter", atomic.LoadInt64(value.(*int64))})
			return true
		})
		r.gauges.Range(func(key, value any) bool {
			all = append(all, series{key.(string), "gauge", atomic.LoadInt64(value.(*int64))})
			return true
		})
		sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })

		for _, s := range all {
			fmt.Fprintf(w, "# TYPE %s %s\n%s %d\n", s.name, s.kind, s.name, s.value)
		}
		fmt.Fprintf(w, "# TYPE airbot_uptime_seconds gauge\nairbot_uptime_seconds %d\n",
			int64(time.Since(r.startTime).Seconds()))
	})
}
