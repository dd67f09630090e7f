// Package metrics exposes the actor pool and ingress listener's
// runtime state as Prometheus collectors (SPEC_FULL.md §11 domain
// stack), grounded on the "warren" other-example's use of
// github.com/prometheus/client_golang for its own scheduler and
// runner gauges.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duskforge/loomrt/internal/actor"
	"github.com/duskforge/loomrt/internal/failuresink"
)

// Registry bundles every collector this daemon exports.
type Registry struct {
	schedulerLoad   *prometheus.GaugeVec
	schedulerWakes  *prometheus.GaugeVec
	failureSinkSize prometheus.GaugeFunc

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionsRejected prometheus.Counter
}

// New constructs a Registry and registers every collector with reg.
// pool and sink may be nil if only ingress metrics are wanted (e.g.
// before the pool has been constructed); pass non-nil to wire the
// scheduler gauges.
func New(reg *prometheus.Registry, pool *actor.Pool, sink *failuresink.Sink) *Registry {
	r := &Registry{
		schedulerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomrt",
			Subsystem: "scheduler",
			Name:      "active_actors",
			Help:      "Approximate number of actors currently being swept by each scheduler.",
		}, []string{"scheduler"}),
		schedulerWakes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loomrt",
			Subsystem: "scheduler",
			Name:      "wake_signals_total",
			Help:      "Number of times each scheduler's wake signal has fired.",
		}, []string{"scheduler"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loomrt",
			Subsystem: "ingress",
			Name:      "sessions_active",
			Help:      "Currently connected TCP sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomrt",
			Subsystem: "ingress",
			Name:      "sessions_accepted_total",
			Help:      "Total TCP sessions accepted.",
		}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loomrt",
			Subsystem: "ingress",
			Name:      "sessions_rejected_total",
			Help:      "Total TCP sessions rejected (duplicate remote address).",
		}),
	}

	if sink != nil {
		r.failureSinkSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "loomrt",
			Name:      "failure_sink_size",
			Help:      "Number of failures recorded in the process failure sink.",
		}, func() float64 { return float64(sink.Len()) })
		reg.MustRegister(r.failureSinkSize)
	}

	reg.MustRegister(r.schedulerLoad, r.schedulerWakes, r.sessionsActive, r.sessionsTotal, r.sessionsRejected)

	if pool != nil {
		r.refreshPool(pool)
	}
	return r
}

// refreshPool samples the pool's current scheduler loads and wake
// counts into the gauges. Call it periodically (e.g. before a
// /metrics scrape) since the pool does not push updates itself.
func (r *Registry) RefreshPool(pool *actor.Pool) {
	r.refreshPool(pool)
}

func (r *Registry) refreshPool(pool *actor.Pool) {
	loads := pool.SchedulerLoads()
	for i, l := range loads {
		r.schedulerLoad.WithLabelValues(schedulerLabel(i)).Set(float64(l))
	}
	wakes := pool.WakeCounts()
	for i, w := range wakes {
		r.schedulerWakes.WithLabelValues(schedulerLabel(i)).Set(float64(w))
	}
}

// SessionAccepted records a newly accepted session.
func (r *Registry) SessionAccepted() {
	r.sessionsActive.Inc()
	r.sessionsTotal.Inc()
}

// SessionClosed records a session leaving the live list.
func (r *Registry) SessionClosed() {
	r.sessionsActive.Dec()
}

// SessionRejected records a duplicate-address accept rejection.
func (r *Registry) SessionRejected() {
	r.sessionsRejected.Inc()
}

func schedulerLabel(i int) string {
	return strconv.Itoa(i)
}
