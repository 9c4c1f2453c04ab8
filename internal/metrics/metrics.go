// Package metrics exposes the service's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClockEvents counts accepted clock events by kind and status.
	ClockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teacherclock_clock_events_total",
		Help: "Clock events recorded, by kind (clock_in, clock_out, noop) and record status.",
	}, []string{"kind", "status"})

	// Verifications counts verification session outcomes.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teacherclock_verifications_total",
		Help: "Verification sessions by outcome (verified, closed, rejected).",
	}, []string{"outcome"})

	// AbsentSwept counts records created by the end-of-day absent sweep.
	AbsentSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teacherclock_absent_swept_total",
		Help: "Absent records created by the end-of-day sweep.",
	})
)
