// Package metrics exposes the Prometheus instruments served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsTotal counts check-in attempts by terminal outcome
	// (match, no_match, no_face).
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_checkins_total",
		Help: "Check-in attempts by outcome.",
	}, []string{"outcome"})

	// EnrollmentsTotal counts enrollment attempts by typed result.
	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_enrollments_total",
		Help: "Enrollment attempts by result.",
	}, []string{"result"})

	// FaceServiceDuration observes face service round-trip latency.
	FaceServiceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceattend_face_service_duration_seconds",
		Help:    "Latency of face service encoding calls.",
		Buckets: prometheus.DefBuckets,
	})
)
