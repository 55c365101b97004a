// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ViewIncrements counts background view-count updates by result
	// (ok, failed, dropped).
	ViewIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkblog_view_increments_total",
		Help: "Total number of post view increments by result",
	}, []string{"result"})

	// PostMutations counts successful post writes by operation.
	PostMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkblog_post_mutations_total",
		Help: "Total number of post mutations by operation",
	}, []string{"op"})

	// LoginAttempts counts admin sign-in attempts by result.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkblog_login_attempts_total",
		Help: "Total number of admin login attempts by result",
	}, []string{"result"})

	// StoreErrors counts content and token store failures by operation.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkblog_store_errors_total",
		Help: "Total number of store errors by operation",
	}, []string{"op"})
)
