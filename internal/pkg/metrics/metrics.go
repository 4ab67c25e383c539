package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LifecycleTransitions counts store lifecycle operations by outcome
	// ("committed", "noop", or the error kind).
	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefox",
		Name:      "lifecycle_transitions_total",
		Help:      "Store lifecycle operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// SideEffects counts external side-effect calls by target and outcome.
	SideEffects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefox",
		Name:      "side_effects_total",
		Help:      "Post-commit side effects by target (index, cache) and outcome.",
	}, []string{"target", "outcome"})

	// SideEffectsInFlight tracks detached dispatches that have not finished.
	SideEffectsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storefox",
		Name:      "side_effects_in_flight",
		Help:      "Detached side-effect dispatches currently running or waiting for a worker.",
	})

	// AIRewrites counts rewrite consumption attempts by outcome.
	AIRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefox",
		Name:      "ai_rewrites_total",
		Help:      "AI rewrite consumption attempts by outcome.",
	}, []string{"outcome"})

	// CASRetries counts lost optimistic-update races on the usage counter.
	CASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storefox",
		Name:      "usage_counter_cas_retries_total",
		Help:      "Usage counter compare-and-swap attempts that lost a race and retried.",
	})
)

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
