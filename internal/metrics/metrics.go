// Package metrics counts what a bot run did and pushes the counters to a
// Prometheus Pushgateway when the run ends. The bot is a batch job and never
// listens on a port.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

// Job is the Pushgateway job label.
const Job = "fuwamoko_bot"

const namespace = "fuwamoko"

// Metrics implements domain.Metrics and imagefetch.Observer on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	candidates    prometheus.Counter
	skips         *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	categories    *prometheus.CounterVec
	imageFetches  *prometheus.CounterVec
	mentions      *prometheus.CounterVec
	lastCompleted prometheus.Gauge
}

var _ domain.Metrics = (*Metrics)(nil)

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Posts considered by the engagement pipeline.",
		}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skips_total",
			Help:      "Posts dropped by the eligibility filter, by reason.",
		}, []string{"reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal outcome of each considered post.",
		}, []string{"outcome"}),
		categories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier verdicts, by category.",
		}, []string{"category"}),
		imageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_fetches_total",
			Help:      "Image source attempts, by source and result.",
		}, []string{"source", "result"}),
		mentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_total",
			Help:      "Mention notifications handled, by result.",
		}, []string{"result"}),
		lastCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_completed_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.registry.MustRegister(
		m.candidates,
		m.skips,
		m.outcomes,
		m.categories,
		m.imageFetches,
		m.mentions,
		m.lastCompleted,
	)
	return m
}

func (m *Metrics) Candidate() {
	m.candidates.Inc()
}

func (m *Metrics) Skipped(reason domain.SkipReason) {
	m.skips.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) Classified(category domain.Category) {
	m.categories.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) Finished(outcome domain.Outcome) {
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

// ImageAttempt implements imagefetch.Observer.
func (m *Metrics) ImageAttempt(source, result string) {
	m.imageFetches.WithLabelValues(source, result).Inc()
}

// Mention counts one handled notification.
func (m *Metrics) Mention(result string) {
	m.mentions.WithLabelValues(result).Inc()
}

// Completed stamps the end of a run.
func (m *Metrics) Completed(t time.Time) {
	m.lastCompleted.Set(float64(t.Unix()))
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Push replaces this job's metric group on the Pushgateway at url. command
// distinguishes the bot and mention runs.
func (m *Metrics) Push(ctx context.Context, url, command string) error {
	err := push.New(url, Job).
		Gatherer(m.registry).
		Grouping("command", command).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
