package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/recommender"
)

// Metrics exports engine activity to prometheus. It implements recommender.Observer.
type Metrics struct {
	fitDuration     *prometheus.HistogramVec
	fitFailures     *prometheus.CounterVec
	recommendations *prometheus.CounterVec
	ratings         *prometheus.CounterVec
	modelVersion    prometheus.Gauge
	knownEntities   *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer, logger *logrus.Logger) *Metrics {
	m := &Metrics{
		fitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venuerec_fit_duration_seconds",
			Help:    "Duration of recommender fits by mode",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"mode"}),
		fitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuerec_fit_failures_total",
			Help: "Failed recommender fits by mode",
		}, []string{"mode"}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuerec_recommendations_total",
			Help: "Recommendation requests by outcome",
		}, []string{"outcome"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venuerec_ratings_total",
			Help: "Recorded ratings by source and update mode",
		}, []string{"source", "mode"}),
		modelVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "venuerec_model_version",
			Help: "Version of the published recommender state",
		}),
		knownEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venuerec_known_entities",
			Help: "Users and places known to the published identifier mapper",
		}, []string{"kind"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"venuerec_fit_duration_seconds":  m.fitDuration,
		"venuerec_fit_failures_total":    m.fitFailures,
		"venuerec_recommendations_total": m.recommendations,
		"venuerec_ratings_total":         m.ratings,
		"venuerec_model_version":         m.modelVersion,
		"venuerec_known_entities":        m.knownEntities,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				logger.WithError(err).Warnf("Failed to register %s metric", name)
			}
		}
	}
	return m
}

func (m *Metrics) ObserveFit(mode string, elapsed time.Duration, err error) {
	if err != nil {
		m.fitFailures.WithLabelValues(mode).Inc()
		return
	}
	m.fitDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRecommend(outcome string) {
	m.recommendations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveState(stats recommender.Stats) {
	m.modelVersion.Set(float64(stats.Version))
	m.knownEntities.WithLabelValues("users").Set(float64(stats.Users))
	m.knownEntities.WithLabelValues("places").Set(float64(stats.Places))
}

// ObserveRating counts a stored rating; source is "api" or "ingestion".
func (m *Metrics) ObserveRating(source, mode string) {
	m.ratings.WithLabelValues(source, mode).Inc()
}
