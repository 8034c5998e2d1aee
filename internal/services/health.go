package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/venuerec/internal/database"
	"github.com/temcen/venuerec/internal/messaging"
	"github.com/temcen/venuerec/internal/recommender"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	probeTimeout = 5 * time.Second
)

// Probe checks one dependency. Critical probes failing make the service unhealthy; the rest
// only degrade it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type HealthService struct {
	probes []Probe
	engine *recommender.Recommender
	logger *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
	Latency     time.Duration     `json:"latency,omitempty"`
	Engine      recommender.Stats `json:"engine"`
}

// DatabaseProbes covers postgres and the hot redis as critical, the rest as non-critical.
func DatabaseProbes(db *database.Database, bus *messaging.MessageBus) []Probe {
	probes := []Probe{
		{Name: "postgresql", Critical: true, Check: func(ctx context.Context) error { return db.PG.Ping(ctx) }},
		{Name: "redis_hot", Critical: true, Check: func(ctx context.Context) error { return db.Redis.Hot.Ping(ctx).Err() }},
		{Name: "redis_warm", Check: func(ctx context.Context) error { return db.Redis.Warm.Ping(ctx).Err() }},
		{Name: "redis_cold", Check: func(ctx context.Context) error { return db.Redis.Cold.Ping(ctx).Err() }},
		{Name: "neo4j", Check: func(ctx context.Context) error {
			if db.Neo4j == nil {
				return ErrGraphUnavailable
			}
			return db.Neo4j.VerifyConnectivity(ctx)
		}},
	}
	if bus != nil {
		probes = append(probes, Probe{Name: "kafka", Check: bus.Ping})
	} else {
		probes = append(probes, Probe{Name: "kafka", Check: func(context.Context) error {
			return errors.New("message bus not configured")
		}})
	}
	return probes
}

func NewHealthService(probes []Probe, engine *recommender.Recommender, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		probes: probes,
		engine: engine,
		logger: logger,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	// Register metrics with error handling - ignore if already registered
	for _, c := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register health metric")
			}
		}
	}
	return hs
}

// CheckHealth runs every probe concurrently. A cold engine degrades the status.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start.UTC(),
		Services:  make(map[string]string, len(s.probes)+1),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, probe := range s.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			err := probe.Check(pctx)

			mu.Lock()
			defer mu.Unlock()
			s.record(status, probe, err)
			return nil
		})
	}
	_ = g.Wait()

	status.Engine = s.engine.Stats()
	if status.Engine.Ready {
		status.Services["recommender"] = StatusHealthy
	} else {
		status.Services["recommender"] = "cold"
		status.NonCritical = append(status.NonCritical, "recommender")
	}

	switch {
	case len(status.Critical) > 0:
		status.Status = StatusUnhealthy
	case len(status.NonCritical) > 0:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	status.Latency = time.Since(start)
	return status
}

// record is called with the status mutex held.
func (s *HealthService) record(status *HealthStatus, probe Probe, err error) {
	if err == nil {
		status.Services[probe.Name] = StatusHealthy
		s.healthCheckStatus.WithLabelValues(probe.Name).Set(1)
	} else {
		status.Services[probe.Name] = StatusUnhealthy
		s.healthCheckStatus.WithLabelValues(probe.Name).Set(0)
		if probe.Critical {
			status.Critical = append(status.Critical, probe.Name)
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", probe.Name)
		} else {
			status.NonCritical = append(status.NonCritical, probe.Name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", probe.Name)
		}
	}
	s.lastHealthCheck.WithLabelValues(probe.Name).Set(float64(time.Now().Unix()))
}
