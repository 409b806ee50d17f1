package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mfenniak/cloud-persistent-storage/internal/volume"
	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Collector records the metrics of one acquisition run. It implements
// volume.Recorder and can be installed as the EC2 client's call observer.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	acquisitions      *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	candidates        prometheus.Gauge
	attachAttempts    *prometheus.CounterVec
	confirmDuration   *prometheus.HistogramVec
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lastRunTimestamp  prometheus.Gauge
	lastRunDuration   prometheus.Gauge

	started time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// NewDefaultConfig returns the default metrics configuration
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "cloud_persistent_storage",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the collector's registry, or nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Transition counts a state machine transition
func (c *Collector) Transition(from, to volume.State) {
	if !c.config.Enabled {
		return
	}
	c.transitions.With(prometheus.Labels{"from": from.String(), "to": to.String()}).Inc()
}

// CandidatesFound records how many existing volumes discovery returned
func (c *Collector) CandidatesFound(n int) {
	if !c.config.Enabled {
		return
	}
	c.candidates.Set(float64(n))
}

// AttachAttempted counts an attach request by volume source and result
func (c *Collector) AttachAttempted(source string, err error) {
	if !c.config.Enabled {
		return
	}
	c.attachAttempts.With(prometheus.Labels{"source": source, "status": status(err)}).Inc()
}

// ConfirmFinished observes how long attachment confirmation took
func (c *Collector) ConfirmFinished(elapsed time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.confirmDuration.With(prometheus.Labels{"status": status(err)}).Observe(elapsed.Seconds())
}

// Finished records the outcome of the acquisition
func (c *Collector) Finished(err error) {
	if !c.config.Enabled {
		return
	}
	c.acquisitions.With(prometheus.Labels{"outcome": Outcome(err)}).Inc()
	c.lastRunTimestamp.SetToCurrentTime()
	c.lastRunDuration.Set(time.Since(c.started).Seconds())
}

// ObserveAPICall records one EC2 API call
func (c *Collector) ObserveAPICall(operation string, duration time.Duration, err error) {
	c.RecordOperation("ec2_"+operation, duration, err)
}

// RecordOperation records an operation with its duration and result
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status(err),
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// WriteToTextfile writes every metric to path in the Prometheus text format,
// for collection by the node exporter's textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	if !c.config.Enabled || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Outcome is the acquisitions_total label for a run ending in err
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(errors.CodeOf(err)))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Helper methods

func (c *Collector) initMetrics() {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: c.config.Labels,
		}
	}

	c.acquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("acquisitions_total", "Volume acquisitions by outcome")),
		[]string{"outcome"},
	)

	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("state_transitions_total", "Acquisition state machine transitions")),
		[]string{"from", "to"},
	)

	c.candidates = prometheus.NewGauge(
		prometheus.GaugeOpts(opts("candidates_discovered", "Available volumes matching the tag policy")),
	)

	c.attachAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("attach_attempts_total", "Attach requests by volume source and result")),
		[]string{"source", "status"},
	)

	confirmOpts := opts("confirm_duration_seconds", "Time spent confirming attachment")
	c.confirmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   confirmOpts.Namespace,
			Subsystem:   confirmOpts.Subsystem,
			Name:        confirmOpts.Name,
			Help:        confirmOpts.Help,
			ConstLabels: confirmOpts.ConstLabels,
			Buckets:     []float64{1, 5, 10, 20, 30, 60, 120, 180, 300},
		},
		[]string{"status"},
	)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts(opts("operations_total", "Total number of operations")),
		[]string{"operation", "status"},
	)

	durationOpts := opts("operation_duration_seconds", "Duration of operations in seconds")
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   durationOpts.Namespace,
			Subsystem:   durationOpts.Subsystem,
			Name:        durationOpts.Name,
			Help:        durationOpts.Help,
			ConstLabels: durationOpts.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	c.lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts(opts("last_run_timestamp_seconds", "Unix time the last acquisition finished")),
	)

	c.lastRunDuration = prometheus.NewGauge(
		prometheus.GaugeOpts(opts("last_run_duration_seconds", "Wall time of the last acquisition")),
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.acquisitions,
		c.transitions,
		c.candidates,
		c.attachAttempts,
		c.confirmDuration,
		c.operationCounter,
		c.operationDuration,
		c.lastRunTimestamp,
		c.lastRunDuration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
