package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultMetricsNamespace = "eventbus"

// Metrics tracks dispatch, listener and dead-letter statistics of a bus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu sync.RWMutex

	groupCounts map[string]*GroupDeadLetterMetrics

	dispatchDuration *prometheus.HistogramVec
	listenerErrors   *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	deadLetters      *prometheus.CounterVec
	redelivered      *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// GroupDeadLetterMetrics holds dead-letter counters of one group.
type GroupDeadLetterMetrics struct {
	Stored        uint64    `json:"stored"`
	Redelivered   uint64    `json:"redelivered"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// notification outcomes
const (
	notificationHandled   = "handled"
	notificationFiltered  = "filtered"
	notificationMalformed = "malformed"
)

// NewMetrics creates the collectors. They are not registered until Register
// is called.
func NewMetrics(registerer prometheus.Registerer, namespace string) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	return &Metrics{
		groupCounts: make(map[string]*GroupDeadLetterMetrics),
		registerer:  registerer,
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching an event to groups and key listeners",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Number of failed listener executions",
		}, []string{"registration"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_notifications_total",
			Help:      "Key channel notifications received by this node",
		}, []string{"outcome"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dead_letters",
			Name:      "stored_total",
			Help:      "Events stored as dead letters",
		}, []string{"group"}),
		redelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dead_letters",
			Name:      "redelivered_total",
			Help:      "Dead letters successfully redelivered",
		}, []string{"group"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.dispatchDuration,
		m.listenerErrors,
		m.notifications,
		m.deadLetters,
		m.redelivered,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// DispatchTimer starts a timer observed into the dispatch histogram.
func (m *Metrics) DispatchTimer(eventType string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.dispatchDuration.WithLabelValues(eventType))
}

func (m *Metrics) RecordListenerError(registration string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(registration).Inc()
}

func (m *Metrics) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDeadLetter(group string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateGroupMetrics(group)
	counts.Stored++
	counts.LastUpdatedAt = time.Now()
	m.deadLetters.WithLabelValues(group).Inc()
}

func (m *Metrics) RecordRedelivered(group string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateGroupMetrics(group)
	counts.Redelivered++
	counts.LastUpdatedAt = time.Now()
	m.redelivered.WithLabelValues(group).Inc()
}

// GroupMetrics returns a copy of the dead-letter counters of group, or nil.
func (m *Metrics) GroupMetrics(group string) *GroupDeadLetterMetrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if counts, ok := m.groupCounts[group]; ok {
		c := *counts
		return &c
	}
	return nil
}

func (m *Metrics) getOrCreateGroupMetrics(group string) *GroupDeadLetterMetrics {
	if counts, ok := m.groupCounts[group]; ok {
		return counts
	}
	counts := &GroupDeadLetterMetrics{}
	m.groupCounts[group] = counts
	return counts
}
