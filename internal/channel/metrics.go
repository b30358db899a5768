// ABOUTME: Prometheus instrumentation for push channels
// ABOUTME: All methods are nil-safe so channels run without metrics in tests

package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records channel activity per feed label.
type Metrics struct {
	reconnects *prometheus.CounterVec
	malformed  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	events     *prometheus.CounterVec
	state      *prometheus.GaugeVec
}

// NewMetrics registers the channel collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_channel_reconnects_total",
			Help: "Connections re-established after an unplanned close.",
		}, []string{"feed"}),
		malformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_channel_malformed_frames_total",
			Help: "Frames dropped because they could not be parsed.",
		}, []string{"feed"}),
		duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_channel_duplicate_frames_total",
			Help: "Frames dropped because an identical entity payload was already delivered.",
		}, []string{"feed"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_channel_events_total",
			Help: "Events dispatched to handlers.",
		}, []string{"feed", "kind"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handoff_channel_state",
			Help: "Current channel state (0 connecting, 1 open, 2 closed, 3 closed final).",
		}, []string{"feed"}),
	}
}

func (m *Metrics) reconnected(feed string) {
	if m != nil {
		m.reconnects.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) malformedFrame(feed string) {
	if m != nil {
		m.malformed.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) duplicateFrame(feed string) {
	if m != nil {
		m.duplicates.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) dispatched(feed string, kind Kind) {
	if m != nil {
		m.events.WithLabelValues(feed, string(kind)).Inc()
	}
}

func (m *Metrics) stateChanged(feed string, s State) {
	if m != nil {
		m.state.WithLabelValues(feed).Set(float64(s))
	}
}
