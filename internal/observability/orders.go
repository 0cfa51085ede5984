package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgeline/forgeline/internal/orders"
	"github.com/forgeline/forgeline/internal/shared"
)

// OrderMetrics counts order engine outcomes.
type OrderMetrics struct {
	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

var _ orders.Metrics = (*OrderMetrics)(nil)

// NewOrderMetrics registers the order counters on registerer.
func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeline_orders_created_total",
			Help: "Orders created by type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeline_order_transitions_total",
			Help: "Committed order status changes by target status.",
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgeline_order_rejections_total",
			Help: "Rejected order operations by operation and error kind.",
		}, []string{"op", "kind"}),
	}
	registerer.MustRegister(m.created, m.transitions, m.rejections)
	return m
}

// OrderCreated counts a committed order.
func (m *OrderMetrics) OrderCreated(t orders.Type) {
	m.created.WithLabelValues(string(t)).Inc()
}

// StatusChanged counts a committed transition.
func (m *OrderMetrics) StatusChanged(to orders.Status) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

// Rejected counts a failed operation. Stock shortfalls surface as
// business_rule, stale writes as conflict.
func (m *OrderMetrics) Rejected(op string, kind shared.Kind) {
	m.rejections.WithLabelValues(op, kindLabel(kind)).Inc()
}

func kindLabel(k shared.Kind) string {
	switch k {
	case shared.KindValidation:
		return "validation"
	case shared.KindBusinessRule:
		return "business_rule"
	case shared.KindConflict:
		return "conflict"
	case shared.KindNotFound:
		return "not_found"
	case shared.KindForbidden:
		return "forbidden"
	default:
		return "storage"
	}
}
