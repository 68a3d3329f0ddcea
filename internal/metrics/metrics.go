package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolka",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingsUpdated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tolka",
			Name:      "bookings_updated_total",
			Help:      "Booking updates persisted.",
		},
	)

	transitionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolka",
			Name:      "transitions_rejected_total",
			Help:      "Status transitions rejected by guard conditions.",
		},
		[]string{"from"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolka",
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered, by channel.",
		},
		[]string{"channel"},
	)

	notificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolka",
			Name:      "notifications_failed_total",
			Help:      "Notification delivery failures, by channel.",
		},
		[]string{"channel"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingsUpdated,
			transitionsRejected,
			notificationsSent,
			notificationsFailed,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBookingUpdated() {
	bookingsUpdated.Inc()
}

func IncTransitionRejected(from string) {
	transitionsRejected.WithLabelValues(from).Inc()
}

func IncNotificationSent(channel string) {
	notificationsSent.WithLabelValues(channel).Inc()
}

func IncNotificationFailed(channel string) {
	notificationsFailed.WithLabelValues(channel).Inc()
}
