package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "booking_attempts_total",
			Help:      "Count of booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "notifications_total",
			Help:      "Count of booking notifications by channel and result.",
		},
		[]string{"channel", "result"},
	)

	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "appointment_status_changes_total",
			Help:      "Count of provider status changes by target status.",
		},
		[]string{"status"},
	)

	slotQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "slot_queries_total",
			Help:      "Count of slot list computations by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status class.",
		},
		[]string{"route", "code"},
	)

	configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenda",
			Name:      "providers_config_reloads_total",
			Help:      "Count of providers.yaml reloads by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingAttempts, notifications, statusChanges, slotQueries, httpRequests, configReloads)
	})
}

func IncBookingAttempt(outcome string) {
	bookingAttempts.WithLabelValues(outcome).Inc()
}

func IncNotification(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}

func IncStatusChange(status string) {
	statusChanges.WithLabelValues(status).Inc()
}

func IncSlotQuery(result string) {
	slotQueries.WithLabelValues(result).Inc()
}

// IncConfigReload counts a providers.yaml reload; result is "applied" or "failed".
func IncConfigReload(result string) {
	configReloads.WithLabelValues(result).Inc()
}

// IncHTTP counts one API request; code is the status class such as "2xx".
func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
