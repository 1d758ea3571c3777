package metrics

import (
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// TicketMetrics holds the instruments emitted by the ticketing service
type TicketMetrics struct {
	CommandsTotal   *telemetry.Counter
	CommandFailures *telemetry.Counter
	CommandDuration *telemetry.Histogram

	EventsPublished      *telemetry.Counter
	EventPublishFailures *telemetry.Counter

	EventsProjected    *telemetry.Counter
	EventsSkipped      *telemetry.Counter
	ProjectionFailures *telemetry.Counter
	EventsDeadLettered *telemetry.Counter

	CacheHits   *telemetry.Counter
	CacheMisses *telemetry.Counter

	ReservationsExpired *telemetry.Counter
	SweepDuration       *telemetry.Histogram
	SweepsInFlight      *telemetry.UpDownCounter
}

// NewTicketMetrics creates all instruments on the global meter
func NewTicketMetrics() *TicketMetrics {
	return &TicketMetrics{
		CommandsTotal: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_commands_total",
			Description: "Ticket commands processed, by command and outcome",
			Unit:        "1",
		}),
		CommandFailures: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_command_failures_total",
			Description: "Ticket commands that failed, by command",
			Unit:        "1",
		}),
		CommandDuration: telemetry.NewHistogram(telemetry.MetricOpts{
			Name:        "ticket_command_duration_seconds",
			Description: "Ticket command latency",
			Unit:        "s",
		}),
		EventsPublished: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_events_published_total",
			Description: "Booking events published to the bus, by type",
			Unit:        "1",
		}),
		EventPublishFailures: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_event_publish_failures_total",
			Description: "Booking events that failed to publish after commit",
			Unit:        "1",
		}),
		EventsProjected: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_events_projected_total",
			Description: "Booking events applied to the read model, by type",
			Unit:        "1",
		}),
		EventsSkipped: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_events_skipped_total",
			Description: "Booking events skipped as duplicates or unknown types",
			Unit:        "1",
		}),
		ProjectionFailures: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_projection_failures_total",
			Description: "Read model updates that failed and were retried",
			Unit:        "1",
		}),
		EventsDeadLettered: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_events_dead_lettered_total",
			Description: "Booking events moved to the dead letter topic",
			Unit:        "1",
		}),
		CacheHits: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_cache_hits_total",
			Description: "Query results served from cache",
			Unit:        "1",
		}),
		CacheMisses: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_cache_misses_total",
			Description: "Query results loaded from the read store",
			Unit:        "1",
		}),
		ReservationsExpired: telemetry.NewCounter(telemetry.MetricOpts{
			Name:        "ticket_reservations_expired_total",
			Description: "Reservations expired by the sweeper",
			Unit:        "1",
		}),
		SweepDuration: telemetry.NewHistogram(telemetry.MetricOpts{
			Name:        "ticket_sweep_duration_seconds",
			Description: "Expiry sweep latency",
			Unit:        "s",
		}),
		SweepsInFlight: telemetry.NewUpDownCounter(telemetry.MetricOpts{
			Name:        "ticket_sweeps_in_flight",
			Description: "Expiry sweeps currently running",
			Unit:        "1",
		}),
	}
}
