package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// defaultTotalSeats seeds a schedule counter row created on first sight of
// a schedule, before the route service enrichment fills in real capacity.
const defaultTotalSeats = 50

// PostgresReadRepository maintains the query-side tables: ticket_views,
// schedule_availability and projection_checkpoints. Writes come only from
// the projector; reads serve the query API.
type PostgresReadRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresReadRepository(pool *pgxpool.Pool) *PostgresReadRepository {
	return &PostgresReadRepository{pool: pool}
}

const ticketViewColumns = `booking_id, user_id, route_id, schedule_id, seat_number, passenger_name,
		status, price, currency, route_name, departure_time, arrival_time,
		origin_stop, destination_stop, created_at, updated_at`

// UpsertTicketView writes the ticket row. On conflict the stored status
// wins when it is CONFIRMED or terminal: replayed BOOKED or RESERVED
// events must never roll a ticket backwards.
func (r *PostgresReadRepository) UpsertTicketView(ctx context.Context, view *domain.TicketView) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_view.upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking.id", view.BookingID),
		attribute.String("ticket.status", string(view.Status)),
	)

	query := `
		INSERT INTO ticket_views (` + ticketViewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (booking_id) DO UPDATE SET
			status = CASE
				WHEN ticket_views.status IN ('CONFIRMED', 'CANCELLED', 'EXPIRED', 'REFUNDED')
				THEN ticket_views.status
				ELSE EXCLUDED.status
			END,
			seat_number = EXCLUDED.seat_number,
			passenger_name = EXCLUDED.passenger_name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			updated_at = GREATEST(ticket_views.updated_at, EXCLUDED.updated_at)
	`

	_, err := r.pool.Exec(ctx, query,
		view.BookingID, view.UserID, view.RouteID, view.ScheduleID,
		nullString(view.SeatNumber), view.PassengerName, string(view.Status),
		view.Price, view.Currency, view.RouteName, view.DepartureTime,
		view.ArrivalTime, view.OriginStop, view.DestinationStop,
		view.CreatedAt, view.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert ticket view failed")
		return fmt.Errorf("failed to upsert ticket view: %w", err)
	}

	span.SetStatus(codes.Ok, "ticket view upserted")
	return nil
}

// SetTicketStatus moves the row to the given status. CONFIRMED is dropped
// when the row already reached a terminal status.
func (r *PostgresReadRepository) SetTicketStatus(ctx context.Context, bookingID string, status domain.BookingStatus, updatedAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_view.set_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("ticket.status", string(status)),
	)

	query := `UPDATE ticket_views SET status = $2, updated_at = $3 WHERE booking_id = $1`
	if status == domain.BookingStatusConfirmed {
		query += ` AND status NOT IN ('CANCELLED', 'EXPIRED', 'REFUNDED')`
	}

	_, err := r.pool.Exec(ctx, query, bookingID, string(status), updatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update ticket status failed")
		return fmt.Errorf("failed to update ticket status: %w", err)
	}

	span.SetStatus(codes.Ok, "ticket status updated")
	return nil
}

// AdjustBookedSeats adds delta to the schedule counter, clamped at zero.
// A missing row is seeded with the default capacity.
func (r *PostgresReadRepository) AdjustBookedSeats(ctx context.Context, scheduleID string, delta int) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.schedule_availability.adjust")
	defer span.End()

	span.SetAttributes(
		attribute.String("schedule.id", scheduleID),
		attribute.Int("seats.delta", delta),
	)

	query := `
		INSERT INTO schedule_availability (schedule_id, total_seats, booked_seats, updated_at)
		VALUES ($1, $2, GREATEST($3, 0), NOW())
		ON CONFLICT (schedule_id) DO UPDATE SET
			booked_seats = GREATEST(schedule_availability.booked_seats + $3, 0),
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, scheduleID, defaultTotalSeats, delta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjust booked seats failed")
		return fmt.Errorf("failed to adjust booked seats: %w", err)
	}

	span.SetStatus(codes.Ok, "booked seats adjusted")
	return nil
}

func (r *PostgresReadRepository) GetCheckpoint(ctx context.Context, projectionName string) (*domain.ProjectionCheckpoint, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.checkpoint.get")
	defer span.End()

	span.SetAttributes(attribute.String("projection.name", projectionName))

	query := `
		SELECT projection_name, last_processed_event_id, last_processed_at
		FROM projection_checkpoints
		WHERE projection_name = $1
	`

	var cp domain.ProjectionCheckpoint
	err := r.pool.QueryRow(ctx, query, projectionName).Scan(
		&cp.ProjectionName, &cp.LastProcessedEventID, &cp.LastProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "no checkpoint yet")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select checkpoint failed")
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	span.SetStatus(codes.Ok, "checkpoint found")
	return &cp, nil
}

func (r *PostgresReadRepository) UpsertCheckpoint(ctx context.Context, cp *domain.ProjectionCheckpoint) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.checkpoint.upsert")
	defer span.End()

	span.SetAttributes(attribute.String("projection.name", cp.ProjectionName))

	query := `
		INSERT INTO projection_checkpoints (projection_name, last_processed_event_id, last_processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (projection_name) DO UPDATE SET
			last_processed_event_id = EXCLUDED.last_processed_event_id,
			last_processed_at = EXCLUDED.last_processed_at
	`

	_, err := r.pool.Exec(ctx, query, cp.ProjectionName, cp.LastProcessedEventID, cp.LastProcessedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert checkpoint failed")
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}

	span.SetStatus(codes.Ok, "checkpoint upserted")
	return nil
}

// ListUserTickets returns one page ordered by created_at descending plus
// the unpaged total. status filters when non-empty.
func (r *PostgresReadRepository) ListUserTickets(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_view.list_by_user")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int("page", page),
		attribute.Int("limit", limit),
	)

	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, string(status))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_views `+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count tickets failed")
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	offset := (page - 1) * limit
	query := fmt.Sprintf(`
		SELECT `+ticketViewColumns+`
		FROM ticket_views %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select tickets failed")
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.TicketView
	for rows.Next() {
		view, err := scanTicketView(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scan ticket failed")
			return nil, 0, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, view)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rows iteration failed")
		return nil, 0, fmt.Errorf("failed to read tickets: %w", err)
	}

	span.SetAttributes(attribute.Int64("tickets.total", total))
	span.SetStatus(codes.Ok, "tickets listed")
	return tickets, total, nil
}

func (r *PostgresReadRepository) GetTicketByID(ctx context.Context, bookingID string) (*domain.TicketView, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket_view.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking.id", bookingID))

	query := `SELECT ` + ticketViewColumns + ` FROM ticket_views WHERE booking_id = $1`

	view, err := scanTicketView(r.pool.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "ticket not found")
			return nil, domain.ErrTicketNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select ticket failed")
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	span.SetStatus(codes.Ok, "ticket found")
	return view, nil
}

func (r *PostgresReadRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanTicketView(row pgx.Row) (*domain.TicketView, error) {
	var (
		view       domain.TicketView
		seatNumber *string
		status     string
	)

	err := row.Scan(
		&view.BookingID, &view.UserID, &view.RouteID, &view.ScheduleID,
		&seatNumber, &view.PassengerName, &status, &view.Price, &view.Currency,
		&view.RouteName, &view.DepartureTime, &view.ArrivalTime,
		&view.OriginStop, &view.DestinationStop, &view.CreatedAt, &view.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	view.Status = domain.BookingStatus(status)
	if seatNumber != nil {
		view.SeatNumber = *seatNumber
	}
	return &view, nil
}
