package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// PostgresBookingRepository stores booking aggregates, their seat rows and
// their event stream in the write database. Booking, seat and event always
// move together in one transaction; the unique (aggregate_id, version)
// index on booking_events is the fence against concurrent writers.
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

const bookingColumns = `id, user_id, route_id, schedule_id, seat_number, passenger_name,
		passenger_email, passenger_phone, price, currency, status, payment_id,
		reserved_at, confirmed_at, cancelled_at, expires_at, created_at, updated_at, version`

// CreateWithEvent inserts the booking, acquires its seat and appends the
// version-1 event in a single transaction.
func (r *PostgresBookingRepository) CreateWithEvent(ctx context.Context, b *domain.Booking, evt *domain.BookingEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create_with_event")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking.id", b.ID),
		attribute.String("booking.status", string(b.Status)),
		attribute.String("schedule.id", b.ScheduleID),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin transaction failed")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = tx.Exec(ctx, query,
		b.ID, b.UserID, b.RouteID, b.ScheduleID, nullString(b.SeatNumber),
		b.PassengerName, b.PassengerEmail, nullString(b.PassengerPhone),
		b.Price, b.Currency, string(b.Status), nullString(b.PaymentID),
		b.ReservedAt, b.ConfirmedAt, b.CancelledAt, b.ExpiresAt,
		b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert booking failed")
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if b.HasSeat() {
		seat, err := r.lockSeatForUpdate(ctx, tx, b.ScheduleID, b.SeatNumber, b.CreatedAt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "seat acquisition failed")
			return err
		}

		switch b.Status {
		case domain.BookingStatusReserved:
			err = seat.Lock(b.ID, *b.ExpiresAt, b.CreatedAt)
		default:
			err = seat.Book(b.ID, b.CreatedAt)
		}
		if err != nil {
			span.SetStatus(codes.Error, "seat not available")
			return err
		}

		if err := r.updateSeat(ctx, tx, seat); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update seat failed")
			return err
		}
	}

	if err := r.insertEvent(ctx, tx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append event failed")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "booking created")
	return nil
}

// Transition locks the booking row then its seat row, applies the mutation
// and persists the new state with its event. Lock order is always booking
// before seat so concurrent commands on one booking cannot deadlock.
func (r *PostgresBookingRepository) Transition(ctx context.Context, bookingID string, apply TransitionFunc) (*domain.Booking, *domain.BookingEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition")
	defer span.End()

	span.SetAttributes(attribute.String("booking.id", bookingID))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin transaction failed")
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	b, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "booking not found")
			return nil, nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select booking failed")
		return nil, nil, fmt.Errorf("failed to get booking: %w", err)
	}

	var seat *domain.SeatAvailability
	if b.HasSeat() {
		seat, err = r.selectSeatForUpdate(ctx, tx, b.ScheduleID, b.SeatNumber)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "select seat failed")
			return nil, nil, fmt.Errorf("failed to get seat: %w", err)
		}
	}

	evt, err := apply(b, seat)
	if err != nil {
		span.SetStatus(codes.Error, "transition rejected")
		return nil, nil, err
	}

	update := `
		UPDATE bookings
		SET status = $2, payment_id = $3, reserved_at = $4, confirmed_at = $5,
			cancelled_at = $6, expires_at = $7, updated_at = $8, version = $9
		WHERE id = $1
	`

	_, err = tx.Exec(ctx, update,
		b.ID, string(b.Status), nullString(b.PaymentID),
		b.ReservedAt, b.ConfirmedAt, b.CancelledAt, b.ExpiresAt,
		b.UpdatedAt, b.Version,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update booking failed")
		return nil, nil, fmt.Errorf("failed to update booking: %w", err)
	}

	if seat != nil {
		if err := r.updateSeat(ctx, tx, seat); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update seat failed")
			return nil, nil, err
		}
	}

	if err := r.insertEvent(ctx, tx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append event failed")
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetAttributes(
		attribute.String("booking.status", string(b.Status)),
		attribute.Int("booking.version", b.Version),
	)
	span.SetStatus(codes.Ok, "transition applied")
	return b, evt, nil
}

func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking.id", id))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "booking not found")
			return nil, domain.ErrBookingNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "select booking failed")
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	span.SetStatus(codes.Ok, "booking found")
	return b, nil
}

func (r *PostgresBookingRepository) ListExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_expired_reservations")
	defer span.End()

	query := `
		SELECT id FROM bookings
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(domain.BookingStatusReserved), now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select expired reservations failed")
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scan failed")
			return nil, fmt.Errorf("failed to scan booking id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rows iteration failed")
		return nil, fmt.Errorf("failed to read expired reservations: %w", err)
	}

	span.SetAttributes(attribute.Int("reservations.expired", len(ids)))
	span.SetStatus(codes.Ok, "expired reservations listed")
	return ids, nil
}

func (r *PostgresBookingRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// lockSeatForUpdate returns the seat row locked for update, materializing
// an AVAILABLE row first when the seat has never been touched. The insert
// uses ON CONFLICT DO NOTHING so two concurrent first-bookers converge on
// the same row and serialize on the row lock.
func (r *PostgresBookingRepository) lockSeatForUpdate(ctx context.Context, tx pgx.Tx, scheduleID, seatNumber string, now time.Time) (*domain.SeatAvailability, error) {
	insert := `
		INSERT INTO seat_availability (schedule_id, seat_number, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schedule_id, seat_number) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, scheduleID, seatNumber, string(domain.SeatStatusAvailable), now); err != nil {
		return nil, fmt.Errorf("failed to materialize seat: %w", err)
	}

	seat, err := r.selectSeatForUpdate(ctx, tx, scheduleID, seatNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSeatNotAvailable
		}
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}
	return seat, nil
}

func (r *PostgresBookingRepository) selectSeatForUpdate(ctx context.Context, tx pgx.Tx, scheduleID, seatNumber string) (*domain.SeatAvailability, error) {
	query := `
		SELECT schedule_id, seat_number, status, booking_id, locked_until, updated_at
		FROM seat_availability
		WHERE schedule_id = $1 AND seat_number = $2
		FOR UPDATE
	`

	var (
		seat        domain.SeatAvailability
		status      string
		bookingID   *string
		lockedUntil *time.Time
	)
	err := tx.QueryRow(ctx, query, scheduleID, seatNumber).Scan(
		&seat.ScheduleID, &seat.SeatNumber, &status, &bookingID, &lockedUntil, &seat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	seat.Status = domain.SeatStatus(status)
	if bookingID != nil {
		seat.BookingID = *bookingID
	}
	seat.LockedUntil = lockedUntil
	return &seat, nil
}

func (r *PostgresBookingRepository) updateSeat(ctx context.Context, tx pgx.Tx, seat *domain.SeatAvailability) error {
	query := `
		UPDATE seat_availability
		SET status = $3, booking_id = $4, locked_until = $5, updated_at = $6
		WHERE schedule_id = $1 AND seat_number = $2
	`

	_, err := tx.Exec(ctx, query,
		seat.ScheduleID, seat.SeatNumber,
		string(seat.Status), nullString(seat.BookingID), seat.LockedUntil, seat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update seat: %w", err)
	}
	return nil
}

// insertEvent appends the event at its version. A duplicate
// (aggregate_id, version) means another writer got there first.
func (r *PostgresBookingRepository) insertEvent(ctx context.Context, tx pgx.Tx, evt *domain.BookingEvent) error {
	query := `
		INSERT INTO booking_events (event_id, event_type, aggregate_id, aggregate_type,
			payload, correlation_id, causation_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(ctx, query,
		evt.EventID, evt.EventType, evt.AggregateID, evt.AggregateType,
		[]byte(evt.Payload), nullString(evt.CorrelationID), nullString(evt.CausationID),
		evt.Version, evt.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b          domain.Booking
		seatNumber *string
		phone      *string
		paymentID  *string
		status     string
	)

	err := row.Scan(
		&b.ID, &b.UserID, &b.RouteID, &b.ScheduleID, &seatNumber,
		&b.PassengerName, &b.PassengerEmail, &phone, &b.Price, &b.Currency,
		&status, &paymentID, &b.ReservedAt, &b.ConfirmedAt, &b.CancelledAt,
		&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BookingStatus(status)
	if seatNumber != nil {
		b.SeatNumber = *seatNumber
	}
	if phone != nil {
		b.PassengerPhone = *phone
	}
	if paymentID != nil {
		b.PaymentID = *paymentID
	}
	return &b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
