package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/pkg/redis"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// cacheOpTimeout bounds every cache round trip so a slow Redis cannot
// stall a query that can be answered from the read store.
const cacheOpTimeout = 5 * time.Second

// RedisCacheRepository caches ticket details and ticket pages in Redis.
//
// Keys:
//
//	ticket:{bookingId}
//	user:{userId}:tickets:page:{page}:limit:{limit}
//
// Page keys for one user share the user:{userId}:tickets: prefix so a
// single prefix delete invalidates every cached page.
type RedisCacheRepository struct {
	client    *redis.Client
	ticketTTL time.Duration
	pageTTL   time.Duration
}

func NewRedisCacheRepository(client *redis.Client, ticketTTL, pageTTL time.Duration) *RedisCacheRepository {
	return &RedisCacheRepository{
		client:    client,
		ticketTTL: ticketTTL,
		pageTTL:   pageTTL,
	}
}

func ticketKey(bookingID string) string {
	return fmt.Sprintf("ticket:%s", bookingID)
}

func userTicketsPrefix(userID string) string {
	return fmt.Sprintf("user:%s:tickets:", userID)
}

func ticketPageKey(userID string, page, limit int) string {
	return fmt.Sprintf("user:%s:tickets:page:%d:limit:%d", userID, page, limit)
}

func (r *RedisCacheRepository) GetTicketPage(ctx context.Context, userID string, page, limit int) (*domain.TicketPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ticket_page.get")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := ticketPageKey(userID, page, limit)
	span.SetAttributes(attribute.String("cache.key", key))

	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			span.SetStatus(codes.Ok, "cache miss")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache get failed")
		return nil, fmt.Errorf("failed to get cached page: %w", err)
	}

	var pageData domain.TicketPage
	if err := json.Unmarshal([]byte(raw), &pageData); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache entry corrupt")
		return nil, fmt.Errorf("failed to decode cached page: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	span.SetStatus(codes.Ok, "cache hit")
	return &pageData, nil
}

func (r *RedisCacheRepository) SetTicketPage(ctx context.Context, userID string, page, limit int, pageData *domain.TicketPage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ticket_page.set")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := json.Marshal(pageData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("failed to encode page: %w", err)
	}

	key := ticketPageKey(userID, page, limit)
	span.SetAttributes(attribute.String("cache.key", key))

	if err := r.client.Set(ctx, key, raw, r.pageTTL).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache set failed")
		return fmt.Errorf("failed to cache page: %w", err)
	}

	span.SetStatus(codes.Ok, "page cached")
	return nil
}

func (r *RedisCacheRepository) GetTicket(ctx context.Context, bookingID string) (*domain.TicketView, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ticket.get")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := ticketKey(bookingID)
	span.SetAttributes(attribute.String("cache.key", key))

	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			span.SetStatus(codes.Ok, "cache miss")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache get failed")
		return nil, fmt.Errorf("failed to get cached ticket: %w", err)
	}

	var view domain.TicketView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache entry corrupt")
		return nil, fmt.Errorf("failed to decode cached ticket: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	span.SetStatus(codes.Ok, "cache hit")
	return &view, nil
}

func (r *RedisCacheRepository) SetTicket(ctx context.Context, view *domain.TicketView) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ticket.set")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := json.Marshal(view)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("failed to encode ticket: %w", err)
	}

	key := ticketKey(view.BookingID)
	span.SetAttributes(attribute.String("cache.key", key))

	if err := r.client.Set(ctx, key, raw, r.ticketTTL).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache set failed")
		return fmt.Errorf("failed to cache ticket: %w", err)
	}

	span.SetStatus(codes.Ok, "ticket cached")
	return nil
}

func (r *RedisCacheRepository) InvalidateTicket(ctx context.Context, bookingID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ticket.invalidate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := ticketKey(bookingID)
	span.SetAttributes(attribute.String("cache.key", key))

	if err := r.client.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache delete failed")
		return fmt.Errorf("failed to invalidate ticket: %w", err)
	}

	span.SetStatus(codes.Ok, "ticket invalidated")
	return nil
}

func (r *RedisCacheRepository) InvalidateUserTickets(ctx context.Context, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.user_tickets.invalidate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	prefix := userTicketsPrefix(userID)
	span.SetAttributes(attribute.String("cache.prefix", prefix))

	deleted, err := r.client.DeleteByPrefix(ctx, prefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prefix delete failed")
		return fmt.Errorf("failed to invalidate user tickets: %w", err)
	}

	span.SetAttributes(attribute.Int64("cache.deleted", deleted))
	span.SetStatus(codes.Ok, "user tickets invalidated")
	return nil
}

func (r *RedisCacheRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
