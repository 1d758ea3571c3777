package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/metrics"
	"github.com/transitgo/ticketing-service/internal/repository"
	"github.com/transitgo/ticketing-service/pkg/logger"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// Pagination bounds for ticket listings
const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ListTicketsQuery asks for one page of a user's tickets. Status filters
// when non-empty.
type ListTicketsQuery struct {
	UserID string
	Page   int
	Limit  int
	Status string
}

// GetTicketQuery asks for one ticket. UserID empty skips the ownership
// check (admins).
type GetTicketQuery struct {
	BookingID string
	UserID    string
}

// TicketQueryService serves the read side from the cache and the read
// model. The cache is best-effort: any cache failure falls through to
// the read store and is only logged.
type TicketQueryService struct {
	readRepo repository.ReadModelRepository
	cache    repository.TicketCacheRepository
	metrics  *metrics.TicketMetrics
	log      *logger.Logger
}

func NewTicketQueryService(
	readRepo repository.ReadModelRepository,
	cache repository.TicketCacheRepository,
	m *metrics.TicketMetrics,
) *TicketQueryService {
	return &TicketQueryService{
		readRepo: readRepo,
		cache:    cache,
		metrics:  m,
		log:      logger.Get(),
	}
}

// ListMyTickets returns one page of the user's tickets ordered newest
// first. Unfiltered pages are cached; a status filter always hits the
// read store so filtered views never go stale.
func (s *TicketQueryService) ListMyTickets(ctx context.Context, q ListTicketsQuery) (*domain.TicketPage, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.list_my_tickets")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", q.UserID),
		attribute.Int("page", q.Page),
		attribute.Int("limit", q.Limit),
	)

	if q.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if q.Page < 1 {
		span.SetStatus(codes.Error, "invalid page")
		return nil, domain.NewBadRequestError("page must be at least 1")
	}

	limit := q.Limit
	switch {
	case limit == 0:
		limit = defaultPageLimit
	case limit < 1:
		limit = 1
	case limit > maxPageLimit:
		limit = maxPageLimit
	}

	var status domain.BookingStatus
	if q.Status != "" {
		status = domain.BookingStatus(q.Status)
		if !status.IsValid() {
			span.SetStatus(codes.Error, "invalid status filter")
			return nil, domain.NewBadRequestError(fmt.Sprintf("unknown status %q", q.Status))
		}
	}

	cacheable := status == ""
	if cacheable {
		page, err := s.cache.GetTicketPage(ctx, q.UserID, q.Page, limit)
		if err != nil {
			s.log.Warn("ticket page cache read failed", zap.String("user_id", q.UserID), zap.Error(err))
		}
		if page != nil {
			s.metrics.CacheHits.Inc(ctx, attribute.String("entity", "ticket_page"))
			span.SetAttributes(attribute.Bool("cache.hit", true))
			span.SetStatus(codes.Ok, "served from cache")
			return page, nil
		}
		s.metrics.CacheMisses.Inc(ctx, attribute.String("entity", "ticket_page"))
	}

	tickets, total, err := s.readRepo.ListUserTickets(ctx, q.UserID, status, q.Page, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read store query failed")
		return nil, err
	}

	page := domain.NewTicketPage(tickets, total, q.Page, limit)

	if cacheable {
		if err := s.cache.SetTicketPage(ctx, q.UserID, q.Page, limit, page); err != nil {
			s.log.Warn("ticket page cache write failed", zap.String("user_id", q.UserID), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int64("tickets.total", total))
	span.SetStatus(codes.Ok, "served from read store")
	return page, nil
}

// GetTicket returns one ticket. The ownership check runs against the
// cached row as well, so a cache hit can never leak another user's ticket.
func (s *TicketQueryService) GetTicket(ctx context.Context, q GetTicketQuery) (*domain.TicketView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.get")
	defer span.End()

	span.SetAttributes(attribute.String("booking.id", q.BookingID))

	if q.BookingID == "" {
		return nil, domain.NewBadRequestError("bookingId is required")
	}

	view, err := s.cache.GetTicket(ctx, q.BookingID)
	if err != nil {
		s.log.Warn("ticket cache read failed", zap.String("booking_id", q.BookingID), zap.Error(err))
	}
	if view != nil {
		if q.UserID != "" && view.UserID != q.UserID {
			span.SetStatus(codes.Error, "ownership check failed")
			return nil, domain.ErrForbidden
		}
		s.metrics.CacheHits.Inc(ctx, attribute.String("entity", "ticket"))
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "served from cache")
		return view, nil
	}
	s.metrics.CacheMisses.Inc(ctx, attribute.String("entity", "ticket"))

	view, err = s.readRepo.GetTicketByID(ctx, q.BookingID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			span.SetStatus(codes.Error, "ticket not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "read store query failed")
		return nil, err
	}

	if q.UserID != "" && view.UserID != q.UserID {
		span.SetStatus(codes.Error, "ownership check failed")
		return nil, domain.ErrForbidden
	}

	if err := s.cache.SetTicket(ctx, view); err != nil {
		s.log.Warn("ticket cache write failed", zap.String("booking_id", q.BookingID), zap.Error(err))
	}

	span.SetStatus(codes.Ok, "served from read store")
	return view, nil
}
