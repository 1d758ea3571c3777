package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/metrics"
)

// mockReadRepo is a function-field mock of repository.ReadModelRepository
type mockReadRepo struct {
	ListUserTicketsFn func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error)
	GetTicketByIDFn   func(ctx context.Context, bookingID string) (*domain.TicketView, error)
}

func (m *mockReadRepo) UpsertTicketView(ctx context.Context, view *domain.TicketView) error {
	return nil
}

func (m *mockReadRepo) SetTicketStatus(ctx context.Context, bookingID string, status domain.BookingStatus, updatedAt time.Time) error {
	return nil
}

func (m *mockReadRepo) AdjustBookedSeats(ctx context.Context, scheduleID string, delta int) error {
	return nil
}

func (m *mockReadRepo) GetCheckpoint(ctx context.Context, projectionName string) (*domain.ProjectionCheckpoint, error) {
	return nil, nil
}

func (m *mockReadRepo) UpsertCheckpoint(ctx context.Context, cp *domain.ProjectionCheckpoint) error {
	return nil
}

func (m *mockReadRepo) ListUserTickets(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
	return m.ListUserTicketsFn(ctx, userID, status, page, limit)
}

func (m *mockReadRepo) GetTicketByID(ctx context.Context, bookingID string) (*domain.TicketView, error) {
	return m.GetTicketByIDFn(ctx, bookingID)
}

func (m *mockReadRepo) HealthCheck(ctx context.Context) error { return nil }

// mockTicketCache is an in-memory stand-in for the redis cache
type mockTicketCache struct {
	pages     map[string]*domain.TicketPage
	tickets   map[string]*domain.TicketView
	readErr   error
	pageSets  int
	ticketSet int
}

func newMockTicketCache() *mockTicketCache {
	return &mockTicketCache{
		pages:   make(map[string]*domain.TicketPage),
		tickets: make(map[string]*domain.TicketView),
	}
}

func (m *mockTicketCache) pageKey(userID string, page, limit int) string {
	return fmt.Sprintf("%s:%d:%d", userID, page, limit)
}

func (m *mockTicketCache) GetTicketPage(ctx context.Context, userID string, page, limit int) (*domain.TicketPage, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.pages[m.pageKey(userID, page, limit)], nil
}

func (m *mockTicketCache) SetTicketPage(ctx context.Context, userID string, page, limit int, pageData *domain.TicketPage) error {
	m.pageSets++
	m.pages[m.pageKey(userID, page, limit)] = pageData
	return nil
}

func (m *mockTicketCache) GetTicket(ctx context.Context, bookingID string) (*domain.TicketView, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.tickets[bookingID], nil
}

func (m *mockTicketCache) SetTicket(ctx context.Context, view *domain.TicketView) error {
	m.ticketSet++
	m.tickets[view.BookingID] = view
	return nil
}

func (m *mockTicketCache) InvalidateTicket(ctx context.Context, bookingID string) error {
	delete(m.tickets, bookingID)
	return nil
}

func (m *mockTicketCache) InvalidateUserTickets(ctx context.Context, userID string) error {
	return nil
}

func (m *mockTicketCache) HealthCheck(ctx context.Context) error { return nil }

func ticketViewFixture(bookingID, userID string) *domain.TicketView {
	now := time.Now()
	return &domain.TicketView{
		BookingID:     bookingID,
		UserID:        userID,
		RouteID:       "route-1",
		ScheduleID:    "schedule-1",
		SeatNumber:    "A1",
		PassengerName: "Alice Example",
		Status:        domain.BookingStatusConfirmed,
		Price:         25.00,
		Currency:      "USD",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestTicketQueryService_ListMyTickets(t *testing.T) {
	t.Run("miss populates cache", func(t *testing.T) {
		repo := &mockReadRepo{
			ListUserTicketsFn: func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
				assert.Equal(t, "user-1", userID)
				assert.Equal(t, domain.BookingStatus(""), status)
				assert.Equal(t, 10, limit, "zero limit defaults")
				return []*domain.TicketView{ticketViewFixture("b-1", "user-1")}, 21, nil
			},
		}
		cache := newMockTicketCache()
		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		page, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 1})
		require.NoError(t, err)

		assert.Len(t, page.Tickets, 1)
		assert.Equal(t, int64(21), page.Total)
		assert.Equal(t, 3, page.TotalPages)
		assert.Equal(t, 1, cache.pageSets)
	})

	t.Run("hit skips read store", func(t *testing.T) {
		repo := &mockReadRepo{
			ListUserTicketsFn: func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
				t.Fatal("read store must not be hit on a cache hit")
				return nil, 0, nil
			},
		}
		cache := newMockTicketCache()
		cached := domain.NewTicketPage([]*domain.TicketView{ticketViewFixture("b-1", "user-1")}, 1, 1, 10)
		cache.pages[cache.pageKey("user-1", 1, 10)] = cached

		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		page, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 1})
		require.NoError(t, err)
		assert.Same(t, cached, page)
	})

	t.Run("status filter bypasses cache", func(t *testing.T) {
		var queried domain.BookingStatus
		repo := &mockReadRepo{
			ListUserTicketsFn: func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
				queried = status
				return nil, 0, nil
			},
		}
		cache := newMockTicketCache()
		cache.pages[cache.pageKey("user-1", 1, 10)] = domain.NewTicketPage(nil, 99, 1, 10)

		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		page, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{
			UserID: "user-1",
			Page:   1,
			Status: "CONFIRMED",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.BookingStatusConfirmed, queried)
		assert.Equal(t, int64(0), page.Total, "stale cached page ignored")
		assert.Equal(t, 0, cache.pageSets, "filtered pages are not cached")
	})

	t.Run("cache failure falls through", func(t *testing.T) {
		repo := &mockReadRepo{
			ListUserTicketsFn: func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
				return nil, 0, nil
			},
		}
		cache := newMockTicketCache()
		cache.readErr = errors.New("redis down")

		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		_, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 1})
		assert.NoError(t, err)
	})

	t.Run("limit clamped to maximum", func(t *testing.T) {
		repo := &mockReadRepo{
			ListUserTicketsFn: func(ctx context.Context, userID string, status domain.BookingStatus, page, limit int) ([]*domain.TicketView, int64, error) {
				assert.Equal(t, 100, limit)
				return nil, 0, nil
			},
		}
		svc := NewTicketQueryService(repo, newMockTicketCache(), metrics.NewTicketMetrics())

		_, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 1, Limit: 500})
		assert.NoError(t, err)
	})

	t.Run("invalid input", func(t *testing.T) {
		svc := NewTicketQueryService(&mockReadRepo{}, newMockTicketCache(), metrics.NewTicketMetrics())

		_, err := svc.ListMyTickets(context.Background(), ListTicketsQuery{Page: 1})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		_, err = svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 0})
		assert.True(t, domain.IsBadRequestError(err))

		_, err = svc.ListMyTickets(context.Background(), ListTicketsQuery{UserID: "user-1", Page: 1, Status: "SHIPPED"})
		assert.True(t, domain.IsBadRequestError(err))
	})
}

func TestTicketQueryService_GetTicket(t *testing.T) {
	t.Run("miss reads store and populates cache", func(t *testing.T) {
		view := ticketViewFixture("b-1", "user-1")
		repo := &mockReadRepo{
			GetTicketByIDFn: func(ctx context.Context, bookingID string) (*domain.TicketView, error) {
				return view, nil
			},
		}
		cache := newMockTicketCache()
		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		got, err := svc.GetTicket(context.Background(), GetTicketQuery{BookingID: "b-1", UserID: "user-1"})
		require.NoError(t, err)
		assert.Same(t, view, got)
		assert.Equal(t, 1, cache.ticketSet)
	})

	t.Run("cache hit enforces ownership", func(t *testing.T) {
		repo := &mockReadRepo{
			GetTicketByIDFn: func(ctx context.Context, bookingID string) (*domain.TicketView, error) {
				t.Fatal("read store must not be hit when the cached row resolves the request")
				return nil, nil
			},
		}
		cache := newMockTicketCache()
		cache.tickets["b-1"] = ticketViewFixture("b-1", "user-1")

		svc := NewTicketQueryService(repo, cache, metrics.NewTicketMetrics())

		_, err := svc.GetTicket(context.Background(), GetTicketQuery{BookingID: "b-1", UserID: "intruder"})
		assert.True(t, domain.IsForbiddenError(err))
	})

	t.Run("admin skips ownership", func(t *testing.T) {
		cache := newMockTicketCache()
		cache.tickets["b-1"] = ticketViewFixture("b-1", "user-1")

		svc := NewTicketQueryService(&mockReadRepo{}, cache, metrics.NewTicketMetrics())

		got, err := svc.GetTicket(context.Background(), GetTicketQuery{BookingID: "b-1"})
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
	})

	t.Run("store miss maps to not found", func(t *testing.T) {
		repo := &mockReadRepo{
			GetTicketByIDFn: func(ctx context.Context, bookingID string) (*domain.TicketView, error) {
				return nil, domain.ErrTicketNotFound
			},
		}
		svc := NewTicketQueryService(repo, newMockTicketCache(), metrics.NewTicketMetrics())

		_, err := svc.GetTicket(context.Background(), GetTicketQuery{BookingID: "missing", UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	})
}
