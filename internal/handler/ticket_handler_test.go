package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/middleware"
	"github.com/transitgo/ticketing-service/internal/service"
	"github.com/transitgo/ticketing-service/pkg/response"
)

// mockCommandService is a function-field mock of CommandService
type mockCommandService struct {
	BookFn    func(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error)
	ReserveFn func(ctx context.Context, cmd service.ReserveTicketCommand) (*domain.Booking, error)
	ConfirmFn func(ctx context.Context, cmd service.ConfirmTicketCommand) (*domain.Booking, error)
	CancelFn  func(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error)
}

func (m *mockCommandService) Book(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error) {
	return m.BookFn(ctx, cmd)
}

func (m *mockCommandService) Reserve(ctx context.Context, cmd service.ReserveTicketCommand) (*domain.Booking, error) {
	return m.ReserveFn(ctx, cmd)
}

func (m *mockCommandService) Confirm(ctx context.Context, cmd service.ConfirmTicketCommand) (*domain.Booking, error) {
	return m.ConfirmFn(ctx, cmd)
}

func (m *mockCommandService) Cancel(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error) {
	return m.CancelFn(ctx, cmd)
}

// mockQueryService is a function-field mock of QueryService
type mockQueryService struct {
	ListFn func(ctx context.Context, q service.ListTicketsQuery) (*domain.TicketPage, error)
	GetFn  func(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error)
}

func (m *mockQueryService) ListMyTickets(ctx context.Context, q service.ListTicketsQuery) (*domain.TicketPage, error) {
	return m.ListFn(ctx, q)
}

func (m *mockQueryService) GetTicket(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error) {
	return m.GetFn(ctx, q)
}

// identityStub injects a fixed caller identity, standing in for the JWT
// middleware
func identityStub(identity *middleware.AuthenticatedIdentity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity != nil {
			c.Set(middleware.IdentityKey, identity)
		}
		c.Next()
	}
}

func userIdentity() *middleware.AuthenticatedIdentity {
	return &middleware.AuthenticatedIdentity{UserID: "user-1", Email: "alice@example.com", Role: middleware.RoleUser}
}

func adminIdentity() *middleware.AuthenticatedIdentity {
	return &middleware.AuthenticatedIdentity{UserID: "admin-1", Role: middleware.RoleAdmin}
}

func setupRouter(commands CommandService, queries QueryService, identity *middleware.AuthenticatedIdentity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewTicketHandler(commands, queries).RegisterRoutes(r, identityStub(identity))
	return r
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) *response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func bookingFixture() *domain.Booking {
	now := time.Now()
	return domain.NewBooking(domain.BookingParams{
		UserID:         "user-1",
		RouteID:        "route-1",
		ScheduleID:     "schedule-1",
		SeatNumber:     "A1",
		PassengerName:  "Alice Example",
		PassengerEmail: "alice@example.com",
		Price:          25.00,
		Currency:       "USD",
	}, now)
}

func validBookBody() map[string]interface{} {
	return map[string]interface{}{
		"routeId":        "route-1",
		"scheduleId":     "schedule-1",
		"seatNumber":     "A1",
		"passengerName":  "Alice Example",
		"passengerEmail": "alice@example.com",
		"price":          25.00,
		"currency":       "USD",
	}
}

func TestTicketHandler_Book(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		var captured service.BookTicketCommand
		commands := &mockCommandService{
			BookFn: func(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error) {
				captured = cmd
				return bookingFixture(), nil
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", validBookBody())
		require.Equal(t, http.StatusCreated, w.Code)

		assert.Equal(t, "user-1", captured.UserID, "user id comes from the token, never the body")
		assert.Equal(t, "A1", captured.SeatNumber)

		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		assert.NotNil(t, resp.Data)
	})

	t.Run("no identity", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, nil)

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", validBookBody())
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", "{not json")
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeResponse(t, w)
		assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
	})

	t.Run("schema violation", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, userIdentity())

		body := validBookBody()
		delete(body, "passengerName")

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", body)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		resp := decodeResponse(t, w)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	})

	t.Run("seat taken", func(t *testing.T) {
		commands := &mockCommandService{
			BookFn: func(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error) {
				return nil, domain.ErrSeatNotAvailable
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", validBookBody())
		require.Equal(t, http.StatusConflict, w.Code)

		resp := decodeResponse(t, w)
		assert.Equal(t, "INSUFFICIENT_SEATS", resp.Error.Code)
	})

	t.Run("infrastructure outage", func(t *testing.T) {
		commands := &mockCommandService{
			BookFn: func(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error) {
				return nil, errors.New("connection refused")
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/book", validBookBody())
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		resp := decodeResponse(t, w)
		assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	})
}

func TestTicketHandler_Reserve(t *testing.T) {
	t.Run("duration forwarded", func(t *testing.T) {
		var captured service.ReserveTicketCommand
		commands := &mockCommandService{
			ReserveFn: func(ctx context.Context, cmd service.ReserveTicketCommand) (*domain.Booking, error) {
				captured = cmd
				return bookingFixture(), nil
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		body := validBookBody()
		body["durationMinutes"] = 30

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/reserve", body)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 30*time.Minute, captured.Duration)
	})

	t.Run("duration below minimum rejected at the edge", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, userIdentity())

		body := validBookBody()
		body["durationMinutes"] = 1

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/reserve", body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestTicketHandler_Confirm(t *testing.T) {
	bookingID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		var captured service.ConfirmTicketCommand
		commands := &mockCommandService{
			ConfirmFn: func(ctx context.Context, cmd service.ConfirmTicketCommand) (*domain.Booking, error) {
				captured = cmd
				b := bookingFixture()
				_ = b.Confirm(cmd.PaymentID, time.Now())
				return b, nil
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/confirm", map[string]string{
			"bookingId": bookingID,
			"paymentId": "pay-1",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, bookingID, captured.BookingID)
		assert.Equal(t, "pay-1", captured.PaymentID)
	})

	t.Run("non-uuid booking id", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/confirm", map[string]string{
			"bookingId": "not-a-uuid",
			"paymentId": "pay-1",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("wrong state", func(t *testing.T) {
		commands := &mockCommandService{
			ConfirmFn: func(ctx context.Context, cmd service.ConfirmTicketCommand) (*domain.Booking, error) {
				return nil, domain.NewInvalidStateError(domain.BookingStatusCancelled, "cannot confirm")
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/confirm", map[string]string{
			"bookingId": bookingID,
			"paymentId": "pay-1",
		})
		require.Equal(t, http.StatusConflict, w.Code)

		resp := decodeResponse(t, w)
		assert.Equal(t, "INVALID_BOOKING_STATE", resp.Error.Code)
	})
}

func TestTicketHandler_Cancel(t *testing.T) {
	bookingID := uuid.New().String()

	t.Run("owner cancel includes refund", func(t *testing.T) {
		var captured service.CancelTicketCommand
		refund := 25.00
		commands := &mockCommandService{
			CancelFn: func(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error) {
				captured = cmd
				b := bookingFixture()
				_, _ = b.Cancel(time.Now())
				return b, &refund, nil
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/cancel", map[string]string{
			"bookingId": bookingID,
			"reason":    "plans changed",
		})
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "user-1", captured.UserID, "ownership enforced for plain users")
		assert.Equal(t, "plans changed", captured.Reason)

		var data struct {
			RefundAmount *float64 `json:"refundAmount"`
		}
		resp := decodeResponse(t, w)
		raw, _ := json.Marshal(resp.Data)
		require.NoError(t, json.Unmarshal(raw, &data))
		require.NotNil(t, data.RefundAmount)
		assert.Equal(t, 25.00, *data.RefundAmount)
	})

	t.Run("admin bypasses ownership", func(t *testing.T) {
		var captured service.CancelTicketCommand
		commands := &mockCommandService{
			CancelFn: func(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error) {
				captured = cmd
				return bookingFixture(), nil, nil
			},
		}
		r := setupRouter(commands, &mockQueryService{}, adminIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/cancel", map[string]string{
			"bookingId": bookingID,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, captured.UserID)
	})

	t.Run("not the owner", func(t *testing.T) {
		commands := &mockCommandService{
			CancelFn: func(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error) {
				return nil, nil, domain.ErrForbidden
			},
		}
		r := setupRouter(commands, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodPost, "/api/tickets/commands/cancel", map[string]string{
			"bookingId": bookingID,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestTicketHandler_MyTickets(t *testing.T) {
	t.Run("query forwarded with meta", func(t *testing.T) {
		var captured service.ListTicketsQuery
		queries := &mockQueryService{
			ListFn: func(ctx context.Context, q service.ListTicketsQuery) (*domain.TicketPage, error) {
				captured = q
				return domain.NewTicketPage(nil, 42, q.Page, 10), nil
			},
		}
		r := setupRouter(&mockCommandService{}, queries, userIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/my-tickets?page=2&limit=10&status=CONFIRMED", nil)
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "user-1", captured.UserID)
		assert.Equal(t, 2, captured.Page)
		assert.Equal(t, 10, captured.Limit)
		assert.Equal(t, "CONFIRMED", captured.Status)

		var meta struct {
			Page  int   `json:"page"`
			Total int64 `json:"total"`
		}
		resp := decodeResponse(t, w)
		raw, _ := json.Marshal(resp.Meta)
		require.NoError(t, json.Unmarshal(raw, &meta))
		assert.Equal(t, 2, meta.Page)
		assert.Equal(t, int64(42), meta.Total)
	})

	t.Run("non-numeric page", func(t *testing.T) {
		r := setupRouter(&mockCommandService{}, &mockQueryService{}, userIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/my-tickets?page=two", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("defaults applied", func(t *testing.T) {
		var captured service.ListTicketsQuery
		queries := &mockQueryService{
			ListFn: func(ctx context.Context, q service.ListTicketsQuery) (*domain.TicketPage, error) {
				captured = q
				return domain.NewTicketPage(nil, 0, q.Page, 10), nil
			},
		}
		r := setupRouter(&mockCommandService{}, queries, userIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/my-tickets", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, captured.Page)
		assert.Equal(t, 0, captured.Limit, "limit defaulting happens in the query core")
	})
}

func TestTicketHandler_GetTicket(t *testing.T) {
	t.Run("owner scoped", func(t *testing.T) {
		var captured service.GetTicketQuery
		queries := &mockQueryService{
			GetFn: func(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error) {
				captured = q
				return &domain.TicketView{BookingID: q.BookingID, UserID: "user-1"}, nil
			},
		}
		r := setupRouter(&mockCommandService{}, queries, userIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/b-123", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "b-123", captured.BookingID)
		assert.Equal(t, "user-1", captured.UserID)
	})

	t.Run("admin unscoped", func(t *testing.T) {
		var captured service.GetTicketQuery
		queries := &mockQueryService{
			GetFn: func(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error) {
				captured = q
				return &domain.TicketView{BookingID: q.BookingID}, nil
			},
		}
		r := setupRouter(&mockCommandService{}, queries, adminIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/b-123", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, captured.UserID)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		queries := &mockQueryService{
			GetFn: func(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error) {
				return nil, domain.ErrTicketNotFound
			},
		}
		r := setupRouter(&mockCommandService{}, queries, userIdentity())

		w := doJSON(r, http.MethodGet, "/api/tickets/queries/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
