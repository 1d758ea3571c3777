package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/transitgo/ticketing-service/internal/domain"
	"github.com/transitgo/ticketing-service/internal/dto"
	"github.com/transitgo/ticketing-service/internal/middleware"
	"github.com/transitgo/ticketing-service/internal/service"
	"github.com/transitgo/ticketing-service/pkg/response"
	"github.com/transitgo/ticketing-service/pkg/telemetry"
)

// CommandService is the write surface the handler drives
type CommandService interface {
	Book(ctx context.Context, cmd service.BookTicketCommand) (*domain.Booking, error)
	Reserve(ctx context.Context, cmd service.ReserveTicketCommand) (*domain.Booking, error)
	Confirm(ctx context.Context, cmd service.ConfirmTicketCommand) (*domain.Booking, error)
	Cancel(ctx context.Context, cmd service.CancelTicketCommand) (*domain.Booking, *float64, error)
}

// QueryService is the read surface the handler drives
type QueryService interface {
	ListMyTickets(ctx context.Context, q service.ListTicketsQuery) (*domain.TicketPage, error)
	GetTicket(ctx context.Context, q service.GetTicketQuery) (*domain.TicketView, error)
}

// TicketHandler exposes the ticket command and query endpoints
type TicketHandler struct {
	commands CommandService
	queries  QueryService
}

func NewTicketHandler(commands CommandService, queries QueryService) *TicketHandler {
	return &TicketHandler{commands: commands, queries: queries}
}

// RegisterRoutes mounts the ticket API behind the auth middleware.
// commandMiddleware (the idempotency fence) applies to the write
// endpoints only; queries are naturally safe to retry.
func (h *TicketHandler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc, commandMiddleware ...gin.HandlerFunc) {
	tickets := r.Group("/api/tickets", auth)

	commands := tickets.Group("/commands", commandMiddleware...)
	commands.POST("/book", h.Book)
	commands.POST("/reserve", h.Reserve)
	commands.POST("/confirm", h.Confirm)
	commands.POST("/cancel", h.Cancel)

	queries := tickets.Group("/queries")
	queries.GET("/my-tickets", h.MyTickets)
	queries.GET("/:bookingId", h.GetTicket)
}

// Book handles POST /api/tickets/commands/book
func (h *TicketHandler) Book(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.book")
	defer span.End()

	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.BookTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	span.SetAttributes(attribute.String("user.id", identity.UserID))

	booking, err := h.commands.Book(ctx, service.BookTicketCommand{
		UserID:         identity.UserID,
		RouteID:        req.RouteID,
		ScheduleID:     req.ScheduleID,
		SeatNumber:     req.SeatNumber,
		PassengerName:  req.PassengerName,
		PassengerEmail: req.PassengerEmail,
		PassengerPhone: req.PassengerPhone,
		Price:          req.Price,
		Currency:       req.Currency,
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.Created(c, dto.FromDomain(booking))
}

// Reserve handles POST /api/tickets/commands/reserve
func (h *TicketHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.reserve")
	defer span.End()

	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.ReserveTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	span.SetAttributes(attribute.String("user.id", identity.UserID))

	booking, err := h.commands.Reserve(ctx, service.ReserveTicketCommand{
		BookTicketCommand: service.BookTicketCommand{
			UserID:         identity.UserID,
			RouteID:        req.RouteID,
			ScheduleID:     req.ScheduleID,
			SeatNumber:     req.SeatNumber,
			PassengerName:  req.PassengerName,
			PassengerEmail: req.PassengerEmail,
			PassengerPhone: req.PassengerPhone,
			Price:          req.Price,
			Currency:       req.Currency,
			CorrelationID:  middleware.GetCorrelationID(c),
		},
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.Created(c, dto.FromDomain(booking))
}

// Confirm handles POST /api/tickets/commands/confirm
func (h *TicketHandler) Confirm(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.confirm")
	defer span.End()

	if _, ok := middleware.Identity(c); !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.ConfirmTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking.id", req.BookingID))

	booking, err := h.commands.Confirm(ctx, service.ConfirmTicketCommand{
		BookingID:     req.BookingID,
		PaymentID:     req.PaymentID,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.Success(c, dto.FromDomain(booking))
}

// Cancel handles POST /api/tickets/commands/cancel. Admins may cancel any
// booking; everyone else only their own.
func (h *TicketHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.cancel")
	defer span.End()

	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req dto.CancelTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking.id", req.BookingID))

	ownerID := identity.UserID
	if identity.IsAdmin() {
		ownerID = ""
	}

	booking, refund, err := h.commands.Cancel(ctx, service.CancelTicketCommand{
		BookingID:     req.BookingID,
		UserID:        ownerID,
		Reason:        req.Reason,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.Success(c, &dto.CancelTicketResponse{
		TicketResponse: *dto.FromDomain(booking),
		RefundAmount:   refund,
	})
}

// MyTickets handles GET /api/tickets/queries/my-tickets
func (h *TicketHandler) MyTickets(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.my_tickets")
	defer span.End()

	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.BadRequest(c, "page must be an integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.BadRequest(c, "limit must be an integer")
		return
	}

	span.SetAttributes(
		attribute.String("user.id", identity.UserID),
		attribute.Int("page", page),
	)

	result, err := h.queries.ListMyTickets(ctx, service.ListTicketsQuery{
		UserID: identity.UserID,
		Page:   page,
		Limit:  limit,
		Status: c.Query("status"),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.SuccessWithMeta(c, dto.FromTicketPage(result), &response.Meta{
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
	})
}

// GetTicket handles GET /api/tickets/queries/:bookingId
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.get")
	defer span.End()

	identity, ok := middleware.Identity(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	bookingID := c.Param("bookingId")
	span.SetAttributes(attribute.String("booking.id", bookingID))

	ownerID := identity.UserID
	if identity.IsAdmin() {
		ownerID = ""
	}

	view, err := h.queries.GetTicket(ctx, service.GetTicketQuery{
		BookingID: bookingID,
		UserID:    ownerID,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	response.Success(c, view)
}

// respondBindingError separates schema violations (422) from malformed
// bodies (400)
func respondBindingError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	response.BadRequest(c, "invalid request body")
}

// respondDomainError maps domain errors onto wire status codes. Anything
// unclassified is treated as an infrastructure outage.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case domain.IsValidationError(err):
		response.UnprocessableEntity(c, err.Error())
	case domain.IsBadRequestError(err):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		response.Unauthorized(c, err.Error())
	case domain.IsForbiddenError(err):
		response.Forbidden(c, "you do not own this booking")
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsInsufficientSeatsError(err):
		response.Conflict(c, "INSUFFICIENT_SEATS", "the requested seat is not available")
	case domain.IsInvalidStateError(err):
		response.Conflict(c, "INVALID_BOOKING_STATE", err.Error())
	case domain.IsConflictError(err):
		response.Conflict(c, "CONFLICT", err.Error())
	default:
		response.ServiceUnavailable(c, "service temporarily unavailable")
	}
}
