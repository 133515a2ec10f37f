// Package httpserver exposes the booking, payment, and webhook surface over
// HTTP. Webhook responses are deliberately terse: a provider retrying on
// non-2xx needs no detail, and a forger gets none.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

// bookingService is the booking surface the handlers need.
type bookingService interface {
	CreateBooking(ctx context.Context, input booking.CreateBookingInput) (booking.Booking, error)
	CancelBooking(ctx context.Context, bookingID booking.BookingID) error
	Availability(ctx context.Context, propertyID booking.PropertyID, from booking.Day, to booking.Day) ([]booking.AvailabilityDay, error)
}

// paymentOrchestrator is the payment initiation surface the handlers need.
type paymentOrchestrator interface {
	InitiatePayment(ctx context.Context, bookingID booking.BookingID, provider payment.Provider) (payment.InitiatedPayment, error)
}

// webhookReconciler consumes raw gateway notifications.
type webhookReconciler interface {
	HandleWebhook(ctx context.Context, provider payment.Provider, header http.Header, body []byte) (payment.ReconcileOutcome, error)
}

// Server hosts the HTTP API.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	handler *httpHandler
}

// NewServer validates the configuration and wires the server.
func NewServer(cfg Config, logger *zap.Logger, bookings bookingService, payments paymentOrchestrator, webhooks webhookReconciler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bookings == nil {
		return nil, fmt.Errorf("booking service is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment orchestrator is required")
	}
	if webhooks == nil {
		return nil, fmt.Errorf("webhook reconciler is required")
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		handler: &httpHandler{
			logger:   logger,
			bookings: bookings,
			payments: payments,
			webhooks: webhooks,
		},
	}, nil
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/bookings", server.handler.handleCreateBooking)
	api.POST("/bookings/:id/cancel", server.handler.handleCancelBooking)
	api.GET("/properties/:id/availability", server.handler.handleAvailability)
	api.POST("/payments", server.handler.handleInitiatePayment)

	router.POST("/webhooks/:provider", server.handler.handleWebhook)

	return router
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("booking api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownGrace)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type httpHandler struct {
	logger   *zap.Logger
	bookings bookingService
	payments paymentOrchestrator
	webhooks webhookReconciler
}

// createBookingRequest deliberately has no instant-confirm field: guest
// bookings always start pending and only a verified payment confirms them.
type createBookingRequest struct {
	PropertyID  string `json:"property_id"`
	CustomerID  string `json:"customer_id"`
	CheckIn     string `json:"check_in"`
	CheckOut    string `json:"check_out"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type initiatePaymentRequest struct {
	BookingID string `json:"booking_id"`
	Provider  string `json:"provider"`
}

type bookingPayload struct {
	BookingID       string `json:"booking_id"`
	PropertyID      string `json:"property_id"`
	CustomerID      string `json:"customer_id"`
	CheckIn         string `json:"check_in"`
	CheckOut        string `json:"check_out"`
	Status          string `json:"status"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	PaymentProvider string `json:"payment_provider,omitempty"`
}

type availabilityDayPayload struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
	BookingID string `json:"booking_id,omitempty"`
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	input, err := parseCreateBookingRequest(request)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking", err.Error()))
		return
	}

	created, err := handler.bookings.CreateBooking(ctx.Request.Context(), input)
	if err != nil {
		if errors.Is(err, booking.ErrBookingOverlap) {
			ctx.JSON(http.StatusConflict, errorResponse("dates_unavailable", "requested dates overlap an existing booking"))
			return
		}
		handler.logger.Error("create booking failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("booking_error", "booking could not be created"))
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": toBookingPayload(created)})
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	bookingID, err := booking.NewBookingID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking id is required"))
		return
	}

	if err := handler.bookings.CancelBooking(ctx.Request.Context(), bookingID); err != nil {
		switch {
		case errors.Is(err, booking.ErrBookingNotFound):
			ctx.JSON(http.StatusNotFound, errorResponse("booking_not_found", "no such booking"))
		case errors.Is(err, booking.ErrBookingClosed):
			ctx.JSON(http.StatusConflict, errorResponse("booking_closed", "booking is no longer active"))
		default:
			handler.logger.Error("cancel booking failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("booking_error", "booking could not be cancelled"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": booking.BookingStatusCancelled.String()})
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	propertyID, err := booking.NewPropertyID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_property_id", "property id is required"))
		return
	}
	from, err := booking.ParseDay(ctx.Query("from"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_window", "from must be a 2006-01-02 date"))
		return
	}
	to, err := booking.ParseDay(ctx.Query("to"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_window", "to must be a 2006-01-02 date"))
		return
	}

	window, err := handler.bookings.Availability(ctx.Request.Context(), propertyID, from, to)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidStayRange) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_window", "to must follow from"))
			return
		}
		handler.logger.Error("availability lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("availability_error", "availability unavailable"))
		return
	}
	days := make([]availabilityDayPayload, 0, len(window))
	for _, entry := range window {
		days = append(days, availabilityDayPayload{
			Date:      entry.Day.String(),
			Available: entry.Available,
			BookingID: entry.BookingID,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"property_id": propertyID.String(), "days": days})
}

func (handler *httpHandler) handleInitiatePayment(ctx *gin.Context) {
	var request initiatePaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := booking.NewBookingID(request.BookingID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking id is required"))
		return
	}
	provider, err := payment.ParseProvider(request.Provider)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("unsupported_provider", "unknown payment provider"))
		return
	}

	initiated, err := handler.payments.InitiatePayment(ctx.Request.Context(), bookingID, provider)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnsupportedProvider):
			ctx.JSON(http.StatusBadRequest, errorResponse("unsupported_provider", "unknown payment provider"))
		case errors.Is(err, booking.ErrBookingNotFound):
			ctx.JSON(http.StatusNotFound, errorResponse("booking_not_found", "no such booking"))
		case errors.Is(err, booking.ErrBookingClosed):
			ctx.JSON(http.StatusConflict, errorResponse("booking_closed", "booking is no longer payable"))
		case errors.Is(err, payment.ErrGatewayUnavailable):
			ctx.JSON(http.StatusBadGateway, errorResponse("gateway_unavailable", "payment gateway unavailable"))
		default:
			handler.logger.Error("initiate payment failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("payment_error", "payment could not be initiated"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payment_id":   initiated.Payment.ID,
		"reference":    initiated.Payment.Reference.String(),
		"redirect_url": initiated.Redirect.RedirectURL,
		"qr_payload":   initiated.Redirect.QRPayload,
	})
}

// handleWebhook acknowledges with a bare body the way gateway retry loops
// expect. Failure responses carry no diagnostic detail.
func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	provider, err := payment.ParseProvider(ctx.Param("provider"))
	if err != nil {
		ctx.String(http.StatusNotFound, "NOT FOUND")
		return
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.String(http.StatusBadRequest, "BAD REQUEST")
		return
	}

	_, err = handler.webhooks.HandleWebhook(ctx.Request.Context(), provider, ctx.Request.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			ctx.String(http.StatusNotFound, "NOT FOUND")
		case errors.Is(err, payment.ErrSignature), errors.Is(err, payment.ErrMalformedWebhook), errors.Is(err, payment.ErrInvalidPaymentStatus):
			ctx.String(http.StatusBadRequest, "BAD REQUEST")
		default:
			handler.logger.Error("webhook processing failed", zap.String("provider", provider.String()), zap.Error(err))
			ctx.String(http.StatusInternalServerError, "ERROR")
		}
		return
	}
	ctx.String(http.StatusOK, "OK")
}

func parseCreateBookingRequest(request createBookingRequest) (booking.CreateBookingInput, error) {
	propertyID, err := booking.NewPropertyID(request.PropertyID)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	customerID, err := booking.NewCustomerID(request.CustomerID)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	checkIn, err := booking.ParseDay(request.CheckIn)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	checkOut, err := booking.ParseDay(request.CheckOut)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	stay, err := booking.NewStayRange(checkIn, checkOut)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	amount, err := booking.NewAmountCents(request.AmountCents)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	currency, err := booking.NewCurrency(request.Currency)
	if err != nil {
		return booking.CreateBookingInput{}, err
	}
	return booking.CreateBookingInput{
		PropertyID:  propertyID,
		CustomerID:  customerID,
		Stay:        stay,
		AmountCents: amount,
		Currency:    currency,
	}, nil
}

func toBookingPayload(aggregate booking.Booking) bookingPayload {
	return bookingPayload{
		BookingID:       aggregate.ID.String(),
		PropertyID:      aggregate.PropertyID.String(),
		CustomerID:      aggregate.CustomerID.String(),
		CheckIn:         aggregate.Stay.CheckIn().String(),
		CheckOut:        aggregate.Stay.CheckOut().String(),
		Status:          aggregate.Status.String(),
		AmountCents:     aggregate.AmountCents.Int64(),
		Currency:        aggregate.Currency.String(),
		PaymentProvider: aggregate.PaymentProvider,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
