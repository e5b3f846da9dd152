package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"messhall/internal/access"
	"messhall/internal/config"
	"messhall/internal/domain"
	"messhall/internal/metrics"
	"messhall/internal/models"
	"messhall/internal/notify"
	"messhall/internal/report"
	"messhall/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxReportDays = 93
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Services bundles the workflows exposed over HTTP.
type Services struct {
	Bookings      *service.BookingService
	Catalog       *service.CatalogService
	Promotions    *service.PromotionService
	Notifications *notify.Recorder
	Reports       *report.Exporter
	Users         domain.UserStore
	// Health reports readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

// HTTPServer exposes the JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	policy  *access.Policy
	auth    *Authenticator
	limiter *rateLimiter
	server  *http.Server
	logger  zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, policy *access.Policy, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		policy:  policy,
		auth:    NewAuthenticator(cfg.Auth, svc.Users),
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger.With().Str("component", "http").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the routed handler with logging applied.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/v1/meals", s.guarded(service.OpListMeals, s.handleListMeals))
	mux.HandleFunc("POST /api/v1/meals", s.guarded(service.OpManageCatalog, s.handleCreateMeal))
	mux.HandleFunc("PATCH /api/v1/meals/{id}", s.guarded(service.OpManageCatalog, s.handleUpdateMeal))
	mux.HandleFunc("POST /api/v1/meals/{id}/availability", s.guarded(service.OpManageCatalog, s.handleSetAvailability))

	mux.HandleFunc("POST /api/v1/bookings", s.guarded(service.OpCreateBooking, s.handleCreateBooking))
	mux.HandleFunc("POST /api/v1/bookings/day", s.guarded(service.OpCreateBooking, s.handleDayBooking))
	mux.HandleFunc("POST /api/v1/bookings/week", s.guarded(service.OpCreateBooking, s.handleWeekBooking))
	mux.HandleFunc("GET /api/v1/bookings/mine", s.guarded(service.OpListOwnBookings, s.handleMyBookings))
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.guarded(service.OpListOwnBookings, s.handleGetBooking))
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.guarded(service.OpCancelBooking, s.handleCancelBooking))
	mux.HandleFunc("POST /api/v1/bookings/{id}/consume", s.guarded(service.OpMarkConsumed, s.handleConsumeBooking))
	mux.HandleFunc("POST /api/v1/bookings/{id}/payment", s.guarded(service.OpConfirmPayment, s.handleConfirmPayment))
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", s.guarded(service.OpDeleteBooking, s.handleDeleteBooking))

	mux.HandleFunc("POST /api/v1/promotions", s.guarded(service.OpRequestPromotion, s.handleRequestPromotion))
	mux.HandleFunc("GET /api/v1/promotions", s.guarded(service.OpListPromotions, s.handleListPromotions))
	mux.HandleFunc("POST /api/v1/promotions/{user_id}/approve", s.guarded(service.OpApprovePromotion, s.handleApprovePromotion))
	mux.HandleFunc("POST /api/v1/promotions/{user_id}/reject", s.guarded(service.OpRejectPromotion, s.handleRejectPromotion))

	mux.HandleFunc("GET /api/v1/notifications", s.guarded(service.OpListNotifications, s.handleListNotifications))
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", s.guarded(service.OpListNotifications, s.handleMarkNotificationRead))

	mux.HandleFunc("GET /api/v1/reports/bookings", s.guarded(service.OpExportReport, s.handleBookingReport))

	return s.loggingMiddleware(mux)
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor service.Actor)

// guarded authenticates the caller, applies the per-client rate limit and
// checks op against the access policy before calling h.
func (s *HTTPServer) guarded(op service.Operation, h actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.identify(r)
		if err != nil {
			if errors.Is(err, errMissingCredentials) || errors.Is(err, errInvalidToken) ||
				errors.Is(err, errInvalidAPIKey) || errors.Is(err, errUnknownUser) {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			s.writeDomainError(w, r, err)
			return
		}

		if !s.limiter.allow(p.key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if !p.permits(string(op)) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		if err := s.policy.Authorize(op, p.actor); err != nil {
			s.writeDomainError(w, r, err)
			return
		}

		h(w, r, p.actor)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		if err := s.svc.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mealView struct {
	*models.MealOffering
	Available int64 `json:"available"`
}

func (s *HTTPServer) handleListMeals(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	meals, err := s.svc.Catalog.ListMeals(r.Context(), date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]mealView, 0, len(meals))
	for _, m := range meals {
		out = append(out, mealView{MealOffering: m, Available: m.Remaining()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.Format(dateLayout), "meals": out})
}

func (s *HTTPServer) handleCreateMeal(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	var body createMealRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		s.writeDomainError(w, r, &badRequest{msg: "invalid price"})
		return
	}

	meal, err := s.svc.Catalog.CreateMeal(r.Context(), service.CreateMealRequest{
		Date:     date,
		Slot:     models.Slot(body.Slot),
		Name:     body.Name,
		Price:    price,
		Capacity: body.Capacity,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meal)
}

func (s *HTTPServer) handleUpdateMeal(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var body updateMealRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	req := service.UpdateMealRequest{Name: body.Name, Capacity: body.Capacity}
	if body.Price != nil {
		price, err := decimal.NewFromString(*body.Price)
		if err != nil {
			s.writeDomainError(w, r, &badRequest{msg: "invalid price"})
			return
		}
		req.Price = &price
	}

	meal, err := s.svc.Catalog.UpdateMeal(r.Context(), id, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

func (s *HTTPServer) handleSetAvailability(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var body availabilityRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.svc.Catalog.SetAvailability(r.Context(), id, *body.Available); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	avail, err := s.svc.Catalog.GetAvailability(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	var body createBookingRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.CreateBooking(r.Context(), service.CreateBookingRequest{
		UserID:         actor.UserID,
		MealID:         body.MealID,
		SpecialRequest: body.SpecialRequest,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleDayBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	var body dayBookingRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	res, err := s.svc.Bookings.CreateDayBooking(r.Context(), service.DayBookingRequest{
		UserID:         actor.UserID,
		Date:           date,
		SpecialRequest: body.SpecialRequest,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleWeekBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	var body weekBookingRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	start, err := parseDate(body.WeekStart)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	res, err := s.svc.Bookings.CreateWeekBooking(r.Context(), service.WeekBookingRequest{
		UserID:         actor.UserID,
		WeekStart:      start,
		SpecialRequest: body.SpecialRequest,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	if actor.UserID == 0 {
		writeError(w, http.StatusBadRequest, "service clients have no bookings")
		return
	}
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), actor.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	booking, err := s.svc.Bookings.GetBooking(r.Context(), id, actor)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	s.bookingAction(w, r, func(ctx context.Context, id int64) (*models.Booking, error) {
		return s.svc.Bookings.CancelBooking(ctx, id, actor)
	})
}

func (s *HTTPServer) handleConsumeBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	s.bookingAction(w, r, func(ctx context.Context, id int64) (*models.Booking, error) {
		return s.svc.Bookings.MarkConsumed(ctx, id, actor)
	})
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	s.bookingAction(w, r, func(ctx context.Context, id int64) (*models.Booking, error) {
		return s.svc.Bookings.DeleteBooking(ctx, id, actor)
	})
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	var body paymentRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.bookingAction(w, r, func(ctx context.Context, id int64) (*models.Booking, error) {
		return s.svc.Bookings.ConfirmPayment(ctx, id, body.PaymentRef)
	})
}

func (s *HTTPServer) bookingAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (*models.Booking, error)) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	booking, err := fn(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleRequestPromotion(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	var body promotionRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	req, err := s.svc.Promotions.RequestPromotion(r.Context(), actor.UserID, models.Role(body.RequestedRole))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *HTTPServer) handleListPromotions(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	st := models.PromotionStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	reqs, err := s.svc.Promotions.ListRequests(r.Context(), st)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *HTTPServer) handleApprovePromotion(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	userID, ok := s.pathID(w, r, "user_id")
	if !ok {
		return
	}
	req, err := s.svc.Promotions.ApprovePromotion(r.Context(), userID, actor.UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *HTTPServer) handleRejectPromotion(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	userID, ok := s.pathID(w, r, "user_id")
	if !ok {
		return
	}
	var body rejectRequest
	if err := decode(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	req, err := s.svc.Promotions.RejectPromotion(r.Context(), userID, actor.UserID, body.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request, actor service.Actor) {
	unread := r.URL.Query().Get("unread") == "true"
	list, err := s.svc.Notifications.List(r.Context(), actor.Role, unread)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Notifications.MarkRead(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleBookingReport(w http.ResponseWriter, r *http.Request, _ service.Actor) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if to.Before(from) || to.Sub(from) > maxReportDays*24*time.Hour {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("report range must be 0 to %d days", maxReportDays))
		return
	}

	f, err := s.svc.Reports.Build(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(from, to)))
	if _, err := f.WriteTo(w); err != nil {
		s.logger.Error().Err(err).Msg("write report")
	}
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		resp := map[string]any{"error": br.msg}
		if len(br.fields) > 0 {
			resp["fields"] = br.fields
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	resp := map[string]any{"error": publicMessage(err)}
	if kind := domain.KindOf(err); kind != nil && kind != domain.ErrStorage {
		resp["kind"] = kind.Error()
	}
	writeJSON(w, code, resp)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status))

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", remoteKey(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
