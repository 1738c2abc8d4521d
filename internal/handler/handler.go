// Package handler содержит HTTP-обработчики API буст-платформы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/boosthub/boosthub-system/internal/middleware"
	"github.com/boosthub/boosthub-system/internal/model"
	"github.com/boosthub/boosthub-system/internal/repository"
	"github.com/boosthub/boosthub-system/internal/service"
	"github.com/boosthub/boosthub-system/internal/statemachine"
	"github.com/boosthub/boosthub-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	CreateOrder(ctx context.Context, customerID int64, in service.CreateOrderInput) (*model.Order, error)
	GetOrderForActor(ctx context.Context, id string, actorID int64, role model.Role) (*model.Order, error)
	ListOrdersForActor(ctx context.Context, actorID int64, role model.Role, f model.OrderFilter) ([]model.Order, error)
	ListAvailableOrders(ctx context.Context) ([]model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, target model.OrderStatus, actorID int64, role model.Role, boosterID *int64) (*model.Order, error)
	AssignToBooster(ctx context.Context, orderID string, boosterID int64) (*model.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	OrderStats(ctx context.Context, f model.OrderFilter) (*model.OrderStats, error)

	CreateReview(ctx context.Context, orderID string, customerID int64, rating int, comment string) (*model.Review, error)
	UpdateReviewRating(ctx context.Context, reviewID string, customerID int64, rating int) (*model.Review, error)
	DeleteReview(ctx context.Context, reviewID string, actorID int64, role model.Role) error
	SetReviewVisibility(ctx context.Context, reviewID string, visible bool) (*model.Review, error)
}

// Handler реализует HTTP-обработчики API буст-платформы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validatorv10.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validation.New(),
	}
}

// centsFromFloat переводит сумму из рублей JSON-границы во внутренние копейки.
func centsFromFloat(v float64) int64 {
	return int64(math.Round(v * 100))
}

func floatFromCents(c int64) float64 {
	return float64(c) / 100
}

// statusForError сопоставляет доменные ошибки HTTP-статусам.
// Неизвестная ошибка — 0, вызывающая сторона отвечает 500 и логирует.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrBoosterRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrReviewNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrAlreadyAssigned),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrReviewExists),
		errors.Is(err, repository.ErrLoginTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotABooster):
		return http.StatusUnprocessableEntity
	}
	return 0
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	if status := statusForError(err); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	h.logger.Error(msg, append(fields, zap.Error(err))...)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// decodeAndValidate разбирает JSON-тело и проверяет его по тегам валидатора.
func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

type registerRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role, err := validation.ParseRegistrationRole(req.Role)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Actor{ID: userID, Role: role})
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Actor{ID: u.ID, Role: u.Role})
	w.WriteHeader(http.StatusOK)
}

type createOrderRequest struct {
	GameCode    string  `json:"game_code" validate:"required"`
	ServiceType string  `json:"service_type" validate:"required"`
	CurrentRank string  `json:"current_rank" validate:"required"`
	TargetRank  string  `json:"target_rank" validate:"required"`
	Price       float64 `json:"price" validate:"gt=0"`
	Currency    string  `json:"currency" validate:"required,iso4217"`
	Notes       string  `json:"notes"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	CustomerID    int64   `json:"customer_id"`
	BoosterID     *int64  `json:"booster_id,omitempty"`
	GameCode      string  `json:"game_code"`
	ServiceType   string  `json:"service_type"`
	CurrentRank   string  `json:"current_rank"`
	TargetRank    string  `json:"target_rank"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Price         float64 `json:"price"`
	Commission    float64 `json:"commission"`
	Currency      string  `json:"currency"`
	Notes         string  `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		BoosterID:     o.BoosterID,
		GameCode:      o.GameCode,
		ServiceType:   o.ServiceType,
		CurrentRank:   o.CurrentRank,
		TargetRank:    o.TargetRank,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Price:         floatFromCents(o.PriceCents),
		Commission:    floatFromCents(o.CommissionCents),
		Currency:      o.Currency,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder создаёт заказ от имени текущего заказчика.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), actor.ID, service.CreateOrderInput{
		GameCode:    req.GameCode,
		ServiceType: req.ServiceType,
		CurrentRank: req.CurrentRank,
		TargetRank:  req.TargetRank,
		PriceCents:  centsFromFloat(req.Price),
		Currency:    req.Currency,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeError(w, err, "create order error", zap.Int64("customerID", actor.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// orderFilterFromQuery собирает фильтр выборки из query-параметров.
func orderFilterFromQuery(r *http.Request) (model.OrderFilter, error) {
	var f model.OrderFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status, err := validation.ParseOrderStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = &status
	}
	if s := q.Get("payment_status"); s != "" {
		status, err := validation.ParsePaymentStatus(s)
		if err != nil {
			return f, err
		}
		f.PaymentStatus = &status
	}
	if s := q.Get("game_code"); s != "" {
		f.GameCode = &s
	}
	if s := q.Get("service_type"); s != "" {
		f.ServiceType = &s
	}

	return f, nil
}

// ListOrders возвращает заказы, видимые текущему актору.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	f, err := orderFilterFromQuery(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.service.ListOrdersForActor(r.Context(), actor.ID, actor.Role, f)
	if err != nil {
		h.writeError(w, err, "list orders error", zap.Int64("actorID", actor.ID))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetAvailableOrders возвращает очередь свободных оплаченных заказов.
func (h *Handler) GetAvailableOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAvailableOrders(r.Context())
	if err != nil {
		h.writeError(w, err, "list available orders error")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Total        int64   `json:"total"`
	Pending      int64   `json:"pending"`
	InProgress   int64   `json:"in_progress"`
	Completed    int64   `json:"completed"`
	Cancelled    int64   `json:"cancelled"`
	TotalRevenue float64 `json:"total_revenue"`
}

// GetStats возвращает агрегаты по заказам для панели администратора.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilterFromQuery(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.OrderStats(r.Context(), f)
	if err != nil {
		h.writeError(w, err, "order stats error")
		return
	}

	h.writeJSON(w, http.StatusOK, statsResponse{
		Total:        stats.Total,
		Pending:      stats.Pending,
		InProgress:   stats.InProgress,
		Completed:    stats.Completed,
		Cancelled:    stats.Cancelled,
		TotalRevenue: floatFromCents(stats.TotalRevenueCents),
	})
}

// GetOrder возвращает заказ с учётом прав текущего актора.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")

	o, err := h.service.GetOrderForActor(r.Context(), orderID, actor.ID, actor.Role)
	if err != nil {
		h.writeError(w, err, "get order error", zap.String("order", orderID))
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status    string `json:"status" validate:"required"`
	BoosterID *int64 `json:"booster_id"`
}

// UpdateStatus выполняет переход статуса заказа от имени текущего актора.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")

	var req updateStatusRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	target, err := validation.ParseOrderStatus(req.Status)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), orderID, target, actor.ID, actor.Role, req.BoosterID)
	if err != nil {
		h.writeError(w, err, "update status error",
			zap.String("order", orderID), zap.String("target", string(target)))
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type assignRequest struct {
	BoosterID int64 `json:"booster_id" validate:"required"`
}

// AssignOrder назначает бустера на заказ из консоли администратора.
func (h *Handler) AssignOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req assignRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.AssignToBooster(r.Context(), orderID, req.BoosterID)
	if err != nil {
		h.writeError(w, err, "assign order error",
			zap.String("order", orderID), zap.Int64("boosterID", req.BoosterID))
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// DeleteOrder мягко удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := h.service.DeleteOrder(r.Context(), orderID); err != nil {
		h.writeError(w, err, "delete order error", zap.String("order", orderID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

type reviewResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	BoosterID int64  `json:"booster_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	IsVisible bool   `json:"is_visible"`
	CreatedAt string `json:"created_at"`
}

func toReviewResponse(rev *model.Review) reviewResponse {
	return reviewResponse{
		ID:        rev.ID,
		OrderID:   rev.OrderID,
		BoosterID: rev.BoosterID,
		Rating:    rev.Rating,
		Comment:   rev.Comment,
		IsVisible: rev.IsVisible,
		CreatedAt: rev.CreatedAt.Format(time.RFC3339),
	}
}

// CreateReview создаёт отзыв о выполненном заказе.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "orderID")

	var req createReviewRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rev, err := h.service.CreateReview(r.Context(), orderID, actor.ID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, err, "create review error", zap.String("order", orderID))
		return
	}

	h.writeJSON(w, http.StatusCreated, toReviewResponse(rev))
}

type updateReviewRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// UpdateReview меняет оценку в отзыве владельца.
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	reviewID := chi.URLParam(r, "reviewID")

	var req updateReviewRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rev, err := h.service.UpdateReviewRating(r.Context(), reviewID, actor.ID, req.Rating)
	if err != nil {
		h.writeError(w, err, "update review error", zap.String("review", reviewID))
		return
	}

	h.writeJSON(w, http.StatusOK, toReviewResponse(rev))
}

// DeleteReview удаляет отзыв владельца или любой отзыв от имени администратора.
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	reviewID := chi.URLParam(r, "reviewID")

	if err := h.service.DeleteReview(r.Context(), reviewID, actor.ID, actor.Role); err != nil {
		h.writeError(w, err, "delete review error", zap.String("review", reviewID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

// SetReviewVisibility меняет видимость отзыва (модерация).
func (h *Handler) SetReviewVisibility(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")

	var req visibilityRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rev, err := h.service.SetReviewVisibility(r.Context(), reviewID, *req.Visible)
	if err != nil {
		h.writeError(w, err, "set review visibility error", zap.String("review", reviewID))
		return
	}

	h.writeJSON(w, http.StatusOK, toReviewResponse(rev))
}
