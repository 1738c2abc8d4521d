// Package service реализует движок жизненного цикла заказов маркетплейса буст-услуг.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boosthub/boosthub-system/internal/model"
	"github.com/boosthub/boosthub-system/internal/repository"
	"github.com/boosthub/boosthub-system/internal/statemachine"
)

// ErrForbidden возвращается, когда у актора нет прав на действие с конкретным заказом.
var (
	ErrForbidden = errors.New("forbidden")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBoosterRequired возвращается, если для перехода в ASSIGNED не передан бустер.
	ErrBoosterRequired = errors.New("booster id is required for assignment")
	// ErrNotABooster возвращается, если назначаемый пользователь не имеет роли BOOSTER.
	ErrNotABooster = errors.New("assignee is not a booster")
	// ErrAlreadyAssigned возвращается при попытке назначить бустера на уже занятый заказ.
	ErrAlreadyAssigned = errors.New("order already has a booster")
	// ErrInvalidState возвращается, когда операция требует другого текущего статуса заказа.
	ErrInvalidState = errors.New("order is not in the required state")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Мутации заказа проходят только через UpdateOrderTx: реализация обязана
// сериализовать конкурентные вызовы по идентификатору заказа, чтобы mutate
// всегда видел последнее зафиксированное состояние.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetBoosterRating(ctx context.Context, boosterID int64, rating float64) error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderByID(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)
	ListAvailableOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderTx(ctx context.Context, id string, mutate func(*model.Order) error) (*model.Order, error)
	SoftDeleteOrder(ctx context.Context, id string) error
	CountOrders(ctx context.Context, f model.OrderFilter) (int64, error)
	SumOrderPriceCents(ctx context.Context, f model.OrderFilter) (int64, error)

	CreateReview(ctx context.Context, rev *model.Review) error
	GetReviewByID(ctx context.Context, id string) (*model.Review, error)
	UpdateReviewRating(ctx context.Context, id string, rating int) error
	SetReviewVisibility(ctx context.Context, id string, visible bool) error
	DeleteReview(ctx context.Context, id string) error
	ListVisibleRatings(ctx context.Context, boosterID int64) ([]int, error)
}

// Notifier описывает контракт сервиса уведомлений. Вызывается после каждого
// успешного перехода статуса; ошибки логируются и никогда не всплывают.
type Notifier interface {
	NotifyStatusChanged(ctx context.Context, order *model.Order, actorID int64) error
}

// PaymentGateway описывает контракт платёжного шлюза. Шлюз опрашивается
// только ради значения статуса оплаты и не управляет переходами заказа.
type PaymentGateway interface {
	GetPaymentStatus(ctx context.Context, orderID string) (model.PaymentStatus, error)
}

// Service содержит бизнес-логику жизненного цикла заказов.
type Service struct {
	repo     Repository
	sm       *statemachine.StateMachine
	logger   *zap.Logger
	notifier Notifier
	payments PaymentGateway
}

// NewService создаёт сервис с указанным репозиторием и внешними коллабораторами.
// notifier и payments могут быть nil, если соответствующий сервис не настроен.
func NewService(repo Repository, logger *zap.Logger, notifier Notifier, payments PaymentGateway) *Service {
	return &Service{
		repo:     repo,
		sm:       statemachine.New(),
		logger:   logger,
		notifier: notifier,
		payments: payments,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	if login == "" || password == "" {
		return 0, fmt.Errorf("%w: login and password are required", ErrValidation)
	}

	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateOrderInput содержит параметры нового заказа. Цена — в копейках.
type CreateOrderInput struct {
	GameCode    string
	ServiceType string
	CurrentRank string
	TargetRank  string
	PriceCents  int64
	Currency    string
	Notes       string
}

// CommissionCents возвращает комиссию площадки: 10% цены в копейках,
// половина копейки округляется вверх.
func CommissionCents(priceCents int64) int64 {
	return (priceCents + 5) / 10
}

// CreateOrder создаёт заказ от имени заказчика. Заказ начинает жизнь в статусе
// PENDING с неоплаченным платежом; комиссия фиксируется при создании и больше
// не пересчитывается.
func (s *Service) CreateOrder(ctx context.Context, customerID int64, in CreateOrderInput) (*model.Order, error) {
	if in.PriceCents <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if in.GameCode == "" || in.ServiceType == "" {
		return nil, fmt.Errorf("%w: game code and service type are required", ErrValidation)
	}
	if in.CurrentRank == "" || in.TargetRank == "" {
		return nil, fmt.Errorf("%w: current and target ranks are required", ErrValidation)
	}
	if in.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrValidation)
	}

	o := &model.Order{
		ID:              uuid.NewString(),
		CustomerID:      customerID,
		GameCode:        in.GameCode,
		ServiceType:     in.ServiceType,
		CurrentRank:     in.CurrentRank,
		TargetRank:      in.TargetRank,
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.PaymentStatusPending,
		PriceCents:      in.PriceCents,
		CommissionCents: CommissionCents(in.PriceCents),
		Currency:        in.Currency,
		Notes:           in.Notes,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// GetOrder возвращает заказ по идентификатору без проверки прав.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// GetOrderForActor возвращает заказ с учётом прав актора: администратор видит
// все заказы, бустер — только назначенные ему, заказчик — только свои.
func (s *Service) GetOrderForActor(ctx context.Context, id string, actorID int64, role model.Role) (*model.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch role {
	case model.RoleAdmin:
		return o, nil
	case model.RoleBooster:
		if o.BoosterID != nil && *o.BoosterID == actorID {
			return o, nil
		}
	case model.RoleCustomer:
		if o.CustomerID == actorID {
			return o, nil
		}
	}

	return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
}

// ListOrdersForActor возвращает заказы, видимые актору. Для заказчика и бустера
// фильтр по владельцу выставляется из роли и перекрывает любые значения,
// переданные вызывающей стороной.
func (s *Service) ListOrdersForActor(ctx context.Context, actorID int64, role model.Role, f model.OrderFilter) ([]model.Order, error) {
	switch role {
	case model.RoleCustomer:
		f.CustomerID = &actorID
		f.BoosterID = nil
	case model.RoleBooster:
		f.BoosterID = &actorID
		f.CustomerID = nil
	}
	return s.repo.ListOrders(ctx, f)
}

// ListAvailableOrders возвращает очередь оплаченных заказов без бустера,
// от самых старых к новым.
func (s *Service) ListAvailableOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListAvailableOrders(ctx)
}

// UpdateStatus выполняет переход статуса заказа от имени актора.
// Проверка прав, таблица переходов и сопутствующие изменения (синхронизация
// статуса оплаты, назначение бустера) выполняются внутри заблокированной
// секции репозитория, поэтому из гонки конкурентных переходов выходит
// победителем ровно один вызов.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, target model.OrderStatus, actorID int64, role model.Role, boosterID *int64) (*model.Order, error) {
	if target == model.OrderStatusAssigned {
		if boosterID == nil {
			return nil, ErrBoosterRequired
		}
		if err := s.ensureBooster(ctx, *boosterID); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.UpdateOrderTx(ctx, orderID, func(o *model.Order) error {
		if err := s.authorizeTransition(o, target, actorID, role, boosterID); err != nil {
			return err
		}
		if err := s.sm.Check(o.Status, target); err != nil {
			return err
		}
		s.applyTransition(ctx, o, target, boosterID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatusChanged(ctx, updated, actorID)
	return updated, nil
}

// ensureBooster проверяет, что назначаемый пользователь существует и имеет роль BOOSTER.
func (s *Service) ensureBooster(ctx context.Context, boosterID int64) error {
	u, err := s.repo.GetUserByID(ctx, boosterID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotABooster, boosterID)
		}
		return err
	}
	if u.Role != model.RoleBooster {
		return fmt.Errorf("%w: user %d has role %s", ErrNotABooster, boosterID, u.Role)
	}
	return nil
}

// authorizeTransition проверяет права актора на запрошенный переход.
// Нарушение прав — ErrForbidden; оно отличается от недопустимого ребра таблицы.
func (s *Service) authorizeTransition(o *model.Order, target model.OrderStatus, actorID int64, role model.Role, boosterID *int64) error {
	switch role {
	case model.RoleAdmin:
		if target == model.OrderStatusAssigned && o.BoosterID != nil {
			return fmt.Errorf("%w: order %s", ErrAlreadyAssigned, o.ID)
		}
		return nil

	case model.RoleCustomer:
		if o.CustomerID != actorID {
			return fmt.Errorf("%w: order %s belongs to another customer", ErrForbidden, o.ID)
		}
		switch target {
		case model.OrderStatusPaid:
			return nil
		case model.OrderStatusCancelled:
			// Заказчик отменяет заказ только до назначения бустера.
			if o.Status == model.OrderStatusPending || o.Status == model.OrderStatusPaid {
				return nil
			}
			return fmt.Errorf("%w: customer cannot cancel order in status %s", ErrForbidden, o.Status)
		}
		return fmt.Errorf("%w: customer cannot request status %s", ErrForbidden, target)

	case model.RoleBooster:
		if target == model.OrderStatusAssigned {
			// Самостоятельный захват свободного заказа из очереди.
			if o.BoosterID != nil {
				return fmt.Errorf("%w: order %s", ErrAlreadyAssigned, o.ID)
			}
			if boosterID == nil || *boosterID != actorID {
				return fmt.Errorf("%w: booster can only claim an order for themselves", ErrForbidden)
			}
			return nil
		}
		if o.BoosterID == nil || *o.BoosterID != actorID {
			return fmt.Errorf("%w: order %s is assigned to another booster", ErrForbidden, o.ID)
		}
		switch target {
		case model.OrderStatusInProgress, model.OrderStatusCompleted:
			return nil
		}
		return fmt.Errorf("%w: booster cannot request status %s", ErrForbidden, target)
	}

	return fmt.Errorf("%w: unknown role %s", ErrForbidden, role)
}

// applyTransition записывает целевой статус и сопутствующие изменения.
// Вызывается только после успешных проверок прав и таблицы переходов.
func (s *Service) applyTransition(ctx context.Context, o *model.Order, target model.OrderStatus, boosterID *int64) {
	switch target {
	case model.OrderStatusPaid:
		s.syncPaymentStatus(ctx, o)
	case model.OrderStatusAssigned:
		o.BoosterID = boosterID
	}
	o.Status = target
}

// syncPaymentStatus выставляет статус оплаты при входе заказа в PAID.
// Уже определившиеся статусы (PAID/REFUNDED/FAILED) не перезаписываются.
// Настроенный платёжный шлюз может уточнить значение; его недоступность
// не мешает переходу и приводит к значению по умолчанию.
func (s *Service) syncPaymentStatus(ctx context.Context, o *model.Order) {
	if o.PaymentStatus != model.PaymentStatusPending {
		return
	}

	status := model.PaymentStatusPaid
	if s.payments != nil {
		got, err := s.payments.GetPaymentStatus(ctx, o.ID)
		if err != nil {
			s.logger.Warn("payment gateway lookup failed",
				zap.String("order", o.ID), zap.Error(err))
		} else if got != model.PaymentStatusPending {
			status = got
		}
	}

	o.PaymentStatus = status
}

// AssignToBooster назначает бустера на оплаченный заказ. Отдельный путь для
// консоли администратора: требует статус PAID и отсутствие бустера.
func (s *Service) AssignToBooster(ctx context.Context, orderID string, boosterID int64) (*model.Order, error) {
	if err := s.ensureBooster(ctx, boosterID); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateOrderTx(ctx, orderID, func(o *model.Order) error {
		if o.Status != model.OrderStatusPaid {
			return fmt.Errorf("%w: order %s is %s, want %s", ErrInvalidState, o.ID, o.Status, model.OrderStatusPaid)
		}
		if o.BoosterID != nil {
			return fmt.Errorf("%w: order %s", ErrAlreadyAssigned, o.ID)
		}
		o.BoosterID = &boosterID
		o.Status = model.OrderStatusAssigned
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatusChanged(ctx, updated, boosterID)
	return updated, nil
}

// DeleteOrder мягко удаляет заказ: запись сохраняется для аудита,
// но исчезает из всех обычных выборок и статистики.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	return s.repo.SoftDeleteOrder(ctx, orderID)
}

func (s *Service) notifyStatusChanged(ctx context.Context, o *model.Order, actorID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyStatusChanged(ctx, o, actorID); err != nil {
		s.logger.Warn("status change notification failed",
			zap.String("order", o.ID), zap.Error(err))
	}
}

// OrderStats считает агрегаты по заказам. Значения считаются заново при каждом
// вызове: для панели администратора актуальность важнее стоимости запросов.
func (s *Service) OrderStats(ctx context.Context, f model.OrderFilter) (*model.OrderStats, error) {
	stats := &model.OrderStats{}

	total, err := s.repo.CountOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	stats.Total = total

	counts := []struct {
		status model.OrderStatus
		dst    *int64
	}{
		{model.OrderStatusPending, &stats.Pending},
		{model.OrderStatusCompleted, &stats.Completed},
		{model.OrderStatusCancelled, &stats.Cancelled},
		// ASSIGNED и IN_PROGRESS показываются одной цифрой «в работе».
		{model.OrderStatusAssigned, &stats.InProgress},
		{model.OrderStatusInProgress, &stats.InProgress},
	}
	for _, c := range counts {
		n, err := s.countWithStatus(ctx, f, c.status)
		if err != nil {
			return nil, err
		}
		*c.dst += n
	}

	// Выручка — только по завершённым заказам: оплаченный, но не выполненный
	// заказ реализованной выручкой не считается.
	completed := f
	status := model.OrderStatusCompleted
	completed.Status = &status
	revenue, err := s.repo.SumOrderPriceCents(ctx, completed)
	if err != nil {
		return nil, err
	}
	stats.TotalRevenueCents = revenue

	return stats, nil
}

func (s *Service) countWithStatus(ctx context.Context, f model.OrderFilter, status model.OrderStatus) (int64, error) {
	f.Status = &status
	return s.repo.CountOrders(ctx, f)
}

// CreateReview создаёт отзыв заказчика о выполненном заказе и синхронно
// пересчитывает рейтинг бустера. Отзыв допускается только владельцем заказа,
// только для завершённого заказа с назначенным бустером и только один раз.
func (s *Service) CreateReview(ctx context.Context, orderID string, customerID int64, rating int, comment string) (*model.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, fmt.Errorf("%w: order %s belongs to another customer", ErrForbidden, orderID)
	}
	if o.Status != model.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: order %s is not completed", ErrForbidden, orderID)
	}
	if o.BoosterID == nil {
		return nil, fmt.Errorf("%w: order %s has no booster", ErrForbidden, orderID)
	}

	rev := &model.Review{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		CustomerID: customerID,
		BoosterID:  *o.BoosterID,
		Rating:     rating,
		Comment:    comment,
		IsVisible:  true,
	}

	if err := s.repo.CreateReview(ctx, rev); err != nil {
		return nil, err
	}

	if err := s.recomputeBoosterRating(ctx, rev.BoosterID); err != nil {
		return nil, err
	}

	return rev, nil
}

// UpdateReviewRating меняет оценку в отзыве владельца и пересчитывает рейтинг бустера.
func (s *Service) UpdateReviewRating(ctx context.Context, reviewID string, customerID int64, rating int) (*model.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	rev, err := s.repo.GetReviewByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rev.CustomerID != customerID {
		return nil, fmt.Errorf("%w: review %s belongs to another customer", ErrForbidden, reviewID)
	}

	if err := s.repo.UpdateReviewRating(ctx, reviewID, rating); err != nil {
		return nil, err
	}
	rev.Rating = rating

	if err := s.recomputeBoosterRating(ctx, rev.BoosterID); err != nil {
		return nil, err
	}

	return rev, nil
}

// DeleteReview удаляет отзыв. Разрешено владельцу отзыва и администратору.
func (s *Service) DeleteReview(ctx context.Context, reviewID string, actorID int64, role model.Role) error {
	rev, err := s.repo.GetReviewByID(ctx, reviewID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin && rev.CustomerID != actorID {
		return fmt.Errorf("%w: review %s belongs to another customer", ErrForbidden, reviewID)
	}

	if err := s.repo.DeleteReview(ctx, reviewID); err != nil {
		return err
	}

	return s.recomputeBoosterRating(ctx, rev.BoosterID)
}

// SetReviewVisibility меняет видимость отзыва (модерация) и пересчитывает
// рейтинг бустера: скрытый отзыв выпадает из среднего.
func (s *Service) SetReviewVisibility(ctx context.Context, reviewID string, visible bool) (*model.Review, error) {
	rev, err := s.repo.GetReviewByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetReviewVisibility(ctx, reviewID, visible); err != nil {
		return nil, err
	}
	rev.IsVisible = visible

	if err := s.recomputeBoosterRating(ctx, rev.BoosterID); err != nil {
		return nil, err
	}

	return rev, nil
}

// recomputeBoosterRating пересчитывает рейтинг бустера как среднее по видимым
// отзывам. Инкрементальные счётчики не ведутся: полный пересчёт на каждую
// запись исключает расхождение. Без видимых отзывов рейтинг равен 0.
func (s *Service) recomputeBoosterRating(ctx context.Context, boosterID int64) error {
	ratings, err := s.repo.ListVisibleRatings(ctx, boosterID)
	if err != nil {
		return err
	}

	var rating float64
	if len(ratings) > 0 {
		sum := 0
		for _, r := range ratings {
			sum += r
		}
		rating = float64(sum) / float64(len(ratings))
	}

	return s.repo.SetBoosterRating(ctx, boosterID, rating)
}
