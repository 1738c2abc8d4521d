// Package model содержит доменные сущности маркетплейса буст-услуг.
package model

import "time"

// Role описывает роль пользователя в системе. Роль назначается при
// регистрации и не меняется; все проверки доступа опираются на неё.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleBooster  Role = "BOOSTER"
	RoleAdmin    Role = "ADMIN"
)

// User представляет зарегистрированного пользователя: заказчика, бустера или администратора.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	// BoosterRating — средняя оценка бустера по видимым отзывам.
	// Пересчитывается целиком при каждом изменении отзывов, 0 при их отсутствии.
	BoosterRating float64
	CreatedAt     time.Time
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusAssigned   OrderStatus = "ASSIGNED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus описывает статус оплаты заказа. Связан со статусом заказа,
// но меняется по собственным правилам и не обязан совпадать с ним.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

// Order описывает заказ на буст-услугу. Денежные суммы хранятся в копейках.
type Order struct {
	ID              string
	CustomerID      int64
	BoosterID       *int64
	GameCode        string
	ServiceType     string
	CurrentRank     string
	TargetRank      string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PriceCents      int64
	CommissionCents int64
	Currency        string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Review описывает отзыв заказчика о выполненном заказе. На один заказ
// допускается не более одного отзыва.
type Review struct {
	ID         string
	OrderID    string
	CustomerID int64
	BoosterID  int64
	Rating     int
	Comment    string
	IsVisible  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderFilter задаёт предикаты равенства для выборки заказов.
// Мягко удалённые заказы исключаются из выборки всегда.
type OrderFilter struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	GameCode      *string
	ServiceType   *string
	CustomerID    *int64
	BoosterID     *int64
}

// OrderStats содержит агрегированные показатели по заказам.
// InProgress объединяет статусы ASSIGNED и IN_PROGRESS: панель администратора
// не различает эти подсостояния. Выручка учитывает только завершённые заказы.
type OrderStats struct {
	Total             int64
	Pending           int64
	InProgress        int64
	Completed         int64
	Cancelled         int64
	TotalRevenueCents int64
}
