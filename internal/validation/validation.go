// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/boosthub/boosthub-system/internal/model"
)

// New возвращает настроенный валидатор для структур HTTP-запросов.
func New() *validatorv10.Validate {
	return validatorv10.New(validatorv10.WithRequiredStructEnabled())
}

// ParseOrderStatus преобразует строку в статус заказа.
// Возвращает ошибку для значения вне перечисления.
func ParseOrderStatus(s string) (model.OrderStatus, error) {
	switch model.OrderStatus(s) {
	case model.OrderStatusPending,
		model.OrderStatusPaid,
		model.OrderStatusAssigned,
		model.OrderStatusInProgress,
		model.OrderStatusCompleted,
		model.OrderStatusCancelled:
		return model.OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status: %q", s)
}

// ParsePaymentStatus преобразует строку в статус оплаты.
func ParsePaymentStatus(s string) (model.PaymentStatus, error) {
	switch model.PaymentStatus(s) {
	case model.PaymentStatusPending,
		model.PaymentStatusPaid,
		model.PaymentStatusRefunded,
		model.PaymentStatusFailed:
		return model.PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status: %q", s)
}

// ParseRegistrationRole преобразует строку в роль, допустимую при самостоятельной
// регистрации. Администраторов через публичную регистрацию не создают.
func ParseRegistrationRole(s string) (model.Role, error) {
	switch model.Role(s) {
	case model.RoleCustomer, model.RoleBooster:
		return model.Role(s), nil
	}
	return "", fmt.Errorf("unknown registration role: %q", s)
}
