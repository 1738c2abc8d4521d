// Package statemachine содержит таблицу допустимых переходов статуса заказа.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/boosthub/boosthub-system/internal/model"
)

// ErrInvalidTransition возвращается при попытке перехода, отсутствующего в таблице.
var ErrInvalidTransition = errors.New("invalid status transition")

// StateMachine проверяет переходы статуса заказа по неизменяемой таблице смежности.
// Таблица строится один раз в New и после этого не мутируется, поэтому значение
// безопасно разделять между горутинами.
type StateMachine struct {
	transitions map[model.OrderStatus][]model.OrderStatus
}

// New создаёт машину состояний заказа с фиксированной таблицей переходов.
// COMPLETED и CANCELLED — терминальные статусы без исходящих переходов.
func New() *StateMachine {
	return &StateMachine{
		transitions: map[model.OrderStatus][]model.OrderStatus{
			model.OrderStatusPending:    {model.OrderStatusPaid, model.OrderStatusCancelled},
			model.OrderStatusPaid:       {model.OrderStatusAssigned, model.OrderStatusCancelled},
			model.OrderStatusAssigned:   {model.OrderStatusInProgress, model.OrderStatusCancelled},
			model.OrderStatusInProgress: {model.OrderStatusCompleted},
			model.OrderStatusCompleted:  {},
			model.OrderStatusCancelled:  {},
		},
	}
}

// CanTransition сообщает, допустим ли переход from -> to.
func (sm *StateMachine) CanTransition(from, to model.OrderStatus) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Check возвращает ErrInvalidTransition с указанием обоих статусов,
// если переход from -> to не допускается таблицей.
func (sm *StateMachine) Check(from, to model.OrderStatus) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (sm *StateMachine) IsTerminal(status model.OrderStatus) bool {
	return len(sm.transitions[status]) == 0
}

// AllowedFrom возвращает копию списка статусов, достижимых из указанного.
func (sm *StateMachine) AllowedFrom(from model.OrderStatus) []model.OrderStatus {
	allowed, ok := sm.transitions[from]
	if !ok {
		return nil
	}
	res := make([]model.OrderStatus, len(allowed))
	copy(res, allowed)
	return res
}
