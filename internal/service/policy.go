package service

import (
	"github.com/ds124wfegd/roombooker/internal/entity"
)

// AuthorizationPolicy собирает все проверки ролей в одном месте.
// Сервисы получают его через конструктор и не сравнивают роли сами.
type AuthorizationPolicy interface {
	// CanAccessBooking разрешает владельцу брони и администратору
	CanAccessBooking(actor *entity.Actor, booking *entity.Booking) error
	RequireAdmin(actor *entity.Actor) error
	// RequesterFor определяет, от чьего имени создается бронь
	RequesterFor(actor *entity.Actor, requested int64) (int64, error)
}

type RolePolicy struct{}

func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

func (RolePolicy) CanAccessBooking(actor *entity.Actor, booking *entity.Booking) error {
	if actor == nil {
		return entity.ErrUnauthorized
	}
	if actor.IsAdmin() || actor.ID == booking.RequesterID {
		return nil
	}
	return entity.ErrNotOwner
}

func (RolePolicy) RequireAdmin(actor *entity.Actor) error {
	if actor == nil {
		return entity.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return entity.ErrAdminOnly
	}
	return nil
}

func (RolePolicy) RequesterFor(actor *entity.Actor, requested int64) (int64, error) {
	if actor == nil {
		return 0, entity.ErrUnauthorized
	}
	if requested == 0 || requested == actor.ID {
		return actor.ID, nil
	}
	if !actor.IsAdmin() {
		return 0, entity.ErrAdminOnly
	}
	return requested, nil
}
