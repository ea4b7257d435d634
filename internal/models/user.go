package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const RoleSuperAdmin = "ROLE_SUPER_ADMIN"

type User struct {
	ID           int32           `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	Roles        []string        `json:"roles"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	for _, r := range u.Roles {
		if r == RoleSuperAdmin {
			return true
		}
	}
	return false
}
