package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeDeposit TransactionType = "deposit"
	TypePayment TransactionType = "payment"
)

func (t TransactionType) Valid() bool {
	return t == TypeDeposit || t == TypePayment
}

// Transaction is an append-only ledger row. Amount is always positive, the
// sign is implied by Type. ExpiresAt is set only for rent payments; nil
// means the entitlement never expires.
type Transaction struct {
	ID         int32            `json:"id"`
	UserID     int32            `json:"user_id"`
	CourseID   *int32           `json:"course_id,omitempty"`
	CourseCode *string          `json:"code,omitempty"`
	Type       TransactionType  `json:"type"`
	Amount     decimal.Decimal  `json:"amount"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

// TransactionFilter narrows ListTransactions. Nil fields mean "no filter".
type TransactionFilter struct {
	Type        *TransactionType
	CourseCode  *string
	SkipExpired bool
}

// ExpiringRent is a row of the rent-ending report consumed by the notifier.
type ExpiringRent struct {
	Email      string
	CourseCode string
	CourseName string
	ExpiresAt  time.Time
}
