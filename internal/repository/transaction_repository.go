package repository

import (
	"context"
	"time"

	"github.com/coursehub/course-service/internal/models"
	"github.com/shopspring/decimal"
)

// TransactionRepository is the ledger: every balance mutation goes through
// Deposit or Pay, each an atomic read-check-write unit. The remaining
// methods are read-only.
type TransactionRepository interface {
	Deposit(ctx context.Context, userID int32, amount decimal.Decimal) (*models.Transaction, error)
	Pay(ctx context.Context, userID int32, course *models.Course, rentPeriod time.Duration) (*models.Transaction, error)
	IsEntitled(ctx context.Context, userID, courseID int32, at time.Time) (bool, error)
	List(ctx context.Context, userID int32, filter models.TransactionFilter) ([]models.Transaction, error)
	FindExpiring(ctx context.Context, within time.Duration) ([]models.ExpiringRent, error)
}
