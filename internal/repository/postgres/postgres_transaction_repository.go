package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/course-service/internal/infrastructure/observability"
	"github.com/coursehub/course-service/internal/models"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTransactionRepository is the ledger. Deposit and Pay lock the user
// row for the whole read-check-write sequence, so concurrent mutations of
// one balance serialize on that lock and either fully commit or fully roll
// back. The transactions table is append-only.
type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Deposit(ctx context.Context, userID int32, amount decimal.Decimal) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "Deposit")
	span.SetAttributes(attribute.Int("user_id", int(userID)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("Deposit", status).Inc()
		observability.RepositoryDuration.WithLabelValues("Deposit").Observe(time.Since(start).Seconds())
	}()

	if !amount.IsPositive() {
		err = fmt.Errorf("%w: deposit amount must be positive", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err = lockBalance(ctx, dbTx, userID); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		UserID: userID,
		Type:   models.TypeDeposit,
		Amount: amount,
	}
	query := `INSERT INTO transactions (user_id, type, amount) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err = dbTx.QueryRowContext(ctx, query, tx.UserID, tx.Type, tx.Amount).Scan(&tx.ID, &tx.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create deposit transaction: %w", err)
	}

	if _, err = dbTx.ExecContext(ctx, `UPDATE users SET balance = balance + $1 WHERE id = $2`, amount, userID); err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit deposit: %v", pkgerrors.ErrInternal, err)
	}

	slog.Info("deposit recorded", "user_id", userID, "amount", amount, "transaction_id", tx.ID)
	return tx, nil
}

func (r *PostgresTransactionRepository) Pay(ctx context.Context, userID int32, course *models.Course, rentPeriod time.Duration) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "Pay")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("Pay", status).Inc()
		observability.RepositoryDuration.WithLabelValues("Pay").Observe(time.Since(start).Seconds())
	}()

	if course == nil {
		err = pkgerrors.ErrNilCourse
		return nil, err
	}
	if course.Price == nil {
		err = pkgerrors.ErrPriceRequired
		return nil, err
	}
	price := *course.Price

	span.SetAttributes(
		attribute.Int("user_id", int(userID)),
		attribute.String("course_code", course.Code),
		attribute.String("course_type", string(course.Type)),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	// The funds check, the duplicate-payment check and both writes happen
	// under the same row lock; a concurrent Pay for this user blocks here
	// until we commit, then re-reads the debited balance and the fresh
	// payment row.
	balance, err := lockBalance(ctx, dbTx, userID)
	if err != nil {
		return nil, err
	}

	if balance.LessThan(price) {
		observability.PaymentsTotal.WithLabelValues("insufficient_funds").Inc()
		err = pkgerrors.ErrInsufficientFunds
		slog.Warn("payment rejected", "user_id", userID, "course_code", course.Code, "balance", balance, "price", price)
		return nil, err
	}

	var entitled bool
	entitledQuery := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND course_id = $2 AND type = 'payment'
			AND (expires_at IS NULL OR expires_at >= now())
		)`
	if err = dbTx.QueryRowContext(ctx, entitledQuery, userID, course.ID).Scan(&entitled); err != nil {
		return nil, fmt.Errorf("failed to check entitlement: %w", err)
	}
	if entitled {
		observability.PaymentsTotal.WithLabelValues("already_paid").Inc()
		err = pkgerrors.ErrAlreadyPaid
		slog.Warn("payment rejected", "user_id", userID, "course_code", course.Code, "error", err)
		return nil, err
	}

	tx := &models.Transaction{
		UserID:   userID,
		CourseID: &course.ID,
		Type:     models.TypePayment,
		Amount:   price,
	}
	if course.Type == models.CourseRent {
		expires := time.Now().UTC().Add(rentPeriod)
		tx.ExpiresAt = &expires
	}

	query := `INSERT INTO transactions (user_id, course_id, type, amount, expires_at) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	if err = dbTx.QueryRowContext(ctx, query, tx.UserID, tx.CourseID, tx.Type, tx.Amount, tx.ExpiresAt).Scan(&tx.ID, &tx.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create payment transaction: %w", err)
	}

	if _, err = dbTx.ExecContext(ctx, `UPDATE users SET balance = balance - $1 WHERE id = $2`, price, userID); err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit payment: %v", pkgerrors.ErrInternal, err)
	}

	observability.PaymentsTotal.WithLabelValues("success").Inc()
	tx.CourseCode = &course.Code
	slog.Info("payment recorded",
		"user_id", userID,
		"course_code", course.Code,
		"amount", price,
		"transaction_id", tx.ID,
		"expires_at", tx.ExpiresAt)
	return tx, nil
}

// lockBalance acquires the per-user row lock and returns the current balance.
func lockBalance(ctx context.Context, dbTx *sql.Tx, userID int32) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := dbTx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresTransactionRepository) IsEntitled(ctx context.Context, userID, courseID int32, at time.Time) (bool, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "IsEntitled")
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.Int("course_id", int(courseID)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("IsEntitled", status).Inc()
		observability.RepositoryDuration.WithLabelValues("IsEntitled").Observe(time.Since(start).Seconds())
	}()

	var entitled bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND course_id = $2 AND type = 'payment'
			AND (expires_at IS NULL OR expires_at >= $3)
		)`
	if err = r.db.QueryRowContext(ctx, query, userID, courseID, at).Scan(&entitled); err != nil {
		return false, fmt.Errorf("failed to check entitlement: %w", err)
	}
	return entitled, nil
}

func (r *PostgresTransactionRepository) List(ctx context.Context, userID int32, filter models.TransactionFilter) ([]models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	span.SetAttributes(attribute.Int("user_id", int(userID)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ListTransactions", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ListTransactions").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT t.id, t.user_id, t.course_id, c.code, t.type, t.amount, t.created_at, t.expires_at
		FROM transactions t
		LEFT JOIN courses c ON c.id = t.course_id
		WHERE t.user_id = $1`
	args := []interface{}{userID}

	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND t.type = $%d", len(args))
	}
	if filter.CourseCode != nil {
		args = append(args, *filter.CourseCode)
		query += fmt.Sprintf(" AND c.code = $%d", len(args))
	}
	if filter.SkipExpired {
		query += " AND (t.expires_at IS NULL OR t.expires_at >= now())"
	}
	query += " ORDER BY t.created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var courseID sql.NullInt32
		var courseCode sql.NullString
		var expires sql.NullTime
		if err = rows.Scan(&tx.ID, &tx.UserID, &courseID, &courseCode, &tx.Type, &tx.Amount, &tx.CreatedAt, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if courseID.Valid {
			tx.CourseID = &courseID.Int32
		}
		if courseCode.Valid {
			tx.CourseCode = &courseCode.String
		}
		if expires.Valid {
			t := expires.Time
			tx.ExpiresAt = &t
		}
		transactions = append(transactions, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}

func (r *PostgresTransactionRepository) FindExpiring(ctx context.Context, within time.Duration) ([]models.ExpiringRent, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "FindExpiring")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FindExpiring", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindExpiring").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT u.email, c.code, c.name, t.expires_at
		FROM transactions t
		JOIN users u ON u.id = t.user_id
		JOIN courses c ON c.id = t.course_id
		WHERE t.type = 'payment'
		AND t.expires_at IS NOT NULL
		AND t.expires_at > now()
		AND t.expires_at <= now() + make_interval(secs => $1)
		ORDER BY u.email, t.expires_at`

	rows, err := r.db.QueryContext(ctx, query, within.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to find expiring rents: %w", err)
	}
	defer rows.Close()

	rents := []models.ExpiringRent{}
	for rows.Next() {
		var rent models.ExpiringRent
		if err = rows.Scan(&rent.Email, &rent.CourseCode, &rent.CourseName, &rent.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan expiring rent: %w", err)
		}
		rents = append(rents, rent)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expiring rents: %w", err)
	}
	return rents, nil
}
