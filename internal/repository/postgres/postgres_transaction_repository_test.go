package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coursehub/course-service/internal/models"
	repository "github.com/coursehub/course-service/internal/repository/postgres"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockBalanceQuery = `SELECT balance FROM users WHERE id = $1 FOR UPDATE`

func newLedger(t *testing.T) (*repository.PostgresTransactionRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return repository.NewPostgresTransactionRepository(db), mock, func() { db.Close() }
}

func paidCourse(id int32, code string, courseType models.CourseType, price int64) *models.Course {
	p := decimal.NewFromInt(price)
	return &models.Course{ID: id, Code: code, Name: "course " + code, Type: courseType, Price: &p}
}

func TestTransactionRepository_Deposit(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit credits the balance", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		amount := decimal.NewFromInt(50)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES ($1, $2, $3) RETURNING id, created_at`)).
			WithArgs(int32(1), models.TypeDeposit, amount).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET balance = balance + $1 WHERE id = $2`)).
			WithArgs(amount, int32(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := repo.Deposit(ctx, 1, amount)
		assert.NoError(t, err)
		assert.Equal(t, int32(7), tx.ID)
		assert.Equal(t, models.TypeDeposit, tx.Type)
		assert.True(t, tx.Amount.Equal(amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount is rejected before any query", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		_, err := repo.Deposit(ctx, 1, decimal.Zero)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user rolls back", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(99)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectRollback()

		_, err := repo.Deposit(ctx, 99, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_Pay(t *testing.T) {
	ctx := context.Background()
	rentPeriod := 7 * 24 * time.Hour

	entitledQuery := regexp.QuoteMeta(`SELECT EXISTS ( SELECT 1 FROM transactions WHERE user_id = $1 AND course_id = $2 AND type = 'payment' AND (expires_at IS NULL OR expires_at >= now()) )`)
	insertQuery := regexp.QuoteMeta(`INSERT INTO transactions (user_id, course_id, type, amount, expires_at) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`)
	debitQuery := regexp.QuoteMeta(`UPDATE users SET balance = balance - $1 WHERE id = $2`)

	t.Run("buying a course debits the balance with no expiry", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		course := paidCourse(3, "cleanCourse-1", models.CourseBuy, 30)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectQuery(entitledQuery).
			WithArgs(int32(1), int32(3)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(insertQuery).
			WithArgs(int32(1), int32(3), models.TypePayment, *course.Price, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), time.Now()))
		mock.ExpectExec(debitQuery).
			WithArgs(*course.Price, int32(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := repo.Pay(ctx, 1, course, rentPeriod)
		assert.NoError(t, err)
		assert.Equal(t, models.TypePayment, tx.Type)
		assert.Nil(t, tx.ExpiresAt)
		require.NotNil(t, tx.CourseCode)
		assert.Equal(t, "cleanCourse-1", *tx.CourseCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("renting a course sets the expiry", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		course := paidCourse(2, "cooking-1", models.CourseRent, 20)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectQuery(entitledQuery).
			WithArgs(int32(1), int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(insertQuery).
			WithArgs(int32(1), int32(2), models.TypePayment, *course.Price, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), time.Now()))
		mock.ExpectExec(debitQuery).
			WithArgs(*course.Price, int32(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := repo.Pay(ctx, 1, course, rentPeriod)
		assert.NoError(t, err)
		require.NotNil(t, tx.ExpiresAt)
		assert.WithinDuration(t, time.Now().UTC().Add(rentPeriod), *tx.ExpiresAt, time.Minute)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls back", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		course := paidCourse(3, "cleanCourse-1", models.CourseBuy, 30)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("10"))
		mock.ExpectRollback()

		_, err := repo.Pay(ctx, 1, course, rentPeriod)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active entitlement blocks a second payment", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		course := paidCourse(2, "cooking-1", models.CourseRent, 20)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockBalanceQuery)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
		mock.ExpectQuery(entitledQuery).
			WithArgs(int32(1), int32(2)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := repo.Pay(ctx, 1, course, rentPeriod)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyPaid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("course without a price is rejected", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		course := &models.Course{ID: 1, Code: "car-1", Type: models.CourseFree}
		_, err := repo.Pay(ctx, 1, course, rentPeriod)
		assert.ErrorIs(t, err, pkgerrors.ErrPriceRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_IsEntitled(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta(`SELECT EXISTS ( SELECT 1 FROM transactions WHERE user_id = $1 AND course_id = $2 AND type = 'payment' AND (expires_at IS NULL OR expires_at >= $3) )`)

	t.Run("active payment grants access", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		now := time.Now()
		mock.ExpectQuery(query).
			WithArgs(int32(1), int32(3), now).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		entitled, err := repo.IsEntitled(ctx, 1, 3, now)
		assert.NoError(t, err)
		assert.True(t, entitled)
	})

	t.Run("no payment means no access", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		now := time.Now()
		mock.ExpectQuery(query).
			WithArgs(int32(1), int32(3), now).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		entitled, err := repo.IsEntitled(ctx, 1, 3, now)
		assert.NoError(t, err)
		assert.False(t, entitled)
	})
}

func TestTransactionRepository_List(t *testing.T) {
	ctx := context.Background()
	baseQuery := `SELECT t.id, t.user_id, t.course_id, c.code, t.type, t.amount, t.created_at, t.expires_at FROM transactions t LEFT JOIN courses c ON c.id = t.course_id WHERE t.user_id = $1`
	columns := []string{"id", "user_id", "course_id", "code", "type", "amount", "created_at", "expires_at"}

	t.Run("unfiltered list keeps ledger order", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		expires := time.Now().Add(48 * time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(baseQuery + " ORDER BY t.created_at DESC")).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(2), int32(1), int32(2), "cooking-1", "payment", "20", time.Now(), expires).
				AddRow(int64(1), int32(1), nil, nil, "deposit", "100", time.Now().Add(-time.Hour), nil))

		transactions, err := repo.List(ctx, 1, models.TransactionFilter{})
		assert.NoError(t, err)
		assert.Len(t, transactions, 2)
		require.NotNil(t, transactions[0].CourseCode)
		assert.Equal(t, "cooking-1", *transactions[0].CourseCode)
		assert.NotNil(t, transactions[0].ExpiresAt)
		assert.Nil(t, transactions[1].CourseID)
		assert.Nil(t, transactions[1].ExpiresAt)
	})

	t.Run("type and code filters are appended", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		mock.ExpectQuery(regexp.QuoteMeta(baseQuery+" AND t.type = $2 AND c.code = $3 ORDER BY t.created_at DESC")).
			WithArgs(int32(1), models.TypePayment, "cooking-1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(2), int32(1), int32(2), "cooking-1", "payment", "20", time.Now(), nil))

		txType := models.TypePayment
		code := "cooking-1"
		transactions, err := repo.List(ctx, 1, models.TransactionFilter{Type: &txType, CourseCode: &code})
		assert.NoError(t, err)
		assert.Len(t, transactions, 1)
	})

	t.Run("skip_expired filters out lapsed rents", func(t *testing.T) {
		repo, mock, closeDB := newLedger(t)
		defer closeDB()

		mock.ExpectQuery(regexp.QuoteMeta(baseQuery + " AND (t.expires_at IS NULL OR t.expires_at >= now()) ORDER BY t.created_at DESC")).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows(columns))

		transactions, err := repo.List(ctx, 1, models.TransactionFilter{SkipExpired: true})
		assert.NoError(t, err)
		assert.Empty(t, transactions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_FindExpiring(t *testing.T) {
	ctx := context.Background()

	repo, mock, closeDB := newLedger(t)
	defer closeDB()

	query := regexp.QuoteMeta(`SELECT u.email, c.code, c.name, t.expires_at FROM transactions t JOIN users u ON u.id = t.user_id JOIN courses c ON c.id = t.course_id WHERE t.type = 'payment' AND t.expires_at IS NOT NULL AND t.expires_at > now() AND t.expires_at <= now() + make_interval(secs => $1) ORDER BY u.email, t.expires_at`)
	expires := time.Now().Add(12 * time.Hour)
	mock.ExpectQuery(query).
		WithArgs(float64(24 * 60 * 60)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "code", "name", "expires_at"}).
			AddRow("user@mail.ru", "cooking-1", "Cooking for programmers", expires))

	rents, err := repo.FindExpiring(ctx, 24*time.Hour)
	assert.NoError(t, err)
	require.Len(t, rents, 1)
	assert.Equal(t, "user@mail.ru", rents[0].Email)
	assert.Equal(t, "cooking-1", rents[0].CourseCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
