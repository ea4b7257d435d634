package seed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursehub/course-service/internal/models"
	"github.com/coursehub/course-service/internal/repository"
	service "github.com/coursehub/course-service/internal/services"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type courseData struct {
	code  string
	name  string
	typ   models.CourseType
	price string
}

var coursesData = []courseData{
	{code: "car-1", name: "Car maintenance basics", typ: models.CourseFree},
	{code: "cooking-1", name: "Home cooking", typ: models.CourseRent, price: "20"},
	{code: "cleanCourse-1", name: "Clean code", typ: models.CourseBuy, price: "30"},
	{code: "test_buy", name: "Sample buy course", typ: models.CourseBuy, price: "40"},
	{code: "test_rent", name: "Sample rent course", typ: models.CourseRent, price: "10"},
}

// Run loads the dev fixtures: a plain user, an admin with a purchase history
// (including a long-expired rent) and the demo course catalog. Backdating
// the expired rent is a direct write — seed time is the one place balance
// and ledger rows may be set outside the ledger operations.
func Run(ctx context.Context, db *sql.DB, userRepo repository.UserRepository, courseRepo repository.CourseRepository, ledger repository.TransactionRepository) error {
	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash fixture password: %w", err)
	}

	user := &models.User{Email: "user@mail.ru", PasswordHash: string(hash)}
	if err := userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}

	admin := &models.User{
		Email:        "admin@mail.ru",
		PasswordHash: string(hash),
		Roles:        []string{"ROLE_USER", models.RoleSuperAdmin},
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}

	byCode := map[string]*models.Course{}
	for _, data := range coursesData {
		course := &models.Course{Code: data.code, Name: data.name, Type: data.typ}
		if data.price != "" {
			price := decimal.RequireFromString(data.price)
			course.Price = &price
		}
		if err := courseRepo.Create(ctx, course); err != nil {
			return fmt.Errorf("failed to seed course %s: %w", data.code, err)
		}
		byCode[data.code] = course
	}

	if _, err := ledger.Deposit(ctx, admin.ID, decimal.NewFromInt(1000)); err != nil {
		return fmt.Errorf("failed to seed admin deposit: %w", err)
	}
	if _, err := ledger.Deposit(ctx, admin.ID, decimal.NewFromInt(70)); err != nil {
		return fmt.Errorf("failed to seed admin deposit: %w", err)
	}

	if _, err := ledger.Pay(ctx, admin.ID, byCode["cleanCourse-1"], service.RentPeriod); err != nil {
		return fmt.Errorf("failed to seed purchase: %w", err)
	}

	// A rent that ran out over a year ago, for exercising skip_expired and
	// re-payment of a lapsed course.
	created := time.Now().UTC().AddDate(-1, -3, 0)
	expired := time.Now().UTC().AddDate(-1, -2, 0)
	cooking := byCode["cooking-1"]
	_, err = db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, course_id, type, amount, created_at, expires_at)
		VALUES ($1, $2, 'payment', $3, $4, $5)`,
		admin.ID, cooking.ID, cooking.Price, created, expired,
	)
	if err != nil {
		return fmt.Errorf("failed to seed expired rent: %w", err)
	}
	_, err = db.ExecContext(ctx, `UPDATE users SET balance = balance - $1 WHERE id = $2`, cooking.Price, admin.ID)
	if err != nil {
		return fmt.Errorf("failed to apply expired rent debit: %w", err)
	}

	slog.Info("fixtures loaded", "users", 2, "courses", len(coursesData))
	return nil
}
