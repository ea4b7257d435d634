package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coursehub/course-service/internal/models"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type PostgresCourseRepository struct {
	db *sql.DB
}

func NewPostgresCourseRepository(db *sql.DB) *PostgresCourseRepository {
	return &PostgresCourseRepository{db: db}
}

// nullDecimal adapts the nullable price column to *decimal.Decimal.
func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func priceFrom(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	return &nd.Decimal
}

func (r *PostgresCourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course == nil {
		return pkgerrors.ErrNilCourse
	}

	query := `
	INSERT INTO courses (code, name, type, price)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, course.Code, course.Name, course.Type, nullDecimal(course.Price)).
		Scan(&course.ID, &course.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pkgerrors.ErrCourseCodeExists
	}
	if err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

func (r *PostgresCourseRepository) Update(ctx context.Context, course *models.Course) error {
	if course == nil {
		return pkgerrors.ErrNilCourse
	}

	query := `UPDATE courses SET code = $1, name = $2, type = $3, price = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, course.Code, course.Name, course.Type, nullDecimal(course.Price), course.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pkgerrors.ErrCourseCodeExists
	}
	if err != nil {
		return fmt.Errorf("failed to update course: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return pkgerrors.ErrCourseNotFound
	}
	return nil
}

func (r *PostgresCourseRepository) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	query := `SELECT id, code, name, type, price, created_at FROM courses WHERE code = $1`

	var course models.Course
	var price decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&course.ID,
		&course.Code,
		&course.Name,
		&course.Type,
		&price,
		&course.CreatedAt,
	)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrCourseNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get course by code: %w", err)
	}
	course.Price = priceFrom(price)
	return &course, nil
}

func (r *PostgresCourseRepository) List(ctx context.Context) ([]models.Course, error) {
	query := `SELECT id, code, name, type, price, created_at FROM courses ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := []models.Course{}
	for rows.Next() {
		var course models.Course
		var price decimal.NullDecimal
		if err := rows.Scan(
			&course.ID,
			&course.Code,
			&course.Name,
			&course.Type,
			&price,
			&course.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		course.Price = priceFrom(price)
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}
	return courses, nil
}
