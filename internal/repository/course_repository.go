package repository

import (
	"context"

	"github.com/coursehub/course-service/internal/models"
)

type CourseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	GetByCode(ctx context.Context, code string) (*models.Course, error)
	List(ctx context.Context) ([]models.Course, error)
}
