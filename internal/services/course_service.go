package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/coursehub/course-service/internal/infrastructure/kafka"
	"github.com/coursehub/course-service/internal/infrastructure/redis"
	"github.com/coursehub/course-service/internal/models"
	"github.com/coursehub/course-service/internal/repository"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const courseCacheTTL = 24 * time.Hour

// CourseInput carries the fields of a catalog create/edit request.
type CourseInput struct {
	Name  string
	Code  string
	Type  models.CourseType
	Price *decimal.Decimal
}

type CourseService interface {
	List(ctx context.Context) ([]models.Course, error)
	GetByCode(ctx context.Context, code string) (*models.Course, error)
	Create(ctx context.Context, input CourseInput) (*models.Course, error)
	Edit(ctx context.Context, code string, input CourseInput) (*models.Course, error)
}

type courseService struct {
	courseRepo  repository.CourseRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
}

func NewCourseService(
	courseRepo repository.CourseRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *courseService {
	return &courseService{
		courseRepo:  courseRepo,
		redisClient: redisClient,
		producer:    producer,
	}
}

func (s *courseService) List(ctx context.Context) ([]models.Course, error) {
	return s.courseRepo.List(ctx)
}

func (s *courseService) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	tracer := otel.Tracer("course-service")
	ctx, span := tracer.Start(ctx, "GetCourseByCode")
	defer span.End()

	cacheKey := fmt.Sprintf("course:%s", code)
	cached, err := s.redisClient.Get(ctx, cacheKey)
	if err == nil {
		var course models.Course
		if err := json.Unmarshal([]byte(cached), &course); err == nil {
			return &course, nil
		}
		slog.Error("failed to unmarshal cached course", "code", code, "error", err)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Error("failed to get course from Redis", "code", code, "error", err)
	}

	course, err := s.courseRepo.GetByCode(ctx, code)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrCourseNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	if courseBytes, err := json.Marshal(course); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, string(courseBytes), courseCacheTTL); err != nil {
			slog.Error("failed to cache course", "code", code, "error", err)
		}
	}
	return course, nil
}

func (s *courseService) Create(ctx context.Context, input CourseInput) (*models.Course, error) {
	tracer := otel.Tracer("course-service")
	ctx, span := tracer.Start(ctx, "CreateCourse")
	defer span.End()

	if err := validateCourseInput(&input); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	course := &models.Course{
		Code:  input.Code,
		Name:  input.Name,
		Type:  input.Type,
		Price: input.Price,
	}
	if err := s.courseRepo.Create(ctx, course); err != nil {
		if stderrors.Is(err, pkgerrors.ErrCourseCodeExists) {
			slog.Warn("course code already exists", "code", input.Code)
			return nil, err
		}
		span.RecordError(err)
		slog.Error("failed to create course", "code", input.Code, "error", err)
		return nil, fmt.Errorf("%w: failed to create course", pkgerrors.ErrInternal)
	}

	slog.Info("course created", "course_id", course.ID, "code", course.Code, "type", course.Type)
	return course, nil
}

func (s *courseService) Edit(ctx context.Context, code string, input CourseInput) (*models.Course, error) {
	tracer := otel.Tracer("course-service")
	ctx, span := tracer.Start(ctx, "EditCourse")
	defer span.End()

	if err := validateCourseInput(&input); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	course, err := s.courseRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	course.Name = input.Name
	course.Code = input.Code
	course.Type = input.Type
	course.Price = input.Price

	if err := s.courseRepo.Update(ctx, course); err != nil {
		if stderrors.Is(err, pkgerrors.ErrCourseCodeExists) || stderrors.Is(err, pkgerrors.ErrCourseNotFound) {
			return nil, err
		}
		span.RecordError(err)
		slog.Error("failed to update course", "code", code, "error", err)
		return nil, fmt.Errorf("%w: failed to update course", pkgerrors.ErrInternal)
	}

	s.invalidateCache(ctx, course.ID, code)
	if course.Code != code {
		s.invalidateCache(ctx, course.ID, course.Code)
	}

	slog.Info("course updated", "course_id", course.ID, "code", course.Code)
	return course, nil
}

// validateCourseInput enforces the price/type rule: FREE clears any supplied
// price, RENT and BUY require a positive one.
func validateCourseInput(input *CourseInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", pkgerrors.ErrInvalidInput)
	}
	if input.Code == "" {
		return fmt.Errorf("%w: code cannot be empty", pkgerrors.ErrInvalidInput)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown course type %q", pkgerrors.ErrInvalidInput, input.Type)
	}

	switch input.Type {
	case models.CourseFree:
		input.Price = nil
	case models.CourseRent, models.CourseBuy:
		if input.Price == nil {
			return pkgerrors.ErrPriceRequired
		}
		if !input.Price.IsPositive() {
			return fmt.Errorf("%w: price must be positive", pkgerrors.ErrInvalidInput)
		}
	}
	return nil
}

// invalidateCache drops the local cache entry and broadcasts the update so
// other instances drop theirs too.
func (s *courseService) invalidateCache(ctx context.Context, courseID int32, code string) {
	cacheKey := fmt.Sprintf("course:%s", code)
	if err := s.redisClient.Del(ctx, cacheKey); err != nil {
		slog.Error("failed to drop course cache", "code", code, "error", err)
	}

	event := map[string]interface{}{
		"event_type": "course_updated",
		"course_id":  courseID,
		"code":       code,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal course event", "code", code, "error", err)
		return
	}
	if err := s.producer.Send(ctx, kafka.TopicCourses, int64(courseID), eventBytes); err != nil {
		slog.Error("failed to send course event", "code", code, "error", err)
	}
}
