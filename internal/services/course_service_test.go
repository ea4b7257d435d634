package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coursehub/course-service/internal/infrastructure/redis"
	"github.com/coursehub/course-service/internal/models"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCourseRepository struct {
	mock.Mock
}

func (m *MockCourseRepository) Create(ctx context.Context, course *models.Course) error {
	args := m.Called(ctx, course)
	return args.Error(0)
}

func (m *MockCourseRepository) Update(ctx context.Context, course *models.Course) error {
	args := m.Called(ctx, course)
	return args.Error(0)
}

func (m *MockCourseRepository) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Course), args.Error(1)
}

func (m *MockCourseRepository) List(ctx context.Context) ([]models.Course, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Course), args.Error(1)
}

func newCourseService(courseRepo *MockCourseRepository, redisClient *MockRedis, producer *MockProducer) *courseService {
	return NewCourseService(courseRepo, redisClient, producer)
}

func TestCourseService_GetByCode(t *testing.T) {
	ctx := context.Background()
	price := decimal.NewFromInt(20)
	course := &models.Course{ID: 2, Code: "cooking-1", Name: "Cooking for programmers", Type: models.CourseRent, Price: &price}

	t.Run("cache hit skips the repository", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		redisClient := new(MockRedis)
		svc := newCourseService(courseRepo, redisClient, new(MockProducer))

		cached, _ := json.Marshal(course)
		redisClient.On("Get", mock.Anything, "course:cooking-1").Return(string(cached), nil)

		got, err := svc.GetByCode(ctx, "cooking-1")
		assert.NoError(t, err)
		assert.Equal(t, course.Code, got.Code)
		assert.True(t, got.Price.Equal(price))
		courseRepo.AssertNotCalled(t, "GetByCode", mock.Anything, mock.Anything)
	})

	t.Run("cache miss falls back to the repository and backfills", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		redisClient := new(MockRedis)
		svc := newCourseService(courseRepo, redisClient, new(MockProducer))

		redisClient.On("Get", mock.Anything, "course:cooking-1").Return("", redis.ErrKeyNotFound)
		courseRepo.On("GetByCode", mock.Anything, "cooking-1").Return(course, nil)
		redisClient.On("Set", mock.Anything, "course:cooking-1", mock.Anything, courseCacheTTL).Return(nil)

		got, err := svc.GetByCode(ctx, "cooking-1")
		assert.NoError(t, err)
		assert.Equal(t, course, got)
		redisClient.AssertExpectations(t)
	})

	t.Run("unknown course", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		redisClient := new(MockRedis)
		svc := newCourseService(courseRepo, redisClient, new(MockProducer))

		redisClient.On("Get", mock.Anything, "course:nope").Return("", redis.ErrKeyNotFound)
		courseRepo.On("GetByCode", mock.Anything, "nope").Return(nil, pkgerrors.ErrCourseNotFound)

		_, err := svc.GetByCode(ctx, "nope")
		assert.ErrorIs(t, err, pkgerrors.ErrCourseNotFound)
	})
}

func TestCourseService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("paid course is stored", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		svc := newCourseService(courseRepo, new(MockRedis), new(MockProducer))

		price := decimal.NewFromInt(30)
		courseRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Course")).
			Run(func(args mock.Arguments) {
				args.Get(1).(*models.Course).ID = 3
			}).Return(nil)

		course, err := svc.Create(ctx, CourseInput{Name: "Cleaning", Code: "cleanCourse-1", Type: models.CourseBuy, Price: &price})
		assert.NoError(t, err)
		assert.Equal(t, int32(3), course.ID)
		assert.True(t, course.Price.Equal(price))
	})

	t.Run("free course drops a supplied price", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		svc := newCourseService(courseRepo, new(MockRedis), new(MockProducer))

		price := decimal.NewFromInt(10)
		courseRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Course")).Return(nil)

		course, err := svc.Create(ctx, CourseInput{Name: "Car maintenance", Code: "car-1", Type: models.CourseFree, Price: &price})
		assert.NoError(t, err)
		assert.Nil(t, course.Price)
	})

	t.Run("paid course without price", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		svc := newCourseService(courseRepo, new(MockRedis), new(MockProducer))

		_, err := svc.Create(ctx, CourseInput{Name: "Cooking", Code: "cooking-1", Type: models.CourseRent})
		assert.ErrorIs(t, err, pkgerrors.ErrPriceRequired)
		courseRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("non-positive price", func(t *testing.T) {
		svc := newCourseService(new(MockCourseRepository), new(MockRedis), new(MockProducer))

		price := decimal.Zero
		_, err := svc.Create(ctx, CourseInput{Name: "Cooking", Code: "cooking-1", Type: models.CourseRent, Price: &price})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("unknown type", func(t *testing.T) {
		svc := newCourseService(new(MockCourseRepository), new(MockRedis), new(MockProducer))

		_, err := svc.Create(ctx, CourseInput{Name: "Cooking", Code: "cooking-1", Type: "subscription"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("duplicate code", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		svc := newCourseService(courseRepo, new(MockRedis), new(MockProducer))

		price := decimal.NewFromInt(30)
		courseRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Course")).
			Return(pkgerrors.ErrCourseCodeExists)

		_, err := svc.Create(ctx, CourseInput{Name: "Cleaning", Code: "cleanCourse-1", Type: models.CourseBuy, Price: &price})
		assert.ErrorIs(t, err, pkgerrors.ErrCourseCodeExists)
	})
}

func TestCourseService_Edit(t *testing.T) {
	ctx := context.Background()
	price := decimal.NewFromInt(20)

	t.Run("edit updates and invalidates the cache", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		redisClient := new(MockRedis)
		producer := new(MockProducer)
		svc := newCourseService(courseRepo, redisClient, producer)

		existing := &models.Course{ID: 2, Code: "cooking-1", Name: "Cooking", Type: models.CourseRent, Price: &price}
		courseRepo.On("GetByCode", mock.Anything, "cooking-1").Return(existing, nil)
		courseRepo.On("Update", mock.Anything, mock.AnythingOfType("*models.Course")).Return(nil)
		redisClient.On("Del", mock.Anything, "course:cooking-1").Return(nil)
		producer.On("Send", mock.Anything, mock.Anything, int64(2), mock.Anything).Return(nil)

		newPrice := decimal.NewFromInt(25)
		course, err := svc.Edit(ctx, "cooking-1", CourseInput{Name: "Cooking v2", Code: "cooking-1", Type: models.CourseRent, Price: &newPrice})
		assert.NoError(t, err)
		assert.Equal(t, "Cooking v2", course.Name)
		assert.True(t, course.Price.Equal(newPrice))
		redisClient.AssertExpectations(t)
		producer.AssertExpectations(t)
	})

	t.Run("renaming the code drops both cache keys", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		redisClient := new(MockRedis)
		producer := new(MockProducer)
		svc := newCourseService(courseRepo, redisClient, producer)

		existing := &models.Course{ID: 2, Code: "cooking-1", Name: "Cooking", Type: models.CourseRent, Price: &price}
		courseRepo.On("GetByCode", mock.Anything, "cooking-1").Return(existing, nil)
		courseRepo.On("Update", mock.Anything, mock.AnythingOfType("*models.Course")).Return(nil)
		redisClient.On("Del", mock.Anything, "course:cooking-1").Return(nil)
		redisClient.On("Del", mock.Anything, "course:cooking-2").Return(nil)
		producer.On("Send", mock.Anything, mock.Anything, int64(2), mock.Anything).Return(nil)

		_, err := svc.Edit(ctx, "cooking-1", CourseInput{Name: "Cooking", Code: "cooking-2", Type: models.CourseRent, Price: &price})
		assert.NoError(t, err)
		redisClient.AssertExpectations(t)
	})

	t.Run("unknown course", func(t *testing.T) {
		courseRepo := new(MockCourseRepository)
		svc := newCourseService(courseRepo, new(MockRedis), new(MockProducer))

		courseRepo.On("GetByCode", mock.Anything, "nope").Return(nil, pkgerrors.ErrCourseNotFound)

		_, err := svc.Edit(ctx, "nope", CourseInput{Name: "Anything", Code: "nope", Type: models.CourseFree})
		assert.ErrorIs(t, err, pkgerrors.ErrCourseNotFound)
		courseRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}
