package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/coursehub/course-service/internal/infrastructure/kafka"
	"github.com/coursehub/course-service/internal/infrastructure/redis"
	"github.com/coursehub/course-service/internal/models"
	"github.com/coursehub/course-service/internal/repository"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour

	// RentPeriod is the entitlement window granted by a rent payment.
	RentPeriod = 7 * 24 * time.Hour
)

// welcomeDeposit is credited through the ledger right after registration.
var welcomeDeposit = decimal.NewFromInt(100)

type PaymentService interface {
	Register(ctx context.Context, email, password string) (*models.AuthTokens, error)
	Login(ctx context.Context, email, password string) (*models.AuthTokens, error)
	Refresh(ctx context.Context, refreshToken string) (*models.AuthTokens, error)
	CurrentUser(ctx context.Context, userID int32) (*models.User, error)
	Deposit(ctx context.Context, userID int32, amount decimal.Decimal) (*models.Transaction, error)
	Pay(ctx context.Context, userID int32, course *models.Course) (*models.Transaction, error)
	IsEntitled(ctx context.Context, userID int32, course *models.Course, at time.Time) (bool, error)
	ListTransactions(ctx context.Context, userID int32, filter models.TransactionFilter) ([]models.Transaction, error)
}

type paymentService struct {
	userRepo    repository.UserRepository
	ledger      repository.TransactionRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	jwtSecret   string
}

func NewPaymentService(
	userRepo repository.UserRepository,
	ledger repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	jwtSecret string,
) *paymentService {
	return &paymentService{
		userRepo:    userRepo,
		ledger:      ledger,
		redisClient: redisClient,
		producer:    producer,
		jwtSecret:   jwtSecret,
	}
}

func (s *paymentService) Register(ctx context.Context, email, password string) (*models.AuthTokens, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if !strings.Contains(email, "@") {
		span.SetStatus(codes.Error, "invalid email")
		return nil, fmt.Errorf("%w: invalid email", pkgerrors.ErrInvalidInput)
	}
	if len(password) < 6 {
		span.SetStatus(codes.Error, "password too short")
		return nil, fmt.Errorf("%w: password must be at least 6 characters", pkgerrors.ErrInvalidInput)
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if existing != nil {
		span.SetStatus(codes.Error, "email already exists")
		slog.Warn("email already exists", "email", email, "existing_id", existing.ID)
		return nil, pkgerrors.ErrEmailExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		slog.Error("failed to check user existence", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to hash password", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Roles:        []string{"ROLE_USER"},
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		if stderrors.Is(err, pkgerrors.ErrEmailExists) {
			return nil, err
		}
		slog.Error("failed to create user", "email", email, "error", err)
		return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	if _, err := s.ledger.Deposit(ctx, user.ID, welcomeDeposit); err != nil {
		span.RecordError(err)
		slog.Error("failed to record welcome deposit", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to record welcome deposit", pkgerrors.ErrInternal)
	}

	s.publishEvent(ctx, kafka.TopicUsers, int64(user.ID), map[string]interface{}{
		"event_type": "user_registered",
		"user_id":    user.ID,
		"email":      user.Email,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("user registered", "user_id", user.ID, "email", email)
	return s.issueTokens(ctx, user)
}

func (s *paymentService) Login(ctx context.Context, email, password string) (*models.AuthTokens, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		slog.Warn("failed to login", "email", email, "error", err)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("invalid password", "email", email)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	slog.Info("user logged in", "email", email, "user_id", user.ID)
	return s.issueTokens(ctx, user)
}

func (s *paymentService) Refresh(ctx context.Context, refreshToken string) (*models.AuthTokens, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	key := fmt.Sprintf("refresh:%s", refreshToken)
	val, err := s.redisClient.Get(ctx, key)
	if err != nil {
		span.SetStatus(codes.Error, "unknown refresh token")
		return nil, pkgerrors.ErrInvalidToken
	}

	userID, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, int32(userID))
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}

	// One-shot refresh tokens: the old one is gone after a successful swap.
	if err := s.redisClient.Del(ctx, key); err != nil {
		slog.Error("failed to revoke refresh token", "user_id", user.ID, "error", err)
	}

	slog.Info("tokens refreshed", "user_id", user.ID)
	return s.issueTokens(ctx, user)
}

func (s *paymentService) issueTokens(ctx context.Context, user *models.User) (*models.AuthTokens, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"roles":   user.Roles,
		"exp":     time.Now().Add(accessTokenTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		slog.Error("failed to generate JWT", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	refreshToken := uuid.NewString()
	key := fmt.Sprintf("refresh:%s", refreshToken)
	if err := s.redisClient.Set(ctx, key, user.ID, refreshTokenTTL); err != nil {
		slog.Error("failed to store refresh token", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to store refresh token", pkgerrors.ErrInternal)
	}

	return &models.AuthTokens{
		Token:        tokenString,
		RefreshToken: refreshToken,
		Roles:        user.Roles,
	}, nil
}

func (s *paymentService) CurrentUser(ctx context.Context, userID int32) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

func (s *paymentService) Deposit(ctx context.Context, userID int32, amount decimal.Decimal) (*models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Deposit")
	defer span.End()

	if !amount.IsPositive() {
		span.SetStatus(codes.Error, "non-positive amount")
		return nil, fmt.Errorf("%w: deposit amount must be positive", pkgerrors.ErrInvalidInput)
	}

	tx, err := s.ledger.Deposit(ctx, userID, amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx)
	return tx, nil
}

func (s *paymentService) Pay(ctx context.Context, userID int32, course *models.Course) (*models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Pay")
	defer span.End()

	if course == nil {
		return nil, pkgerrors.ErrNilCourse
	}
	// FREE courses are short-circuited by the HTTP layer; one slipping
	// through means a catalog invariant is broken.
	if course.Type == models.CourseFree || course.Price == nil {
		span.SetStatus(codes.Error, "course has no price")
		return nil, pkgerrors.ErrPriceRequired
	}

	tx, err := s.ledger.Pay(ctx, userID, course, RentPeriod)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx)
	return tx, nil
}

func (s *paymentService) IsEntitled(ctx context.Context, userID int32, course *models.Course, at time.Time) (bool, error) {
	if course == nil {
		return false, pkgerrors.ErrNilCourse
	}
	return s.ledger.IsEntitled(ctx, userID, course.ID, at)
}

func (s *paymentService) ListTransactions(ctx context.Context, userID int32, filter models.TransactionFilter) ([]models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	if filter.Type != nil && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", pkgerrors.ErrInvalidInput, *filter.Type)
	}

	transactions, err := s.ledger.List(ctx, userID, filter)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to list transactions", "user_id", userID, "error", err)
		return nil, err
	}

	slog.Info("transactions listed", "user_id", userID, "count", len(transactions))
	return transactions, nil
}

func (s *paymentService) publishTransactionEvent(ctx context.Context, tx *models.Transaction) {
	event := map[string]interface{}{
		"event_type":     "transaction_recorded",
		"transaction_id": tx.ID,
		"user_id":        tx.UserID,
		"type":           tx.Type,
		"amount":         tx.Amount.String(),
		"created_at":     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.CourseCode != nil {
		event["code"] = *tx.CourseCode
	}
	s.publishEvent(ctx, kafka.TopicTransactions, int64(tx.ID), event)
}

// publishEvent is best effort: the ledger has already committed, the event
// stream is strictly after-the-fact.
func (s *paymentService) publishEvent(ctx context.Context, topic string, key int64, event map[string]interface{}) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.producer.Send(ctx, topic, key, eventBytes); err != nil {
		slog.Error("failed to send event", "topic", topic, "key", key, "error", err)
	}
}
