package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursehub/course-service/internal/api"
	"github.com/coursehub/course-service/internal/config"
	"github.com/coursehub/course-service/internal/db"
	"github.com/coursehub/course-service/internal/handler"
	"github.com/coursehub/course-service/internal/infrastructure/kafka"
	"github.com/coursehub/course-service/internal/infrastructure/redis"
	"github.com/coursehub/course-service/internal/observability"
	core "github.com/coursehub/course-service/internal/repository/postgres"
	"github.com/coursehub/course-service/internal/seed"
	service "github.com/coursehub/course-service/internal/services"
)

func main() {
	seedFixtures := flag.Bool("seed", false, "load dev fixtures and exit")
	flag.Parse()

	cfg := config.Load()

	shutdown, _ := observability.Setup("course-service")
	defer shutdown(context.Background())

	database, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	userRepo := core.NewPostgresUserRepository(database)
	courseRepo := core.NewPostgresCourseRepository(database)
	ledger := core.NewPostgresTransactionRepository(database)

	if *seedFixtures {
		if err := seed.Run(context.Background(), database, userRepo, courseRepo, ledger); err != nil {
			log.Fatalf("Failed to load fixtures: %v", err)
		}
		return
	}

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	payments := service.NewPaymentService(userRepo, ledger, redisClient, producer, cfg.JWTSecret)
	courses := service.NewCourseService(courseRepo, redisClient, producer)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	courseConsumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicCourses, "course-service-cache", redisClient)
	go courseConsumer.Consume(consumerCtx)
	defer courseConsumer.Close()

	h := handler.NewHandler(payments, courses)
	router := api.SetupRouter(h, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
