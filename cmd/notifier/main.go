package main

import (
	"context"
	"log"

	"github.com/coursehub/course-service/internal/config"
	"github.com/coursehub/course-service/internal/db"
	"github.com/coursehub/course-service/internal/email"
	"github.com/coursehub/course-service/internal/infrastructure/observability"
	"github.com/coursehub/course-service/internal/notifier"
	core "github.com/coursehub/course-service/internal/repository/postgres"
)

// Rent-ending reminder batch. Intended to run from cron once a day; a
// non-zero exit means the run failed and nothing should be considered sent.
func main() {
	observability.InitLogger()
	cfg := config.Load()

	database, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer database.Close()

	ledger := core.NewPostgresTransactionRepository(database)
	sender := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom, cfg.MailFromName)

	n := notifier.New(ledger, sender, notifier.DefaultLookahead)
	if err := n.Run(context.Background()); err != nil {
		log.Fatalf("Notifier run failed: %v", err)
	}
	log.Println("Notifier run completed")
}
