package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/coursehub/course-service/internal/email"
	"github.com/coursehub/course-service/internal/models"
	"github.com/coursehub/course-service/internal/repository"
)

// DefaultLookahead is how far ahead the batch looks for ending rents.
const DefaultLookahead = 24 * time.Hour

// Notifier is the rent-ending batch job: it reads the ledger, groups ending
// rents by the owner's email and sends one reminder per user. It never
// mutates anything.
type Notifier struct {
	ledger    repository.TransactionRepository
	sender    email.Sender
	lookahead time.Duration
}

func New(ledger repository.TransactionRepository, sender email.Sender, lookahead time.Duration) *Notifier {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Notifier{ledger: ledger, sender: sender, lookahead: lookahead}
}

// Run aborts on the first transport failure; there is no partial retry.
func (n *Notifier) Run(ctx context.Context) error {
	rents, err := n.ledger.FindExpiring(ctx, n.lookahead)
	if err != nil {
		return fmt.Errorf("failed to find ending rents: %w", err)
	}
	if len(rents) == 0 {
		slog.Info("no rents ending soon")
		return nil
	}

	byEmail := map[string][]models.ExpiringRent{}
	for _, rent := range rents {
		byEmail[rent.Email] = append(byEmail[rent.Email], rent)
	}

	emails := make([]string, 0, len(byEmail))
	for e := range byEmail {
		emails = append(emails, e)
	}
	sort.Strings(emails)

	for _, to := range emails {
		body := renderReminder(byEmail[to])
		if err := n.sender.Send(to, "Your course rentals are ending soon", body); err != nil {
			slog.Error("failed to send reminder", "to", to, "error", err)
			return fmt.Errorf("failed to send reminder to %s: %w", to, err)
		}
		slog.Info("reminder sent", "to", to, "rents", len(byEmail[to]))
	}
	return nil
}

func renderReminder(rents []models.ExpiringRent) string {
	var b strings.Builder
	b.WriteString("Hi,\n\nThe following course rentals end within a day:\n\n")
	for _, rent := range rents {
		fmt.Fprintf(&b, "  - %s (%s), until %s\n",
			rent.CourseName, rent.CourseCode, rent.ExpiresAt.Format("Jan 2, 2006 15:04 MST"))
	}
	b.WriteString("\nRenew the rental to keep access.\n")
	return b.String()
}
