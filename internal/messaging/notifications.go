// internal/messaging/notifications.go

package messaging

import (
	"context"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Notifier alerts recipients who have no live session about a new message.
type Notifier interface {
	NotifyOffline(ctx context.Context, message *Message, userIDs []string)
}

// emailNotifier sends a short digest through SendGrid.
type emailNotifier struct {
	repo     Repository
	profiles ProfileDirectory
	apiKey   string
	from     string
	fromName string
}

func NewEmailNotifier(repo Repository, profiles ProfileDirectory, apiKey, from, fromName string) Notifier {
	return &emailNotifier{
		repo:     repo,
		profiles: profiles,
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
	}
}

func (n *emailNotifier) NotifyOffline(ctx context.Context, message *Message, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	emails, err := n.repo.GetUserEmails(ctx, userIDs)
	if err != nil {
		log.Printf("messaging: failed to resolve notification emails: %v", err)
		return
	}
	if len(emails) == 0 {
		return
	}

	senderName := "Someone"
	if profiles, err := n.profiles.GetProfiles(ctx, []string{message.SenderID}); err == nil {
		if p, ok := profiles[message.SenderID]; ok && p.DisplayName != "" {
			senderName = p.DisplayName
		}
	}

	subject := fmt.Sprintf("New message from %s", senderName)
	body := previewFor(message)

	client := sendgrid.NewSendClient(n.apiKey)
	from := mail.NewEmail(n.fromName, n.from)

	for userID, email := range emails {
		to := mail.NewEmail("", email)
		msg := mail.NewSingleEmail(from, subject, to, body, "")

		response, err := client.Send(msg)
		if err != nil {
			log.Printf("messaging: failed to notify %s: %v", userID, err)
			continue
		}
		if response.StatusCode >= 400 {
			log.Printf("messaging: SendGrid returned status %d for %s", response.StatusCode, userID)
		}
	}
}

// MockNotifier swallows notifications; used when e-mail is not configured.
type MockNotifier struct{}

func (MockNotifier) NotifyOffline(ctx context.Context, message *Message, userIDs []string) {
	log.Printf("messaging: [mock] would notify %d offline recipients of message %s", len(userIDs), message.ID)
}
