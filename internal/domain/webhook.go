package domain

import "time"

// Webhook payload dialects.
const (
	WebhookGeneric  = "Generic"
	WebhookDiscord  = "Discord"
	WebhookTelegram = "Telegram"
)

// Webhook is an outbound notification target configured per project.
// SecretToken is stored encrypted and only attached as a header for the
// Generic dialect.
type Webhook struct {
	ID          string
	ProjectID   string
	Name        string
	URL         string
	SecretToken []byte
	Type        string
	IsActive    bool
	CreatedAt   time.Time
}
