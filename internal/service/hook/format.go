package hook

import (
	"fmt"
	"time"

	"github.com/faultline/faultline/internal/domain"
)

const (
	eventErrorCreated = "error.created"
	eventWebhookTest  = "webhook.test"

	discordTitle  = "🚨 New Error Detected"
	footerText    = "Faultline Error Dashboard"
	noStackText   = "No stack trace available"
	colorResolved = 3066993  // green
	colorOpen     = 15158332 // red

	discordMessageLimit = 256
	discordStackLimit   = 1000
	telegramStackLimit  = 500
)

// ErrorPayload is the nested error object of the canonical event.
type ErrorPayload struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stackTrace"`
	Summary    *string   `json:"summary"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event is the canonical payload delivered verbatim to Generic targets and
// reshaped for the other dialects.
type Event struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Error     ErrorPayload `json:"error"`
	Project   struct {
		ID string `json:"id"`
	} `json:"project"`
}

// NewEvent snapshots an error log into the canonical error.created payload.
func NewEvent(projectID string, log domain.ErrorLog) Event {
	evt := Event{
		Event:     eventErrorCreated,
		Timestamp: time.Now().UTC(),
		Error: ErrorPayload{
			ID:         log.ID,
			Message:    log.Message,
			StackTrace: log.StackTrace,
			Summary:    log.Summary,
			Status:     log.Status,
			CreatedAt:  log.CreatedAt,
		},
	}
	evt.Project.ID = projectID
	return evt
}

// formatters maps webhook type to its payload shape. Unknown types fall back
// to the canonical payload.
var formatters = map[string]func(Event) any{
	domain.WebhookGeneric:  func(evt Event) any { return evt },
	domain.WebhookDiscord:  formatDiscord,
	domain.WebhookTelegram: formatTelegram,
}

func formatPayload(hookType string, evt Event) any {
	if format, ok := formatters[hookType]; ok {
		return format(evt)
	}
	return evt
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func formatDiscord(evt Event) any {
	description := evt.Error.Message
	if evt.Error.Summary != nil && *evt.Error.Summary != "" {
		description = *evt.Error.Summary
	}
	color := colorOpen
	if evt.Error.Status == domain.StatusResolved {
		color = colorResolved
	}
	stackValue := noStackText
	if evt.Error.StackTrace != "" {
		stackValue = "```" + truncateBlock(evt.Error.StackTrace, discordStackLimit) + "```"
	}
	embed := discordEmbed{
		Title:       discordTitle,
		Description: description,
		Color:       color,
		Fields: []discordField{
			{Name: "Error Message", Value: truncateInline(evt.Error.Message, discordMessageLimit)},
			{Name: "Status", Value: evt.Error.Status, Inline: true},
			{Name: "Error ID", Value: evt.Error.ID, Inline: true},
			{Name: "Stack Trace", Value: stackValue},
		},
		Timestamp: evt.Error.CreatedAt.UTC().Format(time.RFC3339),
	}
	embed.Footer.Text = footerText
	return discordMessage{Embeds: []discordEmbed{embed}}
}

type telegramMessage struct {
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func formatTelegram(evt Event) any {
	stack := noStackText
	if evt.Error.StackTrace != "" {
		stack = truncateBlock(evt.Error.StackTrace, telegramStackLimit)
	}
	summaryLine := ""
	if evt.Error.Summary != nil && *evt.Error.Summary != "" {
		summaryLine = fmt.Sprintf("*Summary:* %s\n", *evt.Error.Summary)
	}
	text := fmt.Sprintf("🚨 *New Error Detected*\n\n"+
		"*Error Message:* %s\n"+
		"*Status:* %s\n"+
		"*Error ID:* `%s`\n"+
		"*Time:* %s UTC\n\n"+
		"%s"+
		"*Stack Trace:*\n```\n%s\n```\n\n"+
		"_%s_",
		evt.Error.Message,
		evt.Error.Status,
		evt.Error.ID,
		evt.Error.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		summaryLine,
		stack,
		footerText,
	)
	return telegramMessage{Text: text, ParseMode: "Markdown"}
}

// truncateInline keeps the result within limit characters, ellipsis
// included. Limits count runes so multibyte text is never cut mid-rune.
func truncateInline(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// truncateBlock cuts s at limit characters and appends an ellipsis marker.
func truncateBlock(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
