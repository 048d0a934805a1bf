package httpx

import (
	"time"

	"github.com/faultline/faultline/internal/domain"
)

func marshalUser(id, name, email, role string) map[string]any {
	return map[string]any{
		"id":    id,
		"name":  name,
		"email": email,
		"role":  role,
	}
}

func marshalProject(p domain.Project) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"name":         p.Name,
		"tech_stack":   p.TechStack,
		"api_key":      p.APIKey,
		"security_key": p.SecurityKey,
		"created_at":   p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func marshalErrorLog(e domain.ErrorLog) map[string]any {
	payload := map[string]any{
		"id":          e.ID,
		"project_id":  e.ProjectID,
		"message":     e.Message,
		"stack_trace": e.StackTrace,
		"status":      e.Status,
		"created_at":  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Summary != nil {
		payload["summary"] = *e.Summary
	}
	return payload
}

// marshalWebhook omits the stored secret; callers only learn whether one is set.
func marshalWebhook(wh domain.Webhook) map[string]any {
	return map[string]any{
		"id":         wh.ID,
		"project_id": wh.ProjectID,
		"name":       wh.Name,
		"url":        wh.URL,
		"type":       wh.Type,
		"is_active":  wh.IsActive,
		"has_secret": len(wh.SecretToken) > 0,
		"created_at": wh.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
