package api

import (
	"time"

	"github.com/voicetyped/campaignflow/pkg/webhook"
)

// CreateWebhookRequest is the request body for creating a webhook.
type CreateWebhookRequest struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Kinds       []string `json:"kinds,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UpdateWebhookRequest is the request body for updating a webhook.
type UpdateWebhookRequest struct {
	Name        *string   `json:"name,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Kinds       *[]string `json:"kinds,omitempty"`
	Actions     *[]string `json:"actions,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// WebhookResponse is the API response for a webhook endpoint.
type WebhookResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Secret       string   `json:"secret,omitempty"` // only on create
	Kinds        []string `json:"kinds"`
	Actions      []string `json:"actions"`
	IsActive     bool     `json:"is_active"`
	Description  string   `json:"description,omitempty"`
	FailureCount int      `json:"failure_count"`
	CircuitState string   `json:"circuit_state"`
	CreatedAt    string   `json:"created_at"`
	ModifiedAt   string   `json:"modified_at"`
}

// DeliveryResponse is the API response for a delivery attempt.
type DeliveryResponse struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	ResponseCode  int    `json:"response_code"`
	AttemptNumber int    `json:"attempt_number"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	CreatedAt     string `json:"created_at"`
}

// DeadLetterResponse is the API response for a dead letter.
type DeadLetterResponse struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	LastError string `json:"last_error"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toWebhookResponse(wh *webhook.WebhookEndpoint, withSecret bool) WebhookResponse {
	resp := WebhookResponse{
		ID:           wh.ID,
		Name:         wh.Name,
		URL:          wh.URL,
		Kinds:        orEmpty(wh.Kinds),
		Actions:      orEmpty(wh.Actions),
		IsActive:     wh.IsActive,
		Description:  wh.Description,
		FailureCount: wh.FailureCount,
		CircuitState: wh.CircuitState,
		CreatedAt:    wh.CreatedAt.Format(time.RFC3339),
		ModifiedAt:   wh.ModifiedAt.Format(time.RFC3339),
	}
	if withSecret {
		resp.Secret = wh.Secret
	}
	return resp
}

func toDeliveryResponse(a *webhook.DeliveryAttempt) DeliveryResponse {
	return DeliveryResponse{
		ID:            a.ID,
		EventID:       a.EventID,
		EventType:     a.EventType,
		ResponseCode:  a.ResponseCode,
		AttemptNumber: a.AttemptNumber,
		Status:        a.Status,
		Error:         a.Error,
		DurationMs:    a.DurationMs,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func toDeadLetterResponse(dl *webhook.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:        dl.ID,
		EventID:   dl.EventID,
		EventType: dl.EventType,
		LastError: dl.LastError,
		Attempts:  dl.Attempts,
		CreatedAt: dl.CreatedAt.Format(time.RFC3339),
	}
}

func orEmpty(l webhook.StringList) []string {
	if l == nil {
		return []string{}
	}
	return l
}
