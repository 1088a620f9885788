package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case Pending, Processing, Sent, Failed:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

type MessageType string

const (
	CredentialDelivery MessageType = "credential-delivery"
	ExpiryWarning      MessageType = "expiry-warning"
	RegistrationLink   MessageType = "registration-link"
	Generic            MessageType = "generic"
)

func (t MessageType) Valid() bool {
	switch t {
	case CredentialDelivery, ExpiryWarning, RegistrationLink, Generic:
		return true
	}
	return false
}

type Message struct {
	ID           uuid.UUID   `json:"id"`
	TenantID     string      `json:"tenantId"`
	Recipient    string      `json:"recipient"`
	Content      string      `json:"content"`
	Type         MessageType `json:"messageType"`
	Status       Status      `json:"status"`
	ScheduledAt  time.Time   `json:"scheduledAt"`
	SentAt       *time.Time  `json:"sentAt,omitempty"`
	LastError    *string     `json:"lastError,omitempty"`
	DeliveryID   *string     `json:"deliveryId,omitempty"`
	ClaimedAt    *time.Time  `json:"claimedAt,omitempty"`
	RequeuedFrom *uuid.UUID  `json:"requeuedFrom,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// MessageFilter narrows a listing. Empty fields match everything.
type MessageFilter struct {
	TenantID string
	Status   Status
}

// NewMessage is what producers hand to the queue. Content must already be
// rendered and Recipient resolved.
type NewMessage struct {
	TenantID     string      `json:"tenantId"`
	Recipient    string      `json:"recipient"`
	Content      string      `json:"content"`
	Type         MessageType `json:"messageType"`
	ScheduledAt  time.Time   `json:"scheduledAt,omitempty"`
	RequeuedFrom *uuid.UUID  `json:"-"`
}

func (m NewMessage) Validate() error {
	var missing []string
	if strings.TrimSpace(m.TenantID) == "" {
		missing = append(missing, "tenantId")
	}
	if strings.TrimSpace(m.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(m.Content) == "" {
		missing = append(missing, "content")
	}
	if m.Type == "" {
		missing = append(missing, "messageType")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown messageType %q", ErrValidation, m.Type)
	}
	return nil
}

// DeliveryResult is the per-message entry of a dispatch batch.
type DeliveryResult struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	Recipient string    `json:"recipient,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// BatchResult reports one dispatch run. Processed counts attempted messages;
// Released counts claimed messages handed back unattempted.
type BatchResult struct {
	Success   bool             `json:"success"`
	Processed int              `json:"processed"`
	Released  int              `json:"released,omitempty"`
	Results   []DeliveryResult `json:"results"`
}

// Counts returns how many results ended sent and failed.
func (b BatchResult) Counts() (sent, failed int) {
	for _, r := range b.Results {
		switch r.Status {
		case Sent:
			sent++
		case Failed:
			failed++
		}
	}
	return sent, failed
}
