package model

import (
	"encoding/json"
	"time"
)

type AttemptPhase string

const (
	PhasePurchase  AttemptPhase = "purchase"
	PhaseReconcile AttemptPhase = "reconcile"
	PhaseCallback  AttemptPhase = "callback"
)

// ProviderAttempt is one logged exchange with an upstream for a transaction.
type ProviderAttempt struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Provider      Provider        `json:"provider"`
	Phase         AttemptPhase    `json:"phase"`
	Status        string          `json:"status"`
	ResponseCode  string          `json:"response_code,omitempty"`
	Message       string          `json:"message,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	Duration      time.Duration   `json:"duration"`
	CreatedAt     time.Time       `json:"created_at"`
}
