package model

import "time"

type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	PinHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PinResult is the answer of the PIN verification capability.
type PinResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}
