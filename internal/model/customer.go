package model

import "time"

// Customer owns custom rules and charges.
type Customer struct {
	CreatedAt      time.Time `json:"created_at"`
	Name           string    `json:"name"`
	OrganizationID string    `json:"organization_id,omitempty"`
	ID             int64     `json:"id"`
}
