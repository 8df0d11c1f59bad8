package models

import (
	"time"
)

const (
	EnvironmentStaging     = "staging"
	EnvironmentDevelopment = "development"
)

// Connection links a staging shop to the production store it syncs from.
// Access tokens live only as AES-GCM ciphertext in the row; they are never
// carried on this struct, so a connection can always be serialized safely.
type Connection struct {
	ID               string    `json:"id" db:"id"`
	Shop             string    `json:"shop" db:"shop"` // staging shop of record, e.g. acme-staging.myshopify.com
	ProductionDomain string    `json:"production_domain" db:"production_domain"`
	Environment      string    `json:"environment" db:"environment"` // enum: staging, development
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
