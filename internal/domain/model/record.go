package model

import "time"

// Order is the local mirror of a Bling sales order. ExternalID is the stable
// Bling identifier used as the upsert key.
type Order struct {
	ID          string     `json:"id"                  db:"id"`
	TenantID    string     `json:"tenant_id"           db:"tenant_id"`
	ExternalID  int64      `json:"external_id"         db:"external_id"`
	Number      string     `json:"number"              db:"number"`
	Total       float64    `json:"total"               db:"total"`
	ContactName string     `json:"contact_name"        db:"contact_name"`
	IssuedAt    *time.Time `json:"issued_at,omitempty" db:"issued_at"`
	SyncedAt    time.Time  `json:"synced_at"           db:"synced_at"`
}

// Product is the local mirror of a Bling catalog product.
type Product struct {
	ID         string    `json:"id"          db:"id"`
	TenantID   string    `json:"tenant_id"   db:"tenant_id"`
	ExternalID int64     `json:"external_id" db:"external_id"`
	Code       string    `json:"code"        db:"code"`
	Name       string    `json:"name"        db:"name"`
	Price      float64   `json:"price"       db:"price"`
	Stock      float64   `json:"stock"       db:"stock"`
	SyncedAt   time.Time `json:"synced_at"   db:"synced_at"`
}

// Customer is the local mirror of a Bling contact.
type Customer struct {
	ID         string    `json:"id"          db:"id"`
	TenantID   string    `json:"tenant_id"   db:"tenant_id"`
	ExternalID int64     `json:"external_id" db:"external_id"`
	Name       string    `json:"name"        db:"name"`
	Document   string    `json:"document"    db:"document"`
	Email      string    `json:"email"       db:"email"`
	SyncedAt   time.Time `json:"synced_at"   db:"synced_at"`
}
