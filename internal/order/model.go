package order

import "time"

// Order mirrors the backend order object. The backend is authoritative
// for id and status; this struct only carries what it last reported.
type Order struct {
	ID         uint      `json:"id"`
	Status     string    `json:"status"`
	Price      float64   `json:"price"`
	InvoiceURL string    `json:"invoice_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductLine is one order line as the backend expects it.
type ProductLine struct {
	VariantID uint    `json:"product_variant_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Request is the fully validated payload for POST /orders. It is
// derived from a cart snapshot plus the shipping profile and never
// stored.
type Request struct {
	Phone              string        `json:"phone"`
	FirstName          string        `json:"first_name"`
	LastName           string        `json:"last_name"`
	Email              string        `json:"email"`
	Address            string        `json:"address"`
	City               string        `json:"city"`
	PostalCode         string        `json:"postal_code"`
	Country            string        `json:"country"`
	AddressDescription string        `json:"address_description"`
	Price              float64       `json:"price"`
	Products           []ProductLine `json:"products"`
}

// Pagination is the backend's page envelope for order listings.
type Pagination struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}
