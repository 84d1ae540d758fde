package cart

import (
	"github.com/google/uuid"
)

// Category is the catalog category a line item came from, carried only
// for display.
type Category struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// CartItem is one line of the cart. Unique by ID; a product appears at
// most once, repeated adds collapse into its quantity.
type CartItem struct {
	ID        uuid.UUID `json:"id"`
	ProductID uint      `json:"product_id"`
	VariantID uint      `json:"product_variant_id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	ImageURL  string    `json:"images"`
	Category  *Category `json:"category,omitempty"`
}

// Product is the catalog view Add consumes.
type Product struct {
	ID        uint
	VariantID uint
	Name      string
	Price     float64
	ImageURL  string
	Category  *Category
}

// CheckoutLine is the immutable projection handed to the order builder.
// It carries only what the order API needs, so checkout cannot observe
// later cart mutations.
type CheckoutLine struct {
	VariantID uint `json:"product_variant_id"`
	Quantity  int  `json:"quantity"`
}
