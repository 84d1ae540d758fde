package shipping

// Info carries the contact and delivery details for an order. It lives
// across sessions and is only ever overwritten, never deleted by the
// checkout flow.
type Info struct {
	Phone              string `json:"phone"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Email              string `json:"email"`
	Address            string `json:"address"`
	City               string `json:"city"`
	PostalCode         string `json:"postal_code"`
	Country            string `json:"country"`
	AddressDescription string `json:"address_description"`
}

// DefaultCountry pre-fills new profiles; almost all orders ship
// domestically.
const DefaultCountry = "Indonesia"

// Patch is a partial update; nil fields keep their stored value.
type Patch struct {
	Phone              *string
	FirstName          *string
	LastName           *string
	Email              *string
	Address            *string
	City               *string
	PostalCode         *string
	Country            *string
	AddressDescription *string
}
