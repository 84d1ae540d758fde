package order

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"usada-checkout/internal/cart"
	"usada-checkout/internal/shipping"
	"usada-checkout/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Pricing constants. The backend recomputes and is authoritative; these
// exist so the client can show the same number it is about to submit.
const (
	ShippingFee  = 10000
	MinQuantity  = 1
	MaxQuantity  = 1000
	MinUnitPrice = 0.01
)

var taxRate = decimal.NewFromFloat(0.10)

var (
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	postalRegex = regexp.MustCompile(`^[0-9]{5}$`)
)

// Backend column ceilings; anything longer is rejected there anyway.
var fieldCeilings = []struct {
	field string
	max   int
}{
	{"phone", 20},
	{"first_name", 100},
	{"email", 255},
	{"address", 500},
	{"city", 100},
	{"postal_code", 10},
	{"country", 100},
}

// Build validates a cart snapshot plus shipping profile against the
// authoritative per-variant prices and produces an order request.
// Validation is exhaustive: every violation across every line and every
// shipping field is collected before returning, so the caller can show
// the full list at once.
func Build(lines []cart.CheckoutLine, info shipping.Info, pricesByVariant map[uint]float64) (*Request, error) {
	var errs error

	if len(lines) == 0 {
		return nil, &FieldError{Field: "products", Message: "cart is empty"}
	}

	subtotal := decimal.Zero
	products := make([]ProductLine, 0, len(lines))

	for i, line := range lines {
		lineField := fmt.Sprintf("products[%d]", i)

		if line.VariantID == 0 {
			errs = multierr.Append(errs, &FieldError{
				Field:   lineField + ".product_variant_id",
				Message: "must be a positive integer",
			})
			continue
		}

		price, ok := pricesByVariant[line.VariantID]
		if !ok {
			errs = multierr.Append(errs, &FieldError{
				Field:   lineField + ".product_variant_id",
				Message: fmt.Sprintf("no price for variant %d", line.VariantID),
			})
			continue
		}

		lineValid := true

		if line.Quantity < MinQuantity || line.Quantity > MaxQuantity {
			errs = multierr.Append(errs, &FieldError{
				Field:   lineField + ".quantity",
				Message: fmt.Sprintf("must be between %d and %d", MinQuantity, MaxQuantity),
			})
			lineValid = false
		}

		if price < MinUnitPrice {
			errs = multierr.Append(errs, &FieldError{
				Field:   lineField + ".price",
				Message: fmt.Sprintf("must be at least %v", MinUnitPrice),
			})
			lineValid = false
		}

		if !lineValid {
			continue
		}

		products = append(products, ProductLine{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			Price:     price,
		})
		subtotal = subtotal.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	info = trimInfo(info)
	errs = multierr.Append(errs, validateShipping(info))

	if errs != nil {
		return nil, errs
	}

	tax := subtotal.Mul(taxRate).Round(0)
	total := subtotal.Add(decimal.NewFromInt(ShippingFee)).Add(tax)

	price, _ := total.Float64()

	return &Request{
		Phone:              utils.NormalizePhoneID(info.Phone),
		FirstName:          info.FirstName,
		LastName:           info.LastName,
		Email:              info.Email,
		Address:            info.Address,
		City:               info.City,
		PostalCode:         info.PostalCode,
		Country:            info.Country,
		AddressDescription: info.AddressDescription,
		Price:              price,
		Products:           products,
	}, nil
}

// Totals recomputes the price breakdown for display: subtotal,
// shipping fee, tax and grand total for the given snapshot.
func Totals(lines []cart.CheckoutLine, pricesByVariant map[uint]float64) (subtotal, fee, tax, total float64) {
	sub := decimal.Zero
	for _, line := range lines {
		price, ok := pricesByVariant[line.VariantID]
		if !ok {
			continue
		}
		sub = sub.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	taxD := sub.Mul(taxRate).Round(0)
	totalD := sub.Add(decimal.NewFromInt(ShippingFee)).Add(taxD)

	subtotal, _ = sub.Float64()
	tax, _ = taxD.Float64()
	total, _ = totalD.Float64()
	return subtotal, ShippingFee, tax, total
}

func trimInfo(info shipping.Info) shipping.Info {
	info.Phone = strings.TrimSpace(info.Phone)
	info.FirstName = strings.TrimSpace(info.FirstName)
	info.LastName = strings.TrimSpace(info.LastName)
	info.Email = strings.TrimSpace(info.Email)
	info.Address = strings.TrimSpace(info.Address)
	info.City = strings.TrimSpace(info.City)
	info.PostalCode = strings.TrimSpace(info.PostalCode)
	info.Country = strings.TrimSpace(info.Country)
	info.AddressDescription = strings.TrimSpace(info.AddressDescription)
	return info
}

func validateShipping(info shipping.Info) error {
	var errs error

	required := []struct {
		field string
		value string
	}{
		{"phone", info.Phone},
		{"first_name", info.FirstName},
		{"email", info.Email},
		{"address", info.Address},
		{"city", info.City},
		{"postal_code", info.PostalCode},
		{"country", info.Country},
	}

	present := make(map[string]string, len(required))
	for _, r := range required {
		if r.value == "" {
			errs = multierr.Append(errs, &FieldError{Field: r.field, Message: "is required"})
			continue
		}
		present[r.field] = r.value
	}

	if v, ok := present["phone"]; ok && !utils.IsValidPhoneID(v) {
		errs = multierr.Append(errs, &FieldError{Field: "phone", Message: "must be a valid Indonesian phone number"})
	}
	if v, ok := present["email"]; ok && !emailRegex.MatchString(v) {
		errs = multierr.Append(errs, &FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if v, ok := present["postal_code"]; ok && !postalRegex.MatchString(v) {
		errs = multierr.Append(errs, &FieldError{Field: "postal_code", Message: "must be a 5-digit postal code"})
	}

	values := map[string]string{
		"phone":       info.Phone,
		"first_name":  info.FirstName,
		"email":       info.Email,
		"address":     info.Address,
		"city":        info.City,
		"postal_code": info.PostalCode,
		"country":     info.Country,
	}
	for _, c := range fieldCeilings {
		if len(values[c.field]) > c.max {
			errs = multierr.Append(errs, &FieldError{
				Field:   c.field,
				Message: fmt.Sprintf("exceeds maximum length of %d characters", c.max),
			})
		}
	}

	return errs
}

// FieldErrors flattens a Build error into its individual violations.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	for _, e := range multierr.Errors(err) {
		var fe *FieldError
		if errors.As(e, &fe) {
			out = append(out, fe)
		}
	}
	return out
}
