// Package payment handles premium upgrades: hosted checkout links out,
// provider webhooks in.
package payment

import (
	"net/url"
	"strings"
)

// Gateway produces hosted checkout links for a payment provider.
type Gateway interface {
	// Provider names the gateway for payment records.
	Provider() string
	// CheckoutURL builds the hosted checkout link for one pending payment.
	// The payment id rides along so the webhook can correlate the outcome.
	CheckoutURL(paymentID, itemName, amount, currency string) string
}

// PayPal builds classic webscr checkout links.
type PayPal struct {
	baseURL  string
	business string
}

// NewPayPal creates a PayPal gateway. business is the merchant account
// email.
func NewPayPal(baseURL, business string) *PayPal {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://www.paypal.com/cgi-bin/webscr"
	}
	return &PayPal{baseURL: base, business: business}
}

// Provider implements Gateway.
func (p *PayPal) Provider() string { return "paypal" }

// CheckoutURL implements Gateway.
func (p *PayPal) CheckoutURL(paymentID, itemName, amount, currency string) string {
	v := url.Values{}
	v.Set("cmd", "_xclick")
	v.Set("business", p.business)
	v.Set("item_name", itemName)
	v.Set("amount", amount)
	v.Set("currency_code", currency)
	v.Set("custom", paymentID)
	v.Set("no_shipping", "1")
	return p.baseURL + "?" + v.Encode()
}
