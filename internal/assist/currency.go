package assist

import "strings"

// currencyByRegion maps IANA timezone prefixes and well-known zones to a
// default currency for new accounts. Users can change it later.
var currencyByRegion = map[string]string{
	"America/Sao_Paulo":    "BRL",
	"America/New_York":     "USD",
	"America/Chicago":      "USD",
	"America/Denver":       "USD",
	"America/Los_Angeles":  "USD",
	"America/Toronto":      "CAD",
	"America/Vancouver":    "CAD",
	"America/Mexico_City":  "MXN",
	"America/Buenos_Aires": "ARS",
	"Europe/London":        "GBP",
	"Europe/Dublin":        "EUR",
	"Europe/Paris":         "EUR",
	"Europe/Berlin":        "EUR",
	"Europe/Madrid":        "EUR",
	"Europe/Rome":          "EUR",
	"Europe/Amsterdam":     "EUR",
	"Europe/Lisbon":        "EUR",
	"Europe/Zurich":        "CHF",
	"Europe/Stockholm":     "SEK",
	"Europe/Warsaw":        "PLN",
	"Europe/Moscow":        "RUB",
	"Asia/Tokyo":           "JPY",
	"Asia/Seoul":           "KRW",
	"Asia/Shanghai":        "CNY",
	"Asia/Hong_Kong":       "HKD",
	"Asia/Singapore":       "SGD",
	"Asia/Jakarta":         "IDR",
	"Asia/Bangkok":         "THB",
	"Asia/Kolkata":         "INR",
	"Asia/Dubai":           "AED",
	"Australia/Sydney":     "AUD",
	"Australia/Melbourne":  "AUD",
	"Pacific/Auckland":     "NZD",
	"Africa/Johannesburg":  "ZAR",
	"Africa/Lagos":         "NGN",
	"Africa/Cairo":         "EGP",
}

var currencyByContinent = map[string]string{
	"Europe":  "EUR",
	"America": "USD",
}

// CurrencyForTimezone infers a sensible default currency from an IANA
// timezone. Unknown or empty zones default to USD.
func CurrencyForTimezone(timezone string) string {
	if c, ok := currencyByRegion[timezone]; ok {
		return c
	}
	if i := strings.IndexByte(timezone, '/'); i > 0 {
		if c, ok := currencyByContinent[timezone[:i]]; ok {
			return c
		}
	}
	return "USD"
}
