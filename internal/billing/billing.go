package billing

import (
	"regexp"
	"strings"
)

// Info is the billing block submitted with the checkout form.
type Info struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip"`
	Country string `json:"country"`
}

// Field names used as keys of Errors.
const (
	FieldName    = "name"
	FieldEmail   = "email"
	FieldAddress = "address"
	FieldCity    = "city"
	FieldState   = "state"
	FieldZip     = "zip"
	FieldCountry = "country"
)

// Errors maps a field name to a human readable message. Empty means valid.
type Errors map[string]string

var (
	emailRe = regexp.MustCompile(`\S+@\S+\.\S+`)
	zipRe   = regexp.MustCompile(`^\d{5}$`)
)

func Validate(b Info) Errors {
	errs := Errors{}
	if blank(b.Name) {
		errs[FieldName] = "Full name is required"
	}
	if !ValidEmail(b.Email) {
		errs[FieldEmail] = "Valid email is required"
	}
	if blank(b.Address) {
		errs[FieldAddress] = "Address is required"
	}
	if blank(b.Country) {
		errs[FieldCountry] = "Please select your country"
	}
	if blank(b.State) {
		errs[FieldState] = "Please select your state"
	}
	if blank(b.City) {
		errs[FieldCity] = "City is required"
	}
	if !zipRe.MatchString(b.ZipCode) {
		errs[FieldZip] = "Valid 5-digit ZIP code is required"
	}
	return errs
}

func ValidEmail(s string) bool {
	return s != "" && emailRe.MatchString(s)
}

// Overlay returns base with every non-empty field of override applied.
// Provider supplied payer and shipping data is overlaid on the form data.
func Overlay(base, override Info) Info {
	pick := func(b, o string) string {
		if o = strings.TrimSpace(o); o != "" {
			return o
		}
		return b
	}
	return Info{
		Name:    pick(base.Name, override.Name),
		Email:   pick(base.Email, override.Email),
		Address: pick(base.Address, override.Address),
		City:    pick(base.City, override.City),
		State:   pick(base.State, override.State),
		ZipCode: pick(base.ZipCode, override.ZipCode),
		Country: pick(base.Country, override.Country),
	}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
