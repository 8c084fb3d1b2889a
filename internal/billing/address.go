package billing

import "strings"

// Address is a postal address as reported by a payment provider or entered
// by the customer for shipping.
type Address struct {
	Recipient   string `json:"recipient,omitempty"`
	Line1       string `json:"address_line1,omitempty"`
	Line2       string `json:"address_line2,omitempty"`
	City        string `json:"locality,omitempty"`
	State       string `json:"administrative_area,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

func (a *Address) IsZero() bool {
	return a == nil || (a.Line1 == "" && a.City == "" && a.PostalCode == "" && a.CountryCode == "")
}

// Info converts the address into billing fields, leaving name and email empty
// unless a recipient is present.
func (a *Address) Info() Info {
	if a == nil {
		return Info{}
	}
	line := a.Line1
	if a.Line2 != "" {
		line = strings.TrimSpace(line + ", " + a.Line2)
	}
	return Info{
		Name:    a.Recipient,
		Address: line,
		City:    a.City,
		State:   a.State,
		ZipCode: a.PostalCode,
		Country: a.CountryCode,
	}
}
