package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDetailsMismatch reports a details payload that does not match the family.
var ErrDetailsMismatch = errors.New("details do not match family")

// Entity is the persisted row shared by every family.
type Entity struct {
	ID           string
	Family       Family
	Number       string
	Status       Status
	ClientID     string
	OwnerUserID  string
	ContactEmail string
	ContactPhone string
	GuestQuoteID string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Details      Details
}

// Owned reports whether an account has claimed the record.
func (e Entity) Owned() bool {
	return e.OwnerUserID != ""
}

// Place is a postal location with optional coordinates.
type Place struct {
	Line      string   `json:"line,omitempty"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Label renders "City, Country" for display.
func (p Place) Label() string {
	city := strings.TrimSpace(p.City)
	country := strings.TrimSpace(p.Country)
	switch {
	case city == "":
		return country
	case country == "":
		return city
	default:
		return city + ", " + country
	}
}

func (p Place) validate(field string) error {
	if strings.TrimSpace(p.City) == "" || strings.TrimSpace(p.Country) == "" {
		return fmt.Errorf("%s city and country are required", field)
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return fmt.Errorf("%s latitude out of range", field)
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return fmt.Errorf("%s longitude out of range", field)
	}
	return nil
}

// Money is an amount in minor units of an ISO 4217 currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// IsZero reports whether no amount was set.
func (m Money) IsZero() bool {
	return m.Amount == 0 && m.Currency == ""
}

// Validate checks the currency code and sign.
func (m Money) Validate() error {
	if m.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	if len(m.Currency) != 3 || strings.ToUpper(m.Currency) != m.Currency {
		return fmt.Errorf("currency %q must be a three-letter uppercase code", m.Currency)
	}
	return nil
}

// CostLine is one priced component of a quote.
type CostLine struct {
	Label  string `json:"label"`
	Amount Money  `json:"amount"`
}

// CostBreakdown is a frozen pricing snapshot.
type CostBreakdown struct {
	Lines []CostLine `json:"lines,omitempty"`
	Total Money      `json:"total"`
}

// Validate checks that lines share the total's currency and sum to it.
func (c CostBreakdown) Validate() error {
	if err := c.Total.Validate(); err != nil {
		return fmt.Errorf("total: %w", err)
	}
	if len(c.Lines) == 0 {
		return nil
	}
	var sum int64
	for i, line := range c.Lines {
		if line.Amount.Currency != c.Total.Currency {
			return fmt.Errorf("line %d currency %q differs from total", i, line.Amount.Currency)
		}
		sum += line.Amount.Amount
	}
	if sum != c.Total.Amount {
		return fmt.Errorf("lines sum to %d, total is %d", sum, c.Total.Amount)
	}
	return nil
}

// Client is the tenant an entity belongs to.
type Client struct {
	ID          string
	Type        ClientType
	DisplayName string
	CreatedAt   time.Time
}

// ClientType distinguishes companies from individuals.
type ClientType string

const (
	ClientTypeCompany    ClientType = "COMPANY"
	ClientTypeIndividual ClientType = "INDIVIDUAL"
)

// Valid reports whether t is a known client type.
func (t ClientType) Valid() bool {
	return t == ClientTypeCompany || t == ClientTypeIndividual
}
