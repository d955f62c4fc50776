package entity

import "strings"

// Family identifies one of the four entity families.
type Family string

const (
	FamilyQuote    Family = "quote"
	FamilyShipment Family = "shipment"
	FamilyPickup   Family = "pickup"
	FamilyPurchase Family = "purchase"
)

// Families returns every family in a stable order.
func Families() []Family {
	return []Family{FamilyQuote, FamilyShipment, FamilyPickup, FamilyPurchase}
}

// ParseFamily accepts singular or plural family names, case-insensitively.
func ParseFamily(value string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "quote", "quotes":
		return FamilyQuote, true
	case "shipment", "shipments":
		return FamilyShipment, true
	case "pickup", "pickups":
		return FamilyPickup, true
	case "purchase", "purchases":
		return FamilyPurchase, true
	default:
		return "", false
	}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyQuote, FamilyShipment, FamilyPickup, FamilyPurchase:
		return true
	}
	return false
}

// NumberPrefix returns the three-letter business number prefix.
func (f Family) NumberPrefix() string {
	switch f {
	case FamilyQuote:
		return "QUO"
	case FamilyShipment:
		return "SHP"
	case FamilyPickup:
		return "PKP"
	case FamilyPurchase:
		return "PUR"
	default:
		return ""
	}
}

// Plural returns the collection name used in routes.
func (f Family) Plural() string {
	return string(f) + "s"
}

// Status is a lifecycle state; valid values depend on the family.
type Status string
