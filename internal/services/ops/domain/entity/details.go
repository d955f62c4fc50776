package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransportMode is how cargo moves.
type TransportMode string

const (
	TransportAir     TransportMode = "air"
	TransportSea     TransportMode = "sea"
	TransportRoad    TransportMode = "road"
	TransportRail    TransportMode = "rail"
	TransportCourier TransportMode = "courier"
)

// Valid reports whether m is a known transport mode.
func (m TransportMode) Valid() bool {
	switch m {
	case TransportAir, TransportSea, TransportRoad, TransportRail, TransportCourier:
		return true
	}
	return false
}

// Cargo describes what is being moved.
type Cargo struct {
	Type          string        `json:"type"`
	WeightKg      float64       `json:"weight_kg"`
	PackageCount  int           `json:"package_count"`
	TransportMode TransportMode `json:"transport_mode"`
}

func (c Cargo) validate() error {
	if strings.TrimSpace(c.Type) == "" {
		return errors.New("cargo type is required")
	}
	if c.WeightKg <= 0 {
		return errors.New("weight must be positive")
	}
	if c.PackageCount <= 0 {
		return errors.New("package count must be positive")
	}
	if !c.TransportMode.Valid() {
		return fmt.Errorf("unknown transport mode %q", c.TransportMode)
	}
	return nil
}

// QuoteDetails is the family payload for quotes.
type QuoteDetails struct {
	Origin                Place         `json:"origin"`
	Destination           Place         `json:"destination"`
	Cargo                 Cargo         `json:"cargo"`
	Cost                  CostBreakdown `json:"cost"`
	EstimatedDeliveryDays int           `json:"estimated_delivery_days,omitempty"`
	ConvertedToShipmentID string        `json:"converted_to_shipment_id,omitempty"`
}

// ShipmentDetails is the family payload for shipments.
type ShipmentDetails struct {
	Origin            Place      `json:"origin"`
	Destination       Place      `json:"destination"`
	Cargo             Cargo      `json:"cargo"`
	DeclaredValue     Money      `json:"declared_value"`
	Cost              Money      `json:"cost"`
	EstimatedPickup   *time.Time `json:"estimated_pickup,omitempty"`
	ActualPickup      *time.Time `json:"actual_pickup,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time `json:"actual_delivery,omitempty"`
	InternalNotes     string     `json:"internal_notes,omitempty"`
	SourceQuoteID     string     `json:"source_quote_id,omitempty"`
}

// PickupDetails is the family payload for pickup requests.
type PickupDetails struct {
	Address      Place      `json:"address"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	PackageCount int        `json:"package_count"`
	WeightKg     float64    `json:"weight_kg"`
	Instructions string     `json:"instructions,omitempty"`
}

// PurchaseDetails is the family payload for delegated purchases.
type PurchaseDetails struct {
	Description     string `json:"description"`
	ProductURL      string `json:"product_url,omitempty"`
	Quantity        int    `json:"quantity"`
	EstimatedCost   Money  `json:"estimated_cost"`
	DeliveryAddress Place  `json:"delivery_address"`
}

// Details holds exactly one family payload.
type Details struct {
	Quote    *QuoteDetails    `json:"quote,omitempty"`
	Shipment *ShipmentDetails `json:"shipment,omitempty"`
	Pickup   *PickupDetails   `json:"pickup,omitempty"`
	Purchase *PurchaseDetails `json:"purchase,omitempty"`
}

// Family returns the family whose payload is set, or "" when none or several are.
func (d Details) Family() Family {
	var found []Family
	if d.Quote != nil {
		found = append(found, FamilyQuote)
	}
	if d.Shipment != nil {
		found = append(found, FamilyShipment)
	}
	if d.Pickup != nil {
		found = append(found, FamilyPickup)
	}
	if d.Purchase != nil {
		found = append(found, FamilyPurchase)
	}
	if len(found) != 1 {
		return ""
	}
	return found[0]
}

// Validate checks the payload matches f and carries its required fields.
func (d Details) Validate(f Family) error {
	if d.Family() != f {
		return fmt.Errorf("%w: want %s", ErrDetailsMismatch, f)
	}
	switch f {
	case FamilyQuote:
		q := d.Quote
		if err := q.Origin.validate("origin"); err != nil {
			return err
		}
		if err := q.Destination.validate("destination"); err != nil {
			return err
		}
		if err := q.Cargo.validate(); err != nil {
			return err
		}
		if err := q.Cost.Validate(); err != nil {
			return fmt.Errorf("cost: %w", err)
		}
	case FamilyShipment:
		s := d.Shipment
		if err := s.Origin.validate("origin"); err != nil {
			return err
		}
		if err := s.Destination.validate("destination"); err != nil {
			return err
		}
		if err := s.Cargo.validate(); err != nil {
			return err
		}
		if !s.Cost.IsZero() {
			if err := s.Cost.Validate(); err != nil {
				return fmt.Errorf("cost: %w", err)
			}
		}
	case FamilyPickup:
		p := d.Pickup
		if err := p.Address.validate("address"); err != nil {
			return err
		}
		if p.PackageCount <= 0 {
			return errors.New("package count must be positive")
		}
		if p.WindowStart != nil && p.WindowEnd != nil && p.WindowEnd.Before(*p.WindowStart) {
			return errors.New("window end precedes window start")
		}
	case FamilyPurchase:
		p := d.Purchase
		if strings.TrimSpace(p.Description) == "" {
			return errors.New("description is required")
		}
		if p.Quantity <= 0 {
			return errors.New("quantity must be positive")
		}
		if err := p.DeliveryAddress.validate("delivery address"); err != nil {
			return err
		}
		if !p.EstimatedCost.IsZero() {
			if err := p.EstimatedCost.Validate(); err != nil {
				return fmt.Errorf("estimated cost: %w", err)
			}
		}
	}
	return nil
}

// MarshalDetails encodes details for storage.
func MarshalDetails(d Details) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}
	return data, nil
}

// UnmarshalDetails decodes stored details.
func UnmarshalDetails(data []byte) (Details, error) {
	var d Details
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return Details{}, fmt.Errorf("unmarshal details: %w", err)
	}
	return d, nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (d Details) Clone() Details {
	data, err := json.Marshal(d)
	if err != nil {
		return d
	}
	var out Details
	if err := json.Unmarshal(data, &out); err != nil {
		return d
	}
	return out
}
