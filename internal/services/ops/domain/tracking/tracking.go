// Package tracking builds the public, unauthenticated view of a shipment.
// Only allow-listed fields are copied; everything else is dropped by
// construction.
package tracking

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/louisbranch/freightdesk/internal/platform/i18n"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/sequence"
)

// MaxDescriptionRunes caps public event descriptions.
const MaxDescriptionRunes = 280

// PublicPlace is the coarse location shown publicly.
type PublicPlace struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// PublicEvent is one entry of the public timeline.
type PublicEvent struct {
	Status      string    `json:"status,omitempty"`
	StatusLabel string    `json:"status_label,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
}

// PublicView is the tracking page payload.
type PublicView struct {
	TrackingNumber    string        `json:"tracking_number"`
	Status            string        `json:"status"`
	StatusLabel       string        `json:"status_label"`
	Origin            PublicPlace   `json:"origin"`
	Destination       PublicPlace   `json:"destination"`
	CargoType         string        `json:"cargo_type"`
	WeightKg          float64       `json:"weight_kg"`
	PackageCount      int           `json:"package_count"`
	TransportMode     string        `json:"transport_mode"`
	TransportLabel    string        `json:"transport_label"`
	EstimatedPickup   *time.Time    `json:"estimated_pickup,omitempty"`
	ActualPickup      *time.Time    `json:"actual_pickup,omitempty"`
	EstimatedDelivery *time.Time    `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time    `json:"actual_delivery,omitempty"`
	ClientName        string        `json:"client_name,omitempty"`
	Events            []PublicEvent `json:"events"`
}

// Visibility reports whether a shipment status may be shown publicly.
type Visibility interface {
	IsPublic(f entity.Family, status entity.Status) bool
}

// Projector builds public views.
type Projector struct {
	visibility Visibility
	bundle     *i18n.Bundle
}

// NewProjector returns a projector using visibility and the label bundle.
func NewProjector(visibility Visibility, bundle *i18n.Bundle) *Projector {
	return &Projector{visibility: visibility, bundle: bundle}
}

// ValidNumber reports whether s is a well-formed tracking number.
func ValidNumber(s string) bool {
	return sequence.Valid(s)
}

// Project returns the public view of shipment. The boolean is false when the
// record must be treated as not found: non-shipments and hidden statuses.
func (p *Projector) Project(shipment entity.Entity, client *entity.Client, events []event.Event, tag language.Tag) (PublicView, bool) {
	if shipment.Family != entity.FamilyShipment || shipment.Details.Shipment == nil {
		return PublicView{}, false
	}
	if !p.visibility.IsPublic(entity.FamilyShipment, shipment.Status) {
		return PublicView{}, false
	}
	d := shipment.Details.Shipment
	view := PublicView{
		TrackingNumber:    shipment.Number,
		Status:            string(shipment.Status),
		StatusLabel:       p.statusLabel(tag, shipment.Status),
		Origin:            publicPlace(d.Origin),
		Destination:       publicPlace(d.Destination),
		CargoType:         Sanitize(d.Cargo.Type),
		WeightKg:          d.Cargo.WeightKg,
		PackageCount:      d.Cargo.PackageCount,
		TransportMode:     string(d.Cargo.TransportMode),
		TransportLabel:    p.label(tag, "tracking.transport."+string(d.Cargo.TransportMode), string(d.Cargo.TransportMode)),
		EstimatedPickup:   copyTime(d.EstimatedPickup),
		ActualPickup:      copyTime(d.ActualPickup),
		EstimatedDelivery: copyTime(d.EstimatedDelivery),
		ActualDelivery:    copyTime(d.ActualDelivery),
		Events:            []PublicEvent{},
	}
	if client != nil {
		view.ClientName = Sanitize(client.DisplayName)
	}
	for _, evt := range events {
		if pe, ok := p.publicEvent(tag, evt); ok {
			view.Events = append(view.Events, pe)
		}
	}
	return view, true
}

func (p *Projector) publicEvent(tag language.Tag, evt event.Event) (PublicEvent, bool) {
	switch evt.Type.Kind() {
	case event.KindCreated, event.KindStatusChanged, event.KindCanceled:
		if !evt.StatusBearing() || !p.visibility.IsPublic(entity.FamilyShipment, evt.NewStatus) {
			return PublicEvent{}, false
		}
		label := p.statusLabel(tag, evt.NewStatus)
		return PublicEvent{
			Status:      string(evt.NewStatus),
			StatusLabel: label,
			Location:    Sanitize(evt.Metadata[event.MetaLocation]),
			Description: label,
			At:          evt.CreatedAt.UTC(),
		}, true
	case event.KindTrackingPointAdded:
		description := Sanitize(evt.Metadata[event.MetaDescription])
		if description == "" {
			description = p.label(tag, "tracking.event.tracking_point", "Location update")
		}
		return PublicEvent{
			Location:    Sanitize(evt.Metadata[event.MetaLocation]),
			Description: description,
			At:          evt.CreatedAt.UTC(),
		}, true
	default:
		return PublicEvent{}, false
	}
}

func (p *Projector) statusLabel(tag language.Tag, status entity.Status) string {
	return p.label(tag, "tracking.status."+string(status), string(status))
}

func (p *Projector) label(tag language.Tag, key, fallback string) string {
	if p.bundle == nil {
		return fallback
	}
	return p.bundle.Text(tag, key, fallback)
}

func publicPlace(place entity.Place) PublicPlace {
	return PublicPlace{City: Sanitize(place.City), Country: Sanitize(place.Country)}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Sanitize strips markup and control characters, collapses whitespace and
// truncates to MaxDescriptionRunes.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	var text strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken:
			if isRawTextTag(tokenizer) {
				skip++
			}
		case html.EndTagToken:
			if isRawTextTag(tokenizer) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				text.Write(tokenizer.Text())
			}
		}
	}

	var out strings.Builder
	space := false
	count := 0
	for _, r := range text.String() {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = out.Len() > 0
			continue
		}
		if space {
			if count >= MaxDescriptionRunes {
				break
			}
			out.WriteRune(' ')
			count++
			space = false
		}
		if count >= MaxDescriptionRunes {
			break
		}
		out.WriteRune(r)
		count++
	}
	return strings.TrimSpace(out.String())
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
