package event

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

var (
	// ErrTypeRequired indicates a definition or event without a type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates an event type that was never registered.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrTypeAlreadyRegistered indicates a duplicate registration.
	ErrTypeAlreadyRegistered = errors.New("event type already registered")
	// ErrFamilyMismatch indicates an event whose family differs from its type.
	ErrFamilyMismatch = errors.New("event family does not match type")
	// ErrEntityIDRequired indicates an event with no entity id.
	ErrEntityIDRequired = errors.New("entity id is required")
	// ErrStatusShape indicates old/new status values that break the type's rule.
	ErrStatusShape = errors.New("status fields do not match event type")
	// ErrMetadataMissing indicates a required metadata key is absent.
	ErrMetadataMissing = errors.New("required metadata key missing")
	// ErrMetadataUndeclared indicates a metadata key the type does not declare.
	ErrMetadataUndeclared = errors.New("metadata key not declared for event type")
	// ErrMetadataValue indicates a metadata value outside its allowed set.
	ErrMetadataValue = errors.New("metadata value not allowed")
	// ErrNotesRequired indicates an event type that must carry notes.
	ErrNotesRequired = errors.New("notes are required")
)

// StatusRule states how an event type uses the status fields.
type StatusRule int

const (
	// StatusNone events leave both status fields empty.
	StatusNone StatusRule = iota
	// StatusCreate events set NewStatus only.
	StatusCreate
	// StatusChange events set both fields to different values.
	StatusChange
)

// Definition declares the shape of one event type.
type Definition struct {
	Type          Type
	Family        entity.Family
	Status        StatusRule
	Required      []string
	Optional      []string
	Enums         map[string][]string
	NotesRequired bool
}

func (d Definition) declares(key string) bool {
	for _, k := range d.Required {
		if k == key {
			return true
		}
	}
	for _, k := range d.Optional {
		if k == key {
			return true
		}
	}
	return false
}

// Registry holds the definitions events are validated against.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a definition. The family defaults to the type's prefix.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if def.Family == "" {
		def.Family = def.Type.Family()
	}
	if def.Family != def.Type.Family() {
		return fmt.Errorf("%w: %s declared for %s", ErrFamilyMismatch, def.Type, def.Family)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("%w: %s", ErrTypeAlreadyRegistered, def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the definition for t.
func (r *Registry) Definition(t Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[t]
	return def, ok
}

// Types returns every registered type, sorted.
func (r *Registry) Types() []Type {
	if r == nil {
		return nil
	}
	out := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateForAppend checks evt against its definition and returns a
// normalized copy: metadata keys and values trimmed, empty optional values
// dropped, notes trimmed.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if r == nil {
		return Event{}, errors.New("registry is required")
	}
	evt.Type = Type(strings.TrimSpace(string(evt.Type)))
	if evt.Type == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.definitions[evt.Type]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrTypeUnknown, evt.Type)
	}
	if strings.TrimSpace(evt.EntityID) == "" {
		return Event{}, ErrEntityIDRequired
	}
	if evt.Family == "" {
		evt.Family = def.Family
	}
	if evt.Family != def.Family {
		return Event{}, fmt.Errorf("%w: %s on %s", ErrFamilyMismatch, evt.Type, evt.Family)
	}
	if err := checkStatusShape(def.Status, evt.OldStatus, evt.NewStatus); err != nil {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, err)
	}

	metadata, err := normalizeMetadata(def, evt.Metadata)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, err)
	}
	evt.Metadata = metadata

	evt.Notes = strings.TrimSpace(evt.Notes)
	if def.NotesRequired && evt.Notes == "" {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, ErrNotesRequired)
	}
	return evt, nil
}

func checkStatusShape(rule StatusRule, oldStatus, newStatus entity.Status) error {
	switch rule {
	case StatusCreate:
		if oldStatus != "" || newStatus == "" {
			return ErrStatusShape
		}
	case StatusChange:
		if oldStatus == "" || newStatus == "" || oldStatus == newStatus {
			return ErrStatusShape
		}
	default:
		if oldStatus != "" || newStatus != "" {
			return ErrStatusShape
		}
	}
	return nil
}

func normalizeMetadata(def Definition, in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for rawKey, rawValue := range in {
		key := strings.TrimSpace(rawKey)
		value := strings.TrimSpace(rawValue)
		if !def.declares(key) {
			return nil, fmt.Errorf("%w: %q", ErrMetadataUndeclared, key)
		}
		if value == "" {
			continue
		}
		if allowed, ok := def.Enums[key]; ok && !contains(allowed, value) {
			return nil, fmt.Errorf("%w: %s=%q", ErrMetadataValue, key, value)
		}
		out[key] = value
	}
	for _, key := range def.Required {
		if _, ok := out[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMetadataMissing, key)
		}
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
