// Package workflow validates lifecycle transitions against per-family
// graphs declared as data.
package workflow

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

// Request describes a proposed transition.
type Request struct {
	Family entity.Family
	From   entity.Status
	To     entity.Status
	Role   actor.Role
	Notes  string
}

// Decision is the outcome of validating a transition.
type Decision struct {
	Allowed   bool
	EventType event.Type
	Code      apperrors.Code
	Message   string
}

// Err returns nil for allowed decisions and an IllegalTransition error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperrors.New(d.Code, d.Message)
}

func allow(t event.Type) Decision {
	return Decision{Allowed: true, EventType: t}
}

func reject(code apperrors.Code, format string, args ...any) Decision {
	return Decision{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validator answers transition questions for every family. It is
// read-only after construction and safe for concurrent use.
type Validator struct {
	graphs map[entity.Family]*Graph
}

// NewValidator loads the graphs compiled into the binary.
func NewValidator() (*Validator, error) {
	return NewValidatorFromFS(embeddedGraphs)
}

// NewValidatorFromFS loads graphs/*.yaml from fsys.
func NewValidatorFromFS(fsys fs.FS) (*Validator, error) {
	graphs, err := loadGraphs(fsys)
	if err != nil {
		return nil, err
	}
	return &Validator{graphs: graphs}, nil
}

// Graph returns the graph for f.
func (v *Validator) Graph(f entity.Family) (*Graph, bool) {
	if v == nil {
		return nil, false
	}
	g, ok := v.graphs[f]
	return g, ok
}

// Validate decides whether req may be applied. Terminal states reject every
// request regardless of role.
func (v *Validator) Validate(req Request) Decision {
	g, ok := v.Graph(req.Family)
	if !ok {
		return reject(apperrors.CodeTransitionUnknownFamily, "unknown family %q", req.Family)
	}
	from, ok := g.States[req.From]
	if !ok {
		return reject(apperrors.CodeTransitionUnknownStatus, "unknown %s status %q", req.Family, req.From)
	}
	to, ok := g.States[req.To]
	if !ok {
		return reject(apperrors.CodeTransitionUnknownStatus, "unknown %s status %q", req.Family, req.To)
	}
	if from.Terminal {
		return reject(apperrors.CodeTransitionFromTerminal, "%s %s is terminal", req.Family, req.From)
	}
	edge, ok := from.Edges[req.To]
	if !ok {
		return reject(apperrors.CodeTransitionNotInGraph, "%s cannot move from %s to %s", req.Family, req.From, req.To)
	}
	if !edge.Permits(req.Role) {
		return reject(apperrors.CodeTransitionRoleForbidden, "role %q cannot move %s from %s to %s", req.Role, req.Family, req.From, req.To)
	}
	if to.Cancellation {
		if strings.TrimSpace(req.Notes) == "" {
			return reject(apperrors.CodeTransitionNotesRequired, "moving %s to %s requires notes", req.Family, req.To)
		}
		return allow(event.TypeFor(req.Family, event.KindCanceled))
	}
	return allow(event.TypeFor(req.Family, event.KindStatusChanged))
}

// Creation returns the initial status and creation event type for f.
func (v *Validator) Creation(f entity.Family) (entity.Status, event.Type, error) {
	if v == nil {
		return "", "", errNilValidator
	}
	g, ok := v.Graph(f)
	if !ok {
		return "", "", apperrors.New(apperrors.CodeTransitionUnknownFamily, fmt.Sprintf("unknown family %q", f))
	}
	return g.Initial, event.TypeFor(f, event.KindCreated), nil
}

// Next lists the statuses role may move an entity to from status, sorted.
func (v *Validator) Next(f entity.Family, status entity.Status, role actor.Role) []entity.Status {
	g, ok := v.Graph(f)
	if !ok {
		return nil
	}
	state, ok := g.States[status]
	if !ok {
		return nil
	}
	var out []entity.Status
	for to, edge := range state.Edges {
		if edge.Permits(role) {
			out = append(out, to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether status is terminal for f.
func (v *Validator) IsTerminal(f entity.Family, status entity.Status) bool {
	g, ok := v.Graph(f)
	if !ok {
		return false
	}
	return g.States[status].Terminal
}

// IsPublic reports whether status may be shown on public tracking.
func (v *Validator) IsPublic(f entity.Family, status entity.Status) bool {
	g, ok := v.Graph(f)
	if !ok {
		return false
	}
	state, ok := g.States[status]
	return ok && !state.Hidden
}

// Known reports whether status belongs to f's graph.
func (v *Validator) Known(f entity.Family, status entity.Status) bool {
	g, ok := v.Graph(f)
	if !ok {
		return false
	}
	_, ok = g.States[status]
	return ok
}
