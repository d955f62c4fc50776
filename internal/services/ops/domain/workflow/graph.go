package workflow

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

//go:embed graphs/*.yaml
var embeddedGraphs embed.FS

// Edge is one allowed transition out of a state.
type Edge struct {
	To entity.Status
	// Roles restricts the edge; empty means any role may take it.
	Roles []actor.Role
}

// Permits reports whether role may take the edge.
func (e Edge) Permits(role actor.Role) bool {
	if len(e.Roles) == 0 {
		return true
	}
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// State is a node of a family graph.
type State struct {
	Name         entity.Status
	Initial      bool
	Terminal     bool
	Cancellation bool
	Hidden       bool
	Edges        map[entity.Status]Edge
}

// Graph is the transition graph for one family.
type Graph struct {
	Family  entity.Family
	Initial entity.Status
	States  map[entity.Status]State
}

// Statuses returns the graph's states sorted by name.
func (g *Graph) Statuses() []entity.Status {
	out := make([]entity.Status, 0, len(g.States))
	for s := range g.States {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type graphFile struct {
	Family string      `yaml:"family"`
	States []stateFile `yaml:"states"`
}

type stateFile struct {
	Name         string     `yaml:"name"`
	Initial      bool       `yaml:"initial"`
	Terminal     bool       `yaml:"terminal"`
	Cancellation bool       `yaml:"cancellation"`
	Hidden       bool       `yaml:"hidden"`
	Transitions  []edgeFile `yaml:"transitions"`
}

type edgeFile struct {
	To    string   `yaml:"to"`
	Roles []string `yaml:"roles"`
}

// ParseGraph decodes and checks one YAML graph document.
func ParseGraph(data []byte) (*Graph, error) {
	var file graphFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	family, ok := entity.ParseFamily(file.Family)
	if !ok || string(family) != file.Family {
		return nil, fmt.Errorf("unknown family %q", file.Family)
	}
	g := &Graph{Family: family, States: make(map[entity.Status]State, len(file.States))}

	for _, sf := range file.States {
		name := entity.Status(strings.TrimSpace(sf.Name))
		if name == "" {
			return nil, fmt.Errorf("%s: state name is required", family)
		}
		if _, dup := g.States[name]; dup {
			return nil, fmt.Errorf("%s: duplicate state %s", family, name)
		}
		if sf.Initial {
			if g.Initial != "" {
				return nil, fmt.Errorf("%s: multiple initial states", family)
			}
			g.Initial = name
		}
		if sf.Terminal && len(sf.Transitions) > 0 {
			return nil, fmt.Errorf("%s: terminal state %s has transitions", family, name)
		}
		if sf.Cancellation && !sf.Terminal {
			return nil, fmt.Errorf("%s: cancellation state %s must be terminal", family, name)
		}
		state := State{
			Name:         name,
			Initial:      sf.Initial,
			Terminal:     sf.Terminal,
			Cancellation: sf.Cancellation,
			Hidden:       sf.Hidden,
			Edges:        make(map[entity.Status]Edge, len(sf.Transitions)),
		}
		for _, ef := range sf.Transitions {
			to := entity.Status(strings.TrimSpace(ef.To))
			if to == name {
				return nil, fmt.Errorf("%s: self transition on %s", family, name)
			}
			if _, dup := state.Edges[to]; dup {
				return nil, fmt.Errorf("%s: duplicate edge %s -> %s", family, name, to)
			}
			edge := Edge{To: to}
			for _, raw := range ef.Roles {
				role, ok := actor.ParseRole(raw)
				if !ok {
					return nil, fmt.Errorf("%s: edge %s -> %s names unknown role %q", family, name, to, raw)
				}
				edge.Roles = append(edge.Roles, role)
			}
			state.Edges[to] = edge
		}
		g.States[name] = state
	}

	if g.Initial == "" {
		return nil, fmt.Errorf("%s: no initial state", family)
	}
	for _, state := range g.States {
		for to := range state.Edges {
			target, ok := g.States[to]
			if !ok {
				return nil, fmt.Errorf("%s: edge %s -> %s targets undeclared state", family, state.Name, to)
			}
			if target.Initial {
				return nil, fmt.Errorf("%s: edge %s -> %s re-enters the initial state", family, state.Name, to)
			}
		}
	}
	return g, nil
}

func loadGraphs(fsys fs.FS) (map[entity.Family]*Graph, error) {
	paths, err := fs.Glob(fsys, "graphs/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob graphs: %w", err)
	}
	graphs := make(map[entity.Family]*Graph, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		g, err := ParseGraph(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		if _, dup := graphs[g.Family]; dup {
			return nil, fmt.Errorf("duplicate graph for %s", g.Family)
		}
		graphs[g.Family] = g
	}
	for _, f := range entity.Families() {
		if _, ok := graphs[f]; !ok {
			return nil, fmt.Errorf("missing graph for %s", f)
		}
	}
	return graphs, nil
}

var errNilValidator = errors.New("validator is required")
