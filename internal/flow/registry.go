package flow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

// ErrInvalidRegistry wraps every registry violation.
var ErrInvalidRegistry = errors.New("invalid flow registry")

// RegistryError is one violation found while building the registry.
type RegistryError struct {
	Flow   string
	Reason string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("flow %s: %s", e.Flow, e.Reason)
}

func (e *RegistryError) Unwrap() error { return ErrInvalidRegistry }

// Registry resolves each flow id to exactly one definition. It is built once
// at startup and never mutated.
type Registry struct {
	flows map[models.FlowType]*Definition
}

// NewRegistry validates defs and selects one version per flow id: the
// override named in overrides (flow id -> version) or the single active one.
// Every flow in routable must resolve. All violations are reported together.
func NewRegistry(defs []*Definition, overrides map[string]string, routable []models.FlowType) (*Registry, error) {
	byID := make(map[models.FlowType]map[string]*Definition)
	var errs []error
	fail := func(flow, format string, args ...any) {
		errs = append(errs, &RegistryError{Flow: flow, Reason: fmt.Sprintf(format, args...)})
	}

	for _, d := range defs {
		if d == nil {
			continue
		}
		if d.Version == "" {
			fail(string(d.ID), "empty version")
			continue
		}
		versions := byID[d.ID]
		if versions == nil {
			versions = make(map[string]*Definition)
			byID[d.ID] = versions
		}
		if _, dup := versions[d.Version]; dup {
			fail(string(d.ID), "version %s registered twice", d.Version)
			continue
		}
		versions[d.Version] = d

		for id, sr := range d.Subroutes {
			if _, ok := sr.Steps[sr.EntryStep]; !ok {
				fail(string(d.ID), "%s: subroute %s entry step %q has no handler", d.Version, id, sr.EntryStep)
			}
		}
	}

	for flow := range overrides {
		if _, ok := byID[models.FlowType(flow)]; !ok {
			fail(flow, "version override for an unregistered flow")
		}
	}

	resolved := make(map[models.FlowType]*Definition, len(byID))
	for id, versions := range byID {
		var active []string
		for v, d := range versions {
			if d.Active {
				active = append(active, v)
			}
		}
		sort.Strings(active)
		if len(active) > 1 {
			fail(string(id), "more than one active version: %v", active)
			continue
		}

		if v, ok := overrides[string(id)]; ok {
			d, exists := versions[v]
			if !exists {
				fail(string(id), "override names unknown version %s", v)
				continue
			}
			resolved[id] = d
			continue
		}
		if len(active) == 0 {
			fail(string(id), "no active version and no override")
			continue
		}
		resolved[id] = versions[active[0]]
	}

	for _, id := range routable {
		if _, ok := byID[id]; !ok {
			fail(string(id), "routable flow has no registered version")
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Registry{flows: resolved}, nil
}

// Get returns the resolved definition for id.
func (r *Registry) Get(id models.FlowType) (*Definition, bool) {
	d, ok := r.flows[id]
	return d, ok
}

// Versions maps each flow id to its resolved version.
func (r *Registry) Versions() map[models.FlowType]string {
	out := make(map[models.FlowType]string, len(r.flows))
	for id, d := range r.flows {
		out[id] = d.Version
	}
	return out
}
