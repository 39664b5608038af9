package jobs

import (
	"fmt"
	"sort"
)

// Registry maps job names to their defs. It is closed: only the defs it
// was built with can be configured.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds a registry from defs. Duplicate names panic since
// they can only come from a programming error.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, s := range defs {
		if _, dup := r.defs[s.Name]; dup {
			panic(fmt.Sprintf("jobs: duplicate job %q", s.Name))
		}
		r.defs[s.Name] = s
	}
	return r
}

// BuiltinDefinitions lists every job shipped with pcswitcher
func BuiltinDefinitions() []Definition {
	return []Definition{
		snapshotDef,
		installDef,
		diskMonitorDef,
		dummyDef(DummySuccessName),
		dummyDef(DummyFailName),
	}
}

// Builtins returns the registry of the built-in jobs
func Builtins() *Registry {
	return NewRegistry(BuiltinDefinitions()...)
}

// Lookup finds a job definition by name
func (r *Registry) Lookup(name string) (Definition, bool) {
	s, ok := r.defs[name]
	return s, ok
}

// SyncJobs returns the names of configurable jobs, sorted
func (r *Registry) SyncJobs() []string {
	var names []string
	for name, s := range r.defs {
		if s.Kind == KindSync {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns every registered name, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
