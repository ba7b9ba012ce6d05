package registry

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/BDNK1/blockflow/flow"
)

// Registry resolves action ids to actions.
type Registry interface {
	Lookup(id string) (flow.Action, bool)
}

// Catalog is a flat set of actions keyed by id.
type Catalog map[string]flow.Action

// NewCatalog indexes actions by id. Later duplicates replace earlier ones.
func NewCatalog(actions []flow.Action) Catalog {
	c := make(Catalog, len(actions))
	for _, a := range actions {
		if a.ID == "" {
			continue
		}
		c[a.ID] = a
	}
	return c
}

func (c Catalog) Lookup(id string) (flow.Action, bool) {
	a, ok := c[id]
	return a, ok
}

// IDs returns the catalog ids in sorted order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Layered consults each registry in order and returns the first match.
type Layered []Registry

func (l Layered) Lookup(id string) (flow.Action, bool) {
	for _, r := range l {
		if r == nil {
			continue
		}
		if a, ok := r.Lookup(id); ok {
			return a, true
		}
	}
	return flow.Action{}, false
}

// New returns the registry used for a run: built-ins first, then the user's
// own actions.
func New(user []flow.Action) Layered {
	return Layered{Builtins(), NewCatalog(user)}
}

//go:embed builtin_actions.yaml
var builtinSource []byte

var loadBuiltins = sync.OnceValue(func() Catalog {
	actions, err := flow.ParseActions(builtinSource)
	if err != nil {
		panic(fmt.Sprintf("registry: invalid built-in catalog: %v", err))
	}
	return NewCatalog(actions)
})

// Builtins returns the actions shipped with the engine.
func Builtins() Catalog {
	return loadBuiltins()
}
