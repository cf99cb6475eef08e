// internal/registry/registry.go
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"repository-reconciler/internal/connector"
	custom_errors "repository-reconciler/internal/errors"
)

// Definition describes one connector kind known at compile time.
type Definition struct {
	ID          string
	Label       string
	Description string
	New         func() (connector.Connector, error)
}

// Available is a Definition as listed to operators, with its enablement state.
type Available struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Registry holds the enabled connector instances in configured order.
type Registry struct {
	definitions map[string]Definition
	enabled     []connector.Connector
}

// New instantiates the enabled connectors. Blank ids are ignored, repeated ids keep
// their first position and unknown ids are an error.
func New(defs []Definition, enabledIDs []string) (*Registry, error) {
	r := &Registry{definitions: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if _, exists := r.definitions[d.ID]; exists {
			return nil, fmt.Errorf("connector %q defined twice", d.ID)
		}
		r.definitions[d.ID] = d
	}

	ids := lo.Uniq(lo.Filter(lo.Map(enabledIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	}), func(id string, _ int) bool {
		return id != ""
	}))

	for _, id := range ids {
		c, err := r.Instantiate(id)
		if err != nil {
			return nil, err
		}
		r.enabled = append(r.enabled, c)
	}
	return r, nil
}

// Enabled returns the enabled connectors in configured order.
func (r *Registry) Enabled() []connector.Connector {
	return append([]connector.Connector(nil), r.enabled...)
}

// Instantiate creates a fresh connector by id, enabled or not.
func (r *Registry) Instantiate(id string) (connector.Connector, error) {
	def, ok := r.definitions[id]
	if !ok {
		return nil, fmt.Errorf("unknown connector %q", id)
	}
	c, err := def.New()
	if err != nil {
		return nil, fmt.Errorf("creating connector %q: %w", id, err)
	}
	return c, nil
}

// HelpText joins the help texts of the enabled connectors with spaces.
func (r *Registry) HelpText() string {
	return strings.Join(lo.Map(r.enabled, func(c connector.Connector, _ int) string {
		return c.HelpText()
	}), " ")
}

// ValidateAny returns the first enabled connector accepting uri.
func (r *Registry) ValidateAny(uri string) (connector.Connector, bool) {
	return lo.Find(r.enabled, func(c connector.Connector) bool {
		return c.Validate(uri)
	})
}

// RequireEnabled returns ErrNoConnectors when nothing is enabled.
func (r *Registry) RequireEnabled() error {
	if len(r.enabled) == 0 {
		return custom_errors.ErrNoConnectors
	}
	return nil
}

// Available lists every known connector sorted by label.
func (r *Registry) Available() []Available {
	enabled := lo.SliceToMap(r.enabled, func(c connector.Connector) (string, bool) {
		return c.ID(), true
	})

	list := make([]Available, 0, len(r.definitions))
	for _, d := range r.definitions {
		list = append(list, Available{
			ID:          d.ID,
			Label:       d.Label,
			Description: d.Description,
			Enabled:     enabled[d.ID],
		})
	}
	sort.Slice(list, func(i, j int) bool {
		li, lj := strings.ToLower(list[i].Label), strings.ToLower(list[j].Label)
		if li == lj {
			return list[i].ID < list[j].ID
		}
		return li < lj
	})
	return list
}
