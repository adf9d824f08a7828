package profile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/netforge-io/changerd/internal/model"
)

// ErrProfileNotFound is returned when a profile ID is not in the catalog.
var ErrProfileNotFound = errors.New("profile not found")

//go:embed profiles.json
var profilesJSON []byte

type catalogFile struct {
	RouterProfiles []model.Profile `json:"router_profiles"`
	SiteProfiles   []model.Profile `json:"site_profiles"`
}

// Catalog holds the router and site profile catalogs. It is loaded once at
// startup and read-only afterwards.
type Catalog struct {
	routers     map[string]model.Profile
	sites       map[string]model.Profile
	routerOrder []string
	siteOrder   []string
}

// NewCatalog loads the embedded profile catalog.
func NewCatalog() (*Catalog, error) {
	return NewCatalogFromJSON(profilesJSON)
}

// NewCatalogFromJSON builds a catalog from raw JSON. Profile IDs must be
// unique within each catalog and every command needs a rollback pair.
func NewCatalogFromJSON(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profile catalog: %w", err)
	}

	c := &Catalog{
		routers: make(map[string]model.Profile, len(f.RouterProfiles)),
		sites:   make(map[string]model.Profile, len(f.SiteProfiles)),
	}

	for _, p := range f.RouterProfiles {
		if err := validateProfile(p); err != nil {
			return nil, fmt.Errorf("router profile %q: %w", p.ID, err)
		}
		if _, dup := c.routers[p.ID]; dup {
			return nil, fmt.Errorf("duplicate router profile %q", p.ID)
		}
		c.routers[p.ID] = p
		c.routerOrder = append(c.routerOrder, p.ID)
	}
	for _, p := range f.SiteProfiles {
		if err := validateProfile(p); err != nil {
			return nil, fmt.Errorf("site profile %q: %w", p.ID, err)
		}
		if _, dup := c.sites[p.ID]; dup {
			return nil, fmt.Errorf("duplicate site profile %q", p.ID)
		}
		c.sites[p.ID] = p
		c.siteOrder = append(c.siteOrder, p.ID)
	}

	return c, nil
}

func validateProfile(p model.Profile) error {
	if p.ID == "" {
		return errors.New("missing id")
	}
	if p.Label == "" {
		return errors.New("missing label")
	}
	for i, pair := range p.Commands {
		if pair.Command == "" {
			return fmt.Errorf("command %d is empty", i)
		}
		if pair.Rollback == "" {
			return fmt.Errorf("command %d has no rollback", i)
		}
	}
	return nil
}

// Router returns the router profile with the given ID.
func (c *Catalog) Router(id string) (model.Profile, error) {
	p, ok := c.routers[id]
	if !ok {
		return model.Profile{}, fmt.Errorf("router profile %q: %w", id, ErrProfileNotFound)
	}
	return p, nil
}

// Site returns the site profile with the given ID.
func (c *Catalog) Site(id string) (model.Profile, error) {
	p, ok := c.sites[id]
	if !ok {
		return model.Profile{}, fmt.Errorf("site profile %q: %w", id, ErrProfileNotFound)
	}
	return p, nil
}

// RouterProfiles lists the router catalog in declaration order.
func (c *Catalog) RouterProfiles() []model.ProfileSummary {
	return summaries(c.routers, c.routerOrder)
}

// SiteProfiles lists the site catalog in declaration order.
func (c *Catalog) SiteProfiles() []model.ProfileSummary {
	return summaries(c.sites, c.siteOrder)
}

func summaries(m map[string]model.Profile, order []string) []model.ProfileSummary {
	out := make([]model.ProfileSummary, 0, len(order))
	for _, id := range order {
		out = append(out, model.ProfileSummary{ID: id, Label: m[id].Label})
	}
	return out
}
