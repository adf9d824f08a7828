package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/profile"
)

// ErrIncompatibleProfiles is returned when the selected router and site
// profiles pin the same configuration key to different values.
var ErrIncompatibleProfiles = errors.New("incompatible profiles")

// Plan is the compiled output for one device: the merged settings view plus
// the ordered forward commands and their inverses. Plans are immutable once
// a change record stores them.
type Plan struct {
	RouterProfile string
	SiteProfile   string
	Settings      map[string]string
	Pairs         []model.CommandPair
}

// Commands returns the forward commands in apply order.
func (p *Plan) Commands() []string {
	out := make([]string, len(p.Pairs))
	for i, pair := range p.Pairs {
		out[i] = pair.Command
	}
	return out
}

// RollbackCommands returns the inverse commands, index-aligned with
// Commands. Rollback replays them in reverse order.
func (p *Plan) RollbackCommands() []string {
	out := make([]string, len(p.Pairs))
	for i, pair := range p.Pairs {
		out[i] = pair.Rollback
	}
	return out
}

// TemplateData is the per-device context available to command templates.
type TemplateData struct {
	DeviceID     string
	Identity     string
	Address      string
	LANInterface string
	WANInterface string
	LANNetwork   string
}

// dataFor fills template defaults for inventory entries that omit interface
// metadata. The defaults match RouterOS factory configuration.
func dataFor(dev model.Device) TemplateData {
	d := TemplateData{
		DeviceID:     dev.ID,
		Identity:     dev.Identity,
		Address:      dev.Address,
		LANInterface: dev.LANInterface,
		WANInterface: dev.WANInterface,
		LANNetwork:   dev.LANNetwork,
	}
	if d.LANInterface == "" {
		d.LANInterface = "bridge"
	}
	if d.WANInterface == "" {
		d.WANInterface = "ether1"
	}
	if d.LANNetwork == "" {
		d.LANNetwork = "192.168.88.0/24"
	}
	return d
}

// Compiler turns profile selections into device command plans.
type Compiler struct {
	catalog *profile.Catalog
}

func New(catalog *profile.Catalog) *Compiler {
	return &Compiler{catalog: catalog}
}

// Compile resolves the named profiles, rejects conflicting selections and
// expands every command template against the device metadata. Either profile
// ID may be empty, but not both. Compilation touches no device.
func (c *Compiler) Compile(routerID, siteID string, dev model.Device) (*Plan, error) {
	if routerID == "" && siteID == "" {
		return nil, errors.New("no profile selected")
	}

	var selected []model.Profile
	if routerID != "" {
		p, err := c.catalog.Router(routerID)
		if err != nil {
			return nil, err
		}
		selected = append(selected, p)
	}
	if siteID != "" {
		p, err := c.catalog.Site(siteID)
		if err != nil {
			return nil, err
		}
		selected = append(selected, p)
	}

	settings, err := mergeSettings(selected)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RouterProfile: routerID,
		SiteProfile:   siteID,
		Settings:      settings,
	}

	data := dataFor(dev)
	seen := make(map[string]bool)
	for _, p := range selected {
		for _, pair := range p.Commands {
			cmd, err := expand(pair.Command, data)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", p.ID, err)
			}
			rb, err := expand(pair.Rollback, data)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", p.ID, err)
			}
			// Router and site profiles may repeat a shared hardening
			// command; apply it once.
			if seen[cmd] {
				continue
			}
			seen[cmd] = true
			plan.Pairs = append(plan.Pairs, model.CommandPair{Command: cmd, Rollback: rb})
		}
	}

	return plan, nil
}

// mergeSettings unions the settings maps of the selected profiles. A key
// pinned to two different values is a conflict and aborts compilation.
func mergeSettings(profiles []model.Profile) (map[string]string, error) {
	merged := make(map[string]string)
	var conflicts []string
	for _, p := range profiles {
		for k, v := range p.Settings {
			if prev, ok := merged[k]; ok && prev != v {
				conflicts = append(conflicts, k)
				continue
			}
			merged[k] = v
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, fmt.Errorf("%w: conflicting keys %s", ErrIncompatibleProfiles, strings.Join(conflicts, ", "))
	}
	return merged, nil
}

func expand(tmpl string, data TemplateData) (string, error) {
	t, err := template.New("cmd").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("invalid command template %q: %w", tmpl, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to expand command template %q: %w", tmpl, err)
	}
	out := sb.String()
	if strings.Contains(out, "{{") {
		return "", fmt.Errorf("command template %q did not fully expand", tmpl)
	}
	return out, nil
}
