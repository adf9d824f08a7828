package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/netforge-io/changerd/internal/model"
	"github.com/netforge-io/changerd/internal/profile"
)

func testDevice() model.Device {
	return model.Device{
		ID:           "rtr-lab-01",
		Address:      "192.0.2.10",
		Identity:     "lab-01",
		LANInterface: "bridge-lan",
		WANInterface: "ether1-wan",
		LANNetwork:   "10.50.0.0/24",
	}
}

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	cat, err := profile.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	return New(cat)
}

func TestCompileBaselineAccess(t *testing.T) {
	c := newTestCompiler(t)

	plan, err := c.Compile("baseline", "access", testDevice())
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	if len(plan.Pairs) == 0 {
		t.Fatal("expected a non-empty plan")
	}
	cmds := plan.Commands()
	rbs := plan.RollbackCommands()
	if len(cmds) != len(rbs) {
		t.Fatalf("commands/rollbacks misaligned: %d vs %d", len(cmds), len(rbs))
	}

	joined := strings.Join(cmds, "\n")
	if strings.Contains(joined, "{{") {
		t.Errorf("plan contains unexpanded template text:\n%s", joined)
	}
	if !strings.Contains(joined, "bridge-lan") {
		t.Errorf("plan does not use the device LAN interface:\n%s", joined)
	}
}

func TestCompileConflict(t *testing.T) {
	c := newTestCompiler(t)

	_, err := c.Compile("strict", "core", testDevice())
	if !errors.Is(err, ErrIncompatibleProfiles) {
		t.Fatalf("Compile(strict, core) error = %v, want ErrIncompatibleProfiles", err)
	}
	if !strings.Contains(err.Error(), "service.winbox") {
		t.Errorf("conflict error does not name the key: %v", err)
	}
}

func TestCompileUnknownProfile(t *testing.T) {
	c := newTestCompiler(t)

	if _, err := c.Compile("nope", "", testDevice()); !errors.Is(err, profile.ErrProfileNotFound) {
		t.Errorf("Compile(nope) error = %v, want ErrProfileNotFound", err)
	}
	if _, err := c.Compile("", "nope", testDevice()); !errors.Is(err, profile.ErrProfileNotFound) {
		t.Errorf("Compile(site nope) error = %v, want ErrProfileNotFound", err)
	}
}

func TestCompileNoSelection(t *testing.T) {
	c := newTestCompiler(t)
	if _, err := c.Compile("", "", testDevice()); err == nil {
		t.Error("expected error for empty selection")
	}
}

func TestCompileRouterOnly(t *testing.T) {
	c := newTestCompiler(t)

	plan, err := c.Compile("strict", "", model.Device{ID: "rtr-1", Address: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	// Interface metadata falls back to RouterOS factory defaults.
	joined := strings.Join(plan.Commands(), "\n")
	if !strings.Contains(joined, "192.168.88.0/24") {
		t.Errorf("expected default LAN network in plan:\n%s", joined)
	}
}

func TestCompileDedupesSharedCommands(t *testing.T) {
	data := `{
		"router_profiles": [{"id":"r","label":"R","settings":{"a":"1"},"commands":[
			{"command":"/ip service set telnet disabled=yes","rollback":"/ip service set telnet disabled=no"}]}],
		"site_profiles": [{"id":"s","label":"S","settings":{"a":"1"},"commands":[
			{"command":"/ip service set telnet disabled=yes","rollback":"/ip service set telnet disabled=no"},
			{"command":"/ip upnp set enabled=no","rollback":"/ip upnp set enabled=yes"}]}]
	}`
	cat, err := profile.NewCatalogFromJSON([]byte(data))
	if err != nil {
		t.Fatalf("NewCatalogFromJSON() error: %v", err)
	}

	plan, err := New(cat).Compile("r", "s", testDevice())
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if len(plan.Pairs) != 2 {
		t.Errorf("expected 2 deduped commands, got %d: %v", len(plan.Pairs), plan.Commands())
	}
}

// TestCompileMergeProperties drives Compile with generated catalogs and
// checks that conflict detection fires exactly when two profiles pin the
// same key to different values, and that successful plans cover the union
// of both profiles.
func TestCompileMergeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keyGen := rapid.SampledFrom([]string{
			"service.telnet", "service.ftp", "service.winbox", "dns.remote", "upnp", "ssh.crypto",
		})
		valGen := rapid.SampledFrom([]string{"enabled", "disabled", "lan-only", "any"})

		routerSettings := rapid.MapOfN(keyGen, valGen, 0, 6).Draw(t, "router_settings")
		siteSettings := rapid.MapOfN(keyGen, valGen, 0, 6).Draw(t, "site_settings")
		if len(routerSettings) == 0 && len(siteSettings) == 0 {
			t.Skip("empty selection")
		}

		catalog := fmt.Sprintf(`{"router_profiles":[%s],"site_profiles":[%s]}`,
			profileJSON("r", routerSettings), profileJSON("s", siteSettings))
		cat, err := profile.NewCatalogFromJSON([]byte(catalog))
		if err != nil {
			t.Fatalf("catalog build failed: %v", err)
		}

		conflicts := 0
		for k, v := range routerSettings {
			if sv, ok := siteSettings[k]; ok && sv != v {
				conflicts++
			}
		}

		plan, err := New(cat).Compile("r", "s", model.Device{ID: "d1", Address: "192.0.2.1"})
		if conflicts > 0 {
			if !errors.Is(err, ErrIncompatibleProfiles) {
				t.Fatalf("expected ErrIncompatibleProfiles for %d conflicting keys, got %v", conflicts, err)
			}
			return
		}
		if err != nil {
			t.Fatalf("Compile() error: %v", err)
		}

		// Merged settings are exactly the union of both selections.
		for k, v := range routerSettings {
			if plan.Settings[k] != v {
				t.Fatalf("merged settings missing router key %q=%q", k, v)
			}
		}
		for k, v := range siteSettings {
			if plan.Settings[k] != v {
				t.Fatalf("merged settings missing site key %q=%q", k, v)
			}
		}

		// Shared identical settings produce one command, not two.
		unique := make(map[string]bool)
		for k, v := range routerSettings {
			unique[k+"="+v] = true
		}
		for k, v := range siteSettings {
			unique[k+"="+v] = true
		}
		if len(plan.Pairs) != len(unique) {
			t.Fatalf("plan has %d commands, want %d", len(plan.Pairs), len(unique))
		}
	})
}

// TestCompilePlanRoundTrip drives compiled plans against a key-value model
// of a device: applying the forward commands and then the rollback commands
// in reverse order must land the device back in its pre-change state.
func TestCompilePlanRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keyGen := rapid.SampledFrom([]string{
			"service.telnet", "service.ftp", "service.winbox", "dns.remote", "upnp", "ssh.crypto",
		})
		valGen := rapid.SampledFrom([]string{"enabled", "disabled", "lan-only", "any"})

		baseline := rapid.MapOfN(keyGen, valGen, 0, 6).Draw(t, "baseline")
		target := rapid.MapOfN(keyGen, valGen, 1, 6).Draw(t, "target")

		// Each profile command pins a key to its target value; its rollback
		// restores whatever the device held before the change.
		var sets []string
		var cmds []string
		for k, v := range target {
			rb := fmt.Sprintf("/unset %s", k)
			if old, ok := baseline[k]; ok {
				rb = fmt.Sprintf("/set %s value=%s", k, old)
			}
			sets = append(sets, fmt.Sprintf("%q:%q", k, v))
			cmds = append(cmds, fmt.Sprintf(`{"command":"/set %s value=%s","rollback":%q}`, k, v, rb))
		}
		catalog := fmt.Sprintf(`{"router_profiles":[{"id":"r","label":"R","settings":{%s},"commands":[%s]}],"site_profiles":[]}`,
			strings.Join(sets, ","), strings.Join(cmds, ","))
		cat, err := profile.NewCatalogFromJSON([]byte(catalog))
		if err != nil {
			t.Fatalf("catalog build failed: %v", err)
		}

		plan, err := New(cat).Compile("r", "", model.Device{ID: "d1", Address: "192.0.2.1"})
		if err != nil {
			t.Fatalf("Compile() error: %v", err)
		}
		forward := plan.Commands()
		inverse := plan.RollbackCommands()
		if len(forward) != len(inverse) {
			t.Fatalf("commands/rollbacks misaligned: %d vs %d", len(forward), len(inverse))
		}

		state := make(map[string]string, len(baseline))
		for k, v := range baseline {
			state[k] = v
		}
		for _, cmd := range forward {
			if err := applyModelCommand(state, cmd); err != nil {
				t.Fatalf("forward %q: %v", cmd, err)
			}
		}
		for k, v := range target {
			if state[k] != v {
				t.Fatalf("after apply, %s = %q, want %q", k, state[k], v)
			}
		}

		for i := len(inverse) - 1; i >= 0; i-- {
			if err := applyModelCommand(state, inverse[i]); err != nil {
				t.Fatalf("rollback %q: %v", inverse[i], err)
			}
		}
		if !reflect.DeepEqual(state, baseline) {
			t.Fatalf("rollback did not restore the device: got %v, want %v", state, baseline)
		}
	})
}

// applyModelCommand interprets the synthetic command dialect ("/set K
// value=V", "/unset K") against a key-value device state.
func applyModelCommand(state map[string]string, cmd string) error {
	fields := strings.Fields(cmd)
	switch {
	case len(fields) == 3 && fields[0] == "/set" && strings.HasPrefix(fields[2], "value="):
		state[fields[1]] = strings.TrimPrefix(fields[2], "value=")
		return nil
	case len(fields) == 2 && fields[0] == "/unset":
		delete(state, fields[1])
		return nil
	default:
		return fmt.Errorf("unrecognized command %q", cmd)
	}
}

// profileJSON renders a synthetic profile whose commands mirror its settings
// one to one.
func profileJSON(id string, settings map[string]string) string {
	var cmds []string
	var sets []string
	for k, v := range settings {
		sets = append(sets, fmt.Sprintf("%q:%q", k, v))
		cmds = append(cmds, fmt.Sprintf(`{"command":"/set %s value=%s","rollback":"/unset %s"}`, k, v, k))
	}
	return fmt.Sprintf(`{"id":%q,"label":%q,"settings":{%s},"commands":[%s]}`,
		id, strings.ToUpper(id), strings.Join(sets, ","), strings.Join(cmds, ","))
}
