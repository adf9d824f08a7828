package registry

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/netforge-io/changerd/internal/gateway"
	"github.com/netforge-io/changerd/internal/model"
)

type nopDialer struct{}

func (nopDialer) Dial(ctx context.Context, dev model.Device) (gateway.Session, error) {
	return nil, nil
}

func TestGetRegistrySingleton(t *testing.T) {
	if GetRegistry() != GetRegistry() {
		t.Fatal("GetRegistry returned different instances")
	}
}

func TestRegisterAndGetDialer(t *testing.T) {
	reg := GetRegistry()

	reg.RegisterDialer("test-transport", func(defaults gateway.Credentials, dialTimeout time.Duration) gateway.Dialer {
		return nopDialer{}
	})

	factory, ok := reg.GetDialer("test-transport")
	if !ok {
		t.Fatal("registered dialer not found")
	}
	if d := factory(gateway.Credentials{}, time.Second); d == nil {
		t.Fatal("factory returned nil dialer")
	}

	if _, ok := reg.GetDialer("missing-transport"); ok {
		t.Fatal("unregistered dialer reported as present")
	}
}

func TestFeatureFlags(t *testing.T) {
	reg := GetRegistry()

	if reg.IsFeatureEnabled("test-feature-b") {
		t.Fatal("feature enabled before registration")
	}

	reg.EnableFeature("test-feature-b")
	reg.EnableFeature("test-feature-a")

	if !reg.IsFeatureEnabled("test-feature-a") || !reg.IsFeatureEnabled("test-feature-b") {
		t.Fatal("enabled features not reported")
	}

	features := reg.Features()
	var got []string
	for _, f := range features {
		if f == "test-feature-a" || f == "test-feature-b" {
			got = append(got, f)
		}
	}
	if want := []string{"test-feature-a", "test-feature-b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Features() = %v, want sorted %v", got, want)
	}
}
