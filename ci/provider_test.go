package ci

import (
	"context"
	"testing"
)

type stubProvider struct{}

func (stubProvider) GetBuildIDByNumber(ctx context.Context, buildTypeID, number string) (int, error) {
	return 0, ErrNotFound
}
func (stubProvider) GetBuildDetails(ctx context.Context, id int) (BuildDetails, error) {
	return BuildDetails{}, ErrNotFound
}

func TestCIRegisterLookup(t *testing.T) {
	name := "test-ci"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	if err := RegisterProvider(name, ctor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := LookupProvider(name); !ok {
		t.Fatalf("expected provider lookup success")
	}
	found := false
	for _, n := range Providers() {
		if n == name {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected provider name in list")
	}
}

func TestCIDuplicateFails(t *testing.T) {
	name := "dup-ci"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	_ = RegisterProvider(name, ctor)
	if err := RegisterProvider(name, ctor); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestParseTeamCityTime(t *testing.T) {
	got := parseTeamCityTime("20240115T093000-0700")
	if got.IsZero() {
		t.Fatalf("expected non-zero parsed time")
	}
	if got.Location().String() != "UTC" {
		t.Fatalf("expected UTC normalization, got %s", got.Location())
	}
	if zero := parseTeamCityTime(""); !zero.IsZero() {
		t.Fatalf("expected zero time for empty input")
	}
	if zero := parseTeamCityTime("not-a-date"); !zero.IsZero() {
		t.Fatalf("expected zero time for unparsable input")
	}
}
