package tracker

import (
	"context"
	"testing"
)

type stubProvider struct{}

func (stubProvider) GetIssue(ctx context.Context, key string) (Issue, error) {
	return Issue{}, ErrNotFound
}

func TestTrackerRegisterLookup(t *testing.T) {
	name := "test-tracker"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	if err := RegisterProvider(name, ctor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := LookupProvider(name); !ok {
		t.Fatalf("expected provider lookup success")
	}
}

func TestTrackerDuplicateFails(t *testing.T) {
	name := "dup-tracker"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	_ = RegisterProvider(name, ctor)
	if err := RegisterProvider(name, ctor); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
