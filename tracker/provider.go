// Package tracker is the issue-tracker adapter (§4.2, §4.6): single-issue
// lookup for ticket enrichment. The default implementation speaks the
// Jira-compatible REST API named in §6, behind a Provider interface +
// registry like vcs, ci and monitoring.
package tracker

import (
	"context"
	"errors"

	"github.com/WatchTurm/WatchTurm-control-room/internal/registry"
)

// ErrNotFound is returned when the issue key does not resolve (§4.2).
var ErrNotFound = errors.New("tracker: not found")

// ErrRateLimited signals a 429: §4.2 says this MUST break the caller's
// enrichment loop rather than be retried per-ticket.
var ErrRateLimited = errors.New("tracker: rate limited")

// Issue is the normalized shape of one tracker issue (§4.2).
type Issue struct {
	Key         string
	Summary     string
	Status      string
	Assignee    string
	FixVersions []string
	Project     string
	URL         string
}

// Provider defines the capability surface a tracker adapter must satisfy.
type Provider interface {
	GetIssue(ctx context.Context, key string) (Issue, error)
}

// ProviderConstructor builds a Provider from resolved credentials.
type ProviderConstructor func(cfg Config) (Provider, error)

var providers = registry.New[ProviderConstructor]()

// RegisterProvider registers a tracker provider constructor.
func RegisterProvider(name string, constructor ProviderConstructor) error {
	return providers.Register(name, constructor)
}

// LookupProvider returns a registered tracker provider constructor.
func LookupProvider(name string) (ProviderConstructor, bool) {
	return providers.Get(name)
}

// Providers lists registered tracker provider names.
func Providers() []string {
	return providers.Names()
}

// Config carries the fields a tracker provider constructor needs.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
}
