// Package ci is the continuous-integration adapter (§4.2): builds by
// number and type, and build details including start/finish times. The
// default implementation speaks the TeamCity-compatible REST surface
// named in §6.
package ci

import (
	"context"
	"errors"
	"time"

	"github.com/WatchTurm/WatchTurm-control-room/internal/registry"
)

// ErrNotFound is returned when a build type/number combination has no
// matching build.
var ErrNotFound = errors.New("ci: not found")

// BuildDetails is the normalized shape of one CI build (§4.2).
type BuildDetails struct {
	ID          int
	Number      string
	Status      string
	State       string
	BranchName  string
	WebURL      string
	StartDate   time.Time
	FinishDate  time.Time
	TriggeredBy string
}

// Provider defines the capability surface a CI adapter must satisfy.
type Provider interface {
	GetBuildIDByNumber(ctx context.Context, buildTypeID, number string) (int, error)
	GetBuildDetails(ctx context.Context, id int) (BuildDetails, error)
}

// ProviderConstructor builds a Provider from resolved credentials.
type ProviderConstructor func(cfg Config) (Provider, error)

var providers = registry.New[ProviderConstructor]()

// RegisterProvider registers a CI provider constructor.
func RegisterProvider(name string, constructor ProviderConstructor) error {
	return providers.Register(name, constructor)
}

// LookupProvider returns a registered CI provider constructor.
func LookupProvider(name string) (ProviderConstructor, bool) {
	return providers.Get(name)
}

// Providers lists registered CI provider names.
func Providers() []string {
	return providers.Names()
}

// Config carries the fields a CI provider constructor needs.
type Config struct {
	BaseURL string
	Token   string
}
