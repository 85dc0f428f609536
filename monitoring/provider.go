// Package monitoring is the metrics-and-alerting adapter (§4.2, §4.5): a
// timeseries query surface plus monitor listing. The default
// implementation speaks the Datadog-compatible API named in §6, behind a
// Provider interface + registry like vcs and ci.
package monitoring

import (
	"context"

	"github.com/WatchTurm/WatchTurm-control-room/internal/registry"
)

// Reason enumerates why queryTimeseries did or did not return a numeric
// point (§4.2).
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonNoData       Reason = "no_data"
	ReasonMissingKeys  Reason = "missing_keys"
	ReasonAuth401      Reason = "auth_401"
	ReasonAuth403      Reason = "auth_403"
)

// ReasonHTTP formats the http_N reason for an unexpected status code.
func ReasonHTTP(status int) Reason {
	return Reason("http_" + itoa(status))
}

// ReasonException formats the exception:T reason for a transport-level
// failure, T being a short type tag.
func ReasonException(kind string) Reason {
	return Reason("exception:" + kind)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Point is one resolved timeseries sample.
type Point struct {
	Value float64
	HasValue bool
}

// Monitor is a normalized Datadog-style monitor (§4.5: feeds global alerts
// and news items).
type Monitor struct {
	ID       int64
	Name     string
	Title    string
	Message  string
	Tags     []string
	State    string // Alert | Warn | OK | No Data
	Type     string
	URL      string
	UpdatedAt string
}

// Provider defines the capability surface a monitoring adapter must
// satisfy.
type Provider interface {
	Validate(ctx context.Context) (bool, string)
	QueryTimeseries(ctx context.Context, query string, windowMinutes int) (Point, Reason)
	ListMonitors(ctx context.Context) ([]Monitor, error)
}

// ProviderConstructor builds a Provider from resolved credentials.
type ProviderConstructor func(cfg Config) (Provider, error)

var providers = registry.New[ProviderConstructor]()

// RegisterProvider registers a monitoring provider constructor.
func RegisterProvider(name string, constructor ProviderConstructor) error {
	return providers.Register(name, constructor)
}

// LookupProvider returns a registered monitoring provider constructor.
func LookupProvider(name string) (ProviderConstructor, bool) {
	return providers.Get(name)
}

// Providers lists registered monitoring provider names.
func Providers() []string {
	return providers.Names()
}

// Config carries the fields a monitoring provider constructor needs.
type Config struct {
	APIKey string
	AppKey string
	Site   string // e.g. "datadoghq.com", "datadoghq.eu", or a full URL override
}

// SiteBaseURL maps a Datadog site name to its API base URL (§4.2). A
// value that already looks like a URL is passed through untouched.
func SiteBaseURL(site string) string {
	switch {
	case site == "":
		return "https://api.datadoghq.com"
	case hasScheme(site):
		return site
	default:
		return "https://api." + site
	}
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i > 0
		}
		if !(s[i] >= 'a' && s[i] <= 'z' || s[i] >= 'A' && s[i] <= 'Z') {
			return false
		}
	}
	return false
}
