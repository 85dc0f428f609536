package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/internal/httpclient"
)

// datadogProvider is the default Monitoring Provider, speaking the
// Datadog-compatible timeseries and monitor APIs from §6.
type datadogProvider struct {
	baseURL string
	apiKey  string
	appKey  string
	http    *httpclient.Client
	log     *zap.SugaredLogger
}

// NewDatadogProvider builds the default monitoring provider.
func NewDatadogProvider(cfg Config, log *zap.SugaredLogger) Provider {
	return &datadogProvider{
		baseURL: SiteBaseURL(cfg.Site),
		apiKey:  cfg.APIKey,
		appKey:  cfg.AppKey,
		http:    httpclient.New(log),
		log:     log,
	}
}

func init() {
	providers.MustRegister("datadog", func(cfg Config) (Provider, error) {
		return NewDatadogProvider(cfg, zap.NewNop().Sugar()), nil
	})
}

func (p *datadogProvider) headers() map[string]string {
	return map[string]string{
		"DD-API-KEY":         p.apiKey,
		"DD-APPLICATION-KEY": p.appKey,
		"Accept":             "application/json",
	}
}

// Validate checks that the configured key pair authenticates against the
// Datadog validate endpoint (§4.2).
func (p *datadogProvider) Validate(ctx context.Context) (bool, string) {
	if p.apiKey == "" || p.appKey == "" {
		return false, string(ReasonMissingKeys)
	}
	res, err := p.http.Request(ctx, http.MethodGet, p.baseURL+"/api/v1/validate", httpclient.Options{Headers: p.headers()})
	if err != nil {
		return false, string(ReasonException(exceptionKind(err)))
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return false, string(ReasonAuth401)
	case res.StatusCode == http.StatusForbidden:
		return false, string(ReasonAuth403)
	case res.StatusCode >= 400:
		return false, string(ReasonHTTP(res.StatusCode))
	}
	var decoded struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return false, string(ReasonException("decode"))
	}
	if !decoded.Valid {
		return false, string(ReasonAuth401)
	}
	return true, string(ReasonOK)
}

type queryResponse struct {
	Status string `json:"status"`
	Series []struct {
		Pointlist [][2]float64 `json:"pointlist"`
	} `json:"series"`
}

// QueryTimeseries runs a Datadog metrics query over the trailing window
// and returns the most recent numeric point (§4.2, §4.5).
func (p *datadogProvider) QueryTimeseries(ctx context.Context, query string, windowMinutes int) (Point, Reason) {
	if p.apiKey == "" || p.appKey == "" {
		return Point{}, ReasonMissingKeys
	}
	now := time.Now()
	from := now.Add(-time.Duration(windowMinutes) * time.Minute)

	q := url.Values{}
	q.Set("query", query)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(now.Unix(), 10))

	res, err := p.http.Request(ctx, http.MethodGet, p.baseURL+"/api/v1/query", httpclient.Options{
		Headers: p.headers(),
		Query:   q,
	})
	if err != nil {
		return Point{}, ReasonException(exceptionKind(err))
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return Point{}, ReasonAuth401
	case res.StatusCode == http.StatusForbidden:
		return Point{}, ReasonAuth403
	case res.StatusCode >= 400:
		return Point{}, ReasonHTTP(res.StatusCode)
	}

	var decoded queryResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return Point{}, ReasonException("decode")
	}
	for _, series := range decoded.Series {
		if len(series.Pointlist) == 0 {
			continue
		}
		last := series.Pointlist[len(series.Pointlist)-1]
		return Point{Value: last[1], HasValue: true}, ReasonOK
	}
	return Point{}, ReasonNoData
}

type monitorResponse struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Tags    []string `json:"tags"`
	Type    string   `json:"type"`
	Overall struct {
		Status string `json:"status"`
	} `json:"overall_state"`
	Modified string `json:"modified"`
}

// ListMonitors returns all monitors visible to the configured key pair
// (§4.2, feeds §4.5's global alerts and news items).
func (p *datadogProvider) ListMonitors(ctx context.Context) ([]Monitor, error) {
	res, err := p.http.Request(ctx, http.MethodGet, p.baseURL+"/api/v1/monitor", httpclient.Options{Headers: p.headers()})
	if err != nil {
		return nil, fmt.Errorf("monitoring: list monitors: %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("monitoring: list monitors: http %d", res.StatusCode)
	}
	var decoded []monitorResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return nil, fmt.Errorf("monitoring: decode monitors: %w", err)
	}
	out := make([]Monitor, 0, len(decoded))
	for _, m := range decoded {
		out = append(out, Monitor{
			ID:        m.ID,
			Name:      m.Name,
			Title:     m.Name,
			Message:   m.Message,
			Tags:      m.Tags,
			State:     normalizeMonitorState(m.Overall.Status),
			Type:      m.Type,
			URL:       fmt.Sprintf("%s/monitors/%d", webBaseURL(p.baseURL), m.ID),
			UpdatedAt: m.Modified,
		})
	}
	return out, nil
}

// normalizeMonitorState maps Datadog's overall_state values onto the
// Alert|Warn|OK|No Data vocabulary §4.5 matches against.
func normalizeMonitorState(raw string) string {
	switch raw {
	case "Alert", "Warn", "No Data":
		return raw
	case "OK":
		return "OK"
	default:
		return raw
	}
}

func webBaseURL(apiBase string) string {
	switch apiBase {
	case "https://api.datadoghq.eu":
		return "https://app.datadoghq.eu"
	default:
		return "https://app.datadoghq.com"
	}
}

func exceptionKind(err error) string {
	return fmt.Sprintf("%T", err)
}
