// Package observability is the Observability Collector (§4.5): for each
// environment it resolves a tag set, queries a fixed bank of timeseries
// signals, derives a coarse health status, and folds monitor state into
// global alerts and a news feed.
package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/monitoring"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// signal is one fixed metric spec from §4.5's table.
type signal struct {
	key        string
	queryTmpl  string
	normalize  func(v float64) float64
}

var signals = []signal{
	{key: "cpuPct", queryTmpl: "avg:system.cpu.user{%s}", normalize: fractionToPercent},
	{key: "memPct", queryTmpl: "avg:system.mem.used_pct{%s}", normalize: fractionToPercent},
	{key: "pods", queryTmpl: "sum:kubernetes.pods.running{%s}", normalize: identity},
	{key: "errorRatePct", queryTmpl: "100*(sum:app.errors.as_count()/sum:app.hits.as_count()){%s}", normalize: identity},
	{key: "p95ms", queryTmpl: "p95:trace.http.request.duration{%s}", normalize: secondsToMillis},
}

func identity(v float64) float64 { return v }

// fractionToPercent converts a 0..1.5 fraction to a percentage; values
// already expressed as percentages pass through (§4.5 cpuPct/memPct
// normalizer).
func fractionToPercent(v float64) float64 {
	if v >= 0 && v <= 1.5 {
		return v * 100
	}
	return v
}

// secondsToMillis converts a 0..50 second reading to milliseconds — a
// heuristic guard against vendors that report p95 in seconds instead of
// ms (§4.5 p95ms normalizer).
func secondsToMillis(v float64) float64 {
	if v >= 0 && v <= 50 {
		return v * 1000
	}
	return v
}

// defaultTagCandidates is used in candidate mode when a project does not
// configure its own list (§4.5).
var defaultTagCandidates = []string{"env", "environment", "kube_namespace", "kubernetes_namespace"}

// defaultThresholds are the per-signal {warn,unhealthy} pairs used when a
// project does not override them (§4.5).
var defaultThresholds = map[string][2]float64{
	"errorRate": {1, 5},
	"p95":       {1000, 2000},
	"cpu":       {70, 85},
	"mem":       {70, 85},
}

// Collector runs the observability pass for one project.
type Collector struct {
	Monitoring monitoring.Provider
	Log        *zap.SugaredLogger
}

// New builds a Collector. provider may be nil when monitoring is disabled
// for a project; every call then degrades to "unknown" health.
func New(provider monitoring.Provider, log *zap.SugaredLogger) *Collector {
	return &Collector{Monitoring: provider, Log: log}
}

// EnvInput is everything the collector needs to resolve tags and query
// signals for one environment.
type EnvInput struct {
	EnvKey            string
	Selector          *schema.EnvSelector
	ComponentSelector *schema.CompSelector
	BaseTags          []string
	TagCandidates     []string
	WindowMinutes     int
	Thresholds        map[string][2]float64
}

// CollectEnv resolves TAGS (deterministic or candidate mode), queries
// every fixed signal, and derives the environment's Health (§4.5).
func (c *Collector) CollectEnv(ctx context.Context, in EnvInput) *schema.Health {
	if c.Monitoring == nil {
		return &schema.Health{Status: "unknown", Warnings: []string{"monitoring disabled"}}
	}

	windowMinutes := in.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	thresholds := mergeThresholds(in.Thresholds)

	var usedTags []string
	metrics := map[string]float64{}
	var warnings []string

	if in.Selector != nil {
		usedTags = deterministicTags(in.BaseTags, *in.Selector, in.ComponentSelector)
		for _, sig := range signals {
			val, reason := c.query(ctx, sig, usedTags, windowMinutes)
			if reason != monitoring.ReasonOK {
				warnings = append(warnings, fmt.Sprintf("%s: %s", sig.key, reason))
				continue
			}
			metrics[sig.key] = val
		}
	} else {
		candidates := in.TagCandidates
		if len(candidates) == 0 {
			candidates = defaultTagCandidates
		}
		usedTags, metrics, warnings = c.candidateMode(ctx, in.BaseTags, candidates, in.EnvKey, windowMinutes)
	}

	status := deriveStatus(metrics, thresholds)
	return &schema.Health{
		Status:   status,
		Metrics:  metrics,
		UsedTags: usedTags,
		Warnings: warnings,
	}
}

// deterministicTags builds the deterministic-mode TAGS set (§4.5): the
// namespace/cluster pair always applies, and an optional (service,
// kube_deployment) pair from a configured component selector narrows the
// query further when present.
func deterministicTags(base []string, sel schema.EnvSelector, compSel *schema.CompSelector) []string {
	tags := append([]string{}, base...)
	tags = append(tags, "kube_namespace:"+sel.Namespace)
	if sel.Cluster != "" {
		tags = append(tags, "kube_cluster_name:"+sel.Cluster)
	}
	if compSel != nil {
		if compSel.Service != "" {
			tags = append(tags, "service:"+compSel.Service)
		}
		if compSel.Deployment != "" {
			tags = append(tags, "kube_deployment:"+compSel.Deployment)
		}
	}
	return tags
}

// candidateMode iterates tagCandidates, appending ":envKey" to each, and
// keeps the first candidate that yields at least one ok numeric value
// (§4.5). Others are discarded entirely, not merged.
func (c *Collector) candidateMode(ctx context.Context, base, candidates []string, envKey string, windowMinutes int) ([]string, map[string]float64, []string) {
	for _, candidate := range candidates {
		tags := append(append([]string{}, base...), candidate+":"+envKey)
		metrics := map[string]float64{}
		var warnings []string
		gotOne := false
		for _, sig := range signals {
			val, reason := c.query(ctx, sig, tags, windowMinutes)
			if reason != monitoring.ReasonOK {
				warnings = append(warnings, fmt.Sprintf("%s: %s", sig.key, reason))
				continue
			}
			metrics[sig.key] = val
			gotOne = true
		}
		if gotOne {
			return tags, metrics, warnings
		}
	}
	return nil, map[string]float64{}, []string{"no tag candidate yielded data"}
}

func mergeThresholds(overrides map[string][2]float64) map[string][2]float64 {
	merged := map[string][2]float64{}
	for k, v := range defaultThresholds {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// deriveStatus applies §4.5's precedence: unhealthy > degraded > healthy
// > unknown. A signal with no value contributes nothing; status is
// unknown iff every value is null.
func deriveStatus(metrics map[string]float64, thresholds map[string][2]float64) string {
	if len(metrics) == 0 {
		return "unknown"
	}
	worst := "healthy"
	check := func(value float64, key string) {
		pair, ok := thresholds[key]
		if !ok {
			return
		}
		warn, unhealthy := pair[0], pair[1]
		switch {
		case value >= unhealthy:
			worst = escalate(worst, "unhealthy")
		case value >= warn:
			worst = escalate(worst, "degraded")
		}
	}
	if v, ok := metrics["errorRatePct"]; ok {
		check(v, "errorRate")
	}
	if v, ok := metrics["p95ms"]; ok {
		check(v, "p95")
	}
	if v, ok := metrics["cpuPct"]; ok {
		check(v, "cpu")
	}
	if v, ok := metrics["memPct"]; ok {
		check(v, "mem")
	}
	return worst
}

func escalate(current, candidate string) string {
	rank := map[string]int{"healthy": 0, "degraded": 1, "unhealthy": 2}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}

func (c *Collector) query(ctx context.Context, sig signal, tags []string, windowMinutes int) (float64, monitoring.Reason) {
	query := fmt.Sprintf(sig.queryTmpl, strings.Join(tags, ","))
	point, reason := c.Monitoring.QueryTimeseries(ctx, query, windowMinutes)
	if reason != monitoring.ReasonOK || !point.HasValue {
		return 0, reason
	}
	return sig.normalize(point.Value), monitoring.ReasonOK
}

// GlobalAlerts derives §4.5's global alert banners from monitor state,
// filtered by selector match if envSelectors are present, else by env:
// tag membership in the known env keys. Sorted by severity then title,
// capped at limit.
func GlobalAlerts(monitors []monitoring.Monitor, selectors map[string]schema.EnvSelector, knownEnvs []string, limit int) []schema.Alert {
	var alerts []schema.Alert
	for _, m := range monitors {
		severity := severityFromState(m.State)
		if severity == "" {
			continue
		}
		if !monitorMatchesScope(m, selectors, knownEnvs) {
			continue
		}
		alerts = append(alerts, schema.Alert{
			Title:    m.Title,
			Message:  m.Message,
			Severity: severity,
			Source:   "monitoring",
			URL:      m.URL,
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		si, sj := severityRank(alerts[i].Severity), severityRank(alerts[j].Severity)
		if si != sj {
			return si < sj
		}
		return alerts[i].Title < alerts[j].Title
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

func severityFromState(state string) string {
	switch state {
	case "Alert":
		return "error"
	case "Warn":
		return "warn"
	case "No Data":
		return "info"
	default:
		return ""
	}
}

func severityRank(s string) int {
	switch s {
	case "error":
		return 0
	case "warn":
		return 1
	default:
		return 2
	}
}

// monitorMatchesScope implements the selector-to-monitor match in §4.5: a
// monitor matches an env selector iff its kube_namespace:N (or legacy
// namespace:N) tag is present, and if cluster is set, kube_cluster_name:C
// must also be present. With no selectors configured, fall back to env:
// tag membership in knownEnvs.
func monitorMatchesScope(m monitoring.Monitor, selectors map[string]schema.EnvSelector, knownEnvs []string) bool {
	if len(selectors) > 0 {
		for _, sel := range selectors {
			if matchesSelector(m.Tags, sel) {
				return true
			}
		}
		return false
	}
	for _, tag := range m.Tags {
		if !strings.HasPrefix(tag, "env:") {
			continue
		}
		envVal := strings.TrimPrefix(tag, "env:")
		for _, known := range knownEnvs {
			if envVal == known {
				return true
			}
		}
	}
	return false
}

func matchesSelector(tags []string, sel schema.EnvSelector) bool {
	hasNamespace := false
	hasCluster := sel.Cluster == ""
	for _, tag := range tags {
		if tag == "kube_namespace:"+sel.Namespace || tag == "namespace:"+sel.Namespace {
			hasNamespace = true
		}
		if sel.Cluster != "" && tag == "kube_cluster_name:"+sel.Cluster {
			hasCluster = true
		}
	}
	return hasNamespace && hasCluster
}

// NewsItems normalizes ALERT/WARN monitors into the news feed shape
// (§4.5), sorted bad > warn first, then newest first, capped at limit.
func NewsItems(monitors []monitoring.Monitor, limit int) []schema.NewsItem {
	var items []schema.NewsItem
	for _, m := range monitors {
		level := newsLevelFromState(m.State)
		if level == "" {
			continue
		}
		items = append(items, schema.NewsItem{
			Title:  m.Title,
			Msg:    m.Message,
			Level:  level,
			Source: "monitoring",
			URL:    m.URL,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := newsLevelRank(items[i].Level), newsLevelRank(items[j].Level)
		if ri != rj {
			return ri < rj
		}
		return items[i].TS.After(items[j].TS)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func newsLevelFromState(state string) string {
	switch state {
	case "Alert":
		return "bad"
	case "Warn":
		return "warn"
	default:
		return ""
	}
}

func newsLevelRank(level string) int {
	switch level {
	case "bad":
		return 0
	case "warn":
		return 1
	default:
		return 2
	}
}
