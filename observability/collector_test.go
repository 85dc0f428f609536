package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/monitoring"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

type fakeMonitoring struct {
	points map[string]monitoring.Point
}

func (f fakeMonitoring) Validate(ctx context.Context) (bool, string) { return true, "ok" }
func (f fakeMonitoring) QueryTimeseries(ctx context.Context, query string, windowMinutes int) (monitoring.Point, monitoring.Reason) {
	if p, ok := f.points[query]; ok {
		return p, monitoring.ReasonOK
	}
	return monitoring.Point{}, monitoring.ReasonNoData
}
func (f fakeMonitoring) ListMonitors(ctx context.Context) ([]monitoring.Monitor, error) { return nil, nil }

func TestCollectEnvDeterministicMode(t *testing.T) {
	mon := fakeMonitoring{points: map[string]monitoring.Point{
		"avg:system.cpu.user{kube_namespace:payments-prod}": {Value: 0.9, HasValue: true},
	}}
	c := New(mon, zap.NewNop().Sugar())
	health := c.CollectEnv(context.Background(), EnvInput{
		EnvKey:   "prod",
		Selector: &schema.EnvSelector{Namespace: "payments-prod"},
	})
	if health.Status != "unhealthy" {
		t.Fatalf("expected unhealthy status from 90%% cpu, got %q", health.Status)
	}
	if health.Metrics["cpuPct"] != 90 {
		t.Fatalf("expected normalized cpuPct 90, got %v", health.Metrics["cpuPct"])
	}
}

func TestCollectEnvCandidateModeFallsThrough(t *testing.T) {
	mon := fakeMonitoring{points: map[string]monitoring.Point{
		"avg:system.cpu.user{kube_namespace:prod}": {Value: 0.2, HasValue: true},
	}}
	c := New(mon, zap.NewNop().Sugar())
	health := c.CollectEnv(context.Background(), EnvInput{EnvKey: "prod"})
	if health.Status == "unknown" {
		t.Fatalf("expected candidate mode to find data via kube_namespace fallback")
	}
}

func TestCollectEnvNoProviderIsUnknown(t *testing.T) {
	c := New(nil, zap.NewNop().Sugar())
	health := c.CollectEnv(context.Background(), EnvInput{EnvKey: "prod"})
	if health.Status != "unknown" {
		t.Fatalf("expected unknown status with no provider, got %q", health.Status)
	}
}

func TestDeriveStatusPrecedence(t *testing.T) {
	metrics := map[string]float64{"errorRatePct": 6, "cpuPct": 10}
	if got := deriveStatus(metrics, defaultThresholds); got != "unhealthy" {
		t.Fatalf("expected unhealthy from error rate breach, got %q", got)
	}
}

func TestDeriveStatusUnknownWhenEmpty(t *testing.T) {
	if got := deriveStatus(map[string]float64{}, defaultThresholds); got != "unknown" {
		t.Fatalf("expected unknown for empty metrics, got %q", got)
	}
}

func TestGlobalAlertsSortedBySeverity(t *testing.T) {
	monitors := []monitoring.Monitor{
		{Title: "z-warn", State: "Warn", Tags: []string{"env:prod"}},
		{Title: "a-alert", State: "Alert", Tags: []string{"env:prod"}},
	}
	alerts := GlobalAlerts(monitors, nil, []string{"prod"}, 10)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != "error" {
		t.Fatalf("expected error severity first, got %q", alerts[0].Severity)
	}
}

func TestNewsItemsExcludesOKMonitors(t *testing.T) {
	monitors := []monitoring.Monitor{
		{Title: "fine", State: "OK"},
		{Title: "bad", State: "Alert"},
	}
	items := NewsItems(monitors, 10)
	if len(items) != 1 || items[0].Title != "bad" {
		t.Fatalf("expected only the alerting monitor, got %+v", items)
	}
}
