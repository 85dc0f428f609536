// Package creds resolves the one credential set a run uses for VCS, CI,
// Monitoring and Tracker, and provides the masking helper required before
// any credential value reaches a log line or diagnostic surface (§5, §6).
//
// Adapted from the teacher's secret.Provider (a pluggable Get/Put store
// backed by a JSON file): here there is exactly one source — the process
// environment — and exactly one consumer per field, so the provider
// indirection collapses into a single resolved struct. The "first
// non-empty name wins" rule and the masking discipline are carried over.
package creds

import (
	"os"
	"strings"
)

// Set is the resolved credential bundle for one run. Values live here only
// for the duration of the run that loaded them; nothing is persisted.
type Set struct {
	GitHubToken string
	GitHubOrg   string

	TeamCityURL   string
	TeamCityToken string

	JiraBase     string
	JiraEmail    string
	JiraAPIToken string

	DatadogSite   string
	DatadogAPIKey string
	DatadogAppKey string

	ArgoCDToken      string
	ArgoCDTokenStage map[string]string

	TicketTrackerDays          int
	TicketHistoryAdvanced      bool
	TicketHistoryTimeAware     bool
	ReleaseHistoryRetentionDays int
	ReleaseHistoryBootstrapDays int
	ReleaseHistoryBackfill60    bool
	LogLevel                   string
}

// firstEnv returns the trimmed value of the first listed variable that is
// non-empty (§6: "first non-empty wins where multiple names are listed").
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func boolEnv(def bool, names ...string) bool {
	v := strings.ToLower(firstEnv(names...))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func intEnv(def int, names ...string) int {
	v := firstEnv(names...)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Load resolves the credential set from the process environment (§6).
func Load() Set {
	s := Set{
		GitHubToken: firstEnv("GITHUB_TOKEN"),
		GitHubOrg:   firstEnv("GITHUB_ORG"),

		TeamCityURL:   firstEnv("TEAMCITY_URL", "TEAMCITY_API"),
		TeamCityToken: firstEnv("TEAMCITY_TOKEN"),

		JiraBase:     firstEnv("JIRA_BASE", "JIRA_URL"),
		JiraEmail:    firstEnv("JIRA_EMAIL"),
		JiraAPIToken: firstEnv("JIRA_API_TOKEN", "JIRA_TOKEN"),

		DatadogSite:   firstEnv("DATADOG_SITE", "DD_SITE"),
		DatadogAPIKey: firstEnv("DATADOG_API_KEY", "DD_API_KEY"),
		DatadogAppKey: firstEnv("DATADOG_APP_KEY", "DD_APPLICATION_KEY", "DD_APP_KEY"),

		ArgoCDToken: firstEnv("ARGOCD_TOKEN"),

		TicketTrackerDays:           intEnv(120, "TICKET_TRACKER_DAYS"),
		TicketHistoryAdvanced:       boolEnv(false, "TICKET_HISTORY_ADVANCED"),
		TicketHistoryTimeAware:      boolEnv(false, "TICKET_HISTORY_TIME_AWARE"),
		ReleaseHistoryRetentionDays: intEnv(90, "RELEASE_HISTORY_RETENTION_DAYS"),
		ReleaseHistoryBootstrapDays: intEnv(60, "RELEASE_HISTORY_BOOTSTRAP_DAYS"),
		ReleaseHistoryBackfill60:    boolEnv(true, "RELEASE_HISTORY_BACKFILL_60_DAYS"),
		LogLevel:                    firstEnv("LOG_LEVEL"),
	}

	s.ArgoCDTokenStage = map[string]string{}
	for _, stage := range []string{"DEV", "QA", "UAT", "PROD"} {
		if tok := firstEnv("ARGOCD_TOKEN_" + stage); tok != "" {
			s.ArgoCDTokenStage[stage] = tok
		}
	}
	return s
}

// Mask redacts a credential value for logs and diagnostic surfaces,
// keeping only enough of the tail to let an operator recognize which
// token is configured without exposing it.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
