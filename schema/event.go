package schema

import (
	"fmt"
	"time"
)

// EventKind distinguishes a tag-change record (release history) from a
// deployment record (deployment history); both stores share this shape
// (§4.8).
type EventKind string

const (
	EventTagChange EventKind = "TAG_CHANGE"
	EventDeployment EventKind = "DEPLOYMENT"
)

// DeploymentEvent is one transition fromTag -> toTag for one component in
// one environment, timestamped by the infra commit that changed the tag
// (§3, glossary).
type DeploymentEvent struct {
	ID               string    `json:"id"`
	Kind             EventKind `json:"kind"`
	Bootstrap        bool      `json:"bootstrap,omitempty"`
	ProjectKey       string    `json:"projectKey"`
	EnvKey           string    `json:"envKey"`
	EnvName          string    `json:"envName,omitempty"`
	Component        string    `json:"component"`
	Repo             string    `json:"repo,omitempty"`
	FromTag          string    `json:"fromTag"`
	ToTag            string    `json:"toTag"`
	FromBuild        string    `json:"fromBuild,omitempty"`
	ToBuild          string    `json:"toBuild,omitempty"`
	At               time.Time `json:"at"`
	By               string    `json:"by,omitempty"`
	CommitURL        string    `json:"commitUrl,omitempty"`
	KustomizationURL string    `json:"kustomizationUrl,omitempty"`
	Links            []string  `json:"links,omitempty"`
}

// EventID computes the stable composite ID for an event (§3):
// "{sha}:{project}:{env}:{component}:{toTag}" when a commit SHA is known,
// else "{project}:{env}:{component}:{toTag}:{at}". Bootstrap events
// additionally prefix "bootstrap:".
func EventID(bootstrap bool, commitSHA, project, env, component, toTag string, at time.Time) string {
	var id string
	if commitSHA != "" {
		id = fmt.Sprintf("%s:%s:%s:%s:%s", commitSHA, project, env, component, toTag)
	} else {
		id = fmt.Sprintf("%s:%s:%s:%s:%s", project, env, component, toTag, at.UTC().Format(time.RFC3339))
	}
	if bootstrap {
		id = "bootstrap:" + id
	}
	return id
}

// DedupSignature is the secondary dedup key from §3/§4.8:
// (project, env, component, fromTag, toTag, at truncated to seconds).
func (e DeploymentEvent) DedupSignature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", e.ProjectKey, e.EnvKey, e.Component, e.FromTag, e.ToTag, e.At.UTC().Truncate(time.Second).Format(time.RFC3339))
}

// HistoryIndex is the lightweight metadata document kept alongside an
// append-only event log (§3, §4.8).
type HistoryIndex struct {
	Version     int                       `json:"version"`
	GeneratedAt time.Time                 `json:"generatedAt"`
	Retention   RetentionState            `json:"retention"`
	Stats       HistoryStats              `json:"stats"`
	Projects    map[string]ProjectHistory `json:"projects"`
}

// RetentionState tracks the retention policy for an event log.
type RetentionState struct {
	Days        int       `json:"days"`
	LastCleanup time.Time `json:"lastCleanup,omitempty"`
}

// HistoryStats summarizes the full event log.
type HistoryStats struct {
	TotalEvents int       `json:"totalEvents"`
	OldestEvent time.Time `json:"oldestEvent,omitempty"`
	NewestEvent time.Time `json:"newestEvent,omitempty"`
}

// ProjectHistory summarizes one project's slice of the event log.
type ProjectHistory struct {
	EventCount   int       `json:"eventCount"`
	FirstEventAt time.Time `json:"firstEventAt,omitempty"`
	LastEventAt  time.Time `json:"lastEventAt,omitempty"`
	Environments []string  `json:"environments"`
}
