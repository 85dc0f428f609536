package schema

import "time"

// Warning is the structured shape of a non-fatal problem (data_quality,
// not_found, upstream_*), the structural form of the taxonomy in
// internal/snaperr. No code path builds one: the adapters, the
// assembler, the observability collector and the history stores record
// warnings as plain strings (Component.Warnings, Environment.Warnings,
// Snapshot.Warnings).
type Warning struct {
	Level     string    `json:"level"` // "warn" | "error" | "info"
	Scope     string    `json:"scope"` // e.g. "component", "env", "global"
	Reason    string    `json:"reason"` // e.g. NO_KUSTOMIZATION, NO_TEAMCITY
	Source    string    `json:"source"` // e.g. "vcs", "ci", "monitoring", "tracker"
	Message   string    `json:"message"`
	Project   string    `json:"project,omitempty"`
	Env       string    `json:"env,omitempty"`
	Component string    `json:"component,omitempty"`
	At        time.Time `json:"at"`
}

// Reason codes referenced throughout §4.4 and §4.7.
const (
	ReasonNoKustomization    = "NO_KUSTOMIZATION"
	ReasonNoTagFound         = "NO_TAG_FOUND"
	ReasonNoTeamCityBuildType = "NO_TEAMCITY_BUILDTYPE"
	ReasonNoTeamCity         = "NO_TEAMCITY"
	ReasonNoBranchInfo       = "NO_BRANCH_INFO"
)
