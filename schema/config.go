package schema

// ProjectConfig is one configs/*.yaml document, decoded verbatim by the
// config loader and otherwise treated as immutable for the run (§3).
// Branching and TicketRegex are tagged yaml:"-": the loader never fills
// them from the YAML, so they stay nil and "" unless set in code.
type ProjectConfig struct {
	Key             string              `yaml:"key" json:"key"`
	DisplayName     string              `yaml:"name" json:"displayName"`
	VCSOwner        string              `yaml:"githubOwner" json:"vcsOwner"`
	DefaultInfraRef string              `yaml:"infraRef" json:"defaultInfraRef"`
	Environments    []EnvironmentConfig `yaml:"environments" json:"environments"`
	Services        []ServiceConfig     `yaml:"services" json:"services"`
	Monitoring      *MonitoringSelector `yaml:"datadog,omitempty" json:"monitoring,omitempty"`
	Branching       *BranchingConfig    `yaml:"-" json:"branching,omitempty"`
	TicketRegex     string              `yaml:"-" json:"ticketRegex,omitempty"`
}

// EnvironmentConfig is one deployment stage for a project.
type EnvironmentConfig struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"displayName"`
}

// ServiceConfig is one deployable unit within a project.
type ServiceConfig struct {
	Key             string   `yaml:"key" json:"serviceKey"`
	CodeRepo        string   `yaml:"codeRepo" json:"codeRepo"`
	InfraRepo       string   `yaml:"infraRepo" json:"infraRepo"`
	InfraRefOverride string  `yaml:"infraRef,omitempty" json:"infraRefOverride,omitempty"`
	CIBuildTypeID   string   `yaml:"teamcityBuildTypeId,omitempty" json:"ciBuildTypeId,omitempty"`
	EnvFilter       []string `yaml:"envs,omitempty" json:"envFilter,omitempty"`
	ArgoApp         string   `yaml:"argoApp,omitempty" json:"argoApp,omitempty"`
}

// MonitoringSelector configures the Datadog-style observability collector
// for a project (§4.5). Presence of an env selector switches that
// environment to deterministic query mode.
type MonitoringSelector struct {
	Enabled            bool                               `yaml:"enabled" json:"enabled"`
	WindowMinutes      int                                `yaml:"windowMinutes,omitempty" json:"windowMinutes,omitempty"`
	EnvSelectors       map[string]EnvSelector              `yaml:"envSelectors,omitempty" json:"envSelectors,omitempty"`
	ComponentSelectors map[string]map[string]CompSelector  `yaml:"componentSelectors,omitempty" json:"componentSelectors,omitempty"`
	EnvMap             map[string]string                   `yaml:"envMap,omitempty" json:"envMap,omitempty"`
	TagCandidates      []string                             `yaml:"tagCandidates,omitempty" json:"tagCandidates,omitempty"`
	BaseTags           []string                             `yaml:"baseTags,omitempty" json:"baseTags,omitempty"`
	Queries            map[string]string                    `yaml:"queries,omitempty" json:"queries,omitempty"`
	Thresholds         map[string][2]float64                `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// EnvSelector pins an environment to a namespace/cluster for deterministic
// observability queries.
type EnvSelector struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Cluster   string `yaml:"cluster,omitempty" json:"cluster,omitempty"`
}

// CompSelector pins a (service, env) pair to a concrete service/deployment
// tag for deterministic observability queries.
type CompSelector struct {
	Service    string `yaml:"service,omitempty" json:"service,omitempty"`
	Deployment string `yaml:"kube_deployment,omitempty" json:"deployment,omitempty"`
}

// BranchingConfig governs release-branch discovery for the runbooks API.
type BranchingConfig struct {
	DefaultBranch             string                     `yaml:"defaultBranch,omitempty" json:"defaultBranch,omitempty"`
	ReleaseBranchPatterns     []string                   `yaml:"releaseBranchPatterns,omitempty" json:"releaseBranchPatterns,omitempty"`
	ReleaseBranchPickStrategy string                     `yaml:"releaseBranchPickStrategy,omitempty" json:"releaseBranchPickStrategy,omitempty"` // semver|recent
	VersionExtractionRegex    string                     `yaml:"versionExtractionRegex,omitempty" json:"versionExtractionRegex,omitempty"`
	RepoOverrides             map[string]BranchingConfig `yaml:"repoOverrides,omitempty" json:"repoOverrides,omitempty"`
}

