package schema

import "time"

// PullRequest is a normalized, merged pull request used by the ticket
// index and the time-aware correlator (§3).
type PullRequest struct {
	Repo     string    `json:"repo"`
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	MergedAt time.Time `json:"mergedAt"`
	Author   string    `json:"author,omitempty"`
	BaseRef  string    `json:"baseRef"`
	HeadRef  string    `json:"headRef,omitempty"`
	MergeSHA string    `json:"mergeSha,omitempty"`
}

// Evidence records a component-metadata fallback match for a ticket when
// no PR was found to reference it directly (§4.6).
type Evidence struct {
	Source    string `json:"source"` // "component_metadata"
	Field     string `json:"field"`  // tag | branch | component | build
	Value     string `json:"value"`
	Project   string `json:"project,omitempty"`
	Env       string `json:"env,omitempty"`
	Component string `json:"component,omitempty"`
}

// TimelineEvent is one time-ordered entry in a ticket's union timeline
// (§4.7): "PR merged", "Included in <branch>", "Tagged as <tag>",
// "Build <n>", "Deployed to <STAGE>".
type TimelineEvent struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	TimeAware   bool      `json:"timeAware,omitempty"`
	FromHistory bool      `json:"fromHistory,omitempty"`
}

// EnvPresenceMeta carries the reasoning behind one stage's presence flag
// (§4.7): persistence, confidence, and the evidence used.
type EnvPresenceMeta struct {
	Source     string    `json:"source,omitempty"`     // "time_aware" | "heuristic" | "persisted_prev_snapshot"
	Confidence string    `json:"confidence,omitempty"` // "high" | "heuristic" | "inferred"
	When       time.Time `json:"when,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Branch     string    `json:"branch,omitempty"`
}

// TrackerDetails is the optional Jira-style enrichment for a ticket.
type TrackerDetails struct {
	Summary     string   `json:"summary,omitempty"`
	Status      string   `json:"status,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	FixVersions []string `json:"fixVersions,omitempty"`
	URL         string   `json:"url,omitempty"`
	Project     string   `json:"project,omitempty"`
}

// Ticket is the correlator's central entity: a tracker key attached to the
// PRs, branches, builds and deployments that carry it through the estate
// (§3).
type Ticket struct {
	Key               string                     `json:"key"`
	Repos             []string                   `json:"repos,omitempty"`
	PRs               []PullRequest              `json:"prs,omitempty"`
	Evidence          []Evidence                 `json:"evidence,omitempty"`
	Timeline          []TimelineEvent            `json:"timeline,omitempty"`
	EnvPresence       map[string]bool            `json:"envPresence"`
	EnvPresenceMeta   map[string]EnvPresenceMeta `json:"envPresenceMeta,omitempty"`
	TimeAwareBranches []string                   `json:"timeAwareBranches,omitempty"`
	TimeAwareBuilds   []string                   `json:"timeAwareBuilds,omitempty"`
	TimeAwareDeploys  []string                   `json:"timeAwareDeployments,omitempty"`
	Tracker           *TrackerDetails            `json:"tracker,omitempty"`

	// Flattened for UI convenience when Tracker is set (§4.6).
	Summary string `json:"summary,omitempty"`
	Status  string `json:"status,omitempty"`
	URL     string `json:"url,omitempty"`
}

// NewTicket returns a Ticket with its presence map initialized to the four
// canonical stages, all false.
func NewTicket(key string) *Ticket {
	return &Ticket{
		Key: key,
		EnvPresence: map[string]bool{
			StageDev:  false,
			StageQA:   false,
			StageUAT:  false,
			StageProd: false,
		},
	}
}
