// Package correlate is the Time-Aware Ticket <-> Release <-> Deployment
// Correlator (§4.7): three fail-closed rules join a merged PR to the
// branches, builds and deployments that actually descend from it, with a
// heuristic fallback for environments that lack time-aware data.
package correlate

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// conservativeWindow is the 3-day window within which a heuristic match
// with no branch/deployment evidence is still deliberately left false
// (§4.7: "deliberately left false (conservative)").
const conservativeWindow = 72 * time.Hour

// importantBranches (plus any release/* branch, see isImportantBranch) get
// compare-based reachability in addition to tip-equality (§4.7 rule 1).
var importantBranches = map[string]bool{"main": true, "master": true}

func isImportantBranch(name string) bool {
	if importantBranches[name] {
		return true
	}
	return len(name) > len("release/") && name[:len("release/")] == "release/"
}

// BranchFact is a normalized branch observed in a repo, for rule 1.
type BranchFact struct {
	Name      string
	CreatedAt time.Time
	TipSHA    string
}

// BuildFact is a normalized CI build observed for a repo, for rule 2.
type BuildFact struct {
	BuildTypeID string
	Number      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// DeploymentFact is one component's current deployment state, for rule 3
// and for heuristic/build-driven env presence.
type DeploymentFact struct {
	ProjectKey string
	EnvKey     string
	Stage      string // canonical stage this env maps to
	Component  string
	Repo       string
	Tag        string
	BuildNum   string
	BuildType  string
	Branch     string
	At         time.Time
}

// Correlator runs §4.7 for one ticket at a time against the facts
// collected for a run.
type Correlator struct {
	VCS vcs.Provider
	Log *zap.SugaredLogger
}

// New builds a Correlator.
func New(vcsProvider vcs.Provider, log *zap.SugaredLogger) *Correlator {
	return &Correlator{VCS: vcsProvider, Log: log}
}

// Facts bundles everything observed for one repo in this run, used to
// evaluate a ticket's PRs against the three rules.
type Facts struct {
	Owner       string
	Repo        string
	Branches    []BranchFact
	Builds      []BuildFact
	Deployments []DeploymentFact
}

// Correlate evaluates the three fail-closed rules for one ticket against
// the given per-repo facts, and appends the resulting timeline.
func (c *Correlator) Correlate(ctx context.Context, ticket *schema.Ticket, factsByRepo map[string]Facts) {
	var timeline []schema.TimelineEvent

	if ticket.EnvPresenceMeta == nil {
		ticket.EnvPresenceMeta = map[string]schema.EnvPresenceMeta{}
	}

	for _, pr := range ticket.PRs {
		timeline = append(timeline, schema.TimelineEvent{
			At: pr.MergedAt, Kind: "pr_merged",
			Description: "PR merged", TimeAware: true,
		})

		facts, ok := factsByRepo[pr.Repo]
		if !ok {
			continue
		}

		for _, branch := range facts.Branches {
			if !c.branchIncludesPR(ctx, facts.Owner, facts.Repo, branch, pr) {
				continue
			}
			ticket.TimeAwareBranches = append(ticket.TimeAwareBranches, branch.Name)
			timeline = append(timeline, schema.TimelineEvent{
				At: branch.CreatedAt, Kind: "included_in_branch",
				Description: "Included in " + branch.Name, TimeAware: true,
			})
		}

		for _, build := range facts.Builds {
			if !build.StartedAt.After(pr.MergedAt) && !build.StartedAt.Equal(pr.MergedAt) {
				continue
			}
			if !c.componentReferencesBuild(facts.Deployments, pr.Repo, build) {
				continue
			}
			label := build.BuildTypeID + " #" + build.Number
			ticket.TimeAwareBuilds = append(ticket.TimeAwareBuilds, label)
			timeline = append(timeline, schema.TimelineEvent{
				At: build.StartedAt, Kind: "build",
				Description: "Build " + build.Number, TimeAware: true,
			})
		}

		for _, dep := range facts.Deployments {
			if dep.Repo != pr.Repo {
				continue
			}
			matchedBuild, ok := buildForDeployment(facts.Builds, dep)
			if !ok || !(dep.At.After(matchedBuild.FinishedAt) || dep.At.Equal(matchedBuild.FinishedAt)) {
				continue
			}
			ticket.TimeAwareDeploys = append(ticket.TimeAwareDeploys, dep.Stage)
			ticket.EnvPresence[dep.Stage] = true
			ticket.EnvPresenceMeta[dep.Stage] = schema.EnvPresenceMeta{
				Source: "time_aware", Confidence: "high", When: dep.At, Tag: dep.Tag, Branch: dep.Branch,
			}
			timeline = append(timeline, schema.TimelineEvent{
				At: dep.At, Kind: "deployed", Description: "Deployed to " + dep.Stage, TimeAware: true,
			})
		}
	}

	sort.Slice(timeline, func(i, j int) bool { return timeline[i].At.Before(timeline[j].At) })
	ticket.Timeline = append(ticket.Timeline, timeline...)
}

// branchIncludesPR implements rule 1: branch.createdAt >= pr.mergedAt AND
// pr.mergeSha is reachable from the branch (tip-equality, or compare for
// important branches).
func (c *Correlator) branchIncludesPR(ctx context.Context, owner, repo string, branch BranchFact, pr schema.PullRequest) bool {
	if branch.CreatedAt.IsZero() || pr.MergedAt.IsZero() {
		return false
	}
	if branch.CreatedAt.Before(pr.MergedAt) {
		return false
	}
	if pr.MergeSHA == "" {
		return false
	}
	if branch.TipSHA == pr.MergeSHA {
		return true
	}
	if !isImportantBranch(branch.Name) {
		return false
	}
	reachable, err := c.VCS.CommitInRef(ctx, owner, repo, pr.MergeSHA, branch.Name)
	if err != nil {
		return false
	}
	return reachable
}

// componentReferencesBuild implements the second half of rule 2: a
// component in the PR's repo must reference the build or its build type.
func (c *Correlator) componentReferencesBuild(deployments []DeploymentFact, repo string, build BuildFact) bool {
	for _, dep := range deployments {
		if dep.Repo != repo {
			continue
		}
		if dep.BuildType == build.BuildTypeID || dep.BuildNum == build.Number {
			return true
		}
	}
	return false
}

func buildForDeployment(builds []BuildFact, dep DeploymentFact) (BuildFact, bool) {
	for _, b := range builds {
		if b.BuildTypeID == dep.BuildType && b.Number == dep.BuildNum {
			return b, true
		}
	}
	return BuildFact{}, false
}

// ApplyHeuristic implements §4.7's heuristic mode, used when time-aware
// branch/build facts are unavailable for a repo. A deployment event for
// (repo, stage) with at >= pr.mergedAt marks envPresence[stage]=true,
// with confidence "high" when the deployed branch matches the PR's
// baseRef exactly, "heuristic" otherwise. A deployment within the
// conservative window but lacking any branch/heuristic match is left
// false, not true.
func ApplyHeuristic(ticket *schema.Ticket, deployments []DeploymentFact) {
	if ticket.EnvPresenceMeta == nil {
		ticket.EnvPresenceMeta = map[string]schema.EnvPresenceMeta{}
	}
	for _, pr := range ticket.PRs {
		for _, dep := range deployments {
			if dep.Repo != pr.Repo {
				continue
			}
			if ticket.EnvPresence[dep.Stage] {
				continue
			}
			if dep.At.Before(pr.MergedAt) {
				continue
			}
			confidence := "heuristic"
			matched := dep.Branch != "" || dep.At.Sub(pr.MergedAt) > conservativeWindow
			if dep.Branch != "" && dep.Branch == pr.BaseRef {
				confidence = "high"
				matched = true
			}
			if !matched {
				continue
			}
			ticket.EnvPresence[dep.Stage] = true
			ticket.EnvPresenceMeta[dep.Stage] = schema.EnvPresenceMeta{
				Source: "heuristic", Confidence: confidence, When: dep.At, Tag: dep.Tag, Branch: dep.Branch,
			}
		}
	}
}

// ApplyPersistenceFloor carries forward any stage true in the previous
// snapshot's envPresence, unless the current snapshot already set it
// (current wins for when/tag/branch/confidence fields) (§4.7).
func ApplyPersistenceFloor(ticket *schema.Ticket, previous *schema.Ticket) {
	if previous == nil {
		return
	}
	if ticket.EnvPresenceMeta == nil {
		ticket.EnvPresenceMeta = map[string]schema.EnvPresenceMeta{}
	}
	for stage, wasTrue := range previous.EnvPresence {
		if !wasTrue {
			continue
		}
		if ticket.EnvPresence[stage] {
			continue
		}
		ticket.EnvPresence[stage] = true
		ticket.EnvPresenceMeta[stage] = schema.EnvPresenceMeta{Source: "persisted_prev_snapshot"}
	}
}
