// Package assemble is the Component Assembler (§4.4): for every
// (project, env, service) triple it resolves the infra ref, fetches and
// parses the env's kustomization, finds the deploying commit, and
// enriches each extracted component with CI build details.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/ci"
	"github.com/WatchTurm/WatchTurm-control-room/internal/kustomize"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// maxSignatureWalkback bounds how many recent infra commits are fetched
// while hunting for the commit that introduced the current tag signature
// (§4.4 step 5: "walk up to 12 recent commits").
const maxSignatureWalkback = 12

// Warning reason codes emitted onto Component/Environment (§4.4, §3).
const (
	WarnNoKustomization    = "NO_KUSTOMIZATION"
	WarnNoTagFound         = "NO_TAG_FOUND"
	WarnNoTeamCityBuildType = "NO_TEAMCITY_BUILDTYPE"
	WarnNoTeamCity         = "NO_TEAMCITY"
	WarnNoBranchInfo       = "NO_BRANCH_INFO"
)

// Assembler wires a VCS provider and an optional CI provider into the
// per-(project,env,service) assembly routine.
type Assembler struct {
	VCS vcs.Provider
	CI  ci.Provider
	Log *zap.SugaredLogger

	ciDown bool // set on first CI exception; the rest of the run skips CI calls (§4.4 step 6)
}

// New builds an Assembler. ciProvider may be nil when no CI adapter is
// configured for this project.
func New(vcsProvider vcs.Provider, ciProvider ci.Provider, log *zap.SugaredLogger) *Assembler {
	return &Assembler{VCS: vcsProvider, CI: ciProvider, Log: log}
}

// Input bundles everything Assemble needs for one (project, env, service).
type Input struct {
	InfraOwner    string
	InfraRepo     string
	EnvKey        string
	ServiceKey    string
	ServiceRef    string // service-level infra ref override, may be empty
	ProjectRef    string // project-level default infra ref, may be empty
	CIBuildTypeID string // empty means CI enrichment is skipped for this service
}

// Assemble runs the full §4.4 procedure for one service in one
// environment and returns the resulting components (normally one, unless
// the kustomization packs several services into a shared overlay).
func (a *Assembler) Assemble(ctx context.Context, in Input) ([]schema.Component, error) {
	infraRef := in.ServiceRef
	if infraRef == "" {
		infraRef = in.ProjectRef
	}
	if infraRef == "" {
		infraRef = "main"
	}

	path, raw, fetchErr := a.fetchKustomization(ctx, in.InfraOwner, in.InfraRepo, in.EnvKey, infraRef)
	if fetchErr != nil {
		return []schema.Component{placeholder(in.ServiceKey, in.InfraRepo, infraRef, WarnNoKustomization)}, nil
	}

	extracted, err := kustomize.Parse(raw)
	if err != nil || len(extracted) == 0 {
		return []schema.Component{placeholder(in.ServiceKey, in.InfraRepo, infraRef, WarnNoTagFound)}, nil
	}

	if len(extracted) == 1 {
		extracted[0].ServiceKey = in.ServiceKey
	}

	currentSig := kustomize.Signature(extracted)
	deployer, deployedAt, deployerURL := a.findSignatureCommit(ctx, in.InfraOwner, in.InfraRepo, path, infraRef, currentSig)

	components := make([]schema.Component, 0, len(extracted))
	for _, ex := range extracted {
		comp := schema.Component{
			ServiceKey:        ex.ServiceKey,
			Image:             ex.Image,
			Tag:               ex.Tag,
			BuildNumber:       ex.BuildNumber,
			InfraRepo:         in.InfraRepo,
			InfraRepoURL:      repoURL(in.InfraOwner, in.InfraRepo),
			KustomizationURL:  fmt.Sprintf("%s/blob/%s/%s", repoURL(in.InfraOwner, in.InfraRepo), infraRef, path),
			Deployer:          deployer,
			DeployerCommitURL: deployerURL,
			DeployedAt:        deployedAt,
		}
		a.enrichWithCI(ctx, &comp, in.CIBuildTypeID)
		components = append(components, comp)
	}
	return components, nil
}

func placeholder(serviceKey, infraRepo, infraRef, warning string) schema.Component {
	return schema.Component{
		ServiceKey: serviceKey,
		InfraRepo:  infraRepo,
		Warnings:   []string{warning},
	}
}

// fetchKustomization tries each candidate path for env in order, the
// first success winning (§4.3, §4.4 step 2).
func (a *Assembler) fetchKustomization(ctx context.Context, owner, repo, env, ref string) (path, raw string, err error) {
	for _, candidate := range kustomize.CandidatePaths(env) {
		text, ferr := a.VCS.FetchFile(ctx, owner, repo, candidate, ref)
		if ferr == nil {
			return candidate, text, nil
		}
		if !errors.Is(ferr, vcs.ErrNotFound) {
			a.Log.Warnw("assemble: kustomization fetch error", "repo", repo, "path", candidate, "err", ferr)
		}
	}
	return "", "", vcs.ErrNotFound
}

// findSignatureCommit implements §4.4 step 5: walk recent commits on the
// kustomization path, compare adjacent signatures, and select the commit
// whose signature changed *to* the current one. Falls back to the latest
// commit whose signature equals current, then to the most recent commit
// touching the path at all.
func (a *Assembler) findSignatureCommit(ctx context.Context, owner, repo, path, ref, currentSig string) (deployer string, deployedAt time.Time, deployerURL string) {
	commits, err := a.VCS.ListCommits(ctx, owner, repo, path, ref, maxSignatureWalkback, 1)
	if err != nil || len(commits) == 0 {
		return "", time.Time{}, ""
	}

	sigs := make([]string, len(commits))
	for i, c := range commits {
		blob, ferr := a.VCS.FetchFile(ctx, owner, repo, path, c.SHA)
		if ferr != nil {
			sigs[i] = ""
			continue
		}
		extracted, perr := kustomize.Parse(blob)
		if perr != nil {
			sigs[i] = ""
			continue
		}
		sigs[i] = kustomize.Signature(extracted)
	}

	for i := 0; i < len(commits)-1; i++ {
		if sigs[i] == currentSig && sigs[i+1] != currentSig {
			return commits[i].Author, commits[i].AuthorDate, commitURL(owner, repo, commits[i].SHA)
		}
	}
	for i, sig := range sigs {
		if sig == currentSig {
			return commits[i].Author, commits[i].AuthorDate, commitURL(owner, repo, commits[i].SHA)
		}
	}
	first := commits[0]
	return first.Author, first.AuthorDate, commitURL(owner, repo, first.SHA)
}

// enrichWithCI fills branch/build fields from the CI adapter (§4.4 step
// 6). CI is marked down on first exception for the whole run; subsequent
// components in the same run skip the call entirely.
func (a *Assembler) enrichWithCI(ctx context.Context, comp *schema.Component, buildTypeID string) {
	if a.CI == nil || a.ciDown {
		comp.Warnings = append(comp.Warnings, WarnNoTeamCity)
		return
	}
	if buildTypeID == "" {
		comp.Warnings = append(comp.Warnings, WarnNoTeamCityBuildType)
		return
	}
	if comp.BuildNumber == "" {
		comp.Warnings = append(comp.Warnings, WarnNoBranchInfo)
		return
	}

	id, err := a.CI.GetBuildIDByNumber(ctx, buildTypeID, comp.BuildNumber)
	if err != nil {
		if errors.Is(err, ci.ErrNotFound) {
			comp.Warnings = append(comp.Warnings, WarnNoBranchInfo)
			return
		}
		a.ciDown = true
		a.Log.Warnw("assemble: CI marked down for remainder of run", "buildType", buildTypeID, "err", err)
		comp.Warnings = append(comp.Warnings, WarnNoTeamCity)
		return
	}

	details, err := a.CI.GetBuildDetails(ctx, id)
	if err != nil {
		if errors.Is(err, ci.ErrNotFound) {
			comp.Warnings = append(comp.Warnings, WarnNoBranchInfo)
			return
		}
		a.ciDown = true
		a.Log.Warnw("assemble: CI marked down for remainder of run", "buildId", id, "err", err)
		comp.Warnings = append(comp.Warnings, WarnNoTeamCity)
		return
	}

	comp.Branch = details.BranchName
	comp.BuildURL = details.WebURL
	comp.BuildFinishedAt = details.FinishDate
	comp.TriggeredBy = details.TriggeredBy
	if comp.Branch == "" {
		comp.Warnings = append(comp.Warnings, WarnNoBranchInfo)
	}
}

func repoURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

func commitURL(owner, repo, sha string) string {
	return fmt.Sprintf("%s/commit/%s", repoURL(owner, repo), sha)
}

// Rollup derives environment status and rollup fields (§4.4): warn if any component
// carries warnings, else healthy; lastDeploy/build/deployer come from the
// component with the newest deployedAt (else newest buildFinishedAt).
func Rollup(env *schema.Environment) {
	status := "healthy"
	var newest *schema.Component
	for i := range env.Components {
		c := &env.Components[i]
		if len(c.Warnings) > 0 {
			status = "warn"
		}
		if newest == nil || isNewer(*c, *newest) {
			newest = c
		}
	}
	env.Status = status
	if newest != nil {
		env.LastDeploy = newest.DeployedAt
		env.Deployer = newest.Deployer
		env.Build = buildLabel(*newest)
	}
}

func isNewer(candidate, current schema.Component) bool {
	if !candidate.DeployedAt.IsZero() || !current.DeployedAt.IsZero() {
		return candidate.DeployedAt.After(current.DeployedAt)
	}
	return candidate.BuildFinishedAt.After(current.BuildFinishedAt)
}

func buildLabel(c schema.Component) string {
	if c.BuildNumber != "" {
		return c.BuildNumber
	}
	return c.Tag
}
