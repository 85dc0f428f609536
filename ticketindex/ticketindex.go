// Package ticketindex is the Ticket Index Builder (§4.6): it scans merged
// pull requests across every repo observed in a run and groups them by
// tracker key, optionally enriching each ticket from a Tracker Provider.
package ticketindex

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/tracker"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// DefaultKeyPattern matches standard Jira-style ticket keys (§4.6),
// overridable per project.
const DefaultKeyPattern = `\b[A-Z][A-Z0-9]+-\d+\b`

// maxTrackerEnrichments bounds the optional enrichment pass to 250
// tickets per run (§4.6).
const maxTrackerEnrichments = 250

// Builder scans PRs and component metadata into a ticket index.
type Builder struct {
	VCS     vcs.Provider
	Tracker tracker.Provider // may be nil to skip enrichment
	Log     *zap.SugaredLogger
}

// New builds a Builder.
func New(vcsProvider vcs.Provider, trackerProvider tracker.Provider, log *zap.SugaredLogger) *Builder {
	return &Builder{VCS: vcsProvider, Tracker: trackerProvider, Log: log}
}

// RepoScan describes one repo to scan for merged PRs, and the
// (project, env) deployed-branch context used for heuristic env presence.
type RepoScan struct {
	Owner        string
	Repo         string
	KeyPattern   string // defaults to DefaultKeyPattern when empty
	SinceDays    int
	PerRepoLimit int
	// DeployedBranch maps envKey -> the branch currently deployed in that
	// env for this repo, used for the PR-baseRef heuristic (§4.6).
	DeployedBranch map[string]string
	ProjectKey     string
}

// ComponentMetadata is one fallback source scanned when a repo's VCS
// yields no PR-derived tickets (§4.6): tags, branches, component names
// and build strings.
type ComponentMetadata struct {
	Project   string
	Env       string
	Component string
	Tag       string
	Branch    string
	Build     string
}

// Build runs §4.6 for a set of repos, returning the resulting ticket
// index keyed by ticket key.
func (b *Builder) Build(ctx context.Context, scans []RepoScan, fallback []ComponentMetadata) map[string]*schema.Ticket {
	index := map[string]*schema.Ticket{}
	anyPRTickets := false

	for _, scan := range scans {
		pattern := scan.KeyPattern
		if pattern == "" {
			pattern = DefaultKeyPattern
		}
		keyRe, err := regexp.Compile(pattern)
		if err != nil {
			b.Log.Warnw("ticketindex: invalid key pattern, using default", "repo", scan.Repo, "pattern", pattern, "err", err)
			keyRe = regexp.MustCompile(DefaultKeyPattern)
		}

		prs, err := b.VCS.ListRecentMergedPRs(ctx, scan.Owner, scan.Repo, scan.SinceDays, scan.PerRepoLimit)
		if err != nil {
			b.Log.Warnw("ticketindex: list merged PRs failed", "repo", scan.Repo, "err", err)
			continue
		}

		for _, pr := range prs {
			keys := uniqueKeys(keyRe, pr.Title+" "+pr.Body)
			for _, key := range keys {
				anyPRTickets = true
				t := getOrCreate(index, key)
				t.PRs = append(t.PRs, schema.PullRequest{
					Repo:     scan.Repo,
					Number:   pr.Number,
					Title:    pr.Title,
					URL:      pr.URL,
					MergedAt: pr.MergedAt,
					Author:   pr.Author,
					BaseRef:  schema.NormalizeBaseRef(pr.BaseRef),
					HeadRef:  pr.HeadRef,
					MergeSHA: pr.MergeSHA,
				})
				addRepo(t, scan.Repo)

				normalizedBase := schema.NormalizeBaseRef(pr.BaseRef)
				for env, deployedBranch := range scan.DeployedBranch {
					if deployedBranch != "" && normalizedBase == deployedBranch {
						t.EnvPresence[env] = true
					}
				}
			}
		}
	}

	if !anyPRTickets {
		b.applyComponentFallback(index, fallback)
	}

	for _, t := range index {
		sort.Slice(t.PRs, func(i, j int) bool { return t.PRs[i].MergedAt.After(t.PRs[j].MergedAt) })
	}

	if b.Tracker != nil {
		b.enrich(ctx, index)
	}

	return index
}

func uniqueKeys(re *regexp.Regexp, text string) []string {
	matches := re.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func getOrCreate(index map[string]*schema.Ticket, key string) *schema.Ticket {
	if t, ok := index[key]; ok {
		return t
	}
	t := schema.NewTicket(key)
	index[key] = t
	return t
}

func addRepo(t *schema.Ticket, repo string) {
	for _, r := range t.Repos {
		if r == repo {
			return
		}
	}
	t.Repos = append(t.Repos, repo)
}

// applyComponentFallback extracts ticket keys from tag/branch/component/
// build strings when no PR-derived tickets were found at all (§4.6).
func (b *Builder) applyComponentFallback(index map[string]*schema.Ticket, fallback []ComponentMetadata) {
	keyRe := regexp.MustCompile(DefaultKeyPattern)
	for _, meta := range fallback {
		fields := map[string]string{
			"tag":       meta.Tag,
			"branch":    meta.Branch,
			"component": meta.Component,
			"build":     meta.Build,
		}
		for field, value := range fields {
			for _, key := range uniqueKeys(keyRe, value) {
				t := getOrCreate(index, key)
				t.Evidence = append(t.Evidence, schema.Evidence{
					Source:    "component_metadata",
					Field:     field,
					Value:     value,
					Project:   meta.Project,
					Env:       meta.Env,
					Component: meta.Component,
				})
			}
		}
	}
}

// enrich populates ticket.tracker and flattens summary/status/url for UI
// convenience, bounded to maxTrackerEnrichments tickets per run (§4.6).
func (b *Builder) enrich(ctx context.Context, index map[string]*schema.Ticket) {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	count := 0
	for _, key := range keys {
		if count >= maxTrackerEnrichments {
			break
		}
		count++

		issue, err := b.Tracker.GetIssue(ctx, key)
		if err != nil {
			if errors.Is(err, tracker.ErrRateLimited) {
				b.Log.Warnw("ticketindex: tracker rate limited, stopping enrichment", "at", key)
				break
			}
			continue // 401/403/404 skip silently (§4.2)
		}

		t := index[key]
		t.Tracker = &schema.TrackerDetails{
			Summary:     issue.Summary,
			Status:      issue.Status,
			Assignee:    issue.Assignee,
			FixVersions: issue.FixVersions,
			URL:         issue.URL,
			Project:     issue.Project,
		}
		t.Summary = issue.Summary
		t.Status = issue.Status
		t.URL = issue.URL
	}
}
