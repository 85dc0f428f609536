package history

import (
	"context"
	"time"

	"github.com/WatchTurm/WatchTurm-control-room/internal/kustomize"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// maxBootstrapPages bounds the paged commit walk during bootstrap/backfill
// (§4.8: "paged; capped by a max-pages guard").
const maxBootstrapPages = 20

// commitsPerPage is the page size used while walking a kustomization
// path's history during bootstrap.
const commitsPerPage = 50

// BootstrapSource describes one (project, env, service) kustomization
// path to walk for historical tag changes.
type BootstrapSource struct {
	ProjectKey string
	EnvKey     string
	EnvName    string
	Owner      string
	InfraRepo  string
	Path       string
	Ref        string
}

// Bootstrap reconstructs up to BootstrapWindowDays of history by scanning
// a kustomization path's commits, diffing adjacent signatures, and
// emitting events with Bootstrap:true (§4.8). Returns events grouped by
// source in the order given, oldest first within each source;
// deduplication is left to the caller's subsequent Append call.
func Bootstrap(ctx context.Context, vcsProvider vcs.Provider, sources []BootstrapSource, now time.Time) ([]schema.DeploymentEvent, error) {
	cutoff := now.AddDate(0, 0, -BootstrapWindowDays)
	var events []schema.DeploymentEvent

	for _, src := range sources {
		commits, err := walkCommitsSince(ctx, vcsProvider, src, cutoff)
		if err != nil || len(commits) < 2 {
			continue
		}

		// commits are newest-first from the VCS; reverse to walk oldest
		// to newest so fromTag/toTag read as a forward transition.
		reverse(commits)

		var prevSig string
		var prevTag string
		haveSig := false
		for _, c := range commits {
			blob, ferr := vcsProvider.FetchFile(ctx, src.Owner, src.InfraRepo, src.Path, c.SHA)
			if ferr != nil {
				continue
			}
			extracted, perr := kustomize.Parse(blob)
			if perr != nil {
				continue
			}
			sig := kustomize.Signature(extracted)
			tag := singleTag(extracted)

			if haveSig && sig != prevSig && prevTag != "" && tag != "" && prevTag != tag {
				events = append(events, schema.DeploymentEvent{
					ID:         schema.EventID(true, c.SHA, src.ProjectKey, src.EnvKey, serviceKeyOf(extracted), tag, c.AuthorDate),
					Kind:       schema.EventDeployment,
					Bootstrap:  true,
					ProjectKey: src.ProjectKey,
					EnvKey:     src.EnvKey,
					EnvName:    src.EnvName,
					Component:  serviceKeyOf(extracted),
					FromTag:    prevTag,
					ToTag:      tag,
					At:         c.AuthorDate,
					By:         c.Author,
					CommitURL:  commitURLFor(src.Owner, src.InfraRepo, c.SHA),
				})
			}
			prevSig, prevTag, haveSig = sig, tag, true
		}
	}
	return events, nil
}

func walkCommitsSince(ctx context.Context, vcsProvider vcs.Provider, src BootstrapSource, cutoff time.Time) ([]vcs.Commit, error) {
	var all []vcs.Commit
	for page := 1; page <= maxBootstrapPages; page++ {
		batch, err := vcsProvider.ListCommits(ctx, src.Owner, src.InfraRepo, src.Path, src.Ref, commitsPerPage, page)
		if err != nil {
			return all, err
		}
		if len(batch) == 0 {
			break
		}
		stop := false
		for _, c := range batch {
			if c.AuthorDate.Before(cutoff) {
				stop = true
				break
			}
			all = append(all, c)
		}
		if stop || len(batch) < commitsPerPage {
			break
		}
	}
	return all, nil
}

func reverse(commits []vcs.Commit) {
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
}

func singleTag(components []kustomize.ExtractedComponent) string {
	if len(components) == 0 {
		return ""
	}
	return components[0].Tag
}

func serviceKeyOf(components []kustomize.ExtractedComponent) string {
	if len(components) == 0 {
		return ""
	}
	return components[0].ServiceKey
}

func commitURLFor(owner, repo, sha string) string {
	return "https://github.com/" + owner + "/" + repo + "/commit/" + sha
}

// NeedsBackfill reports whether a store's index exists but its oldest
// event is younger than BootstrapWindowDays — triggering the one-time
// 60-day backfill (§4.8).
func NeedsBackfill(idx schema.HistoryIndex, exists bool, now time.Time) bool {
	if !exists {
		return false // empty index goes through Bootstrap, not backfill
	}
	if idx.Stats.OldestEvent.IsZero() {
		return true
	}
	return idx.Stats.OldestEvent.After(now.AddDate(0, 0, -BootstrapWindowDays))
}
