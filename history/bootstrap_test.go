package history

import (
	"context"
	"testing"
	"time"

	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

type fakeVCS struct {
	commits []vcs.Commit
	blobs   map[string]string
}

func (f fakeVCS) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if blob, ok := f.blobs[ref]; ok {
		return blob, nil
	}
	return "", vcs.ErrNotFound
}
func (f fakeVCS) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]vcs.Commit, error) {
	if page > 1 {
		return nil, nil
	}
	return f.commits, nil
}
func (f fakeVCS) GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (vcs.Commit, error) {
	return vcs.Commit{}, vcs.ErrNotFound
}
func (f fakeVCS) ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]vcs.PullRequestRef, error) {
	return nil, nil
}
func (f fakeVCS) ListBranches(ctx context.Context, owner, repo string, limit int) ([]vcs.Branch, error) {
	return nil, nil
}
func (f fakeVCS) ListTags(ctx context.Context, owner, repo string, limit int) ([]vcs.Tag, error) {
	return nil, nil
}
func (f fakeVCS) CompareRefs(ctx context.Context, owner, repo, base, head string) (vcs.CompareResult, error) {
	return vcs.CompareResult{}, nil
}
func (f fakeVCS) CommitInRef(ctx context.Context, owner, repo, sha, refOrSHA string) (bool, error) {
	return false, nil
}
func (f fakeVCS) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	return false, nil
}

func TestBootstrapEmitsEventsOnSignatureChange(t *testing.T) {
	now := time.Now()
	newYAML := "images:\n  - name: payments\n    newTag: payments-v1.2.4\n"
	oldYAML := "images:\n  - name: payments\n    newTag: payments-v1.2.3\n"

	v := fakeVCS{
		commits: []vcs.Commit{
			{SHA: "newer", Author: "alice", AuthorDate: now.Add(-time.Hour)},
			{SHA: "older", Author: "bob", AuthorDate: now.Add(-2 * time.Hour)},
		},
		blobs: map[string]string{"newer": newYAML, "older": oldYAML},
	}

	events, err := Bootstrap(context.Background(), v, []BootstrapSource{
		{ProjectKey: "acme", EnvKey: "prod", Owner: "acme", InfraRepo: "infra", Path: "envs/prod/kustomization.yaml", Ref: "main"},
	}, now)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 bootstrap event, got %d: %+v", len(events), events)
	}
	if !events[0].Bootstrap {
		t.Fatalf("expected bootstrap flag set")
	}
	if events[0].FromTag != "payments-v1.2.3" || events[0].ToTag != "payments-v1.2.4" {
		t.Fatalf("unexpected transition %+v", events[0])
	}
}
