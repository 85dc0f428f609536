package ticketindex

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/tracker"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

type fakeVCS struct {
	prs []vcs.PullRequestRef
}

func (f fakeVCS) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	return "", vcs.ErrNotFound
}
func (f fakeVCS) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]vcs.Commit, error) {
	return nil, nil
}
func (f fakeVCS) GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (vcs.Commit, error) {
	return vcs.Commit{}, vcs.ErrNotFound
}
func (f fakeVCS) ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]vcs.PullRequestRef, error) {
	return f.prs, nil
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

func TestBuildGroupsPRsByTicketKey(t *testing.T) {
	v := fakeVCS{prs: []vcs.PullRequestRef{
		{Repo: "payments", Number: 10, Title: "PAY-42: fix retries", MergedAt: time.Now(), BaseRef: "release/1.2"},
		{Repo: "payments", Number: 11, Title: "PAY-42 follow-up", MergedAt: time.Now().Add(-time.Hour), BaseRef: "main"},
	}}
	b := New(v, nil, zap.NewNop().Sugar())
	index := b.Build(context.Background(), []RepoScan{
		{Owner: "acme", Repo: "payments", SinceDays: 30, PerRepoLimit: 100,
			DeployedBranch: map[string]string{"PROD": "release/1.2"}},
	}, nil)

	ticket, ok := index["PAY-42"]
	if !ok {
		t.Fatalf("expected ticket PAY-42 in index")
	}
	if len(ticket.PRs) != 2 {
		t.Fatalf("expected 2 PRs, got %d", len(ticket.PRs))
	}
	if !ticket.EnvPresence["PROD"] {
		t.Fatalf("expected PROD presence from baseRef heuristic")
	}
	if ticket.PRs[0].Number != 10 {
		t.Fatalf("expected newest-first PR ordering, got PR #%d first", ticket.PRs[0].Number)
	}
}

func TestBuildFallsBackToComponentMetadata(t *testing.T) {
	v := fakeVCS{prs: nil}
	b := New(v, nil, zap.NewNop().Sugar())
	index := b.Build(context.Background(), []RepoScan{{Owner: "acme", Repo: "payments"}}, []ComponentMetadata{
		{Project: "acme", Env: "PROD", Component: "payments", Tag: "payments-v1.2.3", Branch: "PAY-99-hotfix"},
	})
	ticket, ok := index["PAY-99"]
	if !ok {
		t.Fatalf("expected fallback ticket PAY-99")
	}
	if len(ticket.Evidence) == 0 || ticket.Evidence[0].Source != "component_metadata" {
		t.Fatalf("expected component_metadata evidence, got %+v", ticket.Evidence)
	}
}

type fakeTracker struct {
	issues map[string]tracker.Issue
	err    error
}

func (f fakeTracker) GetIssue(ctx context.Context, key string) (tracker.Issue, error) {
	if f.err != nil {
		return tracker.Issue{}, f.err
	}
	if issue, ok := f.issues[key]; ok {
		return issue, nil
	}
	return tracker.Issue{}, tracker.ErrNotFound
}

func TestBuildEnrichesFromTracker(t *testing.T) {
	v := fakeVCS{prs: []vcs.PullRequestRef{
		{Repo: "payments", Number: 1, Title: "PAY-1 add metrics", MergedAt: time.Now()},
	}}
	tr := fakeTracker{issues: map[string]tracker.Issue{
		"PAY-1": {Key: "PAY-1", Summary: "Add metrics", Status: "Done", URL: "http://jira/PAY-1"},
	}}
	b := New(v, tr, zap.NewNop().Sugar())
	index := b.Build(context.Background(), []RepoScan{{Owner: "acme", Repo: "payments"}}, nil)
	ticket := index["PAY-1"]
	if ticket.Summary != "Add metrics" || ticket.Status != "Done" {
		t.Fatalf("expected enriched ticket, got %+v", ticket)
	}
}
