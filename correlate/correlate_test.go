package correlate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

type fakeVCS struct {
	reachable bool
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
	return f.reachable, nil
}
func (f fakeVCS) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	return false, nil
}

func TestCorrelateBuildDrivenDeployment(t *testing.T) {
	merged := time.Now().Add(-48 * time.Hour)
	buildStart := merged.Add(time.Hour)
	buildFinish := buildStart.Add(10 * time.Minute)
	deployAt := buildFinish.Add(5 * time.Minute)

	ticket := schema.NewTicket("PAY-1")
	ticket.PRs = []schema.PullRequest{{Repo: "payments", MergedAt: merged, MergeSHA: "sha1", BaseRef: "main"}}

	c := New(fakeVCS{}, zap.NewNop().Sugar())
	facts := map[string]Facts{
		"payments": {
			Owner: "acme", Repo: "payments",
			Builds: []BuildFact{{BuildTypeID: "Payments_Build", Number: "42", StartedAt: buildStart, FinishedAt: buildFinish}},
			Deployments: []DeploymentFact{
				{Repo: "payments", Stage: "PROD", BuildType: "Payments_Build", BuildNum: "42", At: deployAt, Tag: "v1.2.3"},
			},
		},
	}
	c.Correlate(context.Background(), ticket, facts)

	if !ticket.EnvPresence["PROD"] {
		t.Fatalf("expected PROD presence from build-driven deployment")
	}
	if ticket.EnvPresenceMeta["PROD"].Confidence != "high" {
		t.Fatalf("expected high confidence for time-aware deployment, got %+v", ticket.EnvPresenceMeta["PROD"])
	}
	if len(ticket.Timeline) == 0 {
		t.Fatalf("expected timeline entries")
	}
}

func TestBranchFailsClosedWithoutMergeSHA(t *testing.T) {
	ticket := schema.NewTicket("PAY-2")
	ticket.PRs = []schema.PullRequest{{Repo: "payments", MergedAt: time.Now().Add(-time.Hour)}}
	c := New(fakeVCS{}, zap.NewNop().Sugar())
	facts := map[string]Facts{
		"payments": {Branches: []BranchFact{{Name: "main", CreatedAt: time.Now(), TipSHA: "abc"}}},
	}
	c.Correlate(context.Background(), ticket, facts)
	if len(ticket.TimeAwareBranches) != 0 {
		t.Fatalf("expected no branch match without a mergeSHA, got %v", ticket.TimeAwareBranches)
	}
}

func TestApplyHeuristicConservativeWindow(t *testing.T) {
	ticket := schema.NewTicket("PAY-3")
	mergedAt := time.Now().Add(-time.Hour)
	ticket.PRs = []schema.PullRequest{{Repo: "payments", MergedAt: mergedAt, BaseRef: "main"}}
	deployments := []DeploymentFact{
		{Repo: "payments", Stage: "PROD", At: mergedAt.Add(30 * time.Minute)}, // no branch info, within window
	}
	ApplyHeuristic(ticket, deployments)
	if ticket.EnvPresence["PROD"] {
		t.Fatalf("expected conservative false within window without branch match")
	}
}

func TestApplyHeuristicHighConfidenceOnBranchMatch(t *testing.T) {
	ticket := schema.NewTicket("PAY-4")
	mergedAt := time.Now().Add(-time.Hour)
	ticket.PRs = []schema.PullRequest{{Repo: "payments", MergedAt: mergedAt, BaseRef: "release/1.2"}}
	deployments := []DeploymentFact{
		{Repo: "payments", Stage: "PROD", Branch: "release/1.2", At: mergedAt.Add(30 * time.Minute)},
	}
	ApplyHeuristic(ticket, deployments)
	if !ticket.EnvPresence["PROD"] || ticket.EnvPresenceMeta["PROD"].Confidence != "high" {
		t.Fatalf("expected high-confidence PROD presence, got %+v", ticket.EnvPresenceMeta["PROD"])
	}
}

func TestApplyPersistenceFloorCarriesForward(t *testing.T) {
	previous := schema.NewTicket("PAY-5")
	previous.EnvPresence["QA"] = true
	current := schema.NewTicket("PAY-5")
	ApplyPersistenceFloor(current, previous)
	if !current.EnvPresence["QA"] {
		t.Fatalf("expected persisted presence to carry forward")
	}
	if current.EnvPresenceMeta["QA"].Source != "persisted_prev_snapshot" {
		t.Fatalf("expected persisted_prev_snapshot source, got %+v", current.EnvPresenceMeta["QA"])
	}
}
