package assemble

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/ci"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

type fakeVCS struct {
	files map[string]string
	commits []vcs.Commit
}

func (f fakeVCS) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	key := path + "@" + ref
	if text, ok := f.files[key]; ok {
		return text, nil
	}
	return "", vcs.ErrNotFound
}
func (f fakeVCS) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]vcs.Commit, error) {
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

const kustoYAML = `
images:
  - name: registry.example.com/payments
    newTag: payments-v1.2.3
`

func TestAssembleNoKustomization(t *testing.T) {
	a := New(fakeVCS{files: map[string]string{}}, nil, zap.NewNop().Sugar())
	components, err := a.Assemble(context.Background(), Input{
		InfraOwner: "acme", InfraRepo: "infra", EnvKey: "prod", ServiceKey: "payments",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(components) != 1 || components[0].Warnings[0] != WarnNoKustomization {
		t.Fatalf("expected NO_KUSTOMIZATION placeholder, got %+v", components)
	}
}

func TestAssembleHappyPathNoCI(t *testing.T) {
	files := map[string]string{
		"envs/prod/kustomization.yaml@main": kustoYAML,
	}
	a := New(fakeVCS{files: files, commits: []vcs.Commit{
		{SHA: "abc123", Author: "alice", AuthorDate: time.Now()},
	}}, nil, zap.NewNop().Sugar())
	components, err := a.Assemble(context.Background(), Input{
		InfraOwner: "acme", InfraRepo: "infra", EnvKey: "prod", ServiceKey: "payments", ProjectRef: "main",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(components))
	}
	comp := components[0]
	if comp.Tag != "payments-v1.2.3" {
		t.Errorf("unexpected tag %q", comp.Tag)
	}
	if comp.Deployer != "alice" {
		t.Errorf("expected deployer alice, got %q", comp.Deployer)
	}
	hasNoTeamCity := false
	for _, w := range comp.Warnings {
		if w == WarnNoTeamCity {
			hasNoTeamCity = true
		}
	}
	if !hasNoTeamCity {
		t.Errorf("expected NO_TEAMCITY warning when no CI provider configured, got %v", comp.Warnings)
	}
}

type fakeCI struct {
	details ci.BuildDetails
	err     error
}

func (f fakeCI) GetBuildIDByNumber(ctx context.Context, buildTypeID, number string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}
func (f fakeCI) GetBuildDetails(ctx context.Context, id int) (ci.BuildDetails, error) {
	if f.err != nil {
		return ci.BuildDetails{}, f.err
	}
	return f.details, nil
}

func TestAssembleWithCIEnrichment(t *testing.T) {
	files := map[string]string{
		"envs/prod/kustomization.yaml@main": kustoYAML,
	}
	a := New(fakeVCS{files: files, commits: []vcs.Commit{{SHA: "abc", Author: "bob", AuthorDate: time.Now()}}},
		fakeCI{details: ci.BuildDetails{BranchName: "release/1.2", WebURL: "http://ci/42", TriggeredBy: "bob"}},
		zap.NewNop().Sugar())

	components, err := a.Assemble(context.Background(), Input{
		InfraOwner: "acme", InfraRepo: "infra", EnvKey: "prod", ServiceKey: "payments",
		ProjectRef: "main", CIBuildTypeID: "Payments_Build",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if components[0].Branch != "release/1.2" {
		t.Errorf("expected branch from CI enrichment, got %q", components[0].Branch)
	}
}

func TestRollupPicksNewestDeploy(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	env := &schema.Environment{
		Components: []schema.Component{
			{ServiceKey: "a", DeployedAt: older, Deployer: "alice"},
			{ServiceKey: "b", DeployedAt: newer, Deployer: "bob", Warnings: []string{WarnNoBranchInfo}},
		},
	}
	Rollup(env)
	if env.Status != "warn" {
		t.Errorf("expected warn status, got %q", env.Status)
	}
	if env.Deployer != "bob" {
		t.Errorf("expected newest deployer bob, got %q", env.Deployer)
	}
}
