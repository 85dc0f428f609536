package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/scheduler"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

type stubVCS struct {
	prs      []vcs.PullRequestRef
	branches []vcs.Branch
	tags     []vcs.Tag
	compare  vcs.CompareResult
}

func (s stubVCS) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	return "", vcs.ErrNotFound
}
func (s stubVCS) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]vcs.Commit, error) {
	return nil, nil
}
func (s stubVCS) GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (vcs.Commit, error) {
	return vcs.Commit{}, vcs.ErrNotFound
}
func (s stubVCS) ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]vcs.PullRequestRef, error) {
	return s.prs, nil
}
func (s stubVCS) ListBranches(ctx context.Context, owner, repo string, limit int) ([]vcs.Branch, error) {
	return s.branches, nil
}
func (s stubVCS) ListTags(ctx context.Context, owner, repo string, limit int) ([]vcs.Tag, error) {
	return s.tags, nil
}
func (s stubVCS) CompareRefs(ctx context.Context, owner, repo, base, head string) (vcs.CompareResult, error) {
	return s.compare, nil
}
func (s stubVCS) CommitInRef(ctx context.Context, owner, repo, sha, refOrSHA string) (bool, error) {
	return false, nil
}
func (s stubVCS) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	return false, nil
}

func testProjects() []schema.ProjectConfig {
	return []schema.ProjectConfig{
		{
			Key:      "acme",
			VCSOwner: "acme-org",
			Services: []schema.ServiceConfig{{Key: "api", CodeRepo: "api-service", InfraRepo: "infra"}},
		},
	}
}

func TestStatusTriggerProgressFlow(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sched := scheduler.New(t.TempDir(), time.Hour, time.Minute, func(ctx context.Context) (*schema.Snapshot, error) {
		close(started)
		<-release
		return &schema.Snapshot{}, nil
	}, zap.NewNop().Sugar())

	srv := NewServer(sched, stubVCS{}, nil, testProjects(), zap.NewNop().Sugar(), Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	go sched.Run(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline never started")
	}

	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rec2.Code)
	}

	rec3 := httptest.NewRecorder()
	srv.ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected 200 from status, got %d", rec3.Code)
	}
	var status scheduler.Status
	if err := json.Unmarshal(rec3.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatalf("expected status.Running true")
	}

	close(release)
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(nil, stubVCS{}, nil, nil, zap.NewNop().Sugar(), Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard CORS origin")
	}
}

func TestTicketRebuildFindsMatchingPR(t *testing.T) {
	v := stubVCS{prs: []vcs.PullRequestRef{
		{Repo: "api-service", Number: 42, Title: "Fix ACME-123 timeout", MergedAt: time.Now()},
	}}
	srv := NewServer(nil, v, nil, testProjects(), zap.NewNop().Sugar(), Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ticket/ACME-123", nil)
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ticketRebuildResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key != "ACME-123" {
		t.Fatalf("unexpected ticket key %q", resp.Key)
	}
	if len(resp.Why) == 0 {
		t.Fatalf("expected a non-empty reasoning trail")
	}
}

func TestTicketRebuildNotFound(t *testing.T) {
	srv := NewServer(nil, stubVCS{}, nil, testProjects(), zap.NewNop().Sugar(), Config{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ticket/NOPE-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunbookScopeReturnsBranchesAndTags(t *testing.T) {
	v := stubVCS{
		branches: []vcs.Branch{{Name: "main"}},
		tags:     []vcs.Tag{{Name: "v1.0.0"}},
	}
	srv := NewServer(nil, v, nil, testProjects(), zap.NewNop().Sugar(), Config{})

	body := strings.NewReader(`{"owner":"acme-org","repo":"api-service"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runbooks/scope", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunbookReadinessReportsReady(t *testing.T) {
	v := stubVCS{compare: vcs.CompareResult{Status: "identical"}}
	srv := NewServer(nil, v, nil, testProjects(), zap.NewNop().Sugar(), Config{})

	body := strings.NewReader(`{"owner":"acme-org","repo":"api-service","branch":"feature/x"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runbooks/readiness", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["ready"] != true {
		t.Fatalf("expected ready=true, got %v", resp["ready"])
	}
}

func TestRunbookDriftRequiresBase(t *testing.T) {
	srv := NewServer(nil, stubVCS{}, nil, testProjects(), zap.NewNop().Sugar(), Config{})
	body := strings.NewReader(`{"owner":"acme-org","repo":"api-service"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runbooks/drift", body))
	if rec.Code == http.StatusOK {
		t.Fatalf("expected an error response when base is missing")
	}
}
