package vcs

import (
	"context"
	"testing"
)

type stubProvider struct{}

func (stubProvider) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	return "", ErrNotFound
}
func (stubProvider) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]Commit, error) {
	return nil, nil
}
func (stubProvider) GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (Commit, error) {
	return Commit{}, ErrNotFound
}
func (stubProvider) ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]PullRequestRef, error) {
	return nil, nil
}
func (stubProvider) ListBranches(ctx context.Context, owner, repo string, limit int) ([]Branch, error) {
	return nil, nil
}
func (stubProvider) ListTags(ctx context.Context, owner, repo string, limit int) ([]Tag, error) {
	return nil, nil
}
func (stubProvider) CompareRefs(ctx context.Context, owner, repo, base, head string) (CompareResult, error) {
	return CompareResult{}, nil
}
func (stubProvider) CommitInRef(ctx context.Context, owner, repo, sha, refOrSHA string) (bool, error) {
	return false, nil
}
func (stubProvider) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	return false, nil
}

func TestVCSRegisterLookup(t *testing.T) {
	name := "test-vcs"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	if err := RegisterProvider(name, ctor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := LookupProvider(name); !ok {
		t.Fatalf("expected provider lookup success")
	}
	found := false
	for _, n := range Providers() {
		if n == name {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected provider name in list")
	}
}

func TestVCSDuplicateFails(t *testing.T) {
	name := "dup-vcs"
	ctor := func(cfg Config) (Provider, error) { return stubProvider{}, nil }
	_ = RegisterProvider(name, ctor)
	if err := RegisterProvider(name, ctor); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
