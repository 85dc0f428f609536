package vcs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/WatchTurm/WatchTurm-control-room/internal/httpclient"
)

// githubProvider is the default VCS Provider, speaking the GitHub-
// compatible REST v3 surface (§6). Request construction and pagination
// are delegated to google/go-github; retry/backoff/rate-limit policy is
// delegated to httpclient.Transport so every adapter shares one retry
// core (§4.1, §5) regardless of which client library builds the request.
type githubProvider struct {
	client *github.Client
	log    *zap.SugaredLogger
}

// NewGitHubProvider builds the default VCS provider. Authentication is
// layered on with an oauth2.Transport wrapping httpclient's retrying
// RoundTripper, the standard go-github pairing for a static PAT, so the
// retry/backoff core still sees every request including the auth header.
func NewGitHubProvider(cfg Config, log *zap.SugaredLogger) Provider {
	base := httpclient.NewTransport(log)
	var transport http.RoundTripper = base
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Base:   base,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
		}
	}
	gh := github.NewClient(&http.Client{Transport: transport})
	if cfg.BaseURL != "" {
		if withURLs, err := gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL); err == nil {
			gh = withURLs
		}
	}
	return &githubProvider{client: gh, log: log}
}

func init() {
	providers.MustRegister("github", func(cfg Config) (Provider, error) {
		return NewGitHubProvider(cfg, zap.NewNop().Sugar()), nil
	})
}

func (p *githubProvider) FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	file, _, resp, err := p.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vcs: fetch %s/%s/%s@%s: %w", owner, repo, path, ref, err)
	}
	if file == nil {
		return "", ErrNotFound
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("vcs: decode %s/%s/%s@%s: %w", owner, repo, path, ref, err)
	}
	return content, nil
}

func (p *githubProvider) ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]Commit, error) {
	opts := &github.CommitsListOptions{
		Path: path,
		SHA:  ref,
		ListOptions: github.ListOptions{
			PerPage: perPage,
			Page:    page,
		},
	}
	ghCommits, resp, err := p.client.Repositories.ListCommits(ctx, owner, repo, opts)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vcs: list commits %s/%s %s@%s: %w", owner, repo, path, ref, err)
	}
	out := make([]Commit, 0, len(ghCommits))
	for _, c := range ghCommits {
		out = append(out, commitFromGitHub(c))
	}
	return out, nil
}

func (p *githubProvider) GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (Commit, error) {
	commits, err := p.ListCommits(ctx, owner, repo, path, ref, 1, 1)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) == 0 {
		return Commit{}, ErrNotFound
	}
	return commits[0], nil
}

func (p *githubProvider) ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]PullRequestRef, error) {
	cutoff := time.Now().AddDate(0, 0, -sinceDays)
	opts := &github.PullRequestListOptions{
		State:     "closed",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var out []PullRequestRef
	for {
		prs, resp, err := p.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("vcs: list PRs %s/%s: %w", owner, repo, err)
		}
		stop := false
		for _, pr := range prs {
			if pr.MergedAt == nil {
				continue
			}
			mergedAt := pr.GetMergedAt().Time
			if mergedAt.Before(cutoff) {
				stop = true
				break
			}
			out = append(out, PullRequestRef{
				Repo:     repo,
				Number:   pr.GetNumber(),
				Title:    pr.GetTitle(),
				Body:     pr.GetBody(),
				URL:      pr.GetHTMLURL(),
				MergedAt: mergedAt,
				Author:   pr.GetUser().GetLogin(),
				BaseRef:  pr.GetBase().GetRef(),
				HeadRef:  pr.GetHead().GetRef(),
				MergeSHA: pr.GetMergeCommitSHA(),
			})
			if len(out) >= perRepoLimit {
				stop = true
				break
			}
		}
		if stop || resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (p *githubProvider) ListBranches(ctx context.Context, owner, repo string, limit int) ([]Branch, error) {
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: limit}}
	ghBranches, _, err := p.client.Repositories.ListBranches(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("vcs: list branches %s/%s: %w", owner, repo, err)
	}
	out := make([]Branch, 0, len(ghBranches))
	for _, b := range ghBranches {
		branch := Branch{
			Name: b.GetName(),
			URL:  fmt.Sprintf("https://github.com/%s/%s/tree/%s", owner, repo, b.GetName()),
		}
		if b.Commit != nil {
			branch.CommitSHA = b.Commit.GetSHA()
		}
		// Approximate CreatedAt from the tip commit's author date; GitHub
		// does not expose true branch-creation timestamps.
		if tip, err := p.commit(ctx, owner, repo, branch.CommitSHA); err == nil {
			branch.CreatedAt = tip.AuthorDate
		}
		out = append(out, branch)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *githubProvider) commit(ctx context.Context, owner, repo, sha string) (Commit, error) {
	if sha == "" {
		return Commit{}, ErrNotFound
	}
	c, _, err := p.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return Commit{}, err
	}
	return commitFromGitHub(c), nil
}

func (p *githubProvider) ListTags(ctx context.Context, owner, repo string, limit int) ([]Tag, error) {
	opts := &github.ListOptions{PerPage: limit}
	ghTags, _, err := p.client.Repositories.ListTags(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("vcs: list tags %s/%s: %w", owner, repo, err)
	}
	out := make([]Tag, 0, len(ghTags))
	for _, t := range ghTags {
		tag := Tag{Name: t.GetName()}
		if t.Commit != nil {
			tag.CommitSHA = t.Commit.GetSHA()
		}
		tag.URL = fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", owner, repo, tag.Name)
		out = append(out, tag)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *githubProvider) CompareRefs(ctx context.Context, owner, repo, base, head string) (CompareResult, error) {
	cmp, _, err := p.client.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
	if err != nil {
		return CompareResult{}, fmt.Errorf("vcs: compare %s/%s %s...%s: %w", owner, repo, base, head, err)
	}
	commits := make([]Commit, 0, len(cmp.Commits))
	for _, c := range cmp.Commits {
		commits = append(commits, commitFromGitHub(c))
	}
	return CompareResult{
		Status:  cmp.GetStatus(),
		Commits: commits,
		AheadBy: cmp.GetAheadBy(),
		HTMLURL: cmp.GetHTMLURL(),
	}, nil
}

// CommitInRef reports whether sha is reachable from refOrSHA, using the
// compare endpoint's status field with base=sha, head=refOrSHA:
// "identical" or "ahead" both mean refOrSHA contains sha, i.e. sha is an
// ancestor of (or equal to) refOrSHA (§4.2).
func (p *githubProvider) CommitInRef(ctx context.Context, owner, repo, sha, refOrSHA string) (bool, error) {
	cmp, err := p.CompareRefs(ctx, owner, repo, sha, refOrSHA)
	if err != nil {
		return false, err
	}
	switch cmp.Status {
	case "identical", "ahead":
		return true, nil
	default:
		return false, nil
	}
}

// RefExists tries a branch first, then a tag (§4.2).
func (p *githubProvider) RefExists(ctx context.Context, owner, repo, ref string) (bool, error) {
	if _, _, err := p.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+ref); err == nil {
		return true, nil
	}
	if _, _, err := p.client.Git.GetRef(ctx, owner, repo, "refs/tags/"+ref); err == nil {
		return true, nil
	}
	return false, nil
}

func commitFromGitHub(c *github.RepositoryCommit) Commit {
	out := Commit{SHA: c.GetSHA(), URL: c.GetHTMLURL()}
	if c.Commit != nil {
		out.Message = c.Commit.GetMessage()
		if c.Commit.Author != nil {
			out.AuthorDate = c.Commit.Author.GetDate().Time
			out.Author = c.Commit.Author.GetName()
		}
	}
	if c.Author != nil && c.Author.GetLogin() != "" {
		out.Author = c.Author.GetLogin()
	}
	return out
}
