// Package vcs is the version-control adapter (§4.2): repos, branches,
// tags, commits, compare, pull requests and file content. The default
// implementation speaks the GitHub-compatible REST v3 surface named in
// §6, but the capability is behind a Provider interface + registry
// exactly like the teacher's deployment/ticket/alert packages, so a
// GitLab- or Bitbucket-style implementation can register alongside it.
package vcs

import (
	"context"
	"errors"
	"time"

	"github.com/WatchTurm/WatchTurm-control-room/internal/registry"
)

// ErrNotFound is returned by FetchFile, ListCommits and
// GetLastCommitForFile when the path or ref does not resolve (§4.2, §7
// NotFound). RefExists reports a missing ref as false with a nil error.
var ErrNotFound = errors.New("vcs: not found")

// Commit is a normalized VCS commit.
type Commit struct {
	SHA        string
	Message    string
	Author     string
	AuthorDate time.Time
	URL        string
}

// Branch is a normalized VCS branch. CreatedAt is approximated from the
// tip commit's author date — GitHub's REST API has no first-class
// "branch created at" field.
type Branch struct {
	Name      string
	CommitSHA string
	CreatedAt time.Time
	URL       string
}

// Tag is a normalized VCS tag.
type Tag struct {
	Name      string
	CommitSHA string
	URL       string
}

// CompareResult is the outcome of comparing two refs (§4.2).
type CompareResult struct {
	Status  string // behind | identical | ahead | diverged
	Commits []Commit
	AheadBy int
	HTMLURL string
}

// Provider defines the capability surface a VCS adapter must satisfy.
type Provider interface {
	FetchFile(ctx context.Context, owner, repo, path, ref string) (string, error)
	ListCommits(ctx context.Context, owner, repo, path, ref string, perPage, page int) ([]Commit, error)
	GetLastCommitForFile(ctx context.Context, owner, repo, path, ref string) (Commit, error)
	ListRecentMergedPRs(ctx context.Context, owner, repo string, sinceDays, perRepoLimit int) ([]PullRequestRef, error)
	ListBranches(ctx context.Context, owner, repo string, limit int) ([]Branch, error)
	ListTags(ctx context.Context, owner, repo string, limit int) ([]Tag, error)
	CompareRefs(ctx context.Context, owner, repo, base, head string) (CompareResult, error)
	CommitInRef(ctx context.Context, owner, repo, sha, refOrSHA string) (bool, error)
	RefExists(ctx context.Context, owner, repo, ref string) (bool, error)
}

// PullRequestRef is the adapter-level PR shape, normalized further into
// schema.PullRequest by the ticket index builder.
type PullRequestRef struct {
	Repo     string
	Number   int
	Title    string
	Body     string
	URL      string
	MergedAt time.Time
	Author   string
	BaseRef  string
	HeadRef  string
	MergeSHA string
}

// ProviderConstructor builds a Provider from resolved credentials.
type ProviderConstructor func(cfg Config) (Provider, error)

var providers = registry.New[ProviderConstructor]()

// RegisterProvider registers a VCS provider constructor.
func RegisterProvider(name string, constructor ProviderConstructor) error {
	return providers.Register(name, constructor)
}

// LookupProvider returns a registered VCS provider constructor.
func LookupProvider(name string) (ProviderConstructor, bool) {
	return providers.Get(name)
}

// Providers lists registered VCS provider names.
func Providers() []string {
	return providers.Names()
}

// Config carries the fields a VCS provider constructor needs. Kept
// separate from internal/creds.Set so this package doesn't import every
// other adapter's credential fields.
type Config struct {
	Token   string
	BaseURL string // empty uses the default GitHub-compatible endpoint
}
