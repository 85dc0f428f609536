package api

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/vcs"
)

// runbookRequest is the common request shape across the five runbook
// views (§4.11): pure read views over VCS compare/branches, so every
// view is parameterized by a repo and at most two refs.
type runbookRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Base   string `json:"base,omitempty"`
	Head   string `json:"head,omitempty"`
	Branch string `json:"branch,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// handleRunbook dispatches POST /runbooks/{scope|drift|release-diff|
// readiness|latest-branches} to a pure VCS read view.
func (s *Server) handleRunbook(w http.ResponseWriter, r *http.Request) {
	view := strings.TrimPrefix(r.URL.Path, "/runbooks/")
	view = strings.Trim(view, "/")

	var req runbookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "invalid runbook request body", err))
		return
	}
	if req.Owner == "" || req.Repo == "" {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "owner and repo are required", nil))
		return
	}
	if s.VCS == nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "vcs provider not configured", nil))
		return
	}

	logAudit(r, "runbook."+view)

	branching := s.branchingFor(req.Owner, req.Repo)

	switch view {
	case "scope":
		s.handleRunbookScope(w, r, req)
	case "drift":
		s.handleRunbookDrift(w, r, req, branching)
	case "release-diff":
		s.handleRunbookReleaseDiff(w, r, req)
	case "readiness":
		s.handleRunbookReadiness(w, r, req, branching)
	case "latest-branches":
		s.handleRunbookLatestBranches(w, r, req, branching)
	default:
		http.NotFound(w, r)
	}
}

// branchingFor resolves the branching config for owner/repo: the
// project's RepoOverrides entry for repo when one exists, otherwise the
// project-level config with DefaultBranch defaulting to "main". A repo
// with no configured project or branching section gets only
// DefaultBranch "main".
func (s *Server) branchingFor(owner, repo string) schema.BranchingConfig {
	project, ok := s.projectForRepo(owner, repo)
	if !ok || project.Branching == nil {
		return schema.BranchingConfig{DefaultBranch: "main"}
	}
	cfg := *project.Branching
	if override, ok := cfg.RepoOverrides[repo]; ok {
		return override
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	return cfg
}

// handleRunbookScope returns an overview of a repo's branches and tags.
func (s *Server) handleRunbookScope(w http.ResponseWriter, r *http.Request, req runbookRequest) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	branches, err := s.VCS.ListBranches(r.Context(), req.Owner, req.Repo, limit)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	tags, err := s.VCS.ListTags(r.Context(), req.Owner, req.Repo, limit)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":    req.Owner,
		"repo":     req.Repo,
		"branches": branches,
		"tags":     tags,
	})
}

// handleRunbookDrift compares two refs, defaulting head to the configured
// default branch when omitted.
func (s *Server) handleRunbookDrift(w http.ResponseWriter, r *http.Request, req runbookRequest, branching schema.BranchingConfig) {
	base, head := req.Base, req.Head
	if head == "" {
		head = branching.DefaultBranch
	}
	if base == "" {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "base ref is required for drift", nil))
		return
	}
	result, err := s.VCS.CompareRefs(r.Context(), req.Owner, req.Repo, base, head)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRunbookReleaseDiff compares the two most recent tags when base/
// head aren't given explicitly, so callers get "what changed since the
// last release" with no VCS knowledge beyond a repo name.
func (s *Server) handleRunbookReleaseDiff(w http.ResponseWriter, r *http.Request, req runbookRequest) {
	base, head := req.Base, req.Head
	if base == "" || head == "" {
		tags, err := s.VCS.ListTags(r.Context(), req.Owner, req.Repo, 2)
		if err != nil {
			writeProviderError(w, err)
			return
		}
		if len(tags) < 2 {
			writeProviderError(w, snaperr.New(snaperr.KindNotFound, "api", "fewer than two tags exist to diff", nil))
			return
		}
		head, base = tags[0].Name, tags[1].Name
	}
	result, err := s.VCS.CompareRefs(r.Context(), req.Owner, req.Repo, base, head)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"base": base, "head": head, "compare": result})
}

// handleRunbookReadiness reports whether a branch is caught up with the
// repo's default branch: ahead-by-zero means the branch is "ready" in
// the sense that nothing on default is missing from it.
func (s *Server) handleRunbookReadiness(w http.ResponseWriter, r *http.Request, req runbookRequest, branching schema.BranchingConfig) {
	branch := req.Branch
	if branch == "" {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "branch is required for readiness", nil))
		return
	}
	result, err := s.VCS.CompareRefs(r.Context(), req.Owner, req.Repo, branch, branching.DefaultBranch)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"branch":        branch,
		"defaultBranch": branching.DefaultBranch,
		"ready":         result.Status == "identical" || result.Status == "behind",
		"compare":       result,
	})
}

// handleRunbookLatestBranches lists branches matching the configured
// release-branch patterns, newest first.
func (s *Server) handleRunbookLatestBranches(w http.ResponseWriter, r *http.Request, req runbookRequest, branching schema.BranchingConfig) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	branches, err := s.VCS.ListBranches(r.Context(), req.Owner, req.Repo, 100)
	if err != nil {
		writeProviderError(w, err)
		return
	}

	var patterns []*regexp.Regexp
	for _, p := range branching.ReleaseBranchPatterns {
		if re, err := regexp.Compile(p); err == nil {
			patterns = append(patterns, re)
		}
	}

	var matched []vcs.Branch
	for _, b := range branches {
		if len(patterns) == 0 {
			matched = append(matched, b)
			continue
		}
		for _, re := range patterns {
			if re.MatchString(b.Name) {
				matched = append(matched, b)
				break
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"owner": req.Owner, "repo": req.Repo, "branches": matched})
}
