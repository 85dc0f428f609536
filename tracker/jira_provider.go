package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/internal/httpclient"
)

// jiraProvider is the default Tracker Provider, speaking the Jira-
// compatible REST surface from §6, authenticated with HTTP basic auth
// (email + API token).
type jiraProvider struct {
	baseURL string
	email   string
	token   string
	http    *httpclient.Client
	log     *zap.SugaredLogger
}

// NewJiraProvider builds the default tracker provider.
func NewJiraProvider(cfg Config, log *zap.SugaredLogger) Provider {
	return &jiraProvider{
		baseURL: cfg.BaseURL,
		email:   cfg.Email,
		token:   cfg.APIToken,
		http:    httpclient.New(log),
		log:     log,
	}
}

func init() {
	providers.MustRegister("jira", func(cfg Config) (Provider, error) {
		return NewJiraProvider(cfg, zap.NewNop().Sugar()), nil
	})
}

func (p *jiraProvider) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if p.email != "" && p.token != "" {
		raw := p.email + ":" + p.token
		h["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	}
	return h
}

type jiraIssueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		FixVersions []struct {
			Name string `json:"name"`
		} `json:"fixVersions"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

// GetIssue fetches one issue by key. 401/403/404 are reported as
// ErrNotFound so callers can skip silently; 429 is reported as
// ErrRateLimited so callers break their enrichment loop (§4.2).
func (p *jiraProvider) GetIssue(ctx context.Context, key string) (Issue, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s", p.baseURL, key)
	res, err := p.http.Request(ctx, http.MethodGet, url, httpclient.Options{Headers: p.headers()})
	if err != nil {
		return Issue{}, fmt.Errorf("tracker: get issue %s: %w", key, err)
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return Issue{}, ErrNotFound
	case http.StatusTooManyRequests:
		return Issue{}, ErrRateLimited
	default:
		if res.StatusCode >= 400 {
			return Issue{}, fmt.Errorf("tracker: get issue %s: http %d", key, res.StatusCode)
		}
	}

	var decoded jiraIssueResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return Issue{}, fmt.Errorf("tracker: decode issue %s: %w", key, err)
	}

	issue := Issue{
		Key:     decoded.Key,
		Summary: decoded.Fields.Summary,
		Status:  decoded.Fields.Status.Name,
		Project: decoded.Fields.Project.Key,
		URL:     fmt.Sprintf("%s/browse/%s", p.baseURL, decoded.Key),
	}
	if decoded.Fields.Assignee != nil {
		issue.Assignee = decoded.Fields.Assignee.DisplayName
	}
	for _, fv := range decoded.Fields.FixVersions {
		issue.FixVersions = append(issue.FixVersions, fv.Name)
	}
	return issue, nil
}
