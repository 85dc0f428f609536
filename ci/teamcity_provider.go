package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/WatchTurm/WatchTurm-control-room/internal/httpclient"
)

// teamcityProvider is the default CI Provider, speaking the TeamCity-
// compatible REST surface (/app/rest/builds, /app/rest/builds/id:N) from
// §6. Unlike vcs (which had a ready-made client library to wrap), no pack
// example imports a TeamCity client, so this talks to httpclient.Client
// directly — the HTTP Client Core this spec itself defines (§4.1).
type teamcityProvider struct {
	baseURL string
	token   string
	http    *httpclient.Client
	log     *zap.SugaredLogger
}

// NewTeamCityProvider builds the default CI provider.
func NewTeamCityProvider(cfg Config, log *zap.SugaredLogger) Provider {
	return &teamcityProvider{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpclient.New(log),
		log:     log,
	}
}

func init() {
	providers.MustRegister("teamcity", func(cfg Config) (Provider, error) {
		return NewTeamCityProvider(cfg, zap.NewNop().Sugar()), nil
	})
}

func (p *teamcityProvider) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if p.token != "" {
		h["Authorization"] = "Bearer " + p.token
	}
	return h
}

type buildListResponse struct {
	Build []struct {
		ID int `json:"id"`
	} `json:"build"`
}

func (p *teamcityProvider) GetBuildIDByNumber(ctx context.Context, buildTypeID, number string) (int, error) {
	locator := fmt.Sprintf("buildType:%s,number:%s", buildTypeID, number)
	url := fmt.Sprintf("%s/app/rest/builds?locator=%s", p.baseURL, locator)
	res, err := p.http.Request(ctx, http.MethodGet, url, httpclient.Options{Headers: p.headers()})
	if err != nil {
		return 0, fmt.Errorf("ci: build lookup %s/%s: %w", buildTypeID, number, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if res.StatusCode >= 400 {
		return 0, fmt.Errorf("ci: build lookup %s/%s: http %d", buildTypeID, number, res.StatusCode)
	}
	var decoded buildListResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return 0, fmt.Errorf("ci: decode build list: %w", err)
	}
	if len(decoded.Build) == 0 {
		return 0, ErrNotFound
	}
	return decoded.Build[0].ID, nil
}

type buildResponse struct {
	ID          int    `json:"id"`
	Number      string `json:"number"`
	Status      string `json:"status"`
	State       string `json:"state"`
	BranchName  string `json:"branchName"`
	WebURL      string `json:"webUrl"`
	StartDate   string `json:"startDate"`
	FinishDate  string `json:"finishDate"`
	Triggered   struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Type string `json:"type"`
	} `json:"triggered"`
}

func (p *teamcityProvider) GetBuildDetails(ctx context.Context, id int) (BuildDetails, error) {
	url := fmt.Sprintf("%s/app/rest/builds/id:%d", p.baseURL, id)
	res, err := p.http.Request(ctx, http.MethodGet, url, httpclient.Options{Headers: p.headers()})
	if err != nil {
		return BuildDetails{}, fmt.Errorf("ci: build details %d: %w", id, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return BuildDetails{}, ErrNotFound
	}
	if res.StatusCode >= 400 {
		return BuildDetails{}, fmt.Errorf("ci: build details %d: http %d", id, res.StatusCode)
	}
	var decoded buildResponse
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		return BuildDetails{}, fmt.Errorf("ci: decode build %d: %w", id, err)
	}

	triggeredBy := decoded.Triggered.User.Username
	if triggeredBy == "" {
		triggeredBy = decoded.Triggered.Type
	}

	return BuildDetails{
		ID:          decoded.ID,
		Number:      decoded.Number,
		Status:      decoded.Status,
		State:       decoded.State,
		BranchName:  decoded.BranchName,
		WebURL:      decoded.WebURL,
		StartDate:   parseTeamCityTime(decoded.StartDate),
		FinishDate:  parseTeamCityTime(decoded.FinishDate),
		TriggeredBy: triggeredBy,
	}, nil
}

// teamCityTimeLayout is TeamCity's compact build-date form:
// YYYYMMDDThhmmss±hhmm (§4.2: "MUST be parsed" into normalized UTC
// RFC 3339, §9 "time-zone discipline").
const teamCityTimeLayout = "20060102T150405-0700"

func parseTeamCityTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(teamCityTimeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
