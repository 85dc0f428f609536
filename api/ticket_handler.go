package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
	"github.com/WatchTurm/WatchTurm-control-room/schema"
	"github.com/WatchTurm/WatchTurm-control-room/ticketindex"
)

// defaultTicketRebuildDays bounds how far back GET /ticket/{key} scans
// each configured repo when rebuilding a ticket live (§4.11).
const defaultTicketRebuildDays = 120

// ticketRebuildResponse wraps the rebuilt ticket with a reasoning trail,
// matching the diagnostic intent of the standalone Python ticket-
// deployment diagnostic this endpoint folds in.
type ticketRebuildResponse struct {
	*schema.Ticket
	Why []string `json:"why"`
}

// handleTicket rebuilds one ticket's PR/evidence view live from VCS
// within a bounded window, rather than reading the last persisted
// snapshot (§4.11).
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/ticket/")
	key = strings.Trim(key, "/")
	if key == "" {
		writeProviderError(w, snaperr.New(snaperr.KindNotFound, "api", "missing ticket key", nil))
		return
	}
	logAudit(r, "ticket.rebuild")

	if s.VCS == nil {
		writeProviderError(w, snaperr.New(snaperr.KindConfig, "api", "vcs provider not configured", nil))
		return
	}

	builder := ticketindex.New(s.VCS, s.Tracker, s.Log)

	var scans []ticketindex.RepoScan
	var why []string
	seenRepos := map[string]bool{}
	for _, project := range s.Projects {
		pattern := project.TicketRegex
		for _, svc := range project.Services {
			if svc.CodeRepo == "" || seenRepos[svc.CodeRepo] {
				continue
			}
			seenRepos[svc.CodeRepo] = true
			scans = append(scans, ticketindex.RepoScan{
				Owner:        project.VCSOwner,
				Repo:         svc.CodeRepo,
				KeyPattern:   pattern,
				SinceDays:    defaultTicketRebuildDays,
				PerRepoLimit: 200,
				ProjectKey:   project.Key,
			})
			why = append(why, "scanned "+project.VCSOwner+"/"+svc.CodeRepo+" for merged PRs within "+strconv.Itoa(defaultTicketRebuildDays)+" days")
		}
	}

	ctx := r.Context()
	index := builder.Build(ctx, scans, nil)

	ticket, ok := index[key]
	if !ok {
		writeProviderError(w, snaperr.New(snaperr.KindNotFound, "api", "no PRs reference ticket "+key+" within the rebuild window", nil))
		return
	}

	for _, pr := range ticket.PRs {
		why = append(why, "matched PR #"+strconv.Itoa(pr.Number)+" \""+pr.Title+"\" merged "+pr.MergedAt.Format(time.RFC3339))
	}

	writeJSON(w, http.StatusOK, ticketRebuildResponse{Ticket: ticket, Why: why})
}
