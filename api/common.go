package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/WatchTurm/WatchTurm-control-room/internal/snaperr"
)

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err snaperr.Error) {
	log.Printf("API error (status=%d): kind=%s scope=%s message=%s", status, err.Kind, err.Scope, err.Message)
	writeJSON(w, status, map[string]string{"kind": string(err.Kind), "message": err.Message})
}

func asSnapError(err error) *snaperr.Error {
	var se snaperr.Error
	if errors.As(err, &se) {
		return &se
	}
	return nil
}

// writeProviderError maps a snaperr.Error's Kind to an HTTP status, or
// falls back to a generic 502 for an error that didn't come through the
// taxonomy.
func writeProviderError(w http.ResponseWriter, err error) {
	if se := asSnapError(err); se != nil {
		status := http.StatusBadGateway
		switch se.Kind {
		case snaperr.KindNotFound:
			status = http.StatusNotFound
		case snaperr.KindConfig:
			status = http.StatusInternalServerError
		case snaperr.KindUpstreamAuth:
			status = http.StatusBadGateway
		case snaperr.KindUpstreamRateLimit:
			status = http.StatusTooManyRequests
		}
		writeError(w, status, *se)
		return
	}
	log.Printf("Provider error (untyped): %v", err)
	writeError(w, http.StatusBadGateway, snaperr.New(snaperr.KindUpstreamServer, "api", err.Error(), nil))
}
