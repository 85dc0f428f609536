// Package snaperr defines the error taxonomy shared by every adapter,
// the assembler, the correlator and the history stores.
package snaperr

import "fmt"

// Kind is one of the taxonomy entries from the error handling design: a
// classification, not a Go type hierarchy. Callers should switch on Kind,
// never on the concrete Go type.
type Kind string

const (
	// KindConfig covers a missing configs directory, invalid YAML, or a
	// missing required field (project.key, service.infraRepo). Fatal.
	KindConfig Kind = "config"

	// KindCredentialMissing covers a missing required token. Fatal for
	// the VCS adapter; non-fatal (integration disabled) for CI,
	// Monitoring and Tracker.
	KindCredentialMissing Kind = "credential_missing"

	// KindUpstreamAuth covers 401/403 from an integrated system.
	KindUpstreamAuth Kind = "upstream_auth"

	// KindUpstreamRateLimit covers 429 after retries are exhausted.
	KindUpstreamRateLimit Kind = "upstream_rate_limit"

	// KindUpstreamServer covers 5xx and network errors after retries.
	KindUpstreamServer Kind = "upstream_server"

	// KindNotFound covers an exhausted set of candidate paths/refs.
	KindNotFound Kind = "not_found"

	// KindDataQuality covers malformed or missing data that is recorded
	// as a warning rather than aborting assembly.
	KindDataQuality Kind = "data_quality"

	// KindHistoryConflict covers an index mtime moving during a
	// read-modify-write cycle, after retries are exhausted.
	KindHistoryConflict Kind = "history_conflict"
)

// Error is a typed error that can be surfaced to API clients or recorded as
// a warning without leaking adapter-specific details.
type Error struct {
	Kind    Kind
	Scope   string // e.g. "vcs", "ci", "monitoring:prod", "project:P1"
	Message string
	Err     error
}

func (e Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Scope, e.Message)
	}
	return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Scope, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e Error) Unwrap() error {
	return e.Err
}

// New constructs a typed Error.
func New(kind Kind, scope, message string, err error) Error {
	return Error{Kind: kind, Scope: scope, Message: message, Err: err}
}

// Fatal reports whether a Kind always aborts the run, independent of which
// adapter raised it. CredentialMissing is fatal only for the VCS adapter;
// callers there should treat it as fatal explicitly rather than consulting
// this helper.
func (k Kind) Fatal() bool {
	return k == KindConfig
}
