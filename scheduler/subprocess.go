package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/WatchTurm/WatchTurm-control-room/schema"
)

// NewSubprocessPipeline builds a PipelineFunc that runs the pipeline out
// of process: zero exit code on success, with the run's output read back
// from a trailing progress.json-adjacent snapshot document (§4.10: "the
// contract is a zero exit code on success and a trailing progress.json").
// snapshotPath is the latest.json the subprocess is expected to have
// written via snapshot.AtomicWriter by the time it exits.
func NewSubprocessPipeline(binary string, args []string, snapshotPath string) PipelineFunc {
	return func(ctx context.Context) (*schema.Snapshot, error) {
		cmd := exec.CommandContext(ctx, binary, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("subprocess pipeline exited with error: %w: %s", err, tail(stderr.String(), 4096))
		}

		data, err := os.ReadFile(snapshotPath)
		if err != nil {
			return nil, fmt.Errorf("subprocess pipeline: read %s: %w", snapshotPath, err)
		}
		var snap schema.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("subprocess pipeline: decode %s: %w", snapshotPath, err)
		}
		return &snap, nil
	}
}

// tail returns at most the last n bytes of s, matching §4.10's "error
// with the stderr tail" contract.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
