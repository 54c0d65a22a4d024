// Package analysis coordinates before/after snapshot comparisons. The leak
// analyzer itself is pluggable; the hub hands it two on-disk blob paths and
// consumes its structured report without ever parsing snapshot internals.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/heaplane/heaplane/pkg/protocol"
)

// Analyzer compares two on-disk snapshot blobs and returns a growth report.
// thresholdBytes is the growth size below which the analyzer should not
// flag a leak.
type Analyzer interface {
	Analyze(ctx context.Context, beforePath, afterPath string, thresholdBytes int64) (*protocol.AnalysisReport, error)
}

// ExecAnalyzer bridges to an external analyzer process. The configured
// command is invoked as
//
//	<command...> <beforePath> <afterPath> <thresholdBytes>
//
// and must print a JSON report on stdout.
type ExecAnalyzer struct {
	path string
	args []string
}

// NewExecAnalyzer builds an analyzer from a whitespace-separated command
// line, e.g. "node analyze-heap.js". An empty command yields nil.
func NewExecAnalyzer(command string) *ExecAnalyzer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return &ExecAnalyzer{path: fields[0], args: fields[1:]}
}

func (a *ExecAnalyzer) Analyze(ctx context.Context, beforePath, afterPath string, thresholdBytes int64) (*protocol.AnalysisReport, error) {
	args := append(append([]string{}, a.args...), beforePath, afterPath, strconv.FormatInt(thresholdBytes, 10))
	cmd := exec.CommandContext(ctx, a.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("analyzer %s failed: %s", a.path, err)
		}
		return nil, fmt.Errorf("analyzer %s failed: %s: %s", a.path, err, msg)
	}

	var report protocol.AnalysisReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("analyzer %s produced an unreadable report: %s", a.path, err)
	}
	return &report, nil
}
