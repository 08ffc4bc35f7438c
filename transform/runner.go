// Package transform wraps the external dbt CLI that materializes staging
// data into mart tables. The wrapper is a message-passing boundary: it
// serializes arguments, invokes synchronously, relays line output, and maps
// a nonzero exit to an error.
package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/glidru/ipeds-pipeline/config"
	"github.com/glidru/ipeds-pipeline/logging"
)

var (
	// ErrToolUnavailable is returned at construction when the dbt CLI is
	// missing or broken.
	ErrToolUnavailable = errors.New("dbt unavailable")

	// ErrTransformFailed is returned when a dbt invocation exits nonzero.
	ErrTransformFailed = errors.New("transform failed")
)

// Runner invokes dbt against the configured project.
type Runner struct {
	projectDir string
	target     string
	timeout    time.Duration
	logger     *logging.ComponentLogger
}

// New creates a Runner, verifying that the dbt CLI is present.
func New(cfg *config.Config, logger *logging.ComponentLogger) (*Runner, error) {
	out, err := exec.Command("dbt", "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: dbt --version probe failed: %v", ErrToolUnavailable, err)
	}

	logger.Debug().
		Str("dbt_version", firstLine(string(out))).
		Msg("dbt probe succeeded")

	return &Runner{
		projectDir: cfg.Transform.ProjectDir,
		target:     cfg.Transform.Target,
		timeout:    time.Duration(cfg.Transform.TimeoutSeconds) * time.Second,
		logger:     logger,
	}, nil
}

// Run executes `dbt run` with an optional node selector and full-refresh
// flag, streaming dbt's line output into the structured log.
func (r *Runner) Run(ctx context.Context, selector string, fullRefresh bool) error {
	args := []string{"run"}
	if selector != "" {
		args = append(args, "--select", selector)
	}
	if fullRefresh {
		args = append(args, "--full-refresh")
	}
	if r.target != "" {
		args = append(args, "--target", r.target)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "dbt", args...)
	if r.projectDir != "" {
		cmd.Dir = r.projectDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		r.logger.Info().
			Str("tool", "dbt").
			Msg(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: dbt %s: %v: %s",
			ErrTransformFailed, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	r.logger.Info().
		Strs("args", args).
		Dur("duration", time.Since(start)).
		Msg("Transform run completed")

	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
