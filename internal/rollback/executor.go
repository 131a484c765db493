package rollback

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"

	"golang.org/x/sync/semaphore"
)

// ExecutorOptions tunes one rollback attempt.
type ExecutorOptions struct {
	MaxConcurrency int
	CommandTimeout time.Duration
}

// DefaultExecutorOptions mirrors the strategy engine's defaults, since a
// rollback runs the same size of fleet the forward deployment did.
func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{MaxConcurrency: 10, CommandTimeout: 300 * time.Second}
}

// Executor runs a patch's reverse script against the set of assets a
// deployment touched, grounded on the teacher's executor.rollback(): process
// every asset even if one fails, verify afterward, never let a single bad
// line abort the rest of the script.
type Executor struct {
	exec remote.Executor
	log  *logger.Logger
	tr   telemetry.Tracer
	opts ExecutorOptions
}

// NewExecutor creates a Rollback Executor over the given remote.Executor.
func NewExecutor(exec remote.Executor, log *logger.Logger, tr telemetry.Tracer, opts ExecutorOptions) *Executor {
	if tr == nil {
		tr = telemetry.NoopTracer{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 300 * time.Second
	}
	return &Executor{exec: exec, log: log, tr: tr, opts: opts}
}

// Run rolls back patch on every asset in parallel (bounded by
// MaxConcurrency), returning one RollbackLogEntry per asset in input order.
func (e *Executor) Run(ctx context.Context, deploymentID string, patch models.Patch, assets []models.Asset) []models.RollbackLogEntry {
	if !patch.HasReverseScript() {
		entries := make([]models.RollbackLogEntry, len(assets))
		for i, a := range assets {
			entries[i] = models.RollbackLogEntry{
				AssetID:   a.ID,
				Status:    models.RollbackStatusUnavailable,
				Error:     "patch has no reverse script",
				Timestamp: time.Now(),
			}
		}
		if e.log != nil {
			e.log.WithComponent("rollback").Warn("reverse script unavailable, rollback cannot proceed",
				"deployment_id", deploymentID, "asset_count", len(assets))
		}
		return entries
	}

	lines := splitScriptLines(patch.ReverseScript)

	sem := semaphore.NewWeighted(int64(e.opts.MaxConcurrency))
	results := make([]models.RollbackLogEntry, len(assets))

	var wg sync.WaitGroup
	for i, asset := range assets {
		i, asset := i, asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = models.RollbackLogEntry{
					AssetID:   asset.ID,
					Status:    models.RollbackStatusFailed,
					Error:     "cancelled before start",
					Timestamp: time.Now(),
				}
				return
			}
			defer sem.Release(1)
			results[i] = e.runAsset(ctx, deploymentID, patch, asset, lines)
		}()
	}
	wg.Wait()

	return results
}

func splitScriptLines(script []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(script)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (e *Executor) runAsset(ctx context.Context, deploymentID string, patch models.Patch, asset models.Asset, lines []string) models.RollbackLogEntry {
	ctx, span := telemetry.DeploymentSpan(ctx, e.tr, "rollback_asset", deploymentID, string(asset.Environment))
	defer span.End()

	entry := models.RollbackLogEntry{AssetID: asset.ID, Timestamp: time.Now()}

	failedLines := 0
	infraErr := false
	for _, line := range lines {
		res, err := e.exec.Execute(ctx, asset, line, remote.ExecOptions{Sudo: true, Timeout: e.opts.CommandTimeout})
		clr := models.CommandLineResult{Line: line}
		if err != nil {
			clr.OK = false
			clr.Stderr = err.Error()
			failedLines++
			infraErr = true
			entry.CommandLines = append(entry.CommandLines, clr)
			entry.Error = err.Error()
			break
		}
		clr.ExitCode = res.ExitCode
		clr.Stdout = res.Stdout
		clr.Stderr = res.Stderr
		clr.OK = res.Succeeded()
		if !clr.OK {
			failedLines++
		}
		entry.CommandLines = append(entry.CommandLines, clr)
	}

	switch {
	case infraErr:
		entry.Status = models.RollbackStatusFailed
		if entry.Error == "" {
			entry.Error = "infrastructure error running reverse script"
		}
	case failedLines == 0:
		verified, note := e.verify(ctx, asset, patch)
		entry.Verified = verified
		entry.VerifyNote = note
		if verified {
			entry.Status = models.RollbackStatusRolledBack
		} else {
			entry.Status = models.RollbackStatusPartial
			entry.Error = "post-rollback verification failed"
		}
	default:
		entry.Status = models.RollbackStatusPartial
		entry.Error = fmt.Sprintf("%d of %d reverse script lines failed", failedLines, len(lines))
	}

	if e.log != nil {
		e.log.WithComponent("rollback").Info("asset rollback complete",
			"deployment_id", deploymentID, "asset_id", asset.ID, "status", entry.Status, "verified", entry.Verified)
	}

	return entry
}

// verify runs the three-part post-rollback check described by the patch's
// metadata hints. A missing hint is simply skipped, not treated as a
// failure; a package-version mismatch is noted but does not flip verified
// to false on its own, only the final liveness echo and the service check
// do that.
func (e *Executor) verify(ctx context.Context, asset models.Asset, patch models.Patch) (bool, string) {
	var notes []string
	ok := true

	if svc, present := patch.ServiceName(); present {
		res, err := e.exec.Execute(ctx, asset, fmt.Sprintf("systemctl is-active %s", svc), remote.ExecOptions{Sudo: true, Timeout: e.opts.CommandTimeout})
		if err != nil || !res.Succeeded() {
			ok = false
			notes = append(notes, fmt.Sprintf("service %s not active", svc))
		} else {
			notes = append(notes, fmt.Sprintf("service %s active", svc))
		}
	}

	if pkg, present := patch.PackageName(); present {
		if prev, hasVersion := patch.PreviousVersion(); hasVersion {
			res, err := e.exec.Execute(ctx, asset, fmt.Sprintf("dpkg-query -W -f='${Version}' %s 2>/dev/null || rpm -q --qf '%%{VERSION}' %s", pkg, pkg), remote.ExecOptions{Timeout: e.opts.CommandTimeout})
			switch {
			case err != nil:
				notes = append(notes, fmt.Sprintf("could not read installed version of %s: %v", pkg, err))
			case !strings.Contains(res.Stdout, prev):
				// A version mismatch is reported but does not invalidate
				// the rollback: distro version strings vary in format
				// and a substring miss is common even on a real match.
				notes = append(notes, fmt.Sprintf("package %s version %q does not contain expected %q", pkg, strings.TrimSpace(res.Stdout), prev))
			default:
				notes = append(notes, fmt.Sprintf("package %s version matches %s", pkg, prev))
			}
		}
	}

	res, err := e.exec.Execute(ctx, asset, "echo rollback-verify", remote.ExecOptions{Timeout: e.opts.CommandTimeout})
	if err != nil || !res.Succeeded() {
		ok = false
		notes = append(notes, "host unreachable after rollback")
	}

	return ok, strings.Join(notes, "; ")
}
