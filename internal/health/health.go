// Package health implements the Health Monitoring probe: it runs http,
// tcp, command, and dns checks against an asset and produces
// models.HealthSample readings, with retry/backoff on transient
// failures. It never decides whether a deployment should roll back —
// that judgment belongs to package rollback.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/quantumlayerhq/rollforge/internal/remote"
	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
	"github.com/quantumlayerhq/rollforge/pkg/telemetry"
)

// CheckType identifies the probe mechanism.
type CheckType string

const (
	CheckHTTP    CheckType = "http"
	CheckHTTPS   CheckType = "https"
	CheckTCP     CheckType = "tcp"
	CheckCommand CheckType = "command"
	CheckDNS     CheckType = "dns"
)

// Check describes one probe to run against an asset. Asset,
// CollectMetrics, and ServiceName are optional: when Asset is set and
// the Prober has an executor, the probe additionally collects
// cpu/mem/disk metrics and/or asserts a systemd service is active,
// independent of the liveness check named by Type.
type Check struct {
	Name     string
	Type     CheckType
	Target   string
	Expected string
	Timeout  time.Duration
	Retries  int

	Asset          *models.Asset
	CollectMetrics bool
	ServiceName    string
}

// Result is the outcome of a single Check invocation (pre-retry).
type Result struct {
	Name       string
	Type       CheckType
	Target     string
	Success    bool
	StatusCode int
	Response   string
	Error      string
	Duration   time.Duration
	Timestamp  time.Time
	Metrics    map[string]float64
}

// Prober runs health checks. It is safe for concurrent use.
type Prober struct {
	httpClient *http.Client
	log        *logger.Logger
	tracer     telemetry.Tracer
	executor   remote.Executor
}

// New creates a Prober. tracer may be nil.
func New(log *logger.Logger, tracer telemetry.Tracer) *Prober {
	return &Prober{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: false,
				},
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 10 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		log:    log.WithComponent("health-prober"),
		tracer: tracer,
	}
}

// UseExecutor wires a Remote Executor into the Prober so Check.Asset
// checks can collect resource metrics and service state over
// SSH/agent. Without one, CollectMetrics/ServiceName are silently
// skipped — metric collection is always optional per 4.D.
func (p *Prober) UseExecutor(executor remote.Executor) {
	p.executor = executor
}

// ProbeOnce runs a single check with no retry and returns the raw result.
func (p *Prober) ProbeOnce(ctx context.Context, c Check) (*Result, error) {
	ctx, span := telemetry.HealthProbeSpan(ctx, p.tracer, "", string(c.Type))
	defer span.End()

	result := &Result{
		Name:      c.Name,
		Type:      c.Type,
		Target:    c.Target,
		Timestamp: time.Now(),
	}

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	var err error
	switch c.Type {
	case CheckHTTP, CheckHTTPS:
		err = p.checkHTTP(ctx, c, result)
	case CheckTCP:
		err = p.checkTCP(ctx, c, result)
	case CheckCommand:
		err = p.checkCommand(ctx, c, result)
	case CheckDNS:
		err = p.checkDNS(ctx, c, result)
	default:
		err = fmt.Errorf("unsupported health check type: %s", c.Type)
	}

	if err == nil && c.Asset != nil && p.executor != nil && (c.CollectMetrics || c.ServiceName != "") {
		if c.CollectMetrics {
			result.Metrics = p.collectResourceMetrics(ctx, *c.Asset)
		}
		if c.ServiceName != "" {
			if result.Metrics == nil {
				result.Metrics = map[string]float64{}
			}
			active, checked := p.checkServiceActive(ctx, *c.Asset, c.ServiceName)
			if checked {
				if active {
					result.Metrics["service_active"] = 1
				} else {
					result.Metrics["service_active"] = 0
					err = fmt.Errorf("service %s is not active", c.ServiceName)
				}
			}
		}
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		span.SetError(err)
		return result, err
	}

	result.Success = true
	span.SetOK()
	return result, nil
}

// collectResourceMetrics runs the standardized cpu/mem/disk shell
// one-liners against asset over the Remote Executor, grounded on
// deployment_monitor.py's collect_resource_metrics. Parsing is
// defensive: a failed or malformed reading is simply omitted rather
// than failing the probe, per 4.D's "never a false failure" rule.
func (p *Prober) collectResourceMetrics(ctx context.Context, asset models.Asset) map[string]float64 {
	metrics := map[string]float64{}
	oneLiners := map[string]string{
		"cpu_usage":    `top -bn1 | grep 'Cpu(s)' | awk '{print $2}' | sed 's/%us,//'`,
		"memory_usage": `free | grep Mem | awk '{print ($3/$2) * 100.0}'`,
		"disk_usage":   `df -h / | tail -1 | awk '{print $5}' | sed 's/%//'`,
	}
	for metric, cmd := range oneLiners {
		result, err := p.executor.Execute(ctx, asset, cmd, remote.ExecOptions{Timeout: 10 * time.Second, ReadOnly: true})
		if err != nil || !result.Succeeded() {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
		if err != nil {
			continue
		}
		metrics[metric] = v
	}
	return metrics
}

// checkServiceActive runs systemctl is-active for serviceName on
// asset, grounded on canary.py's rollback service-health check.
// checked is false when the command itself couldn't be run (agent
// unreachable, etc.) so callers can distinguish "unknown" from "down".
func (p *Prober) checkServiceActive(ctx context.Context, asset models.Asset, serviceName string) (active, checked bool) {
	result, err := p.executor.Execute(ctx, asset, fmt.Sprintf("systemctl is-active %s", serviceName), remote.ExecOptions{Timeout: 10 * time.Second, ReadOnly: true})
	if err != nil || result == nil {
		return false, false
	}
	return strings.TrimSpace(result.Stdout) == "active", true
}

// ProbeWithRetry runs a check with exponential backoff up to maxRetries
// attempts, grounded on the teacher's CheckWithRetry but driven by
// cenkalti/backoff instead of a hand-rolled loop.
func (p *Prober) ProbeWithRetry(ctx context.Context, c Check, maxRetries int) (*Result, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx)

	var last *Result
	operation := func() error {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := p.ProbeOnce(checkCtx, c)
		last = result
		if err != nil {
			p.log.Warn("health check failed, retrying",
				"name", c.Name, "target", c.Target, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return last, fmt.Errorf("health check %q failed after retries: %w", c.Name, err)
	}
	return last, nil
}

// Sample converts a probe Result into a models.HealthSample scoped to a
// deployment/asset pair.
func Sample(assetID, deploymentID uuid.UUID, result *Result) models.HealthSample {
	metrics := map[string]float64{
		"duration_ms": float64(result.Duration.Milliseconds()),
	}
	for k, v := range result.Metrics {
		metrics[k] = v
	}

	sample := models.HealthSample{
		AssetID:      assetID,
		DeploymentID: deploymentID,
		Timestamp:    result.Timestamp,
		Healthy:      result.Success,
		Metrics:      metrics,
	}
	if !result.Success {
		sample.FailureReason = result.Error
	}
	return sample
}

func (p *Prober) checkHTTP(ctx context.Context, c Check, result *Result) error {
	target := c.Target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if c.Type == CheckHTTPS {
			target = "https://" + target
		} else {
			target = "http://" + target
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "rollforge-health-prober/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err == nil {
		result.Response = string(body)
	}

	expectedStatus := 200
	if c.Expected != "" {
		if _, err := fmt.Sscanf(c.Expected, "%d", &expectedStatus); err != nil {
			if !strings.Contains(result.Response, c.Expected) {
				return fmt.Errorf("response does not contain expected string: %s", c.Expected)
			}
			expectedStatus = resp.StatusCode
		}
	}

	if resp.StatusCode != expectedStatus {
		return fmt.Errorf("unexpected status code: got %d, expected %d", resp.StatusCode, expectedStatus)
	}
	return nil
}

func (p *Prober) checkTCP(ctx context.Context, c Check, result *Result) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	target := c.Target
	if !strings.Contains(target, ":") {
		return fmt.Errorf("TCP target must be in format host:port, got: %s", target)
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("TCP connection failed: %w", err)
	}
	defer conn.Close()

	if c.Expected != "" {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil && err != io.EOF {
			p.log.Debug("could not read banner, but connection succeeded", "target", target)
		} else if n > 0 {
			result.Response = string(buf[:n])
			if !strings.Contains(result.Response, c.Expected) {
				return fmt.Errorf("banner does not contain expected string: %s", c.Expected)
			}
		}
	}
	return nil
}

func (p *Prober) checkCommand(ctx context.Context, c Check, result *Result) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(c.Target)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(cmdCtx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	result.Response = string(output)

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), string(output))
		}
		return fmt.Errorf("command failed: %w", err)
	}

	if c.Expected != "" && !strings.Contains(result.Response, c.Expected) {
		return fmt.Errorf("output does not contain expected string: %s", c.Expected)
	}
	return nil
}

func (p *Prober) checkDNS(ctx context.Context, c Check, result *Result) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resolver := &net.Resolver{PreferGo: true}

	dnsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := resolver.LookupHost(dnsCtx, c.Target)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses returned for %s", c.Target)
	}
	result.Response = strings.Join(addrs, ", ")

	if c.Expected != "" {
		found := false
		for _, addr := range addrs {
			if addr == c.Expected {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("expected address %s not found in resolved addresses", c.Expected)
		}
	}
	return nil
}

// Watch runs checks on an interval until ctx is cancelled, pushing every
// sample onto the returned channel. The caller owns draining it.
func (p *Prober) Watch(ctx context.Context, assetID, deploymentID uuid.UUID, c Check, interval time.Duration, retries int) <-chan models.HealthSample {
	out := make(chan models.HealthSample)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			result, _ := p.ProbeWithRetry(ctx, c, retries)
			if result != nil {
				select {
				case out <- Sample(assetID, deploymentID, result):
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
