// Package preflight validates the runtime environment before the
// service starts serving queries.
package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quaero/quaero/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical problem; the service can run
	// degraded.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs environment checks against a configuration.
type Checker struct {
	cfg    *config.Config
	client *http.Client
}

// New creates a Checker for the given configuration.
func New(cfg *config.Config) *Checker {
	return &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// RunAll runs every check. Dense and reranker checks are skipped when
// the corresponding feature is disabled.
func (c *Checker) RunAll(ctx context.Context, withDense bool) []CheckResult {
	results := []CheckResult{
		c.CheckDataDir(),
	}
	if withDense {
		results = append(results, c.CheckOllama(ctx))
	}
	switch c.cfg.Reranker.Mode {
	case "cross_encoder", "hybrid":
		results = append(results, c.CheckRerankEndpoint(ctx))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckDataDir verifies the data directory exists and is writable.
func (c *Checker) CheckDataDir() CheckResult {
	result := CheckResult{Name: "data_dir", Required: true}

	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.cfg.DataDir, err)
		return result
	}

	probe := filepath.Join(c.cfg.DataDir, ".preflight-probe")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable: %v", c.cfg.DataDir, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = c.cfg.DataDir
	return result
}

// CheckOllama verifies the embedding endpoint answers. The dense path
// degrades to keyword-only at query time, so this is not required.
func (c *Checker) CheckOllama(ctx context.Context) CheckResult {
	result := CheckResult{Name: "ollama", Required: false}

	if err := c.ping(ctx, c.cfg.Dense.OllamaHost+"/api/tags"); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreachable, dense retrieval will degrade: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (model %s)", c.cfg.Dense.OllamaHost, c.cfg.Dense.Model)
	return result
}

// CheckRerankEndpoint verifies the cross-encoder service answers.
// Reranking degrades to fused order on failure, so this is not required.
func (c *Checker) CheckRerankEndpoint(ctx context.Context) CheckResult {
	result := CheckResult{Name: "rerank_endpoint", Required: false}

	if err := c.ping(ctx, c.cfg.Reranker.Endpoint); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreachable, reranking will be skipped: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = c.cfg.Reranker.Endpoint
	return result
}

func (c *Checker) ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
