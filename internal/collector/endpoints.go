package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

const defaultSlowAfter = 2 * time.Second

// EndpointConfig is one synthetic check against an internal endpoint.
type EndpointConfig struct {
	Path           string
	Method         string
	ExpectedStatus int
	SlowAfter      time.Duration
	Timeout        time.Duration
}

// EndpointMonitor issues synthetic requests against BaseURL+Path.
type EndpointMonitor struct {
	baseURL     string
	endpoints   []EndpointConfig
	client      *http.Client
	parallelism int
	log         *slog.Logger
	now         func() time.Time

	mu     sync.RWMutex
	latest []models.EndpointCheckResult
}

// NewEndpointMonitor constructs a monitor. A nil client uses a default one.
func NewEndpointMonitor(baseURL string, endpoints []EndpointConfig, client *http.Client, logger *slog.Logger) *EndpointMonitor {
	if client == nil {
		client = &http.Client{}
	}
	normalized := make([]EndpointConfig, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Method == "" {
			ep.Method = http.MethodGet
		}
		ep.Method = strings.ToUpper(ep.Method)
		if ep.ExpectedStatus == 0 {
			ep.ExpectedStatus = http.StatusOK
		}
		if ep.SlowAfter <= 0 {
			ep.SlowAfter = defaultSlowAfter
		}
		if ep.Timeout <= 0 {
			ep.Timeout = defaultProbeTimeout
		}
		normalized = append(normalized, ep)
	}
	return &EndpointMonitor{
		baseURL:     strings.TrimRight(baseURL, "/"),
		endpoints:   normalized,
		client:      client,
		parallelism: defaultParallelism,
		log:         utils.OrDefault(logger, "collector.endpoints"),
		now:         utils.SystemClock,
	}
}

// Check runs every configured endpoint check once.
func (m *EndpointMonitor) Check(ctx context.Context) []models.EndpointCheckResult {
	results := make([]models.EndpointCheckResult, len(m.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, ep := range m.endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = m.checkOne(gctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.latest = results
	m.mu.Unlock()
	return cloneResults(results)
}

func (m *EndpointMonitor) checkOne(ctx context.Context, ep EndpointConfig) models.EndpointCheckResult {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	result := models.EndpointCheckResult{
		Path:           ep.Path,
		Method:         ep.Method,
		ExpectedStatus: ep.ExpectedStatus,
		CheckedAt:      m.now(),
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, m.baseURL+ep.Path, nil)
	if err != nil {
		result.Status = models.EndpointError
		result.ResponseTimeMs = SentinelLatencyMs
		result.ErrorMessage = fmt.Sprintf("build request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	elapsed := time.Since(start)
	metrics.ObserveProbe("endpoint", elapsed)
	if err != nil {
		result.Status = models.EndpointError
		result.ResponseTimeMs = SentinelLatencyMs
		result.ErrorMessage = err.Error()
		failure := utils.ProbeError("collector.endpoint", ep.Method+" "+ep.Path, err)
		metrics.IncFailure(string(utils.KindOf(failure)))
		m.log.Warn("endpoint check failed", slog.Any("error", failure))
		return result
	}
	drain(resp)

	result.StatusCode = resp.StatusCode
	result.ResponseTimeMs = utils.Milliseconds(elapsed)
	switch {
	case resp.StatusCode != ep.ExpectedStatus:
		result.Status = models.EndpointError
		result.ErrorMessage = fmt.Sprintf("expected status %d, got %d", ep.ExpectedStatus, resp.StatusCode)
	case elapsed >= ep.SlowAfter:
		result.Status = models.EndpointSlow
	default:
		result.Status = models.EndpointHealthy
	}
	return result
}

// Last returns the results of the most recent Check.
func (m *EndpointMonitor) Last() []models.EndpointCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneResults(m.latest)
}

// ErrorRate is the percentage of endpoints in error in the latest check, 0
// when nothing is configured or checked yet.
func (m *EndpointMonitor) ErrorRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.latest) == 0 {
		return 0
	}
	failed := 0
	for _, r := range m.latest {
		if r.Status == models.EndpointError {
			failed++
		}
	}
	return float64(failed) / float64(len(m.latest)) * 100
}

func cloneResults(in []models.EndpointCheckResult) []models.EndpointCheckResult {
	if in == nil {
		return []models.EndpointCheckResult{}
	}
	out := make([]models.EndpointCheckResult, len(in))
	copy(out, in)
	return out
}
