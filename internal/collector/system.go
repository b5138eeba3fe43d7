package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// SentinelLatencyMs is reported for latency probes that failed or timed out.
const SentinelLatencyMs = 99999.0

// SystemConfig controls the resource sampler.
type SystemConfig struct {
	DiskPath        string
	CPUSampleWindow time.Duration
	// LatencyTarget is a host:port dialled to measure network latency.
	LatencyTarget string
	// APIProbeURL is requested to measure API response time.
	APIProbeURL string
	Timeout     time.Duration
}

// ErrorRateSource reports the current request error percentage.
type ErrorRateSource interface {
	ErrorRate() float64
}

// SystemCollector samples host resources and latency into a HealthSample.
type SystemCollector struct {
	cfg        SystemConfig
	log        *slog.Logger
	httpClient *http.Client
	errorRate  ErrorRateSource

	// Collection functions, replaced in tests.
	cpuPercent    func(context.Context, time.Duration, bool) ([]float64, error)
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(context.Context, string) (*disk.UsageStat, error)
	uptime        func(context.Context) (uint64, error)
	connections   func(context.Context, string) ([]gnet.ConnectionStat, error)
	dial          func(context.Context, string, string) (net.Conn, error)
	now           func() time.Time
}

// NewSystemCollector creates a collector. errorRate may be nil, in which case
// the error rate metric is reported as unavailable.
func NewSystemCollector(cfg SystemConfig, errorRate ErrorRateSource, logger *slog.Logger) *SystemCollector {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.CPUSampleWindow <= 0 {
		cfg.CPUSampleWindow = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	dialer := &net.Dialer{}
	return &SystemCollector{
		cfg:           cfg,
		log:           utils.OrDefault(logger, "collector.system"),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		errorRate:     errorRate,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
		uptime:        host.UptimeWithContext,
		connections:   gnet.ConnectionsWithContext,
		dial:          dialer.DialContext,
		now:           utils.SystemClock,
	}
}

// Sample reads every metric once. Failed reads never surface as errors: the
// metric is listed as unavailable, or a sentinel latency is reported.
func (c *SystemCollector) Sample(ctx context.Context) models.HealthSample {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.ObserveProbe("system", time.Since(start)) }()

	sample := models.HealthSample{Timestamp: c.now()}
	unavailable := make([]string, 0)
	miss := func(metric string, err error) {
		unavailable = append(unavailable, metric)
		if err != nil {
			c.log.Warn("metric collection failed", slog.String("metric", metric), slog.Any("error", err))
		}
	}

	if pct, err := c.cpuPercent(ctx, c.cfg.CPUSampleWindow, false); err != nil || len(pct) == 0 {
		if err == nil {
			err = fmt.Errorf("no cpu data returned")
		}
		miss(models.MetricCPUUsage, err)
	} else {
		sample.CPUUsage = pct[0]
	}

	if vm, err := c.virtualMemory(ctx); err != nil {
		miss(models.MetricMemoryUsage, err)
	} else {
		sample.MemoryUsage = vm.UsedPercent
	}

	if du, err := c.diskUsage(ctx, c.cfg.DiskPath); err != nil {
		miss(models.MetricDiskUsage, err)
	} else {
		sample.DiskUsage = du.UsedPercent
	}

	if up, err := c.uptime(ctx); err != nil {
		miss(models.MetricUptime, err)
	} else {
		sample.UptimeSeconds = up
	}

	if conns, err := c.connections(ctx, "tcp"); err != nil {
		miss(models.MetricActiveConnections, err)
	} else {
		sample.ActiveConnectionCount = countEstablished(conns)
	}

	if c.cfg.LatencyTarget == "" {
		miss(models.MetricNetworkLatency, nil)
	} else {
		sample.NetworkLatencyMs = c.networkLatency(ctx)
	}

	if c.cfg.APIProbeURL == "" {
		miss(models.MetricAPIResponseTime, nil)
	} else {
		sample.APIResponseTimeMs = c.apiLatency(ctx)
	}

	if c.errorRate == nil {
		miss(models.MetricErrorRate, nil)
	} else {
		sample.ErrorRate = c.errorRate.ErrorRate()
	}

	if len(unavailable) > 0 {
		sample.Unavailable = unavailable
	}
	return sample
}

func (c *SystemCollector) networkLatency(ctx context.Context) float64 {
	start := time.Now()
	conn, err := c.dial(ctx, "tcp", c.cfg.LatencyTarget)
	if err != nil {
		c.log.Warn("network latency probe failed", slog.String("target", c.cfg.LatencyTarget), slog.Any("error", err))
		return SentinelLatencyMs
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return utils.Milliseconds(elapsed)
}

func (c *SystemCollector) apiLatency(ctx context.Context) float64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIProbeURL, nil)
	if err != nil {
		c.log.Warn("api probe request invalid", slog.String("url", c.cfg.APIProbeURL), slog.Any("error", err))
		return SentinelLatencyMs
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("api probe failed", slog.String("url", c.cfg.APIProbeURL), slog.Any("error", err))
		return SentinelLatencyMs
	}
	drain(resp)
	return utils.Milliseconds(time.Since(start))
}

func countEstablished(conns []gnet.ConnectionStat) int {
	n := 0
	for _, conn := range conns {
		if conn.Status == "ESTABLISHED" {
			n++
		}
	}
	return n
}
