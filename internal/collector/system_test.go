package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/miradorstack/mirador-healing/internal/models"
)

type fixedErrorRate float64

func (f fixedErrorRate) ErrorRate() float64 { return float64(f) }

func newFakeCollector(cfg SystemConfig, rate ErrorRateSource) *SystemCollector {
	c := NewSystemCollector(cfg, rate, nil)
	c.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return []float64{42.5}, nil }
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 63.2}, nil
	}
	c.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, UsedPercent: 71}, nil
	}
	c.uptime = func(context.Context) (uint64, error) { return 3600, nil }
	c.connections = func(context.Context, string) ([]gnet.ConnectionStat, error) {
		return []gnet.ConnectionStat{{Status: "ESTABLISHED"}, {Status: "LISTEN"}, {Status: "ESTABLISHED"}}, nil
	}
	c.dial = func(context.Context, string, string) (net.Conn, error) {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	return c
}

func TestSampleReadsAllMetrics(t *testing.T) {
	c := newFakeCollector(SystemConfig{LatencyTarget: "db:5432", APIProbeURL: "http://api.local/health"}, fixedErrorRate(12.5))
	c.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return statusResponse(http.StatusOK), nil
	})

	sample := c.Sample(context.Background())

	if len(sample.Unavailable) != 0 {
		t.Fatalf("expected every metric available, got %v", sample.Unavailable)
	}
	if sample.CPUUsage != 42.5 || sample.MemoryUsage != 63.2 || sample.DiskUsage != 71 {
		t.Fatalf("unexpected resource readings: %+v", sample)
	}
	if sample.ActiveConnectionCount != 2 {
		t.Fatalf("expected 2 established connections, got %d", sample.ActiveConnectionCount)
	}
	if sample.UptimeSeconds != 3600 {
		t.Fatalf("unexpected uptime %d", sample.UptimeSeconds)
	}
	if sample.ErrorRate != 12.5 {
		t.Fatalf("unexpected error rate %.2f", sample.ErrorRate)
	}
	if sample.NetworkLatencyMs >= SentinelLatencyMs || sample.APIResponseTimeMs >= SentinelLatencyMs {
		t.Fatalf("expected real latencies, got %+v", sample)
	}
	if !sample.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected timestamp %v", sample.Timestamp)
	}
}

func TestSampleMarksFailedReadsUnavailable(t *testing.T) {
	c := newFakeCollector(SystemConfig{}, nil)
	c.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return nil, errors.New("no /proc") }
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("denied") }

	sample := c.Sample(context.Background())

	for _, metric := range []string{
		models.MetricCPUUsage,
		models.MetricMemoryUsage,
		models.MetricNetworkLatency,
		models.MetricAPIResponseTime,
		models.MetricErrorRate,
	} {
		if !slices.Contains(sample.Unavailable, metric) {
			t.Fatalf("expected %s unavailable, got %v", metric, sample.Unavailable)
		}
	}
	if _, ok := sample.Value(models.MetricCPUUsage); ok {
		t.Fatalf("cpu should not report a value")
	}
	if v, ok := sample.Value(models.MetricDiskUsage); !ok || v != 71 {
		t.Fatalf("disk should still be read, got %.1f ok=%v", v, ok)
	}
}

func TestSampleReportsSentinelLatencyOnProbeFailure(t *testing.T) {
	c := newFakeCollector(SystemConfig{LatencyTarget: "db:5432", APIProbeURL: "http://api.local/health"}, fixedErrorRate(0))
	c.dial = func(context.Context, string, string) (net.Conn, error) { return nil, errors.New("connection refused") }
	c.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("timeout")
	})

	sample := c.Sample(context.Background())

	if sample.NetworkLatencyMs != SentinelLatencyMs {
		t.Fatalf("expected sentinel network latency, got %.1f", sample.NetworkLatencyMs)
	}
	if sample.APIResponseTimeMs != SentinelLatencyMs {
		t.Fatalf("expected sentinel api latency, got %.1f", sample.APIResponseTimeMs)
	}
	if slices.Contains(sample.Unavailable, models.MetricAPIResponseTime) {
		t.Fatalf("sentinel latency should still be an observed value")
	}
}
