package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-healing/internal/metrics"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// Dependency probe kinds.
const (
	KindHTTP     = "http"
	KindTCP      = "tcp"
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

const (
	defaultProbeTimeout  = 5 * time.Second
	defaultDegradedAfter = time.Second
	defaultParallelism   = 4
)

// DependencyConfig describes one named external dependency.
type DependencyConfig struct {
	Name          string
	Kind          string
	Endpoint      string
	Critical      bool
	Timeout       time.Duration
	DegradedAfter time.Duration
}

// CheckOutcome carries probe details beyond pass/fail.
type CheckOutcome struct {
	// Degraded marks a reachable dependency that answered poorly (HTTP 4xx).
	Degraded bool
	Detail   string
}

// Checker probes a single dependency.
type Checker interface {
	Check(ctx context.Context) (CheckOutcome, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) (CheckOutcome, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context) (CheckOutcome, error) {
	return f(ctx)
}

// closer is implemented by checkers holding connections.
type closer interface {
	Close() error
}

type probeTarget struct {
	cfg     DependencyConfig
	checker Checker
}

// Prober probes configured dependencies with bounded parallelism and keeps the
// latest status per dependency.
type Prober struct {
	targets     []probeTarget
	parallelism int
	log         *slog.Logger
	now         func() time.Time

	mu     sync.RWMutex
	latest []models.DependencyStatus
}

// NewProber builds checkers for every dependency. Unknown kinds are a
// configuration error.
func NewProber(deps []DependencyConfig, parallelism int, logger *slog.Logger) (*Prober, error) {
	p := &Prober{
		parallelism: parallelism,
		log:         utils.OrDefault(logger, "collector.prober"),
		now:         utils.SystemClock,
	}
	if p.parallelism <= 0 {
		p.parallelism = defaultParallelism
	}
	for _, dep := range deps {
		dep = withProbeDefaults(dep)
		checker, err := newChecker(dep)
		if err != nil {
			return nil, err
		}
		p.targets = append(p.targets, probeTarget{cfg: dep, checker: checker})
	}
	return p, nil
}

// AddChecker registers a dependency with a caller supplied checker.
func (p *Prober) AddChecker(dep DependencyConfig, checker Checker) {
	p.targets = append(p.targets, probeTarget{cfg: withProbeDefaults(dep), checker: checker})
}

func withProbeDefaults(dep DependencyConfig) DependencyConfig {
	dep.Kind = strings.ToLower(strings.TrimSpace(dep.Kind))
	if dep.Timeout <= 0 {
		dep.Timeout = defaultProbeTimeout
	}
	if dep.DegradedAfter <= 0 {
		dep.DegradedAfter = defaultDegradedAfter
	}
	return dep
}

func newChecker(dep DependencyConfig) (Checker, error) {
	switch dep.Kind {
	case KindHTTP:
		return &httpChecker{url: dep.Endpoint, client: &http.Client{Timeout: dep.Timeout}}, nil
	case KindTCP:
		return &tcpChecker{address: dep.Endpoint}, nil
	case KindPostgres:
		return &postgresChecker{dsn: dep.Endpoint}, nil
	case KindRedis:
		opts, err := redis.ParseURL(dep.Endpoint)
		if err != nil {
			opts = &redis.Options{Addr: dep.Endpoint}
		}
		opts.DialTimeout = dep.Timeout
		return &redisChecker{client: redis.NewClient(opts)}, nil
	default:
		return nil, utils.ConfigError("collector.NewProber", fmt.Sprintf("dependency %q has unknown kind %q", dep.Name, dep.Kind), nil)
	}
}

// Probe checks every dependency and returns one status each, in
// configuration order. It never fails: probe errors become status down.
func (p *Prober) Probe(ctx context.Context) []models.DependencyStatus {
	results := make([]models.DependencyStatus, len(p.targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, target := range p.targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = p.probeOne(gctx, target)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.latest = results
	p.mu.Unlock()
	return cloneStatuses(results)
}

func (p *Prober) probeOne(ctx context.Context, target probeTarget) models.DependencyStatus {
	cfg := target.cfg
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	outcome, err := p.check(ctx, target)
	elapsed := time.Since(start)
	metrics.ObserveProbe(cfg.Kind, elapsed)

	status := models.DependencyStatus{
		ServiceName:    cfg.Name,
		Kind:           cfg.Kind,
		Endpoint:       redactEndpoint(cfg.Endpoint),
		Critical:       cfg.Critical,
		ResponseTimeMs: utils.Milliseconds(elapsed),
		LastCheck:      p.now(),
	}
	switch {
	case err != nil:
		status.Status = models.DependencyDown
		status.ErrorMessage = errors.Unwrap(err).Error()
		metrics.IncFailure(string(utils.KindOf(err)))
		p.log.Warn("dependency probe failed", slog.String("dependency", cfg.Name), slog.Any("error", err))
	case outcome.Degraded || elapsed >= cfg.DegradedAfter:
		status.Status = models.DependencyDegraded
		status.ErrorMessage = outcome.Detail
	default:
		status.Status = models.DependencyHealthy
	}
	return status
}

// check runs the dependency checker and tags failures as probe failures.
func (p *Prober) check(ctx context.Context, target probeTarget) (CheckOutcome, error) {
	outcome, err := target.checker.Check(ctx)
	if err != nil {
		return outcome, utils.ProbeError("collector.probe", target.cfg.Name, err)
	}
	return outcome, nil
}

// Latest returns the statuses from the most recent Probe call.
func (p *Prober) Latest() []models.DependencyStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneStatuses(p.latest)
}

// Reconnect reopens the connection pool of every postgres dependency and
// pings it. It reports the number of dependencies reconnected.
func (p *Prober) Reconnect(ctx context.Context) (int, error) {
	reconnected := 0
	var failures []string
	for _, target := range p.targets {
		pg, ok := target.checker.(*postgresChecker)
		if !ok {
			continue
		}
		if err := pg.reconnect(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", target.cfg.Name, err))
			continue
		}
		reconnected++
	}
	if len(failures) > 0 {
		return reconnected, fmt.Errorf("reconnect failed: %s", strings.Join(failures, "; "))
	}
	if reconnected == 0 {
		return 0, fmt.Errorf("no postgres dependency configured")
	}
	return reconnected, nil
}

// Close releases checker connections.
func (p *Prober) Close() error {
	for _, target := range p.targets {
		if c, ok := target.checker.(closer); ok {
			_ = c.Close()
		}
	}
	return nil
}

func cloneStatuses(in []models.DependencyStatus) []models.DependencyStatus {
	if in == nil {
		return []models.DependencyStatus{}
	}
	out := make([]models.DependencyStatus, len(in))
	copy(out, in)
	return out
}

// redactEndpoint strips credentials from URL style endpoints.
func redactEndpoint(endpoint string) string {
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return endpoint
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://" + rest[at+1:]
	}
	return endpoint
}

type httpChecker struct {
	url    string
	client *http.Client
}

func (c *httpChecker) Check(ctx context.Context) (CheckOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return CheckOutcome{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckOutcome{}, err
	}
	drain(resp)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return CheckOutcome{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return CheckOutcome{Degraded: true, Detail: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	return CheckOutcome{}, nil
}

type tcpChecker struct {
	address string
}

func (c *tcpChecker) Check(ctx context.Context) (CheckOutcome, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return CheckOutcome{}, err
	}
	return CheckOutcome{}, conn.Close()
}

type postgresChecker struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func (c *postgresChecker) pool() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open("postgres", c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	c.db = db
	return db, nil
}

func (c *postgresChecker) Check(ctx context.Context) (CheckOutcome, error) {
	db, err := c.pool()
	if err != nil {
		return CheckOutcome{}, err
	}
	if err := db.PingContext(ctx); err != nil {
		return CheckOutcome{}, fmt.Errorf("ping postgres: %w", err)
	}
	return CheckOutcome{}, nil
}

func (c *postgresChecker) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	c.mu.Unlock()
	_, err := c.Check(ctx)
	return err
}

func (c *postgresChecker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

type redisChecker struct {
	client *redis.Client
}

func (c *redisChecker) Check(ctx context.Context) (CheckOutcome, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckOutcome{}, fmt.Errorf("ping redis: %w", err)
	}
	return CheckOutcome{}, nil
}

func (c *redisChecker) Close() error {
	return c.client.Close()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
