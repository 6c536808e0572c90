package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Checker probes one dependency. Check must honour ctx cancellation.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ProbeRunner runs every checker concurrently under one timeout.
type ProbeRunner struct {
	checkers []Checker
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProbeRunner(timeout time.Duration, logger *slog.Logger, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeRunner{checkers: checkers, timeout: timeout, logger: logger}
}

// Ready reports whether all checks passed. Results keep the checker order.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)
			res := CheckResult{Name: c.Name(), Healthy: err == nil, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
				p.logger.WarnContext(ctx, "readiness check failed", "check", c.Name(), "error", err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	return ready, results
}

func DatabaseChecker(db *gorm.DB) Checker {
	return CheckerFunc{CheckName: "database", Fn: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

// Pinger is satisfied by every queue driver.
type Pinger interface {
	Ping(ctx context.Context) error
}

func QueueChecker(q Pinger) Checker {
	return CheckerFunc{CheckName: "queue", Fn: q.Ping}
}
