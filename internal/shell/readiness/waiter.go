// Package readiness waits for a launched environment to become usable by
// probing published ports and tailing container logs.
package readiness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/artpar/composeenv/internal/core/discovery"
	corereadiness "github.com/artpar/composeenv/internal/core/readiness"
	"golang.org/x/sync/errgroup"
)

// maxLogLine bounds a single log line; longer lines fail the stream.
const maxLogLine = 1024 * 1024

// LogSource streams a service's log from container start.
type LogSource interface {
	// Logs returns the log of a service, following new output until ctx is done
	// or the container stops.
	Logs(ctx context.Context, service string) (io.ReadCloser, error)
}

// Dialer opens TCP connections for port probes.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Waiter blocks until every service in a plan is ready.
type Waiter struct {
	logs   LogSource
	dialer Dialer
	logger *slog.Logger
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithDialer replaces the dialer used for port probes.
func WithDialer(d Dialer) Option {
	return func(w *Waiter) { w.dialer = d }
}

// NewWaiter creates a waiter reading logs from logs. logs may be nil when no
// plan entry declares markers.
func NewWaiter(logs LogSource, logger *slog.Logger, opts ...Option) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Waiter{
		logs:   logs,
		dialer: &net.Dialer{Timeout: time.Second},
		logger: logger.With("component", "readiness"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// =============================================================================
// WaitUntilReady
// =============================================================================

// WaitUntilReady checks every plan entry concurrently, then runs the plan's
// hook with whatever budget remains. The first failing branch, or the end of
// the budget, cancels the rest and returns a *corereadiness.NotReadyError
// alongside the report.
func (w *Waiter) WaitUntilReady(ctx context.Context, plan corereadiness.Plan, table *discovery.Table) (*corereadiness.Report, error) {
	start := time.Now()
	if plan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
	}

	trackers := make([]*corereadiness.Tracker, len(plan.Services))
	for i, sp := range plan.Services {
		trackers[i] = corereadiness.NewTracker(sp, plan.Order)
	}
	for _, skipped := range plan.Skipped {
		w.logger.Warn("markers declared for a service that is not running", "service", skipped)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, sp := range plan.Services {
		sp := sp
		tracker := trackers[i]
		g.Go(func() error {
			return w.awaitService(gctx, plan, sp, tracker, table)
		})
	}

	if err := g.Wait(); err != nil {
		// A cancelled branch reports the cancellation; prefer the deadline
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, context.Canceled) {
			err = ctxErr
		}
		return w.fail(trackers, err, start)
	}

	if plan.Hook != nil {
		w.logger.Debug("running readiness hook")
		if err := plan.Hook(ctx, table); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w: %w", corereadiness.ErrHookFailed, err, ctxErr)
			} else {
				err = fmt.Errorf("%w: %w", corereadiness.ErrHookFailed, err)
			}
			return w.fail(trackers, err, start)
		}
	}

	for _, t := range trackers {
		t.Promote()
	}
	report := corereadiness.Aggregate(trackers, nil, time.Since(start))
	w.logger.Info("environment ready", "services", len(trackers), "elapsed", report.Elapsed)
	return report, nil
}

func (w *Waiter) fail(trackers []*corereadiness.Tracker, cause error, start time.Time) (*corereadiness.Report, error) {
	report := corereadiness.Aggregate(trackers, cause, time.Since(start))
	notReady := corereadiness.NewNotReadyError(report, cause)
	for _, s := range notReady.Services {
		w.logger.Warn("service not ready",
			"service", s.Service,
			"state", s.State.String(),
			"pending_ports", s.PendingPorts,
			"pending_markers", s.PendingMarkers,
		)
	}
	return report, notReady
}

// awaitService probes the entry's ports and then matches its markers.
func (w *Waiter) awaitService(ctx context.Context, plan corereadiness.Plan, sp corereadiness.ServicePlan, tracker *corereadiness.Tracker, table *discovery.Table) error {
	logger := w.logger.With("service", sp.Name)

	if len(sp.Ports) > 0 {
		endpoint, err := table.Wait(ctx, sp.Name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", sp.Name, err)
		}
		for _, port := range sp.Ports {
			addr, err := endpoint.Address(port)
			if err != nil {
				return fmt.Errorf("%s: %w", sp.Name, err)
			}
			if err := w.probe(ctx, addr, plan.PollInterval); err != nil {
				return fmt.Errorf("probe %s port %d at %s: %w", sp.Name, port, addr, err)
			}
			tracker.ConfirmPort(port)
			logger.Debug("port listening", "port", port, "address", addr)
		}
	}

	if len(sp.Markers) == 0 {
		return nil
	}
	if w.logs == nil {
		return fmt.Errorf("%s: markers declared but no log source configured", sp.Name)
	}
	if err := w.tail(ctx, plan.LogServices(sp), tracker); err != nil {
		return fmt.Errorf("tail %s: %w", sp.Name, err)
	}
	logger.Debug("markers matched", "markers", len(sp.Markers))
	return nil
}

// probe dials addr every interval until a connection succeeds.
func (w *Waiter) probe(ctx context.Context, addr string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := w.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tail feeds the merged log lines of services to the tracker until every
// marker matched.
func (w *Waiter) tail(ctx context.Context, services []string, tracker *corereadiness.Tracker) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	var open sync.WaitGroup
	for _, service := range services {
		rc, err := w.logs.Logs(gctx, service)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("open log of %s: %w", service, err)
		}
		open.Add(1)
		g.Go(func() error {
			defer open.Done()
			return scanLines(gctx, rc, lines)
		})
	}
	go func() {
		open.Wait()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			_ = g.Wait()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := g.Wait(); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return corereadiness.ErrLogStreamClosed
			}
			tracker.FeedLine(line)
			if len(tracker.PendingMarkers()) == 0 {
				cancel()
				// Drain so scanners blocked on send can observe cancellation
				go func() {
					for range lines {
					}
				}()
				_ = g.Wait()
				return nil
			}
		}
	}
}

// scanLines sends each line of rc to out until rc ends or ctx is done. rc is
// closed on return, and also when ctx is done so a blocked read returns.
func scanLines(ctx context.Context, rc io.ReadCloser, out chan<- string) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		stop()
		rc.Close()
	}()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
