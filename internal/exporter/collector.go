// Package exporter republishes vehicle readings as Prometheus metrics. A
// scrape drives everything: each /metrics hit refreshes the credential,
// fetches whichever containers their call quotas currently allow, and
// serves what is cached for the rest.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chrko/mb-exporter/internal/tokensource"
	"github.com/chrko/mb-exporter/internal/vehicledata"
)

// TokenSource produces a valid access token or reports why it cannot.
// tokensource.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Fetcher reads one container for one vehicle. vehicledata.Client
// implements it.
type Fetcher interface {
	FetchContainer(ctx context.Context, vin, container string) ([]vehicledata.Measurement, error)
}

// Collector owns the exporter's metric registry and runs scrape cycles
// against the vehicle API.
type Collector struct {
	tokens  TokenSource
	fetcher Fetcher
	vin     string

	registry    *prometheus.Registry
	status      prometheus.Gauge
	fetchErrors *prometheus.CounterVec

	// series maps container name to resource name to its gauge families.
	series   map[string]map[string]*resourceSeries
	limiters map[string]*rate.Limiter
}

// Option configures a Collector.
type Option func(*Collector)

// WithPacing overrides the call pacing for one container, for tests.
func WithPacing(container string, limiter *rate.Limiter) Option {
	return func(c *Collector) { c.limiters[container] = limiter }
}

// New assembles the Collector and its registry: one gauge trio per catalog
// resource, the authorization status gauge, the token lifecycle counters
// and the standard Go and process collectors.
func New(tokens TokenSource, fetcher Fetcher, vin string, opts ...Option) (*Collector, error) {
	if tokens == nil {
		return nil, fmt.Errorf("missing token source")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("missing container fetcher")
	}
	if vin == "" {
		return nil, fmt.Errorf("missing vehicle identification number")
	}

	c := &Collector{
		tokens:      tokens,
		fetcher:     fetcher,
		vin:         vin,
		registry:    prometheus.NewRegistry(),
		status:      newStatusGauge(),
		fetchErrors: newFetchErrorCounter(),
		series:      make(map[string]map[string]*resourceSeries),
		limiters:    make(map[string]*rate.Limiter),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.status,
		c.fetchErrors,
	)
	c.registry.MustRegister(tokensource.MetricsCollectors()...)

	for _, container := range vehicledata.Containers() {
		byResource := make(map[string]*resourceSeries, len(container.Resources))
		for _, res := range container.Resources {
			series := newResourceSeries(res)
			series.register(c.registry)
			byResource[res.Name] = series
		}
		c.series[container.Name] = byResource
		// Burst of one: a freshly started exporter reads every container
		// once, then settles at the vendor quota.
		c.limiters[container.Name] = rate.NewLimiter(rate.Limit(container.CallsPerHour/3600), 1)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry returns the registry backing /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Refresh runs one scrape cycle. The credential is checked first; without a
// usable token the cycle only updates the status gauge and leaves the
// cached readings in place, so /metrics keeps serving. Containers are
// fetched concurrently, each within its quota pacing.
func (c *Collector) Refresh(ctx context.Context) {
	if _, err := c.tokens.Token(ctx); err != nil {
		if errors.Is(err, tokensource.ErrReauthorizationRequired) {
			c.status.Set(StatusUnauthenticated)
			slog.DebugContext(ctx, "scrape degraded, authorization required")
		} else {
			c.status.Set(StatusDegraded)
			slog.WarnContext(ctx, "scrape degraded, no valid access token", "error", err)
		}
		return
	}
	c.status.Set(StatusAuthorized)

	g, ctx := errgroup.WithContext(ctx)
	for _, container := range vehicledata.Containers() {
		if !c.limiters[container.Name].Allow() {
			continue
		}
		g.Go(func() error {
			c.refreshContainer(ctx, container)
			return nil
		})
	}
	_ = g.Wait()
}

// refreshContainer fetches one container and folds the outcome into the
// registry. Failures degrade that container's series and nothing else.
func (c *Collector) refreshContainer(ctx context.Context, container vehicledata.Container) {
	measurements, err := c.fetcher.FetchContainer(ctx, c.vin, container.Name)
	switch {
	case errors.Is(err, vehicledata.ErrQuotaExhausted):
		// The vendor-side quota window recovers on its own.
		slog.DebugContext(ctx, "container quota exhausted", "container", container.Name)
		return
	case err != nil:
		c.fetchErrors.WithLabelValues(container.Name).Inc()
		slog.ErrorContext(ctx, "container fetch failed", "container", container.Name, "error", err)
		return
	}
	c.apply(ctx, container, measurements)
}

func (c *Collector) apply(ctx context.Context, container vehicledata.Container, measurements []vehicledata.Measurement) {
	byResource := make(map[string]vehicledata.Measurement, len(measurements))
	for _, m := range measurements {
		if _, ok := c.series[container.Name][m.Resource]; !ok {
			slog.WarnContext(ctx, "unexpected resource in container response",
				"container", container.Name, "resource", m.Resource)
			continue
		}
		byResource[m.Resource] = m
	}

	for name, series := range c.series[container.Name] {
		m, ok := byResource[name]
		if !ok {
			// Answered, but nothing new for this resource.
			series.touch(c.vin)
			continue
		}
		if err := series.observe(c.vin, m); err != nil {
			slog.WarnContext(ctx, "unparseable resource value",
				"container", container.Name, "resource", name, "value", m.Value, "error", err)
			series.touch(c.vin)
		}
	}
}
