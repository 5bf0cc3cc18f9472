// Package collyfetcher implements the fetch stage of the visit pipeline
// using gocolly. Redirects are never followed: the redirect response is
// recorded on the order and resolved by a later stage.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/filter"
	"github.com/JakeFAU/visit-scheduler/internal/visit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher is a filter that performs one GET per order.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	clock         visit.Clock
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The collector, its transport and its robots.txt
// cache are shared by every fetch.
func New(cfg Config, clock visit.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetch")

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&robotsTransport{base: newHTTPTransport(), logger: logger})
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Fetcher{cfg: cfg, baseCollector: c, clock: clock, logger: logger}
}

// Name implements filter.Filter.
func (f *Fetcher) Name() string { return "fetch" }

// Describe implements filter.Filter.
func (f *Fetcher) Describe() []string {
	return []string{
		"user_agent=" + f.baseCollector.UserAgent,
		fmt.Sprintf("respect_robots=%t", f.cfg.RespectRobots),
		"timeout=" + f.cfg.Timeout.String(),
	}
}

// fetchResult collects what the collector callbacks observed. It is only
// read once Visit has returned.
type fetchResult struct {
	status    int
	headers   http.Header
	visitedAt time.Time
	err       error
}

// Filter fetches order.URL and records status, headers and visit time on
// the order. Transport failures become StatusFetchFailed so later stages can
// persist them; orders blocked by robots.txt are rejected. A canceled fetch
// leaves the order untouched.
func (f *Fetcher) Filter(ctx context.Context, order *visit.Order) error {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	result := &fetchResult{}
	f.configureCollectorHooks(collector, result)

	err := f.runCollector(ctx, collector, order.URL.String())
	if err == nil {
		err = result.err
	}
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err == nil:
		order.Status = result.status
		order.LastVisit = result.visitedAt
		order.Headers = result.headers
		return nil
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		order.Reason = "blocked by robots.txt"
		return filter.Reject(f.Name(), order.Reason)
	default:
		order.Status = visit.StatusFetchFailed
		order.LastVisit = f.clock.Now()
		order.Reason = err.Error()
		f.logger.Info("fetch failed", zap.String("url", order.URL.String()), zap.Error(err))
		return nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.visitedAt = f.clock.Now()
		if r.Headers != nil {
			result.headers = r.Headers.Clone()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
