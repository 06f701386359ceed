// Command webants is the composition root that wires the core crawl
// engine (frontier, downloader, circuit breaker, spider driver) to a
// concrete parser and sink, exactly the way a user embedding the
// library would. It is the thinnest possible shim between
// internal/cli's flag/config handling and internal/spider's driver.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/webants/webants/internal/breaker"
	cmdcli "github.com/webants/webants/internal/cli"
	"github.com/webants/webants/internal/config"
	"github.com/webants/webants/internal/downloader"
	"github.com/webants/webants/internal/events"
	"github.com/webants/webants/internal/frontier"
	"github.com/webants/webants/internal/htmlparser"
	"github.com/webants/webants/internal/metadata"
	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/internal/sink"
	"github.com/webants/webants/internal/spider"
	"github.com/webants/webants/internal/stats"
	"github.com/webants/webants/pkg/timeutil"
)

func main() {
	cfg, err := cmdcli.ParseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "webants:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "webants:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	rec := metadata.NewRecorder("webants")

	collector := stats.NewPrometheusCollector()
	bus := events.NewBus(64)
	logEvents(bus)

	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold(),
		RecoveryTimeout:  cfg.RecoveryTimeout(),
	}, nil)

	fr := frontier.New(frontier.Config{
		MaxRequests:        cfg.MaxRequests(),
		MaxQueueSize:       cfg.MaxQueueSize(),
		MaxHostConcurrency: cfg.MaxHostConcurrency(),
		DomainDelay:        cfg.BaseDelay(),
		RequestDelay:       cfg.RequestDelay(),
		RandomSeed:         cfg.RandomSeed(),
	}, timeutil.NewRealSleeper(), bus)

	dl := downloader.New(downloader.Config{
		Concurrency:     cfg.Concurrency(),
		RequestTimeout:  cfg.Timeout(),
		RetryDelay:      cfg.BackoffInitialDuration(),
		FollowRedirects: cfg.FollowRedirects(),
		RedirectLimit:   cfg.RedirectLimit(),
		UserAgent:       cfg.UserAgent(),
	}, timeutil.NewRealSleeper(), collector, bus, br)

	var persist sink.Sink
	if !cfg.DryRun() {
		jsonl, err := sink.NewJSONLSink(cfg.OutputDir(), "webants")
		if err != nil {
			return fmt.Errorf("building sink: %w", err)
		}
		persist = jsonl
		defer persist.Close()
	}

	parser := htmlparser.NewDefaultParser(int(cfg.MaxDocumentSize()), cfg.DefaultEncoding())

	driverCfg := spider.Config{
		Concurrency:         cfg.Concurrency(),
		FailedSweepInterval: 30 * time.Second,
	}
	driver := spider.New(driverCfg, "webants", fr, dl, br, sinkAdapter{persist}, bus, &rec, &rec)

	seeds := buildSeeds(cfg, parser, cfg.AllowedHosts())
	return driver.Run(ctx, seeds)
}

// sinkAdapter satisfies spider.Sink for a possibly-nil sink.Sink
// (dry-run mode: the callback still yields Records and the driver
// still calls Save, which discards each one).
type sinkAdapter struct {
	s sink.Sink
}

func (a sinkAdapter) Save(rec request.Record) error {
	if a.s == nil {
		return nil
	}
	return a.s.Save(rec)
}

func logEvents(bus *events.Bus) {
	ch := bus.Subscribe()
	go func() {
		logger := slog.Default().With("component", "events")
		for ev := range ch {
			logger.Info(string(ev.Name), "attrs", ev.Attrs)
		}
	}()
}

// buildSeeds turns the configured seed URLs into a SeedSource whose
// Requests carry the reference crawl callback: fetch, extract links
// restricted to allowedHosts, and save a discovery Record for the
// page itself.
func buildSeeds(cfg config.Config, parser *htmlparser.DefaultParser, allowedHosts map[string]struct{}) spider.SeedSource {
	var reqs []*request.Request
	for _, u := range cfg.SeedURLs() {
		req := request.New(u, request.MethodGet).
			WithTimeout(cfg.Timeout()).
			WithRetriesRemaining(cfg.MaxAttempt()).
			WithCallback(makeCallback(parser, allowedHosts, cfg.AllowedPathPrefix()))
		reqs = append(reqs, req)
	}
	static := spider.NewStaticSeeds(reqs)
	return static
}

// makeCallback is the reference Parse callback: it extracts every
// anchor href, resolves it against the response's final URL, filters
// by allowedHosts/pathPrefixes, and yields one Record per page plus
// one Request per newly discovered in-scope link.
func makeCallback(parser *htmlparser.DefaultParser, allowedHosts map[string]struct{}, pathPrefixes []string) request.Callback {
	return func(resp *request.Response, meta map[string]any) ([]*request.Request, []request.Record, error) {
		if resp.Status() >= 400 {
			return nil, nil, nil
		}

		tree, err := parser.ParseHTML(resp.Body(), "utf-8")
		if err != nil {
			return nil, nil, err
		}

		titleNodes, _ := parser.Select(tree, "title", htmlparser.CSS)
		title := ""
		if len(titleNodes) > 0 {
			title = strings.TrimSpace(titleNodes[0].Text())
		}

		fields := map[string]request.FieldValue{
			"title": request.NewFieldValue(title),
		}
		pageURL := resp.URL()
		rec := request.NewRecord("webants", pageURL.String(), resp.Status(), fields, time.Now())

		var next []*request.Request
		links, _ := parser.Select(tree, "a[href]", htmlparser.CSS)
		base := resp.URL()
		for _, n := range links {
			href := n.Attr("href")
			if href == "" {
				continue
			}
			target, err := base.Parse(href)
			if err != nil {
				continue
			}
			if !inScope(*target, allowedHosts, pathPrefixes) {
				continue
			}
			next = append(next, request.New(*target, request.MethodGet).
				WithCallback(makeCallback(parser, allowedHosts, pathPrefixes)))
		}

		return next, []request.Record{rec}, nil
	}
}

func inScope(u url.URL, allowedHosts map[string]struct{}, pathPrefixes []string) bool {
	if len(allowedHosts) > 0 {
		if _, ok := allowedHosts[u.Hostname()]; !ok {
			return false
		}
	}
	if len(pathPrefixes) == 0 {
		return true
	}
	for _, p := range pathPrefixes {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}
